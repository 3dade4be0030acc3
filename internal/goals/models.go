// Package goals holds the durable goal and profile records and the
// repository that loads them and persists computed probabilities.
package goals

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/goalkeeper/internal/simulation"
)

// Goal is one financial goal a user is saving toward. The engine only ever
// writes SuccessProbability and SimulationParameters back; everything else
// is owned by whoever manages the goal records.
type Goal struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	ProfileID           string   `json:"profile_id"`
	TargetAmount        float64  `json:"target_amount"`
	CurrentAmount       float64  `json:"current_amount"`
	MonthlyContribution float64  `json:"monthly_contribution"`
	HorizonYears        int      `json:"horizon_years"`
	RiskProfile         string   `json:"risk_profile"`
	SuccessProbability  *float64 `json:"success_probability,omitempty"`
	// SimulationParameters is the JSON-encoded request the stored
	// probability was computed from, kept for auditability.
	SimulationParameters *string   `json:"simulation_parameters,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Profile supplies the market assumptions shared by a set of goals:
// per-class return statistics and the allocation mix for each risk profile.
type Profile struct {
	ID                    string  `json:"id"`
	Name                  string  `json:"name"`
	InflationRate         float64 `json:"inflation_rate"`
	ExpenseRatio          float64 `json:"expense_ratio"`
	PartialTargetFraction float64 `json:"partial_target_fraction"`
	DefaultTrialCount     int     `json:"default_trial_count"`
	GrowthModel           string  `json:"growth_model"`

	// AssetClasses maps asset class name to its return assumptions.
	AssetClasses map[string]simulation.AssetAssumption `json:"asset_classes"`
	// Allocations maps risk profile name to class weights summing to 1.0.
	Allocations map[string]map[string]float64 `json:"allocations"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AllocationFor returns the class weights for a risk profile.
func (p *Profile) AllocationFor(riskProfile string) (map[string]float64, error) {
	allocation, ok := p.Allocations[riskProfile]
	if !ok {
		return nil, fmt.Errorf("profile %s has no allocation for risk profile %q", p.ID, riskProfile)
	}
	return allocation, nil
}

// BuildRequest assembles a simulation request from a goal and its profile.
// trialCount zero falls back to the profile default; the seed makes the
// run reproducible.
func BuildRequest(goal *Goal, profile *Profile, trialCount int, seed uint64) (*simulation.Request, error) {
	allocation, err := profile.AllocationFor(goal.RiskProfile)
	if err != nil {
		return nil, err
	}

	if trialCount <= 0 {
		trialCount = profile.DefaultTrialCount
	}

	req := &simulation.Request{
		GoalID:              goal.ID,
		TargetAmount:        goal.TargetAmount,
		CurrentAmount:       goal.CurrentAmount,
		MonthlyContribution: goal.MonthlyContribution,
		HorizonYears:        goal.HorizonYears,
		Allocation:          allocation,
		Assumptions:         profile.AssetClasses,
		InflationRate:       profile.InflationRate,
		ExpenseRatio:        profile.ExpenseRatio,
		PartialFraction:     profile.PartialTargetFraction,
		TrialCount:          trialCount,
		Seed:                seed,
		Model:               profile.GrowthModel,
	}

	return req, nil
}

// parseAssetClasses decodes the profiles.asset_classes JSON column.
func parseAssetClasses(raw string) (map[string]simulation.AssetAssumption, error) {
	var classes map[string]simulation.AssetAssumption
	if err := json.Unmarshal([]byte(raw), &classes); err != nil {
		return nil, fmt.Errorf("failed to parse asset classes: %w", err)
	}
	return classes, nil
}

// parseAllocations decodes the profiles.allocations JSON column.
func parseAllocations(raw string) (map[string]map[string]float64, error) {
	var allocations map[string]map[string]float64
	if err := json.Unmarshal([]byte(raw), &allocations); err != nil {
		return nil, fmt.Errorf("failed to parse allocations: %w", err)
	}
	return allocations, nil
}
