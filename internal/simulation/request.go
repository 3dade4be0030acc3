// Package simulation implements the goal-probability Monte Carlo engine:
// the trial kernel, the chunked parallel runner and the aggregate reduction
// into a ProbabilityResult.
package simulation

import (
	"fmt"
	"math"
	"sort"
)

// allocationEpsilon is the tolerance for allocation weights summing to 1.0.
const allocationEpsilon = 1e-6

// AssetAssumption holds the return assumptions for one asset class.
// All values come from the profile record; nothing here is hardcoded.
type AssetAssumption struct {
	MeanReturn  float64 `msgpack:"mean_return" json:"mean_return"`   // Annual arithmetic mean, e.g. 0.14
	StdDev      float64 `msgpack:"std_dev" json:"std_dev"`           // Annual standard deviation, e.g. 0.18
	WorstReturn float64 `msgpack:"worst_return" json:"worst_return"` // Sentinel for guarded arithmetic
}

// Request describes one simulation: the goal's finances, the horizon,
// the asset mix and the trial budget. Identical requests with identical
// seeds produce bit-identical results.
type Request struct {
	GoalID              string                     `msgpack:"goal_id" json:"goal_id"`
	TargetAmount        float64                    `msgpack:"target_amount" json:"target_amount"`
	CurrentAmount       float64                    `msgpack:"current_amount" json:"current_amount"`
	MonthlyContribution float64                    `msgpack:"monthly_contribution" json:"monthly_contribution"`
	HorizonYears        int                        `msgpack:"horizon_years" json:"horizon_years"`
	Allocation          map[string]float64         `msgpack:"allocation" json:"allocation"`
	Assumptions         map[string]AssetAssumption `msgpack:"assumptions" json:"assumptions"`
	InflationRate       float64                    `msgpack:"inflation_rate" json:"inflation_rate"`
	ExpenseRatio        float64                    `msgpack:"expense_ratio" json:"expense_ratio"`
	PartialFraction     float64                    `msgpack:"partial_fraction" json:"partial_fraction"` // Fraction of target counted as partial success
	TrialCount          int                        `msgpack:"trial_count" json:"trial_count"`
	Seed                uint64                     `msgpack:"seed" json:"seed"`
	Model               string                     `msgpack:"model" json:"model"` // "normal" or "lognormal"
}

// Validate checks the request invariants: positive trial count and horizon,
// allocation weights summing to 1.0 within epsilon, and assumptions present
// for every allocated asset class.
func (r *Request) Validate() error {
	if r.TrialCount <= 0 {
		return fmt.Errorf("trial count must be positive, got %d", r.TrialCount)
	}
	if r.HorizonYears <= 0 {
		return fmt.Errorf("time horizon must be positive, got %d years", r.HorizonYears)
	}
	if len(r.Allocation) == 0 {
		return fmt.Errorf("allocation is empty")
	}

	sum := 0.0
	for class, weight := range r.Allocation {
		if weight < 0 {
			return fmt.Errorf("allocation weight for %s is negative: %f", class, weight)
		}
		if _, ok := r.Assumptions[class]; !ok {
			return fmt.Errorf("no return assumptions for asset class %s", class)
		}
		sum += weight
	}
	if math.Abs(sum-1.0) > allocationEpsilon {
		return fmt.Errorf("allocation weights sum to %f, want 1.0", sum)
	}

	if r.PartialFraction <= 0 || r.PartialFraction > 1 {
		return fmt.Errorf("partial-success fraction must be in (0,1], got %f", r.PartialFraction)
	}

	return nil
}

// AssetClasses returns the allocated asset class names in stable sorted
// order. Trials iterate classes in this order so that random draws are
// reproducible across runs and map iteration order never matters.
func (r *Request) AssetClasses() []string {
	classes := make([]string, 0, len(r.Allocation))
	for class := range r.Allocation {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	return classes
}

// TriviallySatisfied reports whether the goal needs no simulation at all:
// a non-positive target, or a current amount already at or above the target.
func (r *Request) TriviallySatisfied() bool {
	return r.TargetAmount <= 0 || r.CurrentAmount >= r.TargetAmount
}
