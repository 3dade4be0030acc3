package simulation

import (
	"math"
	"time"
)

// DefaultDiscardBudget is the maximum tolerated fraction of discarded trials
// before a run is considered statistically compromised.
const DefaultDiscardBudget = 0.05

// Result is the immutable outcome of one simulation run. It is created by
// the reduction step, cached and persisted as-is, and superseded (never
// mutated) on recalculation.
type Result struct {
	GoalID string `msgpack:"goal_id" json:"goal_id"`

	SuccessProbability float64 `msgpack:"success_probability" json:"success_probability"`
	PartialProbability float64 `msgpack:"partial_probability" json:"partial_probability"`

	// Percentile terminal values, monotonically non-decreasing.
	P5  float64 `msgpack:"p5" json:"p5"`
	P10 float64 `msgpack:"p10" json:"p10"`
	P50 float64 `msgpack:"p50" json:"p50"`
	P90 float64 `msgpack:"p90" json:"p90"`

	MeanTerminal      float64 `msgpack:"mean_terminal" json:"mean_terminal"`
	OutcomeVolatility float64 `msgpack:"outcome_volatility" json:"outcome_volatility"`

	// ShortfallProbability is the probability of missing the target.
	ShortfallProbability float64 `msgpack:"shortfall_probability" json:"shortfall_probability"`
	// TailShortfall is the relative gap to target at the 5th percentile.
	TailShortfall float64 `msgpack:"tail_shortfall" json:"tail_shortfall"`

	// EstimatedYearsToTarget averages how long successful trials took to
	// first reach the target. Zero when no trial reached it.
	EstimatedYearsToTarget float64 `msgpack:"estimated_years_to_target" json:"estimated_years_to_target"`
	// CurrentProgressPct is current_amount / target_amount, clamped to [0,100].
	CurrentProgressPct float64 `msgpack:"current_progress_pct" json:"current_progress_pct"`

	TrialCount      int       `msgpack:"trial_count" json:"trial_count"`
	DiscardedTrials int       `msgpack:"discarded_trials" json:"discarded_trials"`
	Seed            uint64    `msgpack:"seed" json:"seed"`
	Model           string    `msgpack:"model" json:"model"`
	ComputedAt      time.Time `msgpack:"computed_at" json:"computed_at"`
}

// SafeSuccessProbability returns a clamped, always-usable probability for
// display. NaN or out-of-range values (for example from a partially
// deserialized record) clamp into [0,1] instead of leaking to consumers.
func (r *Result) SafeSuccessProbability() float64 {
	p := r.SuccessProbability
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// NewTrivialResult builds the result for goals that need no simulation:
// target already reached or non-positive target.
func NewTrivialResult(req *Request) *Result {
	progress := 100.0
	if req.TargetAmount > 0 && req.CurrentAmount < req.TargetAmount {
		progress = req.CurrentAmount / req.TargetAmount * 100.0
	}

	return &Result{
		GoalID:             req.GoalID,
		SuccessProbability: 1.0,
		PartialProbability: 1.0,
		P5:                 req.CurrentAmount,
		P10:                req.CurrentAmount,
		P50:                req.CurrentAmount,
		P90:                req.CurrentAmount,
		MeanTerminal:       req.CurrentAmount,
		CurrentProgressPct: progress,
		TrialCount:         0,
		Seed:               req.Seed,
		Model:              req.Model,
		ComputedAt:         time.Now().UTC(),
	}
}

// Reduce turns an accumulator into a Result, enforcing the discard budget.
func Reduce(req *Request, acc *Accumulator, discardBudget float64) (*Result, error) {
	if discardBudget <= 0 {
		discardBudget = DefaultDiscardBudget
	}

	if rate := acc.DiscardRate(); rate > discardBudget {
		return nil, &IntegrityError{
			Discarded: acc.Discards,
			Trials:    acc.Trials,
			Rate:      rate,
			Budget:    discardBudget,
		}
	}

	completed := acc.Completed()
	if completed == 0 {
		return nil, &IntegrityError{Discarded: acc.Discards, Trials: acc.Trials, Rate: 1, Budget: discardBudget}
	}

	n := float64(completed)
	successProb := float64(acc.Successes) / n
	partialProb := float64(acc.Partials) / n

	p5 := acc.Quantile(0.05)
	p10 := acc.Quantile(0.10)
	p50 := acc.Quantile(0.50)
	p90 := acc.Quantile(0.90)

	tailShortfall := 0.0
	if req.TargetAmount > 0 && p5 < req.TargetAmount {
		tailShortfall = (req.TargetAmount - p5) / req.TargetAmount
	}

	estYears := 0.0
	if acc.YearsToTargetCount > 0 {
		estYears = acc.YearsToTargetSum / float64(acc.YearsToTargetCount)
	}

	progress := 0.0
	if req.TargetAmount > 0 {
		progress = req.CurrentAmount / req.TargetAmount * 100.0
		if progress > 100 {
			progress = 100
		}
		if progress < 0 {
			progress = 0
		}
	}

	return &Result{
		GoalID:                 req.GoalID,
		SuccessProbability:     successProb,
		PartialProbability:     partialProb,
		P5:                     p5,
		P10:                    p10,
		P50:                    p50,
		P90:                    p90,
		MeanTerminal:           acc.Mean(),
		OutcomeVolatility:      acc.StdDev(),
		ShortfallProbability:   1.0 - successProb,
		TailShortfall:          tailShortfall,
		EstimatedYearsToTarget: estYears,
		CurrentProgressPct:     progress,
		TrialCount:             acc.Trials,
		DiscardedTrials:        acc.Discards,
		Seed:                   req.Seed,
		Model:                  req.Model,
		ComputedAt:             time.Now().UTC(),
	}, nil
}
