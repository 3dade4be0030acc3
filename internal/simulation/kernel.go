package simulation

import (
	"math"

	"github.com/rs/zerolog"
	"golang.org/x/exp/rand"

	"github.com/aristath/goalkeeper/internal/numguard"
)

// maxExactSample caps the number of terminal values the direct kernel path
// keeps for percentile computation. Requests above this still run every
// trial; percentiles just come from a bounded sample.
const maxExactSample = 1 << 17

// Kernel runs Monte Carlo trials of a monthly-compounding stochastic growth
// process for one goal. It is single-threaded per chunk; the parallel runner
// owns any fan-out.
type Kernel struct {
	discardBudget float64
	log           zerolog.Logger
}

// NewKernel creates a kernel with the default discard budget.
func NewKernel(log zerolog.Logger) *Kernel {
	return &Kernel{
		discardBudget: DefaultDiscardBudget,
		log:           log.With().Str("component", "simulation_kernel").Logger(),
	}
}

// SetDiscardBudget overrides the tolerated discard rate. Used by tests and
// by deployments with stricter integrity requirements.
func (k *Kernel) SetDiscardBudget(budget float64) {
	k.discardBudget = budget
}

// Run executes the full request on the calling goroutine and reduces to a
// Result. Given an identical request and seed the result is bit-identical
// across invocations.
func (k *Kernel) Run(req *Request) (*Result, error) {
	if req.TriviallySatisfied() {
		return NewTrivialResult(req), nil
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	capacity := req.TrialCount
	if capacity > maxExactSample {
		capacity = maxExactSample
	}

	acc := k.RunChunk(req, req.Seed, req.TrialCount, capacity)
	return Reduce(req, acc, k.discardBudget)
}

// RunChunk executes a contiguous chunk of trials with its own seed and
// returns the partial accumulator. The parallel runner calls this once per
// chunk; Run calls it once for the whole request.
func (k *Kernel) RunChunk(req *Request, seed uint64, trials int, reservoirCap int) *Accumulator {
	classes := req.AssetClasses()
	weights := make([]float64, len(classes))
	samplers := make([]ReturnSampler, len(classes))
	guards := make([]*numguard.Guard, len(classes))

	model := ModelForName(req.Model)
	src := rand.NewSource(seed)
	worstAnnual := 0.0
	for i, class := range classes {
		assumption := req.Assumptions[class]
		weights[i] = req.Allocation[class]
		samplers[i] = model.NewSampler(assumption, src)
		guards[i] = numguard.NewGuard(assumption.WorstReturn, k.log)
		worstAnnual += weights[i] * assumption.WorstReturn
	}

	// Sentinel for the monthly-rate computation: the allocation-weighted
	// worst annual return converted to a monthly rate, floored above -100%.
	if worstAnnual <= -1 {
		worstAnnual = -0.999999
	}
	rateGuard := numguard.NewGuard(math.Pow(1.0+worstAnnual, 1.0/12.0)-1.0, k.log)

	acc := NewAccumulator(reservoirCap, seed)
	terminals := make([]float64, 0, trials)
	draws := make([]float64, len(classes))

	for t := 0; t < trials; t++ {
		terminal, years, reached, err := k.runTrial(req, weights, samplers, guards, rateGuard, draws)
		if err != nil {
			// Shape mismatches are local to the trial: fail it, not the run.
			k.log.Warn().Err(err).Int("trial", t).Msg("Trial discarded")
			acc.ObserveDiscard()
			continue
		}
		if !numguard.IsFinite(terminal) {
			acc.ObserveDiscard()
			continue
		}

		acc.Observe(terminal)
		terminals = append(terminals, terminal)
		if reached {
			acc.ObserveYearsToTarget(years)
		}
	}

	// Vectorized classification over the chunk's finite terminal values.
	successMask := numguard.SafeCompare(terminals, req.TargetAmount, numguard.OpGreaterOrEqual)
	partialMask := numguard.SafeCompare(terminals, req.TargetAmount*req.PartialFraction, numguard.OpGreaterOrEqual)
	for i := range successMask {
		if successMask[i] {
			acc.Successes++
		}
		if partialMask[i] {
			acc.Partials++
		}
	}

	return acc
}

// runTrial compounds the balance forward over the horizon, one year of
// stochastic return applied in twelve monthly steps with contributions.
func (k *Kernel) runTrial(
	req *Request,
	weights []float64,
	samplers []ReturnSampler,
	guards []*numguard.Guard,
	rateGuard *numguard.Guard,
	draws []float64,
) (terminal float64, yearsToTarget float64, reached bool, err error) {
	balance := req.CurrentAmount

	for year := 0; year < req.HorizonYears; year++ {
		for i := range samplers {
			draws[i] = guards[i].Call("annual_return", samplers[i].Draw)
		}

		annual, perr := portfolioReturn(draws, weights)
		if perr != nil {
			return 0, 0, false, perr
		}

		// Inflation-adjusted growth net of expense drag.
		net := annual - req.InflationRate - req.ExpenseRatio
		monthlyRate := rateGuard.Call("monthly_rate", func() float64 {
			return math.Pow(1.0+net, 1.0/12.0) - 1.0
		})

		for month := 0; month < 12; month++ {
			balance = balance*(1.0+monthlyRate) + req.MonthlyContribution
			if !reached && balance >= req.TargetAmount {
				reached = true
				yearsToTarget = float64(year) + float64(month+1)/12.0
			}
		}
	}

	return balance, yearsToTarget, reached, nil
}

// portfolioReturn reduces per-class draws to the allocation-weighted return.
// A length mismatch is a shape error; the caller discards the trial.
func portfolioReturn(draws, weights []float64) (float64, error) {
	if len(draws) != len(weights) {
		return 0, &numguard.ShapeError{Want: len(weights), Got: len(draws), Op: "portfolioReturn"}
	}
	total := 0.0
	for i := range draws {
		total += weights[i] * draws[i]
	}
	return total, nil
}
