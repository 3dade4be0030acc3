package simulation

import (
	"math"
	"sort"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
)

// DefaultReservoirSize bounds the terminal-value sample each chunk keeps for
// percentile estimation. Exact percentiles over every trial would require
// holding all terminal values in memory at once.
const DefaultReservoirSize = 4096

// Accumulator collects partial statistics from a chunk of trials. Merging is
// commutative and associative over the counters and sums, so the final
// aggregate does not depend on chunk completion order.
type Accumulator struct {
	Trials    int
	Successes int
	Partials  int
	Discards  int

	Sum   float64 // Sum of finite terminal values
	SumSq float64 // Sum of squared finite terminal values

	YearsToTargetSum   float64 // Summed over trials that reached the target
	YearsToTargetCount int

	reservoir []float64
	capacity  int
	seen      int
	rng       *rand.Rand
}

// NewAccumulator creates an accumulator with a bounded reservoir. The
// reservoir RNG is seeded deterministically so the kept sample is
// reproducible for a given chunk seed.
func NewAccumulator(capacity int, seed uint64) *Accumulator {
	if capacity <= 0 {
		capacity = DefaultReservoirSize
	}
	return &Accumulator{
		reservoir: make([]float64, 0, capacity),
		capacity:  capacity,
		rng:       rand.New(rand.NewSource(splitmix64(seed))),
	}
}

// Observe records one finite terminal value into the sums and the reservoir.
// Success/partial counting happens separately in the kernel, which classifies
// whole chunks at once.
func (a *Accumulator) Observe(terminal float64) {
	a.Trials++
	a.Sum += terminal
	a.SumSq += terminal * terminal

	a.seen++
	if len(a.reservoir) < a.capacity {
		a.reservoir = append(a.reservoir, terminal)
		return
	}
	// Algorithm R: replace a random slot with decreasing probability.
	j := a.rng.Intn(a.seen)
	if j < a.capacity {
		a.reservoir[j] = terminal
	}
}

// ObserveDiscard records a trial whose terminal value was non-finite.
func (a *Accumulator) ObserveDiscard() {
	a.Trials++
	a.Discards++
}

// ObserveYearsToTarget records how long a successful trial took to first
// reach the target.
func (a *Accumulator) ObserveYearsToTarget(years float64) {
	a.YearsToTargetSum += years
	a.YearsToTargetCount++
}

// Merge folds another accumulator into this one. Counters and sums add;
// reservoirs concatenate. The merged reservoir can exceed a single chunk's
// capacity, but stays bounded by capacity times the chunk count.
func (a *Accumulator) Merge(b *Accumulator) {
	a.Trials += b.Trials
	a.Successes += b.Successes
	a.Partials += b.Partials
	a.Discards += b.Discards
	a.Sum += b.Sum
	a.SumSq += b.SumSq
	a.YearsToTargetSum += b.YearsToTargetSum
	a.YearsToTargetCount += b.YearsToTargetCount
	a.reservoir = append(a.reservoir, b.reservoir...)
	a.seen += b.seen
}

// Completed returns the number of trials that produced usable terminal values.
func (a *Accumulator) Completed() int {
	return a.Trials - a.Discards
}

// DiscardRate returns the fraction of trials discarded for non-finite values.
func (a *Accumulator) DiscardRate() float64 {
	if a.Trials == 0 {
		return 0
	}
	return float64(a.Discards) / float64(a.Trials)
}

// Quantile estimates the p-quantile of the terminal-value distribution from
// the reservoir sample.
func (a *Accumulator) Quantile(p float64) float64 {
	if len(a.reservoir) == 0 {
		return 0
	}
	sorted := make([]float64, len(a.reservoir))
	copy(sorted, a.reservoir)
	sort.Float64s(sorted)
	return stat.Quantile(p, stat.Empirical, sorted, nil)
}

// Mean returns the mean finite terminal value.
func (a *Accumulator) Mean() float64 {
	completed := a.Completed()
	if completed == 0 {
		return 0
	}
	return a.Sum / float64(completed)
}

// StdDev returns the standard deviation of finite terminal values, derived
// from the running sums.
func (a *Accumulator) StdDev() float64 {
	completed := a.Completed()
	if completed < 2 {
		return 0
	}
	n := float64(completed)
	variance := (a.SumSq - a.Sum*a.Sum/n) / (n - 1)
	if variance < 0 {
		// Floating-point cancellation on near-constant outcomes.
		return 0
	}
	return math.Sqrt(variance)
}
