// Package orchestrator coordinates goal probability calculations: loading
// records, repairing inputs, consulting the result cache, choosing between
// the direct kernel and the parallel runner, and persisting outcomes.
package orchestrator

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/aristath/goalkeeper/internal/cache"
	"github.com/aristath/goalkeeper/internal/goals"
	"github.com/aristath/goalkeeper/internal/progress"
	"github.com/aristath/goalkeeper/internal/simulation"
	"github.com/aristath/goalkeeper/internal/utils"
)

const (
	// defaultParallelThreshold is the trial count above which runs fan out
	// to the parallel runner instead of the single-threaded kernel.
	defaultParallelThreshold = 20000

	// defaultSeed keeps fingerprints stable across recalculations so the
	// cache actually hits. Callers wanting fresh randomness pass their own.
	defaultSeed = 0x476f616c6b707273

	// maxHorizonYears bounds pathological horizon inputs.
	maxHorizonYears = 100
)

// GoalStore is the persistence surface the orchestrator needs. Satisfied
// by *goals.Repository; narrowed for tests.
type GoalStore interface {
	GetGoal(id string) (*goals.Goal, error)
	GetProfile(id string) (*goals.Profile, error)
	PersistProbability(goalID string, result *simulation.Result, req *simulation.Request) error
}

// ResultCache is the cache surface the orchestrator needs. Satisfied by
// *cache.Cache.
type ResultCache interface {
	GetOrCompute(fingerprint string, compute func() (*simulation.Result, error)) (*simulation.Result, error)
	Invalidate(prefix string) (int64, error)
}

// Options adjust one calculation.
type Options struct {
	// Force bypasses the cache by invalidating the goal's entries first.
	Force bool
	// TrialCount overrides the profile default when positive.
	TrialCount int
	// Seed overrides the stable default when non-zero.
	Seed uint64
}

// BatchItem is the outcome of one goal in a batch calculation. Failures are
// carried per goal so one bad record never sinks the batch.
type BatchItem struct {
	GoalID string             `json:"goal_id"`
	Result *simulation.Result `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// Orchestrator wires the engine together.
type Orchestrator struct {
	store             GoalStore
	cache             ResultCache
	kernel            *simulation.Kernel
	runner            *simulation.Runner
	backoff           BackoffPolicy
	parallelThreshold int
	hub               *progress.Hub
	log               zerolog.Logger
}

// New creates an orchestrator with the default backoff and parallel
// threshold.
func New(store GoalStore, resultCache ResultCache, kernel *simulation.Kernel, runner *simulation.Runner, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:             store,
		cache:             resultCache,
		kernel:            kernel,
		runner:            runner,
		backoff:           DefaultBackoff,
		parallelThreshold: defaultParallelThreshold,
		log:               log.With().Str("component", "orchestrator").Logger(),
	}
}

// SetParallelThreshold overrides the trial count at which runs go parallel.
func (o *Orchestrator) SetParallelThreshold(n int) {
	if n > 0 {
		o.parallelThreshold = n
	}
}

// SetBackoff overrides the persistence retry policy.
func (o *Orchestrator) SetBackoff(p BackoffPolicy) {
	o.backoff = p
}

// SetProgressHub enables progress streaming for parallel runs.
func (o *Orchestrator) SetProgressHub(hub *progress.Hub) {
	o.hub = hub
}

// CalculateGoalProbability runs the full pipeline for one goal: load, repair,
// cache lookup or simulation, and transactional persist with retry on
// transient store failures. The returned result is always the computed one
// even when persistence ultimately fails; the error reports the persist
// failure so callers can surface it.
func (o *Orchestrator) CalculateGoalProbability(ctx context.Context, goalID string, opts Options) (*simulation.Result, error) {
	timer := utils.NewTimer("calculate_goal_probability", o.log)
	defer timer.Stop()

	goal, err := o.store.GetGoal(goalID)
	if err != nil {
		return nil, err
	}
	profile, err := o.store.GetProfile(goal.ProfileID)
	if err != nil {
		return nil, err
	}

	seed := opts.Seed
	if seed == 0 {
		seed = defaultSeed
	}
	req, err := goals.BuildRequest(goal, profile, opts.TrialCount, seed)
	if err != nil {
		return nil, err
	}
	o.repairRequest(req)

	if opts.Force {
		if _, err := o.cache.Invalidate(goalID + ":"); err != nil {
			o.log.Warn().Err(err).Str("goal_id", goalID).Msg("Cache invalidation failed, proceeding anyway")
		}
	}

	fingerprint, err := cache.Fingerprint(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint request: %w", err)
	}

	result, err := o.cache.GetOrCompute(fingerprint, func() (*simulation.Result, error) {
		return o.simulate(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	if err := o.persist(ctx, goalID, result, req); err != nil {
		return result, err
	}
	return result, nil
}

// CalculateGoalProbabilities runs the pipeline for each goal, collecting
// per-goal outcomes. A cancelled context stops the batch at the next goal
// boundary.
func (o *Orchestrator) CalculateGoalProbabilities(ctx context.Context, goalIDs []string, opts Options) []BatchItem {
	items := make([]BatchItem, 0, len(goalIDs))
	for _, goalID := range goalIDs {
		if ctx.Err() != nil {
			items = append(items, BatchItem{GoalID: goalID, Error: ctx.Err().Error()})
			continue
		}

		result, err := o.CalculateGoalProbability(ctx, goalID, opts)
		item := BatchItem{GoalID: goalID, Result: result}
		if err != nil {
			item.Error = err.Error()
			o.log.Warn().Err(err).Str("goal_id", goalID).Msg("Batch goal calculation failed")
		}
		items = append(items, item)
	}
	return items
}

// InvalidateGoal removes every cached result for a goal.
func (o *Orchestrator) InvalidateGoal(goalID string) (int64, error) {
	return o.cache.Invalidate(goalID + ":")
}

// simulate picks the execution path by trial budget.
func (o *Orchestrator) simulate(ctx context.Context, req *simulation.Request) (*simulation.Result, error) {
	if req.TrialCount >= o.parallelThreshold {
		o.log.Debug().
			Str("goal_id", req.GoalID).
			Int("trials", req.TrialCount).
			Msg("Running parallel simulation")

		var onProgress func(completed, total int)
		if o.hub != nil {
			onProgress = o.hub.NewTracker(req.GoalID).Callback()
		}
		return o.runner.RunWithProgress(ctx, req, onProgress)
	}

	o.log.Debug().
		Str("goal_id", req.GoalID).
		Int("trials", req.TrialCount).
		Msg("Running direct simulation")
	return o.kernel.Run(req)
}

// persist stores the result with bounded retries on transient store errors.
func (o *Orchestrator) persist(ctx context.Context, goalID string, result *simulation.Result, req *simulation.Request) error {
	err := o.backoff.Retry(ctx, func() error {
		return o.store.PersistProbability(goalID, result, req)
	}, goals.IsTransientStoreError)
	if err != nil {
		o.log.Error().Err(err).Str("goal_id", goalID).Msg("Failed to persist goal probability")
		return fmt.Errorf("failed to persist probability for goal %s: %w", goalID, err)
	}
	return nil
}

// repairRequest clamps pathological inputs instead of failing the run.
// Every repair is logged as a data integrity warning so bad records get
// noticed upstream.
func (o *Orchestrator) repairRequest(req *simulation.Request) {
	warn := func(field string, from, to float64) {
		o.log.Warn().
			Str("goal_id", req.GoalID).
			Str("field", field).
			Float64("from", from).
			Float64("to", to).
			Msg("Repaired pathological goal input")
	}

	if math.IsNaN(req.CurrentAmount) || req.CurrentAmount < 0 {
		warn("current_amount", req.CurrentAmount, 0)
		req.CurrentAmount = 0
	}
	if math.IsNaN(req.MonthlyContribution) || req.MonthlyContribution < 0 {
		warn("monthly_contribution", req.MonthlyContribution, 0)
		req.MonthlyContribution = 0
	}
	if req.HorizonYears > maxHorizonYears {
		warn("horizon_years", float64(req.HorizonYears), maxHorizonYears)
		req.HorizonYears = maxHorizonYears
	}
	if req.PartialFraction <= 0 || req.PartialFraction > 1 {
		warn("partial_fraction", req.PartialFraction, 0.5)
		req.PartialFraction = 0.5
	}
}
