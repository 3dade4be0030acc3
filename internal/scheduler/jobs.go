package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/goalkeeper/internal/goals"
	"github.com/aristath/goalkeeper/internal/orchestrator"
	"github.com/aristath/goalkeeper/internal/simulation"
)

// Sweeper removes expired cache entries. Satisfied by *cache.Cache.
type Sweeper interface {
	Sweep() (int64, error)
}

// CacheSweepJob evicts expired simulation results.
type CacheSweepJob struct {
	Cache Sweeper
	Log   zerolog.Logger
}

func (j *CacheSweepJob) Name() string { return "cache_sweep" }

func (j *CacheSweepJob) Run() error {
	removed, err := j.Cache.Sweep()
	if err != nil {
		return err
	}
	if removed > 0 {
		j.Log.Info().Int64("removed", removed).Msg("Swept expired cache entries")
	}
	return nil
}

// StaleGoalSource lists goals needing a refresh. Satisfied by
// *goals.Repository.
type StaleGoalSource interface {
	GetStaleGoals(maxAge time.Duration) ([]*goals.Goal, error)
}

// Calculator recomputes one goal. Satisfied by *orchestrator.Orchestrator.
type Calculator interface {
	CalculateGoalProbability(ctx context.Context, goalID string, opts orchestrator.Options) (*simulation.Result, error)
}

// StaleRefreshJob recomputes probabilities for goals whose stored value is
// missing or too old. Each goal fails alone; the job reports the first
// error after trying every goal.
type StaleRefreshJob struct {
	Goals        StaleGoalSource
	Orchestrator Calculator
	MaxAge       time.Duration
	Timeout      time.Duration
	Log          zerolog.Logger
}

func (j *StaleRefreshJob) Name() string { return "stale_refresh" }

func (j *StaleRefreshJob) Run() error {
	stale, err := j.Goals.GetStaleGoals(j.MaxAge)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	timeout := j.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	j.Log.Info().Int("goals", len(stale)).Msg("Refreshing stale goal probabilities")

	var firstErr error
	for _, goal := range stale {
		if _, err := j.Orchestrator.CalculateGoalProbability(ctx, goal.ID, orchestrator.Options{}); err != nil {
			j.Log.Warn().Err(err).Str("goal_id", goal.ID).Msg("Stale goal refresh failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// BackupRunner performs one backup cycle. Satisfied by
// *reliability.BackupService.
type BackupRunner interface {
	BackupNow(ctx context.Context) error
}

// BackupJob snapshots the databases and uploads the archive.
type BackupJob struct {
	Backups BackupRunner
	Timeout time.Duration
	Log     zerolog.Logger
}

func (j *BackupJob) Name() string { return "backup" }

func (j *BackupJob) Run() error {
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return j.Backups.BackupNow(ctx)
}
