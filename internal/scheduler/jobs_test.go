package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/goalkeeper/internal/goals"
	"github.com/aristath/goalkeeper/internal/orchestrator"
	"github.com/aristath/goalkeeper/internal/simulation"
)

type fakeSweeper struct {
	removed int64
	err     error
	calls   int
}

func (f *fakeSweeper) Sweep() (int64, error) {
	f.calls++
	return f.removed, f.err
}

func TestCacheSweepJob(t *testing.T) {
	sweeper := &fakeSweeper{removed: 3}
	job := &CacheSweepJob{Cache: sweeper, Log: zerolog.Nop()}

	assert.Equal(t, "cache_sweep", job.Name())
	require.NoError(t, job.Run())
	assert.Equal(t, 1, sweeper.calls)

	sweeper.err = errors.New("db gone")
	assert.Error(t, job.Run())
}

type fakeStaleSource struct {
	goals []*goals.Goal
	err   error
}

func (f *fakeStaleSource) GetStaleGoals(time.Duration) ([]*goals.Goal, error) {
	return f.goals, f.err
}

type fakeCalculator struct {
	calls []string
	fail  map[string]error
}

func (f *fakeCalculator) CalculateGoalProbability(ctx context.Context, goalID string, opts orchestrator.Options) (*simulation.Result, error) {
	f.calls = append(f.calls, goalID)
	if err := f.fail[goalID]; err != nil {
		return nil, err
	}
	return &simulation.Result{GoalID: goalID, SuccessProbability: 0.5}, nil
}

func TestStaleRefreshJob_RefreshesAll(t *testing.T) {
	source := &fakeStaleSource{goals: []*goals.Goal{{ID: "goal-1"}, {ID: "goal-2"}}}
	calc := &fakeCalculator{}
	job := &StaleRefreshJob{Goals: source, Orchestrator: calc, MaxAge: time.Hour, Log: zerolog.Nop()}

	require.NoError(t, job.Run())
	assert.Equal(t, []string{"goal-1", "goal-2"}, calc.calls)
}

func TestStaleRefreshJob_OneFailureDoesNotStopOthers(t *testing.T) {
	source := &fakeStaleSource{goals: []*goals.Goal{{ID: "goal-1"}, {ID: "goal-2"}}}
	calc := &fakeCalculator{fail: map[string]error{"goal-1": errors.New("boom")}}
	job := &StaleRefreshJob{Goals: source, Orchestrator: calc, MaxAge: time.Hour, Log: zerolog.Nop()}

	err := job.Run()
	assert.Error(t, err, "failures surface after every goal was tried")
	assert.Equal(t, []string{"goal-1", "goal-2"}, calc.calls)
}

func TestStaleRefreshJob_NothingStale(t *testing.T) {
	calc := &fakeCalculator{}
	job := &StaleRefreshJob{Goals: &fakeStaleSource{}, Orchestrator: calc, MaxAge: time.Hour, Log: zerolog.Nop()}

	require.NoError(t, job.Run())
	assert.Empty(t, calc.calls)
}

type fakeBackup struct {
	calls int
	err   error
}

func (f *fakeBackup) BackupNow(ctx context.Context) error {
	f.calls++
	return f.err
}

func TestBackupJob(t *testing.T) {
	backup := &fakeBackup{}
	job := &BackupJob{Backups: backup, Log: zerolog.Nop()}

	assert.Equal(t, "backup", job.Name())
	require.NoError(t, job.Run())
	assert.Equal(t, 1, backup.calls)
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(zerolog.Nop())
	sweeper := &fakeSweeper{}
	require.NoError(t, s.RunNow(&CacheSweepJob{Cache: sweeper, Log: zerolog.Nop()}))
	assert.Equal(t, 1, sweeper.calls)
}

func TestScheduler_AddJobRejectsBadSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	err := s.AddJob("not a schedule", &CacheSweepJob{Cache: &fakeSweeper{}, Log: zerolog.Nop()})
	assert.Error(t, err)
}
