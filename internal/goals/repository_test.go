package goals

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gktesting "github.com/aristath/goalkeeper/internal/testing"

	"github.com/aristath/goalkeeper/internal/simulation"
)

func testProfile() *Profile {
	return &Profile{
		ID:                    "profile-1",
		Name:                  "Default",
		InflationRate:         0.06,
		ExpenseRatio:          0.005,
		PartialTargetFraction: 0.5,
		DefaultTrialCount:     10000,
		GrowthModel:           "lognormal",
		AssetClasses: map[string]simulation.AssetAssumption{
			"equity": {MeanReturn: 0.14, StdDev: 0.18, WorstReturn: -0.45},
			"debt":   {MeanReturn: 0.08, StdDev: 0.05, WorstReturn: -0.10},
		},
		Allocations: map[string]map[string]float64{
			"balanced":   {"equity": 0.6, "debt": 0.4},
			"aggressive": {"equity": 0.9, "debt": 0.1},
		},
	}
}

func testGoal() *Goal {
	return &Goal{
		ID:                  "goal-1",
		Name:                "Retirement",
		ProfileID:           "profile-1",
		TargetAmount:        50_000_000,
		CurrentAmount:       10_000_000,
		MonthlyContribution: 50_000,
		HorizonYears:        20,
		RiskProfile:         "balanced",
	}
}

func newTestRepo(t *testing.T) (*Repository, func()) {
	t.Helper()
	db, cleanup := gktesting.NewTestDB(t, "goals")
	repo := NewRepository(db, zerolog.Nop())
	require.NoError(t, repo.CreateProfile(testProfile()))
	require.NoError(t, repo.CreateGoal(testGoal()))
	return repo, cleanup
}

func TestRepository_GetGoal(t *testing.T) {
	repo, cleanup := newTestRepo(t)
	defer cleanup()

	goal, err := repo.GetGoal("goal-1")
	require.NoError(t, err)
	assert.Equal(t, "Retirement", goal.Name)
	assert.Equal(t, 50_000_000.0, goal.TargetAmount)
	assert.Nil(t, goal.SuccessProbability, "fresh goal has no stored probability")
	assert.Nil(t, goal.SimulationParameters)
}

func TestRepository_GetGoal_NotFound(t *testing.T) {
	repo, cleanup := newTestRepo(t)
	defer cleanup()

	_, err := repo.GetGoal("no-such-goal")
	assert.ErrorIs(t, err, ErrGoalNotFound)
}

func TestRepository_GetProfile(t *testing.T) {
	repo, cleanup := newTestRepo(t)
	defer cleanup()

	profile, err := repo.GetProfile("profile-1")
	require.NoError(t, err)
	assert.Equal(t, 0.06, profile.InflationRate)
	assert.Equal(t, 10000, profile.DefaultTrialCount)
	assert.Equal(t, 0.18, profile.AssetClasses["equity"].StdDev)
	assert.Equal(t, 0.4, profile.Allocations["balanced"]["debt"])
}

func TestRepository_GetProfile_NotFound(t *testing.T) {
	repo, cleanup := newTestRepo(t)
	defer cleanup()

	_, err := repo.GetProfile("missing")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestRepository_PersistProbability(t *testing.T) {
	repo, cleanup := newTestRepo(t)
	defer cleanup()

	result := &simulation.Result{
		GoalID:             "goal-1",
		SuccessProbability: 0.73,
		TrialCount:         10000,
	}
	req := &simulation.Request{GoalID: "goal-1", TrialCount: 10000, Seed: 42}

	require.NoError(t, repo.PersistProbability("goal-1", result, req))

	goal, err := repo.GetGoal("goal-1")
	require.NoError(t, err)
	require.NotNil(t, goal.SuccessProbability)
	assert.Equal(t, 0.73, *goal.SuccessProbability)
	require.NotNil(t, goal.SimulationParameters)
	assert.Contains(t, *goal.SimulationParameters, `"seed":42`)
}

func TestRepository_PersistProbability_UnknownGoal(t *testing.T) {
	repo, cleanup := newTestRepo(t)
	defer cleanup()

	result := &simulation.Result{SuccessProbability: 0.5}
	err := repo.PersistProbability("missing", result, &simulation.Request{})
	assert.ErrorIs(t, err, ErrGoalNotFound)
}

func TestRepository_GetStaleGoals(t *testing.T) {
	repo, cleanup := newTestRepo(t)
	defer cleanup()

	// goal-1 has no probability yet, so it is stale at any age.
	stale, err := repo.GetStaleGoals(time.Hour)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "goal-1", stale[0].ID)

	result := &simulation.Result{GoalID: "goal-1", SuccessProbability: 0.6}
	require.NoError(t, repo.PersistProbability("goal-1", result, &simulation.Request{}))

	stale, err = repo.GetStaleGoals(time.Hour)
	require.NoError(t, err)
	assert.Empty(t, stale, "freshly computed goal is not stale")
}

func TestBuildRequest(t *testing.T) {
	goal := testGoal()
	profile := testProfile()

	req, err := BuildRequest(goal, profile, 0, 42)
	require.NoError(t, err)
	assert.Equal(t, 10000, req.TrialCount, "zero trial count falls back to profile default")
	assert.Equal(t, 0.6, req.Allocation["equity"])
	assert.Equal(t, "lognormal", req.Model)
	assert.Equal(t, uint64(42), req.Seed)
	require.NoError(t, req.Validate())
}

func TestBuildRequest_UnknownRiskProfile(t *testing.T) {
	goal := testGoal()
	goal.RiskProfile = "yolo"

	_, err := BuildRequest(goal, testProfile(), 5000, 1)
	assert.Error(t, err)
}

func TestIsTransientStoreError(t *testing.T) {
	assert.False(t, IsTransientStoreError(classifyStoreError("op", assert.AnError)))
	assert.True(t, IsTransientStoreError(ErrStoreLocked))
	assert.True(t, IsTransientStoreError(ErrStoreIO))
	assert.False(t, IsTransientStoreError(ErrStoreConstraint))
	assert.False(t, IsTransientStoreError(nil))
}
