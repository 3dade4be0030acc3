package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/goalkeeper/internal/cache"
	"github.com/aristath/goalkeeper/internal/database"
	"github.com/aristath/goalkeeper/internal/goals"
	"github.com/aristath/goalkeeper/internal/orchestrator"
	"github.com/aristath/goalkeeper/internal/progress"
	"github.com/aristath/goalkeeper/internal/simulation"
	gktesting "github.com/aristath/goalkeeper/internal/testing"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	log := zerolog.Nop()

	goalsDB, cleanupGoals := gktesting.NewTestDB(t, "goals")
	t.Cleanup(cleanupGoals)
	cacheDB, cleanupCache := gktesting.NewTestDB(t, "cache")
	t.Cleanup(cleanupCache)

	repo := goals.NewRepository(goalsDB, log)
	require.NoError(t, repo.CreateProfile(&goals.Profile{
		ID:                    "profile-1",
		Name:                  "Default",
		InflationRate:         0.06,
		ExpenseRatio:          0.005,
		PartialTargetFraction: 0.5,
		DefaultTrialCount:     1000,
		GrowthModel:           "lognormal",
		AssetClasses: map[string]simulation.AssetAssumption{
			"equity": {MeanReturn: 0.14, StdDev: 0.18, WorstReturn: -0.45},
			"debt":   {MeanReturn: 0.08, StdDev: 0.05, WorstReturn: -0.10},
		},
		Allocations: map[string]map[string]float64{
			"balanced": {"equity": 0.6, "debt": 0.4},
		},
	}))
	require.NoError(t, repo.CreateGoal(&goals.Goal{
		ID:                  "goal-1",
		Name:                "Retirement",
		ProfileID:           "profile-1",
		TargetAmount:        50_000_000,
		CurrentAmount:       10_000_000,
		MonthlyContribution: 50_000,
		HorizonYears:        20,
		RiskProfile:         "balanced",
	}))

	resultCache := cache.NewWithDB(cacheDB, time.Hour, log)
	kernel := simulation.NewKernel(log)
	runner := simulation.NewRunner(kernel, log, simulation.WithWorkers(2))
	orch := orchestrator.New(repo, resultCache, kernel, runner, log)

	return New(Config{Port: 0, DevMode: true}, orch, repo, resultCache, nil,
		progress.NewHub(log), map[string]*database.DB{"goals": goalsDB, "cache": cacheDB}, log)
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_GetGoal(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/goals/goal-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var goal goals.Goal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &goal))
	assert.Equal(t, "Retirement", goal.Name)
}

func TestServer_GetGoal_NotFound(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/goals/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ListGoals(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/goals/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list []goals.Goal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestServer_CalculateProbability(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/goals/goal-1/probability", calculateRequest{Seed: 42})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result simulation.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Greater(t, result.SuccessProbability, 0.0)
	assert.Less(t, result.SuccessProbability, 1.0)

	// The probability was persisted on the goal.
	rec = doRequest(t, s, http.MethodGet, "/api/goals/goal-1", nil)
	var goal goals.Goal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &goal))
	require.NotNil(t, goal.SuccessProbability)
	assert.Equal(t, result.SuccessProbability, *goal.SuccessProbability)
}

func TestServer_CalculateProbability_UnknownGoal(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/api/goals/missing/probability", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_CalculateBatch(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/goals/probabilities", batchRequest{
		GoalIDs: []string{"goal-1", "missing"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Results []orchestrator.BatchItem `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Len(t, response.Results, 2)
	assert.Empty(t, response.Results[0].Error)
	assert.NotEmpty(t, response.Results[1].Error)
}

func TestServer_CalculateBatch_EmptyBody(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/api/goals/probabilities", batchRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_CacheStatsAndInvalidate(t *testing.T) {
	s := newTestServer(t)

	doRequest(t, s, http.MethodPost, "/api/goals/goal-1/probability", nil)

	rec := doRequest(t, s, http.MethodGet, "/api/cache/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats cache.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.Entries)

	rec = doRequest(t, s, http.MethodDelete, "/api/cache/?pattern=goal-1:", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var removed map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &removed))
	assert.Equal(t, int64(1), removed["removed"])
}

func TestServer_CacheInvalidate_RequiresPattern(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodDelete, "/api/cache/", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SystemHealth(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/system/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health systemHealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "ok", health.Databases["goals"])
	assert.Equal(t, "ok", health.Databases["cache"])
}

func TestServer_BackupUnconfigured(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/api/system/backup", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
