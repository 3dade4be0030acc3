package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/goalkeeper/internal/goals"
	"github.com/aristath/goalkeeper/internal/orchestrator"
	"github.com/aristath/goalkeeper/internal/simulation"
)

// calculateRequest is the optional body for probability calculations.
type calculateRequest struct {
	Force      bool   `json:"force"`
	TrialCount int    `json:"trial_count"`
	Seed       uint64 `json:"seed"`
}

// batchRequest asks for several goals at once.
type batchRequest struct {
	GoalIDs    []string `json:"goal_ids"`
	Force      bool     `json:"force"`
	TrialCount int      `json:"trial_count"`
}

func (s *Server) handleListGoals(w http.ResponseWriter, r *http.Request) {
	allGoals, err := s.repo.GetAllGoals()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if allGoals == nil {
		allGoals = []*goals.Goal{}
	}
	s.respondJSON(w, http.StatusOK, allGoals)
}

func (s *Server) handleGetGoal(w http.ResponseWriter, r *http.Request) {
	goalID := chi.URLParam(r, "goalID")

	goal, err := s.repo.GetGoal(goalID)
	if err != nil {
		if errors.Is(err, goals.ErrGoalNotFound) {
			s.respondError(w, http.StatusNotFound, err)
		} else {
			s.respondError(w, http.StatusInternalServerError, err)
		}
		return
	}
	s.respondJSON(w, http.StatusOK, goal)
}

func (s *Server) handleCalculateProbability(w http.ResponseWriter, r *http.Request) {
	goalID := chi.URLParam(r, "goalID")

	var body calculateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.respondError(w, http.StatusBadRequest, err)
			return
		}
	}

	result, err := s.orchestrator.CalculateGoalProbability(r.Context(), goalID, orchestrator.Options{
		Force:      body.Force,
		TrialCount: body.TrialCount,
		Seed:       body.Seed,
	})
	if err != nil {
		switch {
		case errors.Is(err, goals.ErrGoalNotFound), errors.Is(err, goals.ErrProfileNotFound):
			s.respondError(w, http.StatusNotFound, err)
		case result != nil:
			// Computed but not persisted: return the result with a warning
			// status so clients can still show it.
			s.log.Warn().Err(err).Str("goal_id", goalID).Msg("Returning unpersisted result")
			s.respondJSON(w, http.StatusAccepted, result)
		default:
			var integrityErr *simulation.IntegrityError
			if errors.As(err, &integrityErr) {
				s.respondError(w, http.StatusUnprocessableEntity, err)
				return
			}
			s.respondError(w, http.StatusInternalServerError, err)
		}
		return
	}

	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleCalculateBatch(w http.ResponseWriter, r *http.Request) {
	var body batchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if len(body.GoalIDs) == 0 {
		s.respondError(w, http.StatusBadRequest, errors.New("goal_ids is required"))
		return
	}

	items := s.orchestrator.CalculateGoalProbabilities(r.Context(), body.GoalIDs, orchestrator.Options{
		Force:      body.Force,
		TrialCount: body.TrialCount,
	})
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"results": items,
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.cache.Stats())
}

func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("pattern query parameter is required"))
		return
	}

	removed, err := s.cache.Invalidate(pattern)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	s.respondJSON(w, status, map[string]string{"error": err.Error()})
}
