// Package server exposes the engine over HTTP: probability calculations,
// cache management, system health and a websocket progress stream.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/goalkeeper/internal/cache"
	"github.com/aristath/goalkeeper/internal/database"
	"github.com/aristath/goalkeeper/internal/goals"
	"github.com/aristath/goalkeeper/internal/orchestrator"
	"github.com/aristath/goalkeeper/internal/progress"
	"github.com/aristath/goalkeeper/internal/reliability"
)

// Config holds server configuration
type Config struct {
	Port    int
	DevMode bool
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	cfg    Config
	log    zerolog.Logger

	orchestrator *orchestrator.Orchestrator
	repo         *goals.Repository
	cache        *cache.Cache
	backups      *reliability.BackupService
	hub          *progress.Hub
	databases    map[string]*database.DB
}

// New creates the HTTP server with all routes wired.
func New(
	cfg Config,
	orch *orchestrator.Orchestrator,
	repo *goals.Repository,
	resultCache *cache.Cache,
	backups *reliability.BackupService,
	hub *progress.Hub,
	databases map[string]*database.DB,
	log zerolog.Logger,
) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		cfg:          cfg,
		log:          log.With().Str("component", "server").Logger(),
		orchestrator: orch,
		repo:         repo,
		cache:        resultCache,
		backups:      backups,
		hub:          hub,
		databases:    databases,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Router exposes the underlying router, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/goals", func(r chi.Router) {
			r.Get("/", s.handleListGoals)
			r.Get("/{goalID}", s.handleGetGoal)
			r.Post("/{goalID}/probability", s.handleCalculateProbability)
			r.Post("/probabilities", s.handleCalculateBatch)
		})

		r.Route("/cache", func(r chi.Router) {
			r.Get("/stats", s.handleCacheStats)
			r.Delete("/", s.handleCacheInvalidate)
		})

		r.Route("/system", func(r chi.Router) {
			r.Get("/health", s.handleSystemHealth)
			r.Get("/database/stats", s.handleDatabaseStats)
			r.Post("/backup", s.handleBackupNow)
			r.Get("/backups", s.handleListBackups)
		})

		r.Get("/progress/ws", s.handleProgressWS)
		r.Get("/simulations/{runID}/progress", s.handleRunProgressWS)
	})
}

// Start starts the HTTP server and blocks until it exits.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
