// Package main is the entry point for the Goalkeeper goal-probability
// engine. It wires the stores, the simulation engine and the HTTP API,
// runs the background jobs, and shuts everything down cleanly on signal.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/goalkeeper/internal/cache"
	"github.com/aristath/goalkeeper/internal/config"
	"github.com/aristath/goalkeeper/internal/database"
	"github.com/aristath/goalkeeper/internal/goals"
	"github.com/aristath/goalkeeper/internal/orchestrator"
	"github.com/aristath/goalkeeper/internal/progress"
	"github.com/aristath/goalkeeper/internal/reliability"
	"github.com/aristath/goalkeeper/internal/scheduler"
	"github.com/aristath/goalkeeper/internal/server"
	"github.com/aristath/goalkeeper/internal/simulation"
	"github.com/aristath/goalkeeper/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting Goalkeeper")

	// Durable goal records. A failure here is fatal: there is nothing to
	// serve without them.
	goalsDB, err := database.New(database.Config{
		Path:    cfg.GoalsDBPath(),
		Name:    "goals",
		Profile: database.ProfileStandard,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open goals database")
	}
	defer goalsDB.Close()

	if err := goalsDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate goals database")
	}

	// The result cache is disposable: corruption means it gets rebuilt
	// empty rather than blocking startup.
	resultCache, err := cache.Open(cfg.CacheDBPath(), cfg.CacheTTL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open result cache")
	}
	defer resultCache.Close()

	repo := goals.NewRepository(goalsDB, log)

	kernel := simulation.NewKernel(log)
	runnerOpts := []simulation.RunnerOption{}
	if cfg.Workers > 0 {
		runnerOpts = append(runnerOpts, simulation.WithWorkers(cfg.Workers))
	}
	runner := simulation.NewRunner(kernel, log, runnerOpts...)

	hub := progress.NewHub(log)

	orch := orchestrator.New(repo, resultCache, kernel, runner, log)
	orch.SetParallelThreshold(cfg.ParallelThreshold)
	orch.SetProgressHub(hub)

	databases := map[string]*database.DB{
		"goals": goalsDB,
		"cache": resultCache.DB(),
	}

	var s3Client *reliability.S3Client
	if cfg.Backup.S3.Configured() {
		s3Client, err = reliability.NewS3Client(context.Background(), cfg.Backup.S3, log)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create S3 client, backups stay local")
		}
	}
	backups := reliability.NewBackupService(databases, s3Client, cfg.DataDir, cfg.Backup.RetentionDays, log)

	sched := scheduler.New(log)
	registerJobs(sched, resultCache, repo, orch, backups, databases, cfg, log)
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Port:    cfg.Port,
		DevMode: cfg.DevMode,
	}, orch, repo, resultCache, backups, hub, databases, log)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Block until SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

// registerJobs wires the background jobs: hourly cache sweeps, daily stale
// probability refresh, nightly backups and weekly database maintenance.
func registerJobs(
	sched *scheduler.Scheduler,
	resultCache *cache.Cache,
	repo *goals.Repository,
	orch *orchestrator.Orchestrator,
	backups *reliability.BackupService,
	databases map[string]*database.DB,
	cfg *config.Config,
	log zerolog.Logger,
) {
	jobs := []struct {
		schedule string
		job      scheduler.Job
	}{
		{"@hourly", &scheduler.CacheSweepJob{Cache: resultCache, Log: log}},
		{"30 4 * * *", &scheduler.StaleRefreshJob{
			Goals:        repo,
			Orchestrator: orch,
			MaxAge:       cfg.StaleMaxAge,
			Log:          log,
		}},
		{"0 3 * * *", &scheduler.BackupJob{Backups: backups, Log: log}},
		{"0 5 * * 0", reliability.NewMaintenanceJob(databases, log)},
	}

	for _, entry := range jobs {
		if err := sched.AddJob(entry.schedule, entry.job); err != nil {
			log.Error().Err(err).Str("job", entry.job.Name()).Msg("Failed to register job")
		}
	}
}
