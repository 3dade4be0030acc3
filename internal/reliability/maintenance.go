package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/goalkeeper/internal/database"
)

// MaintenanceJob keeps the engine databases compact: WAL checkpoints on
// every run, VACUUM on the cache store where churn accumulates.
type MaintenanceJob struct {
	databases map[string]*database.DB
	log       zerolog.Logger
}

// NewMaintenanceJob creates a maintenance job over the named databases.
func NewMaintenanceJob(databases map[string]*database.DB, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		databases: databases,
		log:       log.With().Str("job", "maintenance").Logger(),
	}
}

// Name returns the job name for the scheduler.
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// Run executes one maintenance pass. Per-database failures are logged and
// the pass continues; only a checkpoint failure on every database fails
// the job.
func (j *MaintenanceJob) Run() error {
	j.log.Info().Msg("Starting maintenance")
	startTime := time.Now()

	failures := 0
	for name, db := range j.databases {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Error().Err(err).Str("database", name).Msg("WAL checkpoint failed")
			failures++
		}

		if err := db.HealthCheck(context.Background()); err != nil {
			j.log.Error().Err(err).Str("database", name).Msg("Health check failed")
		}
	}

	// Cache entries expire and get deleted constantly; reclaim the space.
	if cacheDB, ok := j.databases["cache"]; ok {
		if err := j.vacuumDatabase(cacheDB, "cache"); err != nil {
			j.log.Error().Err(err).Msg("Cache VACUUM failed")
		}
	}

	if failures == len(j.databases) && failures > 0 {
		return fmt.Errorf("WAL checkpoint failed on all %d databases", failures)
	}

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Maintenance completed")
	return nil
}

func (j *MaintenanceJob) vacuumDatabase(db *database.DB, name string) error {
	var pageCount, pageSize int
	db.Conn().QueryRow("PRAGMA page_count").Scan(&pageCount)
	db.Conn().QueryRow("PRAGMA page_size").Scan(&pageSize)
	sizeBefore := float64(pageCount*pageSize) / 1024 / 1024

	if err := db.Vacuum(); err != nil {
		return err
	}

	db.Conn().QueryRow("PRAGMA page_count").Scan(&pageCount)
	sizeAfter := float64(pageCount*pageSize) / 1024 / 1024

	j.log.Info().
		Str("database", name).
		Float64("size_before_mb", sizeBefore).
		Float64("size_after_mb", sizeAfter).
		Msg("VACUUM completed")
	return nil
}
