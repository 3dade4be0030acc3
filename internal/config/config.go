// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/aristath/goalkeeper/internal/reliability"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases, always absolute
	Port     int
	LogLevel string
	DevMode  bool

	// CacheTTL bounds how long simulation results stay valid.
	CacheTTL time.Duration

	// ParallelThreshold is the trial count above which simulations fan out
	// to the parallel runner.
	ParallelThreshold int

	// Workers caps the parallel runner's worker count. Zero means derive
	// from the host CPU count.
	Workers int

	// StaleMaxAge is how old a stored probability may get before the
	// scheduled refresh recomputes it.
	StaleMaxAge time.Duration

	Backup BackupConfig
}

// BackupConfig holds backup and object storage settings. Without S3
// credentials, backups stay on local disk.
type BackupConfig struct {
	RetentionDays int
	S3            reliability.S3Config
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("GOALKEEPER_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:           absDataDir,
		Port:              getEnvAsInt("GOALKEEPER_PORT", 8080),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		DevMode:           getEnvAsBool("DEV_MODE", false),
		CacheTTL:          time.Duration(getEnvAsInt("CACHE_TTL_HOURS", 24)) * time.Hour,
		ParallelThreshold: getEnvAsInt("PARALLEL_THRESHOLD", 20000),
		Workers:           getEnvAsInt("SIMULATION_WORKERS", 0),
		StaleMaxAge:       time.Duration(getEnvAsInt("STALE_MAX_AGE_HOURS", 24)) * time.Hour,
		Backup: BackupConfig{
			RetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
			S3: reliability.S3Config{
				Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
				Region:          getEnv("BACKUP_S3_REGION", ""),
				AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
				SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
				Bucket:          getEnv("BACKUP_S3_BUCKET", ""),
			},
		},
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}

	return cfg, nil
}

// GoalsDBPath returns the path of the durable goals database.
func (c *Config) GoalsDBPath() string {
	return filepath.Join(c.DataDir, "goals.db")
}

// CacheDBPath returns the path of the ephemeral result cache database.
func (c *Config) CacheDBPath() string {
	return filepath.Join(c.DataDir, "cache.db")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
