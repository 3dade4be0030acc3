// Package cache stores computed simulation results keyed by request
// fingerprint, with TTL expiry, single-flight computation and a
// corruption-tolerant load path.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"

	"github.com/aristath/goalkeeper/internal/database"
	"github.com/aristath/goalkeeper/internal/simulation"
)

// DefaultTTL is how long a cached result stays valid.
const DefaultTTL = 24 * time.Hour

// Cache is the content-addressed result store. A single instance is
// constructed at startup and injected into the orchestrator; there is no
// package-level singleton.
type Cache struct {
	db    *database.DB
	ttl   time.Duration
	group singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64

	log zerolog.Logger
}

// Stats reports cache observability counters.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int64 `json:"entries"`
}

// Open opens (or creates) the cache database at path. A corrupted or
// unreadable file is discarded and the cache starts empty with a warning;
// a broken cache must never take the service down.
func Open(path string, ttl time.Duration, log zerolog.Logger) (*Cache, error) {
	clog := log.With().Str("component", "result_cache").Logger()

	db, err := openValidated(path)
	if err != nil {
		clog.Warn().Err(err).Str("path", path).Msg("Cache database unusable, discarding and starting empty")

		for _, suffix := range []string{"", "-wal", "-shm"} {
			_ = os.Remove(path + suffix)
		}

		db, err = openValidated(path)
		if err != nil {
			return nil, fmt.Errorf("failed to rebuild cache database: %w", err)
		}
	}

	return NewWithDB(db, ttl, log), nil
}

// openValidated opens the cache database and verifies it is actually usable
// before trusting its contents.
func openValidated(path string) (*database.DB, error) {
	db, err := database.New(database.Config{
		Path:    path,
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.HealthCheck(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	// The schema applied must actually be queryable.
	var count int64
	if err := db.QueryRow("SELECT COUNT(*) FROM simulation_results").Scan(&count); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cache table unusable: %w", err)
	}

	return db, nil
}

// NewWithDB wraps an already opened cache database. Used by tests with
// in-memory databases.
func NewWithDB(db *database.DB, ttl time.Duration, log zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		db:  db,
		ttl: ttl,
		log: log.With().Str("component", "result_cache").Logger(),
	}
}

// Get returns the cached result for a fingerprint, or nil on miss.
// Expired entries and entries that fail to decode count as misses; garbled
// values are deleted so they are not decoded again.
func (c *Cache) Get(fingerprint string) *simulation.Result {
	var value []byte
	var expiresAt int64
	err := c.db.QueryRow(
		"SELECT result, expires_at FROM simulation_results WHERE fingerprint = ?",
		fingerprint,
	).Scan(&value, &expiresAt)
	if err != nil {
		if err != sql.ErrNoRows {
			c.log.Warn().Err(err).Str("fingerprint", fingerprint).Msg("Cache read failed")
		}
		c.misses.Add(1)
		return nil
	}

	if time.Now().Unix() >= expiresAt {
		_, _ = c.db.Exec("DELETE FROM simulation_results WHERE fingerprint = ?", fingerprint)
		c.misses.Add(1)
		return nil
	}

	var result simulation.Result
	if err := msgpack.Unmarshal(value, &result); err != nil {
		// Corrupted entry: drop it and recompute rather than fail.
		c.log.Warn().Err(err).Str("fingerprint", fingerprint).Msg("Corrupted cache entry discarded")
		_, _ = c.db.Exec("DELETE FROM simulation_results WHERE fingerprint = ?", fingerprint)
		c.misses.Add(1)
		return nil
	}

	c.hits.Add(1)
	return &result
}

// Set stores a result under a fingerprint with the cache TTL.
func (c *Cache) Set(fingerprint string, result *simulation.Result) error {
	value, err := msgpack.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	now := time.Now().Unix()
	_, err = c.db.Exec(`
		INSERT INTO simulation_results (fingerprint, result, created_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			result = excluded.result,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`, fingerprint, value, now, now+int64(c.ttl.Seconds()))
	if err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}

	return nil
}

// GetOrCompute returns the cached result or computes it exactly once.
// Concurrent callers with the same fingerprint wait for the in-flight
// computation instead of duplicating work. Failed computations are never
// cached.
func (c *Cache) GetOrCompute(fingerprint string, compute func() (*simulation.Result, error)) (*simulation.Result, error) {
	if cached := c.Get(fingerprint); cached != nil {
		return cached, nil
	}

	value, err, _ := c.group.Do(fingerprint, func() (interface{}, error) {
		// Re-check under the flight lock: another caller may have stored
		// the result between our miss and this closure running.
		if cached := c.Get(fingerprint); cached != nil {
			return cached, nil
		}

		result, err := compute()
		if err != nil {
			return nil, err
		}

		if storeErr := c.Set(fingerprint, result); storeErr != nil {
			// A write failure degrades to recomputation next time; the
			// computed result is still good.
			c.log.Warn().Err(storeErr).Str("fingerprint", fingerprint).Msg("Failed to cache result")
		}

		return result, nil
	})
	if err != nil {
		return nil, err
	}

	return value.(*simulation.Result), nil
}

// Invalidate removes all entries whose fingerprint starts with prefix.
// Passing a full fingerprint removes exactly that entry; passing a goal ID
// prefix removes every entry for the goal. Returns the number removed.
func (c *Cache) Invalidate(prefix string) (int64, error) {
	result, err := c.db.Exec("DELETE FROM simulation_results WHERE fingerprint LIKE ?", prefix+"%")
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate cache entries: %w", err)
	}

	removed, _ := result.RowsAffected()
	if removed > 0 {
		c.log.Debug().Str("prefix", prefix).Int64("removed", removed).Msg("Cache entries invalidated")
	}
	return removed, nil
}

// Sweep removes expired entries. Called periodically by the scheduler.
func (c *Cache) Sweep() (int64, error) {
	result, err := c.db.Exec("DELETE FROM simulation_results WHERE expires_at <= ?", time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep cache: %w", err)
	}

	removed, _ := result.RowsAffected()
	return removed, nil
}

// Stats returns hit/miss counters and the current entry count.
func (c *Cache) Stats() Stats {
	var entries int64
	_ = c.db.QueryRow("SELECT COUNT(*) FROM simulation_results").Scan(&entries)

	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: entries,
	}
}

// DB exposes the underlying database for maintenance and backups.
func (c *Cache) DB() *database.DB {
	return c.db
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}
