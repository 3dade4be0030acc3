package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/goalkeeper/internal/database"
	gktesting "github.com/aristath/goalkeeper/internal/testing"
)

func TestParseBackupTimestamp(t *testing.T) {
	ts, ok := parseBackupTimestamp("goalkeeper-backup-2026-08-30-120000.tar.gz")
	require.True(t, ok)
	assert.Equal(t, 2026, ts.Year())
	assert.Equal(t, time.August, ts.Month())

	_, ok = parseBackupTimestamp("something-else.tar.gz")
	assert.False(t, ok)

	_, ok = parseBackupTimestamp("goalkeeper-backup-garbage.tar.gz")
	assert.False(t, ok)
}

func TestBackupService_LocalBackup(t *testing.T) {
	goalsDB, cleanupGoals := gktesting.NewTestDB(t, "goals")
	defer cleanupGoals()
	cacheDB, cleanupCache := gktesting.NewTestDB(t, "cache")
	defer cleanupCache()

	dataDir := t.TempDir()
	svc := NewBackupService(map[string]*database.DB{
		"goals": goalsDB,
		"cache": cacheDB,
	}, nil, dataDir, 0, zerolog.Nop())

	require.NoError(t, svc.BackupNow(context.Background()))

	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Greater(t, backups[0].SizeBytes, int64(0))

	// The archive holds both snapshots plus the metadata file.
	names := readArchiveNames(t, filepath.Join(dataDir, "backups", backups[0].Filename))
	assert.ElementsMatch(t, []string{"cache.db", "goals.db", "backup-metadata.json"}, names)
}

func TestBackupService_MetadataChecksums(t *testing.T) {
	goalsDB, cleanup := gktesting.NewTestDB(t, "goals")
	defer cleanup()

	dataDir := t.TempDir()
	svc := NewBackupService(map[string]*database.DB{"goals": goalsDB}, nil, dataDir, 0, zerolog.Nop())
	require.NoError(t, svc.BackupNow(context.Background()))

	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 1)

	metadata := readArchiveMetadata(t, filepath.Join(dataDir, "backups", backups[0].Filename))
	require.Len(t, metadata.Databases, 1)
	assert.Equal(t, "goals", metadata.Databases[0].Name)
	assert.Contains(t, metadata.Databases[0].Checksum, "sha256:")
	assert.Greater(t, metadata.Databases[0].SizeBytes, int64(0))
}

func TestBackupService_ListBackups_EmptyWithoutDirectory(t *testing.T) {
	svc := NewBackupService(nil, nil, t.TempDir(), 0, zerolog.Nop())
	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestBackupService_RotationKeepsNewest(t *testing.T) {
	dataDir := t.TempDir()
	backupsDir := filepath.Join(dataDir, "backups")
	require.NoError(t, os.MkdirAll(backupsDir, 0755))

	// Five old archives, well past a 7 day retention.
	old := time.Now().AddDate(0, 0, -30)
	for i := 0; i < 5; i++ {
		name := backupPrefix + old.Add(time.Duration(i)*time.Hour).Format("2006-01-02-150405") + ".tar.gz"
		require.NoError(t, os.WriteFile(filepath.Join(backupsDir, name), []byte("x"), 0644))
	}

	svc := NewBackupService(nil, nil, dataDir, 7, zerolog.Nop())
	require.NoError(t, svc.rotate(context.Background()))

	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)
	assert.Len(t, backups, 3, "rotation keeps the newest three regardless of age")
}

func readArchiveNames(t *testing.T, path string) []string {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	gz, err := gzip.NewReader(file)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	var names []string
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, header.Name)
	}
	return names
}

func readArchiveMetadata(t *testing.T, path string) BackupMetadata {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	gz, err := gzip.NewReader(file)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	for {
		header, err := tr.Next()
		require.NoError(t, err)
		if header.Name == "backup-metadata.json" {
			var metadata BackupMetadata
			require.NoError(t, json.NewDecoder(tr).Decode(&metadata))
			return metadata
		}
	}
}
