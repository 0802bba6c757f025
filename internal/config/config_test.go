package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())
	for _, key := range []string{
		"BACKUP_DATABASE_CONFIG", "BACKUP_COMPRESS_CMD", "BACKUP_DECOMPRESS_CMD",
		"BACKUP_RESTORE_CMD", "BACKUP_PG_SCHEMA", "BACKUP_EXTRA_SCHEMAS",
		"BACKUP_RESTORE_DELAY", "BACKUP_PROGRESS", "BACKUP_CATALOG_PATH",
		"BACKUP_MIN_FREE_SPACE", "LOG_LEVEL", "LOG_FORMAT", "NO_COLOR",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "config/database.yml", cfg.Backup.DatabaseConfigPath)
	assert.Equal(t, DefaultCompressCmd, cfg.Backup.CompressCmd)
	assert.Equal(t, DefaultDecompressCmd, cfg.Backup.DecompressCmd)
	assert.Equal(t, DefaultRestoreCmd, cfg.Backup.RestoreCmd)
	assert.Equal(t, 5*time.Second, cfg.Backup.RestoreDelay)
	assert.Empty(t, cfg.Catalog.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Nil(t, cfg.Backup.Schemas())
	assert.Zero(t, cfg.Backup.MinFreeSpace)
}

func TestLoad_Overrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("BACKUP_PG_SCHEMA", "gitlab")
	t.Setenv("BACKUP_EXTRA_SCHEMAS", "gitlab_partitions_dynamic, gitlab_partitions_static")
	t.Setenv("BACKUP_RESTORE_DELAY", "250ms")
	t.Setenv("BACKUP_PROGRESS", "true")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("BACKUP_MIN_FREE_SPACE", "10GB")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, uint64(10_000_000_000), cfg.Backup.MinFreeSpace)

	assert.Equal(t, 250*time.Millisecond, cfg.Backup.RestoreDelay)
	assert.True(t, cfg.Backup.ShowProgress)
	assert.Equal(t, []string{"gitlab", "gitlab_partitions_dynamic", "gitlab_partitions_static"}, cfg.Backup.Schemas())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "bad delay", key: "BACKUP_RESTORE_DELAY", val: "soon"},
		{name: "bad progress flag", key: "BACKUP_PROGRESS", val: "maybe"},
		{name: "bad log format", key: "LOG_FORMAT", val: "xml"},
		{name: "bad free space", key: "BACKUP_MIN_FREE_SPACE", val: "lots"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdir(t, t.TempDir())
			t.Setenv(tt.key, tt.val)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
