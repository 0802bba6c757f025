package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/branchd-dev/pgbackup/internal/backup"
	"github.com/branchd-dev/pgbackup/internal/models"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "state", "catalog.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCatalog_RecordAndList(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)

	rec, err := c.StartRun(ctx, backup.OperationDump, "/backups/db")
	require.NoError(t, err)
	assert.Len(t, rec.ID, 26)
	assert.Equal(t, models.RunStatusRunning, rec.Status)

	start := time.Date(2025, 1, 1, 2, 0, 0, 0, time.UTC)
	run := &backup.Run{
		Operation:  backup.OperationDump,
		Directory:  "/backups/db",
		StartedAt:  start,
		FinishedAt: start.Add(time.Minute),
		Results: []backup.DatabaseResult{
			{Database: "main", DatabaseName: "gitlabhq_production", Path: "/backups/db/database.sql.gz",
				SnapshotID: "00000003-1", Success: true, Size: 2048, StartedAt: start, FinishedAt: start.Add(30 * time.Second)},
			{Database: "ci", DatabaseName: "gitlabhq_production_ci", Path: "/backups/db/ci_database.sql.gz",
				Success: true, Size: 1024, StartedAt: start.Add(30 * time.Second), FinishedAt: start.Add(time.Minute)},
		},
	}
	require.NoError(t, c.FinishRun(ctx, rec, run, nil))

	runs, err := c.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	got := runs[0]
	assert.Equal(t, models.RunStatusSuccess, got.Status)
	assert.Equal(t, "dump", got.Operation)
	assert.Equal(t, time.Minute, got.Duration())
	require.Len(t, got.Databases, 2)
	assert.Equal(t, "main", got.Databases[0].Database)
	assert.Equal(t, int64(2048), got.Databases[0].SizeBytes)
	assert.Equal(t, "ci", got.Databases[1].Database)
}

func TestCatalog_FailedRestore(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)

	rec, err := c.StartRun(ctx, backup.OperationRestore, "/backups/db")
	require.NoError(t, err)

	run := &backup.Run{
		Operation: backup.OperationRestore,
		Results: []backup.DatabaseResult{
			{Database: "main", Errors: []string{"ERROR: a", "ERROR: b"}},
		},
	}
	require.NoError(t, c.FinishRun(ctx, rec, run, errors.New("Restore failed")))

	got, err := c.GetRun(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, got.Status)
	assert.Equal(t, "Restore failed", got.Error)
	require.Len(t, got.Databases, 1)
	assert.Equal(t, []string{"ERROR: a", "ERROR: b"}, got.Databases[0].ErrorLines())
	assert.Nil(t, got.Databases[0].StartedAt)
}

func TestCatalog_ListLimit(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)

	for i := 0; i < 3; i++ {
		rec, err := c.StartRun(ctx, backup.OperationDump, "/backups")
		require.NoError(t, err)
		require.NoError(t, c.FinishRun(ctx, rec, &backup.Run{}, nil))
	}

	runs, err := c.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = c.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestCatalog_GetRunNotFound(t *testing.T) {
	_, err := openTestCatalog(t).GetRun(context.Background(), "01HZZZZZZZZZZZZZZZZZZZZZZZ")
	assert.Error(t, err)
}

func TestStatusOf(t *testing.T) {
	ok := &backup.Run{Results: []backup.DatabaseResult{{Success: true}}}
	halted := &backup.Run{Halted: true, Results: []backup.DatabaseResult{{Success: true}, {Skipped: true}}}
	failed := &backup.Run{Results: []backup.DatabaseResult{{Success: false}}}

	assert.Equal(t, models.RunStatusSuccess, statusOf(ok, nil))
	assert.Equal(t, models.RunStatusHalted, statusOf(halted, nil))
	assert.Equal(t, models.RunStatusFailed, statusOf(failed, nil))
	assert.Equal(t, models.RunStatusFailed, statusOf(ok, errors.New("timeouts")))
	assert.Equal(t, models.RunStatusFailed, statusOf(nil, nil))
}

func TestCatalog_StoresRunTimes(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)

	rec, err := c.StartRun(ctx, backup.OperationDump, "/backups/db")
	require.NoError(t, err)

	start := time.Now().Add(-time.Hour)
	run := &backup.Run{StartedAt: start, FinishedAt: start.Add(time.Minute)}
	require.NoError(t, c.FinishRun(ctx, rec, run, nil))

	got, err := c.GetRun(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.StartedAt.Equal(start), "started_at %v, want %v", got.StartedAt, start)
	assert.Equal(t, time.Minute, got.Duration())
}

func TestCatalog_FinishWithoutRunKeepsStart(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)

	rec, err := c.StartRun(ctx, backup.OperationRestore, "/backups/db")
	require.NoError(t, err)
	started := rec.StartedAt

	require.NoError(t, c.FinishRun(ctx, rec, nil, errors.New("no database file")))

	got, err := c.GetRun(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.StartedAt.Equal(started))
	assert.GreaterOrEqual(t, got.Duration(), time.Duration(0))
}
