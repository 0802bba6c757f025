// Package catalog records backup runs in a local SQLite database.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/branchd-dev/pgbackup/internal/backup"
	"github.com/branchd-dev/pgbackup/internal/models"
)

// Catalog stores run history
type Catalog struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// Open opens (creating if needed) the catalog at path and migrates it
func Open(path string, zlog zerolog.Logger) (*Catalog, error) {
	const (
		maxOpenConns = 1 // Single writer CLI
		busyTimeout  = 5000
	)

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.New(
			log.New(os.Stderr, "\r\n", log.LstdFlags),
			logger.Config{
				LogLevel:                  logger.Error,
				IgnoreRecordNotFoundError: true,
				SlowThreshold:             200 * time.Millisecond,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping catalog: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout),
		"PRAGMA foreign_keys=1",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			zlog.Warn().Str("pragma", pragma).Err(err).Msg("Failed to apply pragma")
		}
	}

	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate catalog: %w", err)
	}

	return &Catalog{db: db, logger: zlog}, nil
}

// Close closes the catalog
func (c *Catalog) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// StartRun records a run as running
func (c *Catalog) StartRun(ctx context.Context, op backup.Operation, dir string) (*models.BackupRun, error) {
	now := time.Now().UTC()
	rec := &models.BackupRun{
		Name:      models.GenerateRunName(string(op), now),
		Operation: string(op),
		Directory: dir,
		Status:    models.RunStatusRunning,
		StartedAt: now,
	}
	if err := c.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}
	return rec, nil
}

// FinishRun stores the outcome of run on rec. runErr is the error the run
// returned, if any.
func (c *Catalog) FinishRun(ctx context.Context, rec *models.BackupRun, run *backup.Run, runErr error) error {
	finished := time.Now().UTC()
	if run != nil && !run.FinishedAt.IsZero() {
		finished = run.FinishedAt.UTC()
	}

	if run != nil && !run.StartedAt.IsZero() {
		rec.StartedAt = run.StartedAt.UTC()
	}

	rec.Status = statusOf(run, runErr)
	rec.FinishedAt = &finished
	if runErr != nil {
		rec.Error = runErr.Error()
	}

	var databases []models.DatabaseRun
	if run != nil {
		rec.Halted = run.Halted
		for _, res := range run.Results {
			databases = append(databases, databaseRun(rec.ID, res))
		}
	}

	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(rec).Select("Status", "Halted", "Error", "StartedAt", "FinishedAt").Updates(rec).Error; err != nil {
			return fmt.Errorf("failed to update run: %w", err)
		}
		if len(databases) == 0 {
			return nil
		}
		if err := tx.Create(&databases).Error; err != nil {
			return fmt.Errorf("failed to record database results: %w", err)
		}
		rec.Databases = databases
		return nil
	})
}

// ListRuns returns the most recent runs first
func (c *Catalog) ListRuns(ctx context.Context, limit int) ([]models.BackupRun, error) {
	var runs []models.BackupRun
	query := c.db.WithContext(ctx).
		Preload("Databases", func(db *gorm.DB) *gorm.DB {
			return db.Order("started_at ASC")
		}).
		Order("started_at DESC").
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// GetRun loads one run with its database results
func (c *Catalog) GetRun(ctx context.Context, id string) (*models.BackupRun, error) {
	var run models.BackupRun
	if err := models.FindByIDWithPreload(c.db.WithContext(ctx), id, &run, "Databases"); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("run %s not found", id)
		}
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	return &run, nil
}

func statusOf(run *backup.Run, runErr error) models.RunStatus {
	switch {
	case runErr != nil || run == nil || !run.Success():
		return models.RunStatusFailed
	case run.Halted:
		return models.RunStatusHalted
	default:
		return models.RunStatusSuccess
	}
}

func databaseRun(runID string, res backup.DatabaseResult) models.DatabaseRun {
	d := models.DatabaseRun{
		RunID:        runID,
		Database:     res.Database,
		DatabaseName: res.DatabaseName,
		Path:         res.Path,
		SnapshotID:   res.SnapshotID,
		Success:      res.Success,
		Skipped:      res.Skipped,
		SizeBytes:    res.Size,
		Errors:       strings.Join(res.Errors, "\n"),
	}
	if !res.StartedAt.IsZero() {
		started := res.StartedAt.UTC()
		d.StartedAt = &started
	}
	if !res.FinishedAt.IsZero() {
		finished := res.FinishedAt.UTC()
		d.FinishedAt = &finished
	}
	return d
}
