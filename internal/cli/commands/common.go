package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/branchd-dev/pgbackup/internal/backup"
	"github.com/branchd-dev/pgbackup/internal/catalog"
	"github.com/branchd-dev/pgbackup/internal/config"
	"github.com/branchd-dev/pgbackup/internal/database"
	"github.com/branchd-dev/pgbackup/internal/logger"
	"github.com/branchd-dev/pgbackup/internal/pgclient"
	"github.com/branchd-dev/pgbackup/internal/process"
	"github.com/branchd-dev/pgbackup/internal/progress"
	"github.com/branchd-dev/pgbackup/internal/snapshot"
	"github.com/branchd-dev/pgbackup/internal/sysinfo"
)

// environment is what every command needs: configuration, logger, the
// logical databases and the optional run catalog
type environment struct {
	cfg      *config.Config
	logger   zerolog.Logger
	registry *database.Registry
	catalog  *catalog.Catalog
}

// setup loads configuration and the database file. This is common logic used
// by most commands.
func setup(cmd *cobra.Command) (*environment, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if f := cmd.Flag("config"); f != nil && f.Value.String() != "" {
		cfg.Backup.DatabaseConfigPath = f.Value.String()
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.GetLogger()

	registry, err := database.LoadFile(cfg.Backup.DatabaseConfigPath)
	if err != nil {
		return nil, fmt.Errorf("%w\nSet BACKUP_DATABASE_CONFIG or pass --config", err)
	}

	env := &environment{cfg: cfg, logger: log, registry: registry}

	if cfg.Catalog.Path != "" {
		env.catalog, err = catalog.Open(cfg.Catalog.Path, log)
		if err != nil {
			return nil, err
		}
	}

	return env, nil
}

func (e *environment) close() {
	if e.catalog != nil {
		if err := e.catalog.Close(); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to close catalog")
		}
	}
}

// newTarget wires the backup target to the real tools and databases
func (e *environment) newTarget(force bool, stdout, stderr io.Writer) (*backup.Target, error) {
	opts := backup.DefaultOptions()
	opts.Force = force
	opts.Schemas = e.cfg.Backup.Schemas()
	opts.RestoreDelay = e.cfg.Backup.RestoreDelay

	var err error
	if opts.CompressCmd, err = process.ParseCommand(e.cfg.Backup.CompressCmd); err != nil {
		return nil, fmt.Errorf("invalid compress command: %w", err)
	}
	if opts.DecompressCmd, err = process.ParseCommand(e.cfg.Backup.DecompressCmd); err != nil {
		return nil, fmt.Errorf("invalid decompress command: %w", err)
	}
	if opts.RestoreCmd, err = process.ParseCommand(e.cfg.Backup.RestoreCmd); err != nil {
		return nil, fmt.Errorf("invalid restore command: %w", err)
	}

	runner := process.NewRunner(e.logger, stdout, stderr)
	if e.cfg.Backup.ShowProgress {
		runner.WithProgress(stderr)
	}

	return backup.NewTarget(e.logger, backup.Dependencies{
		Registry:  e.registry,
		Snapshots: snapshot.NewCoordinator(e.logger),
		Resetter:  pgclient.NewSchemaResetter(e.logger),
		Runner:    runner,
		Output:    progress.New(stdout, e.cfg.Backup.NoColor),
		ErrOutput: stderr,
	}, opts), nil
}

// record runs fn and stores its outcome in the catalog when one is configured
func (e *environment) record(ctx context.Context, op backup.Operation, dir string, fn func(context.Context, string) (*backup.Run, error)) (*backup.Run, error) {
	if e.catalog == nil {
		return fn(ctx, dir)
	}

	rec, err := e.catalog.StartRun(ctx, op, dir)
	if err != nil {
		return nil, err
	}

	run, runErr := fn(ctx, dir)

	// Record even when interrupted
	if err := e.catalog.FinishRun(context.WithoutCancel(ctx), rec, run, runErr); err != nil {
		e.logger.Error().Err(err).Str("run_id", rec.ID).Msg("Failed to record run")
	} else {
		e.logger.Debug().Str("run_id", rec.ID).Str("status", string(rec.Status)).Msg("Recorded run")
	}

	return run, runErr
}

// preflight refuses to start a dump when the target filesystem is short on
// space
func (e *environment) preflight(dir string) error {
	metrics, err := sysinfo.CheckFreeSpace(dir, e.cfg.Backup.MinFreeSpace)
	if err != nil {
		return err
	}

	e.logger.Debug().
		Str("directory", dir).
		Int("cpus", metrics.CPUCount).
		Str("disk_available", humanize.Bytes(metrics.DiskAvailableBytes)).
		Str("memory_available", humanize.Bytes(metrics.MemoryAvailableBytes)).
		Float64("disk_used_percent", metrics.DiskUsedPercent()).
		Msg("Preflight passed")
	return nil
}
