// Package backup dumps and restores every logical database of a deployment.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/branchd-dev/pgbackup/internal/archive"
	"github.com/branchd-dev/pgbackup/internal/database"
	"github.com/branchd-dev/pgbackup/internal/diagnostics"
	"github.com/branchd-dev/pgbackup/internal/process"
	"github.com/branchd-dev/pgbackup/internal/progress"
	"github.com/branchd-dev/pgbackup/internal/snapshot"
)

const cleanupTimeout = 30 * time.Second

const preRestoreWarning = `Be sure to stop every application process that
connects to the database before proceeding.

Before restoring the database, we will remove all existing
tables to avoid future upgrade problems. Be aware that if you have
custom tables in the database these tables and all data will be
removed.
`

const postRestoreWarning = `There were errors in restoring the schema. This may cause
issues if this results in missing indexes, constraints, or
columns. Please record the errors above before retrying.
`

// SnapshotCoordinator exports and releases per-database snapshots
type SnapshotCoordinator interface {
	Open(ctx context.Context, conn database.Connection) (*snapshot.Handle, error)
	Release(ctx context.Context, h *snapshot.Handle) error
	RestoreTimeouts(ctx context.Context, conn database.Connection) error
	Close(ctx context.Context) error
}

// SchemaResetter drops every table of a database before it is restored
type SchemaResetter interface {
	DropTables(ctx context.Context, conn database.Connection) error
}

// PipelineRunner runs the external tool pipelines
type PipelineRunner interface {
	Dump(ctx context.Context, dump, compress process.Command, outputPath string) (process.DumpResult, error)
	Restore(ctx context.Context, decompress process.Command, sourcePath string, restore process.Command, sink process.LineSink) (process.RestoreResult, error)
}

// Options tune a Target
type Options struct {
	Force         bool
	Schemas       []string
	DumpCmd       process.Command
	CompressCmd   process.Command
	DecompressCmd process.Command
	RestoreCmd    process.Command
	RestoreDelay  time.Duration
}

// DefaultOptions returns gzip/psql pipelines and a five second grace period
func DefaultOptions() Options {
	return Options{
		DumpCmd:       process.Command{Path: DefaultDumpCmd},
		CompressCmd:   process.Command{Path: "gzip", Args: []string{"-c", "-1"}},
		DecompressCmd: process.Command{Path: "gzip", Args: []string{"-cd"}},
		RestoreCmd:    process.Command{Path: "psql"},
		RestoreDelay:  5 * time.Second,
	}
}

// Dependencies are the collaborators of a Target
type Dependencies struct {
	Registry  *database.Registry
	Snapshots SnapshotCoordinator
	Resetter  SchemaResetter
	Runner    PipelineRunner
	Output    *progress.Output
	// ErrOutput receives every raw stderr line of the restore tool
	ErrOutput io.Writer
}

// DatabaseResult is the outcome for one logical database
type DatabaseResult struct {
	Database     string
	DatabaseName string
	Path         string
	SnapshotID   string
	Success      bool
	Skipped      bool
	Size         int64
	Errors       []string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Run is the outcome of one Dump or Restore
type Run struct {
	Operation Operation
	Directory string
	Results   []DatabaseResult
	// Halted is set when a missing non-primary archive stopped the restore
	Halted     bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// Success reports whether no database failed
func (r *Run) Success() bool {
	for _, res := range r.Results {
		if !res.Success && !res.Skipped {
			return false
		}
	}
	return true
}

// Target orchestrates dump and restore across logical databases. Databases
// are processed one at a time, primary first.
type Target struct {
	logger zerolog.Logger
	deps   Dependencies
	opts   Options
	sleep  func(ctx context.Context, d time.Duration) error

	lastErrors []string
}

// NewTarget creates a target
func NewTarget(logger zerolog.Logger, deps Dependencies, opts Options) *Target {
	return &Target{
		logger: logger.With().Str("component", "backup").Logger(),
		deps:   deps,
		opts:   opts,
		sleep:  sleepContext,
	}
}

// Dump writes one compressed archive per logical database into dir. With
// several databases, snapshots of all of them are exported before the first
// dump so every archive shows the same point in time.
func (t *Target) Dump(ctx context.Context, dir string) (run *Run, err error) {
	run = &Run{Operation: OperationDump, Directory: dir, StartedAt: time.Now()}
	defer func() { run.FinishedAt = time.Now() }()

	if err := os.MkdirAll(dir, 0700); err != nil {
		return run, fmt.Errorf("failed to create backup directory: %w", err)
	}

	conns := t.deps.Registry.Each()
	multi := t.deps.Registry.MultipleDatabases()
	handles := make(map[string]*snapshot.Handle)

	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()

		// Handles never reached because an earlier database failed
		for _, conn := range conns {
			t.release(cleanupCtx, handles, conn.Name)
		}
		if multi {
			if cerr := t.restoreTimeouts(cleanupCtx, dir, conns); cerr != nil {
				err = multierror.Append(err, cerr)
			}
		}
		if cerr := t.deps.Snapshots.Close(cleanupCtx); cerr != nil {
			t.logger.Warn().Err(cerr).Msg("Failed to close snapshot sessions")
		}
	}()

	if multi {
		for _, conn := range conns {
			h, err := t.deps.Snapshots.Open(ctx, conn)
			if err != nil {
				return run, t.snapshotError(conn, dir, err)
			}
			handles[conn.Name] = h
		}
	}

	for _, conn := range conns {
		res, err := t.dumpDatabase(ctx, dir, conn, handles[conn.Name])
		t.release(ctx, handles, conn.Name)
		run.Results = append(run.Results, res)

		t.deps.Output.ReportSuccess(err == nil)
		t.deps.Output.Flush()
		if err != nil {
			return run, err
		}
	}

	return run, nil
}

func (t *Target) dumpDatabase(ctx context.Context, dir string, conn database.Connection, h *snapshot.Handle) (res DatabaseResult, err error) {
	path := FileName(dir, conn.Name)
	res = DatabaseResult{
		Database:     conn.Name,
		DatabaseName: conn.Config.Database,
		Path:         path,
		StartedAt:    time.Now(),
	}
	defer func() { res.FinishedAt = time.Now() }()

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return res, fmt.Errorf("failed to remove previous archive: %w", err)
	}

	t.deps.Output.Print(fmt.Sprintf("Dumping PostgreSQL database %s ... ", conn.Config.Database))

	desc := DumpDescriptor{
		DatabaseName: conn.Config.Database,
		Path:         path,
		Schemas:      t.opts.Schemas,
		Env:          conn.Environ(),
	}
	if h != nil {
		desc.SnapshotID = h.ID
		res.SnapshotID = h.ID
	}

	log := t.logger.With().Str("database", conn.Name).Str("path", path).Logger()
	log.Debug().Str("snapshot_id", desc.SnapshotID).Msg("Dumping database")

	result, err := t.deps.Runner.Dump(ctx, desc.Command(t.opts.DumpCmd), t.opts.CompressCmd, path)
	if err != nil || !result.Success() {
		log.Error().
			Err(err).
			Int("dump_exit", result.DumpExit).
			Int("compress_exit", result.CompressExit).
			Msg("Database dump failed")
		return res, &ToolFailureError{
			Database:  conn.Name,
			Config:    conn.Variables(),
			Path:      path,
			Operation: OperationDump,
			Err:       err,
		}
	}

	res.Success = true
	if stat, err := os.Stat(path); err == nil {
		res.Size = stat.Size()
	}
	log.Info().Str("size", humanize.Bytes(uint64(res.Size))).Msg("Database dumped")

	return res, nil
}

func (t *Target) release(ctx context.Context, handles map[string]*snapshot.Handle, name string) {
	h, ok := handles[name]
	if !ok {
		return
	}
	delete(handles, name)
	if err := t.deps.Snapshots.Release(ctx, h); err != nil {
		t.logger.Warn().Err(err).Str("database", name).Msg("Failed to release snapshot")
	}
}

// restoreTimeouts resets session timeouts on every connection, reporting all
// unreachable ones
func (t *Target) restoreTimeouts(ctx context.Context, dir string, conns []database.Connection) error {
	var result *multierror.Error
	for _, conn := range conns {
		if err := t.deps.Snapshots.RestoreTimeouts(ctx, conn); err != nil {
			result = multierror.Append(result, t.snapshotError(conn, dir, err))
		}
	}
	return result.ErrorOrNil()
}

func (t *Target) snapshotError(conn database.Connection, dir string, err error) error {
	if errors.Is(err, snapshot.ErrNotConnected) {
		return &ConnectivityError{
			Database: conn.Name,
			Config:   conn.Variables(),
			Path:     FileName(dir, conn.Name),
			Err:      err,
		}
	}
	return fmt.Errorf("snapshot handling failed for database %s: %w", conn.Name, err)
}

// Restore loads every archive found in dir into its logical database.
// A missing primary archive is fatal; a missing archive of another database
// ends the restore early without an error.
func (t *Target) Restore(ctx context.Context, dir string) (*Run, error) {
	run := &Run{Operation: OperationRestore, Directory: dir, StartedAt: time.Now()}
	defer func() { run.FinishedAt = time.Now() }()

	t.lastErrors = nil

	for _, conn := range t.deps.Registry.Each() {
		path := FileName(dir, conn.Name)

		if _, err := os.Stat(path); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return run, fmt.Errorf("failed to stat archive: %w", err)
			}
			if conn.IsPrimary() {
				return run, &MissingBackupFileError{Database: conn.Name, Path: path}
			}

			t.deps.Output.Puts(fmt.Sprintf("Source backup for the database %s doesn't exist. Skipping the task", conn.Name))
			run.Results = append(run.Results, DatabaseResult{
				Database:     conn.Name,
				DatabaseName: conn.Config.Database,
				Path:         path,
				Skipped:      true,
			})
			run.Halted = true
			t.logger.Warn().Str("database", conn.Name).Msg("Archive missing, stopping restore")
			return run, nil
		}

		res, err := t.restoreDatabase(ctx, conn, path)
		run.Results = append(run.Results, res)
		if err != nil {
			return run, err
		}
	}

	return run, nil
}

func (t *Target) restoreDatabase(ctx context.Context, conn database.Connection, path string) (res DatabaseResult, err error) {
	out := t.deps.Output
	res = DatabaseResult{
		Database:     conn.Name,
		DatabaseName: conn.Config.Database,
		Path:         path,
		StartedAt:    time.Now(),
	}
	defer func() { res.FinishedAt = time.Now() }()

	log := t.logger.With().Str("database", conn.Name).Str("path", path).Logger()

	if !t.opts.Force {
		out.Puts(out.Yellow(fmt.Sprintf("Removing all tables. Press `Ctrl-C` within %s to abort",
			describeDelay(t.opts.RestoreDelay))))
		if err := t.sleep(ctx, t.opts.RestoreDelay); err != nil {
			return res, fmt.Errorf("restore aborted: %w", err)
		}
	}

	out.PutsTime(out.Blue("Cleaning the database ... "))
	if err := t.deps.Resetter.DropTables(ctx, conn); err != nil {
		return res, err
	}
	out.PutsTime(out.Green("done"))

	collection := diagnostics.NewCollection(t.deps.ErrOutput)
	restoreCmd := t.opts.RestoreCmd.WithArgs(conn.Config.Database).WithEnv(conn.Environ()...)

	out.Print(fmt.Sprintf("Restoring PostgreSQL database %s ... ", conn.Config.Database))
	result, err := t.deps.Runner.Restore(ctx, t.opts.DecompressCmd, path, restoreCmd, collection)

	res.Errors = collection.Lines()
	if len(res.Errors) > 0 {
		t.lastErrors = append(t.lastErrors, res.Errors...)
		out.Print(out.Yellow("------ BEGIN ERRORS -----\n"))
		out.Print(out.Yellow(collection.String()))
		out.Print(out.Yellow("------ END ERRORS -------\n"))
	}

	if stat, serr := os.Stat(path); serr == nil {
		res.Size = stat.Size()
	}

	res.Success = err == nil && result.Success()
	out.ReportSuccess(res.Success)
	out.Flush()

	log.Info().
		Bool("success", res.Success).
		Int("decompress_exit", result.DecompressExit).
		Int("restore_exit", result.RestoreExit).
		Int("stderr_lines", collection.Seen()).
		Int("errors", len(res.Errors)).
		Str("restored", humanize.Bytes(uint64(result.BytesCopied))).
		Msg("Database restore finished")

	if !res.Success {
		return res, &ToolFailureError{
			Database:  conn.Name,
			Config:    conn.Variables(),
			Path:      path,
			Operation: OperationRestore,
			Err:       err,
		}
	}
	return res, nil
}

// Verify checks the archive of every logical database in dir. Archives of
// non-primary databases may be missing; they are reported as skipped.
func (t *Target) Verify(ctx context.Context, dir string) ([]archive.Info, []string, error) {
	var infos []archive.Info
	var skipped []string

	for _, conn := range t.deps.Registry.Each() {
		if err := ctx.Err(); err != nil {
			return infos, skipped, err
		}

		path := FileName(dir, conn.Name)
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			if conn.IsPrimary() {
				return infos, skipped, &MissingBackupFileError{Database: conn.Name, Path: path}
			}
			skipped = append(skipped, conn.Name)
			continue
		}

		info, err := archive.Inspect(path)
		if err != nil {
			return infos, skipped, fmt.Errorf("database %s: %w", conn.Name, err)
		}
		t.logger.Debug().Str("database", conn.Name).Stringer("archive", info).Msg("Archive verified")
		infos = append(infos, info)
	}

	return infos, skipped, nil
}

// PreRestoreWarning returns the caution shown before a restore, or an empty
// string when forced
func (t *Target) PreRestoreWarning() string {
	if t.opts.Force {
		return ""
	}
	return preRestoreWarning
}

// PostRestoreWarning returns the schema errors caution when the last restore
// captured errors
func (t *Target) PostRestoreWarning() string {
	if len(t.lastErrors) == 0 {
		return ""
	}
	return postRestoreWarning
}

// describeDelay renders whole seconds as "N seconds" and anything finer as a
// duration
func describeDelay(d time.Duration) string {
	if d > 0 && d%time.Second == 0 {
		return fmt.Sprintf("%d seconds", int(d/time.Second))
	}
	return d.String()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
