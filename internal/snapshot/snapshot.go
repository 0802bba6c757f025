// Package snapshot exports transaction snapshots so that the dumps of
// several logical databases describe one point in time.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/branchd-dev/pgbackup/internal/database"
)

// ErrNotConnected marks failures to reach a database
var ErrNotConnected = errors.New("connection not established")

const (
	disableTimeoutsSQL = "SET statement_timeout = 0; SET idle_in_transaction_session_timeout = 0"
	restoreTimeoutsSQL = "RESET statement_timeout; RESET idle_in_transaction_session_timeout"
	exportSnapshotSQL  = "SELECT pg_export_snapshot()"
)

// Session is the subset of *pgx.Conn the coordinator needs
type Session interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	IsClosed() bool
	Close(ctx context.Context) error
}

// Connector opens a dedicated session to one logical database
type Connector func(ctx context.Context, conn database.Connection) (Session, error)

// Handle is an exported snapshot held open by a transaction
type Handle struct {
	ID       string
	Database string

	tx       pgx.Tx
	released bool
}

// Coordinator manages one session and at most one open snapshot per
// logical database
type Coordinator struct {
	logger  zerolog.Logger
	connect Connector

	mu       sync.Mutex
	sessions map[string]Session
	open     map[string]*Handle
}

// NewCoordinator creates a coordinator connecting through pgx
func NewCoordinator(logger zerolog.Logger) *Coordinator {
	return NewCoordinatorWithConnector(logger, PgxConnector)
}

// NewCoordinatorWithConnector creates a coordinator with a custom connector
func NewCoordinatorWithConnector(logger zerolog.Logger, connect Connector) *Coordinator {
	return &Coordinator{
		logger:   logger,
		connect:  connect,
		sessions: make(map[string]Session),
		open:     make(map[string]*Handle),
	}
}

// PgxConnector connects with jackc/pgx
func PgxConnector(ctx context.Context, conn database.Connection) (Session, error) {
	c, err := pgx.Connect(ctx, conn.ConnString())
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Open exports a snapshot for conn. Session timeouts are disabled first so
// the idle transaction survives the whole dump.
func (c *Coordinator) Open(ctx context.Context, conn database.Connection) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.open[conn.Name]; ok {
		return nil, fmt.Errorf("snapshot already open for database %s", conn.Name)
	}

	session, err := c.sessionLocked(ctx, conn)
	if err != nil {
		return nil, err
	}

	if _, err := session.Exec(ctx, disableTimeoutsSQL); err != nil {
		return nil, c.connectionError(conn, "failed to disable timeouts", session, err)
	}

	tx, err := session.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, c.connectionError(conn, "failed to begin snapshot transaction", session, err)
	}

	var id string
	if err := tx.QueryRow(ctx, exportSnapshotSQL).Scan(&id); err != nil {
		_ = tx.Rollback(ctx)
		return nil, c.connectionError(conn, "failed to export snapshot", session, err)
	}

	h := &Handle{ID: id, Database: conn.Name, tx: tx}
	c.open[conn.Name] = h

	c.logger.Debug().
		Str("database", conn.Name).
		Str("snapshot_id", id).
		Msg("Exported snapshot")

	return h, nil
}

// Release ends the snapshot transaction. Releasing twice is a no-op.
func (c *Coordinator) Release(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if h.released {
		return nil
	}
	h.released = true
	delete(c.open, h.Database)

	if h.tx == nil {
		return nil
	}
	if err := h.tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to release snapshot %s for database %s: %w", h.ID, h.Database, err)
	}

	c.logger.Debug().
		Str("database", h.Database).
		Str("snapshot_id", h.ID).
		Msg("Released snapshot")

	return nil
}

// RestoreTimeouts resets the session timeouts Open disabled and closes the
// session. An unreachable database is reported, never swallowed: a
// lingering override would leak into unrelated work.
func (c *Coordinator) RestoreTimeouts(ctx context.Context, conn database.Connection) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h, ok := c.open[conn.Name]; ok {
		return fmt.Errorf("snapshot %s for database %s is still open", h.ID, conn.Name)
	}

	session, err := c.sessionLocked(ctx, conn)
	if err != nil {
		return err
	}
	defer func() {
		_ = session.Close(ctx)
		delete(c.sessions, conn.Name)
	}()

	if _, err := session.Exec(ctx, restoreTimeoutsSQL); err != nil {
		return c.connectionError(conn, "failed to restore timeouts", session, err)
	}

	c.logger.Debug().Str("database", conn.Name).Msg("Restored session timeouts")
	return nil
}

// Close releases leftover snapshots and closes every session
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for name, h := range c.open {
		h.released = true
		if h.tx != nil {
			_ = h.tx.Rollback(ctx)
		}
		delete(c.open, name)
	}
	for name, s := range c.sessions {
		if err := s.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.sessions, name)
	}
	return firstErr
}

func (c *Coordinator) sessionLocked(ctx context.Context, conn database.Connection) (Session, error) {
	if s, ok := c.sessions[conn.Name]; ok && !s.IsClosed() {
		return s, nil
	}

	s, err := c.connect(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("%w: database %s: %v", ErrNotConnected, conn.Name, err)
	}
	c.sessions[conn.Name] = s
	return s, nil
}

// connectionError classifies err: a dead session means the database is gone
func (c *Coordinator) connectionError(conn database.Connection, msg string, s Session, err error) error {
	if s.IsClosed() {
		delete(c.sessions, conn.Name)
		return fmt.Errorf("%w: database %s: %s: %v", ErrNotConnected, conn.Name, msg, err)
	}
	return fmt.Errorf("%s for database %s: %w", msg, conn.Name, err)
}
