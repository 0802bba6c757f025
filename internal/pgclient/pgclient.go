package pgclient

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/branchd-dev/pgbackup/internal/database"
)

// Client wraps a PostgreSQL connection
type Client struct {
	db *sql.DB
}

// Table identifies one table by schema and name
type Table struct {
	Schema string
	Name   string
}

// QualifiedName returns the quoted schema.table identifier
func (t Table) QualifiedName() string {
	return pq.QuoteIdentifier(t.Schema) + "." + pq.QuoteIdentifier(t.Name)
}

const listTablesQuery = `
	SELECT schemaname, tablename
	FROM pg_catalog.pg_tables
	WHERE schemaname NOT IN ('pg_catalog', 'information_schema')
	  AND schemaname NOT LIKE 'pg_toast%'
	ORDER BY schemaname, tablename
`

// NewClient creates a new PostgreSQL client
func NewClient(connectionString string) (*Client, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	return NewClientFromDB(db), nil
}

// NewClientFromDB wraps an existing handle
func NewClientFromDB(db *sql.DB) *Client {
	return &Client{db: db}
}

// Close closes the database connection
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping tests the database connection
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// ListTables returns every user table
func (c *Client) ListTables(ctx context.Context) ([]Table, error) {
	rows, err := c.db.QueryContext(ctx, listTablesQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		var t Table
		if err := rows.Scan(&t.Schema, &t.Name); err != nil {
			return nil, fmt.Errorf("failed to scan table row: %w", err)
		}
		tables = append(tables, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating table rows: %w", err)
	}

	return tables, nil
}

// DropAllTables drops every user table in one transaction and returns how
// many were dropped
func (c *Client) DropAllTables(ctx context.Context) (int, error) {
	tables, err := c.ListTables(ctx)
	if err != nil {
		return 0, err
	}
	if len(tables) == 0 {
		return 0, nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, t := range tables {
		// CASCADE may already have removed partitions and dependents
		stmt := fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", t.QualifiedName())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("failed to drop table %s: %w", t.QualifiedName(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit drop tables: %w", err)
	}
	return len(tables), nil
}

// SchemaResetter drops all tables of a logical database before a restore
type SchemaResetter struct {
	logger zerolog.Logger
	open   func(connectionString string) (*Client, error)
}

// NewSchemaResetter creates a resetter connecting through lib/pq
func NewSchemaResetter(logger zerolog.Logger) *SchemaResetter {
	return &SchemaResetter{logger: logger, open: NewClient}
}

// NewSchemaResetterWithOpener creates a resetter with a custom client factory
func NewSchemaResetterWithOpener(logger zerolog.Logger, open func(string) (*Client, error)) *SchemaResetter {
	return &SchemaResetter{logger: logger, open: open}
}

// DropTables removes every table of conn's database
func (r *SchemaResetter) DropTables(ctx context.Context, conn database.Connection) error {
	client, err := r.open(conn.ConnString())
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("failed to connect to database %s: %w", conn.Name, err)
	}

	n, err := client.DropAllTables(ctx)
	if err != nil {
		return fmt.Errorf("failed to drop tables of database %s: %w", conn.Name, err)
	}

	r.logger.Info().
		Str("database", conn.Name).
		Int("tables", n).
		Msg("Dropped all tables")

	return nil
}
