// Package warehouse provides database adapters for the market-data
// warehouse. DuckDB is the default file-based engine; Postgres is
// supported for shared deployments.
package warehouse

import (
	"context"
	"database/sql"
)

// Config holds the connection settings for a warehouse adapter.
type Config struct {
	// Type is the adapter type ("duckdb" or "postgres").
	Type string

	// Path is the database file for file-based engines.
	// Use ":memory:" for an in-memory database.
	Path string

	// DSN is a full connection string (postgres). When set, it takes
	// precedence over the individual host/port/database fields.
	DSN string

	Host     string
	Port     int
	Database string
	Username string
	Password string

	// Schema is the default schema for unqualified table names.
	Schema string

	// Options carries driver-specific settings (e.g. sslmode).
	Options map[string]string
}

// Rows wraps sql.Rows so callers stay adapter-agnostic.
type Rows struct {
	*sql.Rows
}

// Adapter is the interface all warehouse backends implement.
type Adapter interface {
	// Connect establishes the database connection.
	Connect(ctx context.Context, cfg Config) error

	// Close releases the connection.
	Close() error

	// Exec runs a statement that returns no rows.
	Exec(ctx context.Context, query string, args ...any) error

	// Query runs a statement that returns rows. Callers must close the
	// rows and check rows.Err after iterating.
	Query(ctx context.Context, query string, args ...any) (*Rows, error)

	// QueryRow runs a single-row query.
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row

	// LoadCSV loads a CSV file into the named table, creating or
	// replacing it as the engine allows.
	LoadCSV(ctx context.Context, table, path string) error

	// TableExists reports whether a (possibly schema-qualified) table exists.
	TableExists(ctx context.Context, table string) (bool, error)

	// Columns returns the ordered column names of a table.
	Columns(ctx context.Context, table string) ([]string, error)

	// DialectName identifies the SQL dialect ("duckdb", "postgres").
	DialectName() string
}

// splitQualified splits "schema.table" into its parts, defaulting the
// schema to defaultSchema when the name is unqualified.
func splitQualified(table, defaultSchema string) (schema, name string) {
	for i := 0; i < len(table); i++ {
		if table[i] == '.' {
			return table[:i], table[i+1:]
		}
	}
	return defaultSchema, table
}
