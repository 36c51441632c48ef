package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

func init() {
	Register("duckdb", func() Adapter { return NewDuckDBAdapter() })
}

// DuckDBAdapter implements Adapter for DuckDB.
type DuckDBAdapter struct {
	db     *sql.DB
	config Config
}

// NewDuckDBAdapter creates an unconnected DuckDB adapter.
func NewDuckDBAdapter() *DuckDBAdapter {
	return &DuckDBAdapter{}
}

// Connect opens the DuckDB database. An empty path means in-memory.
func (a *DuckDBAdapter) Connect(ctx context.Context, cfg Config) error {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	if path == ":memory:" {
		path = ""
	}
	if path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create warehouse directory: %w", err)
			}
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	a.db = db
	a.config = cfg
	return nil
}

// Close closes the connection.
func (a *DuckDBAdapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Exec runs a statement that returns no rows.
func (a *DuckDBAdapter) Exec(ctx context.Context, query string, args ...any) error {
	if a.db == nil {
		return fmt.Errorf("duckdb connection not established")
	}
	if _, err := a.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to execute statement: %w", err)
	}
	return nil
}

// Query runs a statement that returns rows.
func (a *DuckDBAdapter) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	if a.db == nil {
		return nil, fmt.Errorf("duckdb connection not established")
	}
	//nolint:rowserrcheck // rows.Err() is checked by the caller after iteration
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return &Rows{Rows: rows}, nil
}

// QueryRow runs a single-row query.
func (a *DuckDBAdapter) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return a.db.QueryRowContext(ctx, query, args...)
}

// LoadCSV loads the CSV into the target table. When the table does not
// exist yet it is created with a schema inferred by read_csv_auto;
// otherwise the rows are appended.
func (a *DuckDBAdapter) LoadCSV(ctx context.Context, table, path string) error {
	if a.db == nil {
		return fmt.Errorf("duckdb connection not established")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve csv path: %w", err)
	}

	exists, err := a.TableExists(ctx, table)
	if err != nil {
		return err
	}

	var query string
	if exists {
		query = fmt.Sprintf(
			"INSERT INTO %s SELECT * FROM read_csv_auto('%s', header=true)",
			table, absPath,
		)
	} else {
		query = fmt.Sprintf(
			"CREATE TABLE %s AS SELECT * FROM read_csv_auto('%s', header=true)",
			table, absPath,
		)
	}
	if err := a.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to load csv into %s: %w", table, err)
	}
	return nil
}

// TableExists checks information_schema for the table.
func (a *DuckDBAdapter) TableExists(ctx context.Context, table string) (bool, error) {
	if a.db == nil {
		return false, fmt.Errorf("duckdb connection not established")
	}

	schema, name := splitQualified(table, "main")
	var count int
	err := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`,
		schema, name,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	return count > 0, nil
}

// Columns returns the ordered column names of a table.
func (a *DuckDBAdapter) Columns(ctx context.Context, table string) ([]string, error) {
	if a.db == nil {
		return nil, fmt.Errorf("duckdb connection not established")
	}

	schema, name := splitQualified(table, "main")
	rows, err := a.db.QueryContext(ctx,
		`SELECT column_name FROM information_schema.columns
		 WHERE table_schema = ? AND table_name = ?
		 ORDER BY ordinal_position`,
		schema, name,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns of %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var cols []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, fmt.Errorf("failed to scan column name: %w", err)
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns: %w", err)
	}
	return cols, nil
}

// DialectName returns "duckdb".
func (a *DuckDBAdapter) DialectName() string {
	return "duckdb"
}

var _ Adapter = (*DuckDBAdapter)(nil)
