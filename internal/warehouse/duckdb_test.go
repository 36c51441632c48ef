package warehouse

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryDuckDB(t *testing.T) *DuckDBAdapter {
	t.Helper()
	a := NewDuckDBAdapter()
	require.NoError(t, a.Connect(context.Background(), Config{Type: "duckdb", Path: ":memory:"}))
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestDuckDBConnectAndExec(t *testing.T) {
	ctx := context.Background()
	a := newMemoryDuckDB(t)

	require.NoError(t, a.Exec(ctx, "CREATE TABLE t (id INTEGER, name VARCHAR)"))
	require.NoError(t, a.Exec(ctx, "INSERT INTO t VALUES (1, 'spy'), (2, 'aapl')"))

	rows, err := a.Query(ctx, "SELECT name FROM t ORDER BY id")
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"spy", "aapl"}, names)
}

func TestDuckDBNotConnected(t *testing.T) {
	ctx := context.Background()
	a := NewDuckDBAdapter()

	assert.Error(t, a.Exec(ctx, "SELECT 1"))
	_, err := a.Query(ctx, "SELECT 1")
	assert.Error(t, err)
	_, err = a.TableExists(ctx, "t")
	assert.Error(t, err)
}

func TestDuckDBTableExists(t *testing.T) {
	ctx := context.Background()
	a := newMemoryDuckDB(t)

	exists, err := a.TableExists(ctx, "raw.equity_prices")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, a.Exec(ctx, "CREATE SCHEMA raw"))
	require.NoError(t, a.Exec(ctx, "CREATE TABLE raw.equity_prices (date DATE, close DOUBLE)"))

	exists, err = a.TableExists(ctx, "raw.equity_prices")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDuckDBColumns(t *testing.T) {
	ctx := context.Background()
	a := newMemoryDuckDB(t)

	require.NoError(t, a.Exec(ctx, "CREATE TABLE prices (date DATE, close DOUBLE, symbol VARCHAR)"))

	cols, err := a.Columns(ctx, "prices")
	require.NoError(t, err)
	assert.Equal(t, []string{"date", "close", "symbol"}, cols)
}

func TestDuckDBLoadCSVCreatesAndAppends(t *testing.T) {
	ctx := context.Background()
	a := newMemoryDuckDB(t)

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "bars.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("date,close,symbol\n2024-01-02,475.31,SPY\n2024-01-03,472.65,SPY\n"), 0o600))

	require.NoError(t, a.LoadCSV(ctx, "bars", csvPath))

	var count int
	require.NoError(t, a.QueryRow(ctx, "SELECT COUNT(*) FROM bars").Scan(&count))
	assert.Equal(t, 2, count)

	// A second load appends.
	require.NoError(t, a.LoadCSV(ctx, "bars", csvPath))
	require.NoError(t, a.QueryRow(ctx, "SELECT COUNT(*) FROM bars").Scan(&count))
	assert.Equal(t, 4, count)
}

func TestDuckDBDialectName(t *testing.T) {
	assert.Equal(t, "duckdb", NewDuckDBAdapter().DialectName())
}
