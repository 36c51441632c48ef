package warehouse

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantstack-labs/marketpipe/internal/testutil"
)

const priceSnapshot = `date,open,high,low,close,volume,symbol
2024-01-02,100,102,99,100,1000,spy
2024-01-03,100,103,100,102,1100,spy
2024-01-04,102,104,101,101,900,spy
2024-01-02,50,51,49,50,2000,aapl
2024-01-03,50,52,50,51,2100,aapl
`

func writeSnapshot(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestBuildFromSnapshots(t *testing.T) {
	ctx := context.Background()
	a := newMemoryDuckDB(t)
	dir := t.TempDir()
	writeSnapshot(t, dir, "equity_prices_20240104.csv", priceSnapshot)

	b := NewBuilder(a, testutil.NewTestLogger(t))
	stats, err := b.Build(ctx, dir)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.PriceFiles)
	assert.Equal(t, int64(5), stats.PriceRows)
	assert.Equal(t, 2, stats.Symbols)

	// Symbols are upper-cased on load.
	var count int
	require.NoError(t, a.QueryRow(ctx,
		"SELECT COUNT(*) FROM raw.equity_prices WHERE symbol = 'SPY'").Scan(&count))
	assert.Equal(t, 3, count)

	// ret_1d: NULL on the first row per symbol, then close/prev - 1.
	var ret float64
	require.NoError(t, a.QueryRow(ctx,
		"SELECT ret_1d FROM core.fct_prices_daily WHERE symbol = 'SPY' AND date = DATE '2024-01-03'").Scan(&ret))
	assert.InDelta(t, 0.02, ret, 1e-9)

	var nullCount int
	require.NoError(t, a.QueryRow(ctx,
		"SELECT COUNT(*) FROM core.fct_prices_daily WHERE ret_1d IS NULL").Scan(&nullCount))
	assert.Equal(t, 2, nullCount, "one NULL return per symbol")
}

func TestBuildIsIdempotent(t *testing.T) {
	ctx := context.Background()
	a := newMemoryDuckDB(t)
	dir := t.TempDir()
	writeSnapshot(t, dir, "equity_prices_20240104.csv", priceSnapshot)

	b := NewBuilder(a, nil)
	_, err := b.Build(ctx, dir)
	require.NoError(t, err)

	stats, err := b.Build(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.PriceRows, "rebuild does not duplicate rows")
}

func TestBuildWithMacroSnapshots(t *testing.T) {
	ctx := context.Background()
	a := newMemoryDuckDB(t)
	dir := t.TempDir()
	writeSnapshot(t, dir, "equity_prices_20240104.csv", priceSnapshot)
	writeSnapshot(t, dir, "macro_series_20240104.csv", "date,series_id,value\n2024-01-02,DGS10,3.95\n2024-01-03,DGS10,4.01\n")

	b := NewBuilder(a, nil)
	stats, err := b.Build(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.MacroFiles)

	var count int
	require.NoError(t, a.QueryRow(ctx, "SELECT COUNT(*) FROM raw.macro_series").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestBuildNoSnapshots(t *testing.T) {
	a := newMemoryDuckDB(t)
	b := NewBuilder(a, nil)

	_, err := b.Build(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no price snapshots")
}

func TestEnsureFeatureTable(t *testing.T) {
	ctx := context.Background()
	a := newMemoryDuckDB(t)
	b := NewBuilder(a, nil)

	require.NoError(t, b.EnsureFeatureTable(ctx))

	exists, err := a.TableExists(ctx, TableFeatures)
	require.NoError(t, err)
	assert.True(t, exists)

	// Idempotent.
	require.NoError(t, b.EnsureFeatureTable(ctx))
}
