package dq

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantstack-labs/marketpipe/internal/testutil"
	"github.com/quantstack-labs/marketpipe/internal/warehouse"
)

func newMemoryWarehouse(t *testing.T) warehouse.Adapter {
	t.Helper()
	cfg := warehouse.Config{Type: "duckdb", Path: ":memory:"}
	a, err := warehouse.NewAdapter(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Connect(context.Background(), cfg))
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func createFactTable(t *testing.T, a warehouse.Adapter) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, a.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS core"))
	require.NoError(t, a.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE %s (
			symbol VARCHAR, date DATE, close DOUBLE, volume BIGINT, ret_1d DOUBLE
		)`, warehouse.TableFctPrices)))
}

func insertFact(t *testing.T, a warehouse.Adapter, symbol, date string, close any, ret any) {
	t.Helper()
	closeSQL := "NULL"
	if close != nil {
		closeSQL = fmt.Sprintf("%v", close)
	}
	retSQL := "NULL"
	if ret != nil {
		retSQL = fmt.Sprintf("%v", ret)
	}
	require.NoError(t, a.Exec(context.Background(), fmt.Sprintf(
		"INSERT INTO %s VALUES ('%s', DATE '%s', %s, 1000, %s)",
		warehouse.TableFctPrices, symbol, date, closeSQL, retSQL)))
}

// fixedRunner pins the clock so freshness is deterministic.
func fixedRunner(t *testing.T, a warehouse.Adapter, cfg Config, now string) *Runner {
	t.Helper()
	r := NewRunner(a, cfg, testutil.NewTestLogger(t))
	ts, err := time.Parse("2006-01-02", now)
	require.NoError(t, err)
	r.now = func() time.Time { return ts }
	return r
}

func resultByName(t *testing.T, rep *Report, name string) Result {
	t.Helper()
	for _, res := range rep.Results {
		if res.Name == name {
			return res
		}
	}
	t.Fatalf("check %q not in report", name)
	return Result{}
}

func TestChecksPassOnCleanData(t *testing.T) {
	a := newMemoryWarehouse(t)
	createFactTable(t, a)
	insertFact(t, a, "SPY", "2024-01-02", 100.0, nil) // first row per symbol may have NULL ret
	insertFact(t, a, "SPY", "2024-01-03", 102.0, 0.02)
	insertFact(t, a, "SPY", "2024-01-04", 101.0, -0.0098)

	r := fixedRunner(t, a, Config{}, "2024-01-05")
	rep, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, rep.Failed())
	assert.Empty(t, rep.Warnings())
	assert.Equal(t, warehouse.TableFctPrices, rep.Source)

	assert.True(t, resultByName(t, rep, "nulls_in_prices").Passed)
	assert.True(t, resultByName(t, rep, "dupe_keys_prices").Passed)
	assert.True(t, resultByName(t, rep, "freshness_check").Passed)
}

func TestChecksFailOnNullClose(t *testing.T) {
	a := newMemoryWarehouse(t)
	createFactTable(t, a)
	insertFact(t, a, "SPY", "2024-01-02", nil, nil)

	r := fixedRunner(t, a, Config{}, "2024-01-03")
	rep, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, rep.Failed(), 1)
	res := resultByName(t, rep, "nulls_in_prices")
	assert.False(t, res.Passed)
	assert.Contains(t, res.Detail, "close=1")
}

func TestChecksAllowFirstRowNullReturn(t *testing.T) {
	a := newMemoryWarehouse(t)
	createFactTable(t, a)
	insertFact(t, a, "SPY", "2024-01-02", 100.0, nil)
	insertFact(t, a, "SPY", "2024-01-03", 102.0, nil) // not first, hard fail

	r := fixedRunner(t, a, Config{}, "2024-01-04")
	rep, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, rep.Failed(), 1)
	assert.Contains(t, resultByName(t, rep, "nulls_in_prices").Detail, "ret_1d=1")
}

func TestChecksFailOnDuplicateKeys(t *testing.T) {
	a := newMemoryWarehouse(t)
	createFactTable(t, a)
	insertFact(t, a, "SPY", "2024-01-02", 100.0, nil)
	insertFact(t, a, "SPY", "2024-01-02", 101.0, 0.01)

	r := fixedRunner(t, a, Config{}, "2024-01-03")
	rep, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, rep.Failed(), 1)
	assert.False(t, resultByName(t, rep, "dupe_keys_prices").Passed)
}

func TestChecksFailOnNonPositiveClose(t *testing.T) {
	a := newMemoryWarehouse(t)
	createFactTable(t, a)
	insertFact(t, a, "SPY", "2024-01-02", -5.0, nil)

	r := fixedRunner(t, a, Config{}, "2024-01-03")
	rep, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, rep.Failed(), 1)
	assert.False(t, resultByName(t, rep, "non_positive_close").Passed)
}

func TestChecksWarnOnExtremeReturns(t *testing.T) {
	a := newMemoryWarehouse(t)
	createFactTable(t, a)
	insertFact(t, a, "SPY", "2024-01-02", 100.0, nil)
	insertFact(t, a, "SPY", "2024-01-03", 180.0, 0.8)

	r := fixedRunner(t, a, Config{MaxAbsReturn: 0.5}, "2024-01-04")
	rep, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, rep.Failed(), "extreme returns warn, not fail")
	assert.Len(t, rep.Warnings(), 1)
	assert.False(t, resultByName(t, rep, "extreme_returns").Passed)
}

func TestChecksWarnOnStaleData(t *testing.T) {
	a := newMemoryWarehouse(t)
	createFactTable(t, a)
	insertFact(t, a, "SPY", "2024-01-02", 100.0, nil)

	// 2024-01-02 to 2024-02-01 is far past a 5 business day budget.
	r := fixedRunner(t, a, Config{MaxStaleDays: 5}, "2024-02-01")
	rep, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, rep.Failed())
	res := resultByName(t, rep, "freshness_check")
	assert.False(t, res.Passed)
	assert.Contains(t, res.Detail, "2024-01-02")
}

func TestChecksFallBackToRawPrices(t *testing.T) {
	a := newMemoryWarehouse(t)
	ctx := context.Background()
	require.NoError(t, a.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS raw"))
	require.NoError(t, a.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE %s (
			date DATE, open DOUBLE, high DOUBLE, low DOUBLE,
			close DOUBLE, volume BIGINT, symbol VARCHAR
		)`, warehouse.TableRawPrices)))
	require.NoError(t, a.Exec(ctx, fmt.Sprintf(
		"INSERT INTO %s VALUES (DATE '2024-01-02', 99, 101, 98, 100, 1000, 'SPY')",
		warehouse.TableRawPrices)))

	r := fixedRunner(t, a, Config{}, "2024-01-03")
	rep, err := r.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, warehouse.TableRawPrices, rep.Source)
	assert.Empty(t, rep.Failed())
}

func TestChecksNoSourceTable(t *testing.T) {
	a := newMemoryWarehouse(t)
	r := NewRunner(a, Config{}, nil)

	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "marketpipe build")
}

func TestWeekdaysBetween(t *testing.T) {
	mon := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fri := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	nextMon := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 4, weekdaysBetween(mon, fri))
	assert.Equal(t, 5, weekdaysBetween(mon, nextMon), "weekend days are not counted")
	assert.Equal(t, 0, weekdaysBetween(mon, mon))
	assert.Equal(t, 4, weekdaysBetween(fri, mon), "order does not matter")
}
