package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantstack-labs/marketpipe/internal/state"
	"github.com/quantstack-labs/marketpipe/internal/testutil"
	"github.com/quantstack-labs/marketpipe/internal/warehouse"
)

func newTestServer(t *testing.T) (*Server, warehouse.Adapter, state.Store) {
	t.Helper()

	cfg := warehouse.Config{Type: "duckdb", Path: ":memory:"}
	db, err := warehouse.NewAdapter(cfg)
	require.NoError(t, err)
	require.NoError(t, db.Connect(context.Background(), cfg))
	t.Cleanup(func() { _ = db.Close() })

	store := state.NewSQLiteStore()
	require.NoError(t, store.Open(":memory:"))
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { _ = store.Close() })

	srv := NewServer(Config{
		DB:     db,
		Store:  store,
		Addr:   ":0",
		Logger: testutil.NewTestLogger(t),
	})
	return srv, db, store
}

func seedWarehouse(t *testing.T, db warehouse.Adapter) {
	t.Helper()
	ctx := context.Background()
	for _, stmt := range []string{
		"CREATE SCHEMA IF NOT EXISTS core",
		fmt.Sprintf(`CREATE TABLE %s (symbol VARCHAR, date DATE, close DOUBLE, volume BIGINT, ret_1d DOUBLE)`,
			warehouse.TableFctPrices),
		fmt.Sprintf(`INSERT INTO %s VALUES
			('SPY', DATE '2024-01-02', 100, 1000, NULL),
			('SPY', DATE '2024-01-03', 102, 1100, 0.02),
			('AAPL', DATE '2024-01-03', 51, 2100, 0.02)`, warehouse.TableFctPrices),
		fmt.Sprintf(`CREATE TABLE %s (date DATE, ticker VARCHAR, rsi_14 DOUBLE, momentum_10d DOUBLE, vol_21d DOUBLE)`,
			warehouse.TableFeatures),
		fmt.Sprintf(`INSERT INTO %s VALUES
			(DATE '2024-01-03', 'SPY', 61.5, 0.03, NULL)`, warehouse.TableFeatures),
	} {
		require.NoError(t, db.Exec(ctx, stmt))
	}
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := get(t, srv.Router(), "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestIndexPage(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := get(t, srv.Router(), "/")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "marketpipe dashboard")
}

func TestLatestPrices(t *testing.T) {
	srv, db, _ := newTestServer(t)
	seedWarehouse(t, db)

	rec := get(t, srv.Router(), "/api/latest")
	require.Equal(t, http.StatusOK, rec.Code)

	var latest []LatestPrice
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &latest))
	require.Len(t, latest, 2)

	assert.Equal(t, "AAPL", latest[0].Symbol)
	assert.Equal(t, "SPY", latest[1].Symbol)
	assert.Equal(t, "2024-01-03", latest[1].Date, "only the newest row per symbol")
	assert.InDelta(t, 102, latest[1].Close, 1e-9)
	require.NotNil(t, latest[1].Ret1D)
	assert.InDelta(t, 0.02, *latest[1].Ret1D, 1e-9)
}

func TestLatestFeatures(t *testing.T) {
	srv, db, _ := newTestServer(t)
	seedWarehouse(t, db)

	rec := get(t, srv.Router(), "/api/features")
	require.Equal(t, http.StatusOK, rec.Code)

	var features []FeatureRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &features))
	require.Len(t, features, 1)

	assert.Equal(t, "SPY", features[0].Ticker)
	require.NotNil(t, features[0].RSI14)
	assert.InDelta(t, 61.5, *features[0].RSI14, 1e-9)
	assert.Nil(t, features[0].Vol21, "NULL features serialize as null")
}

func TestHistory(t *testing.T) {
	srv, db, _ := newTestServer(t)
	seedWarehouse(t, db)

	rec := get(t, srv.Router(), "/api/history/SPY?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)

	var points []HistoryPoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &points))
	require.Len(t, points, 1)
	assert.Equal(t, "2024-01-03", points[0].Date, "newest first")
}

func TestHistoryLowercaseSymbol(t *testing.T) {
	srv, db, _ := newTestServer(t)
	seedWarehouse(t, db)

	rec := get(t, srv.Router(), "/api/history/spy?limit=1")
	require.Equal(t, http.StatusOK, rec.Code, "symbols are stored upper-cased, the path param should match case-insensitively")

	var points []HistoryPoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &points))
	require.Len(t, points, 1)
}

func TestHistoryUnknownSymbol(t *testing.T) {
	srv, db, _ := newTestServer(t)
	seedWarehouse(t, db)

	rec := get(t, srv.Router(), "/api/history/NOPE")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryInvalidLimit(t *testing.T) {
	srv, db, _ := newTestServer(t)
	seedWarehouse(t, db)

	rec := get(t, srv.Router(), "/api/history/SPY?limit=banana")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRuns(t *testing.T) {
	srv, _, store := newTestServer(t)

	run, err := store.CreateRun("dev")
	require.NoError(t, err)
	require.NoError(t, store.CompleteRun(run.ID, state.RunStatusCompleted, ""))

	rec := get(t, srv.Router(), "/api/runs")
	require.Equal(t, http.StatusOK, rec.Code)

	var runs []RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, "completed", runs[0].Status)
	assert.NotEmpty(t, runs[0].CompletedAt)
}

func TestLatestCachesResults(t *testing.T) {
	srv, db, _ := newTestServer(t)
	seedWarehouse(t, db)
	router := srv.Router()

	rec := get(t, router, "/api/latest")
	require.Equal(t, http.StatusOK, rec.Code)

	// Changed data is not visible until the cache is invalidated.
	require.NoError(t, db.Exec(context.Background(), fmt.Sprintf(
		"INSERT INTO %s VALUES ('SPY', DATE '2024-01-04', 105, 1200, 0.0294)", warehouse.TableFctPrices)))

	rec = get(t, router, "/api/latest")
	var latest []LatestPrice
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &latest))
	assert.Equal(t, "2024-01-03", latest[1].Date)

	srv.invalidateCache()
	rec = get(t, router, "/api/latest")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &latest))
	assert.Equal(t, "2024-01-04", latest[1].Date)
}

func TestLatestErrorsWithoutWarehouse(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := get(t, srv.Router(), "/api/latest")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
