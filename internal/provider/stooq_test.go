package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantstack-labs/marketpipe/internal/testutil"
)

const stooqFixture = `Date,Open,High,Low,Close,Volume
2024-01-02,472.16,473.67,470.49,472.65,123007100
2024-01-03,470.43,471.19,468.17,468.79,103585900
`

func TestStooqDailyBars(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(stooqFixture))
	}))
	defer srv.Close()

	c := NewStooqClient(srv.URL, 100, testutil.NewTestLogger(t))
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)

	bars, err := c.DailyBars(context.Background(), "SPY", start, end)
	require.NoError(t, err)
	require.Len(t, bars, 2)

	assert.Equal(t, "/q/d/l/", gotPath)
	assert.Contains(t, gotQuery, "s=spy.us")
	assert.Contains(t, gotQuery, "d1=20240102")
	assert.Contains(t, gotQuery, "d2=20240103")
	assert.Contains(t, gotQuery, "i=d")

	assert.Equal(t, "SPY", bars[0].Symbol)
	assert.Equal(t, "2024-01-02", bars[0].Date.Format("2006-01-02"))
	assert.InDelta(t, 472.65, bars[0].Close, 1e-9)
	assert.Equal(t, int64(123007100), bars[0].Volume)
}

func TestStooqNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("No data"))
	}))
	defer srv.Close()

	c := NewStooqClient(srv.URL, 100, nil)
	_, err := c.DailyBars(context.Background(), "NOPE", time.Now().AddDate(0, 0, -5), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data")
}

func TestStooqRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(stooqFixture))
	}))
	defer srv.Close()

	c := NewStooqClient(srv.URL, 100, nil)
	bars, err := c.DailyBars(context.Background(),
		"SPY", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, bars, 2)
	assert.Equal(t, int32(3), calls.Load())
}

func TestStooqNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewStooqClient(srv.URL, 100, nil)
	_, err := c.DailyBars(context.Background(),
		"SPY", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "4xx responses are not retried")
}

func TestStooqSymbolQualification(t *testing.T) {
	assert.Equal(t, "spy.us", stooqSymbol("SPY"))
	assert.Equal(t, "spy.us", stooqSymbol(" spy "))
	assert.Equal(t, "btc.v", stooqSymbol("BTC.V"), "already-qualified symbols pass through")
}

func TestParseStooqCSVMissingColumn(t *testing.T) {
	_, err := parseStooqCSV("SPY", []byte("Date,Open\n2024-01-02,472.16\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing column")
}

func TestParseStooqCSVTruncatedRow(t *testing.T) {
	// A ragged row shorter than the header must error, not panic.
	raw := "Date,Open,High,Low,Close,Volume\n2024-01-02,472.16\n"
	_, err := parseStooqCSV("SPY", []byte(raw))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "truncated record")
}

func TestParseStooqCSVRowWithoutVolume(t *testing.T) {
	// Some instruments omit the volume column entirely.
	raw := "Date,Open,High,Low,Close\n2024-01-02,472.16,473.67,470.49,472.65\n"
	bars, err := parseStooqCSV("SPY", []byte(raw))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Zero(t, bars[0].Volume)
}
