package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantstack-labs/marketpipe/internal/testutil"
)

const fredFixture = `{
  "observations": [
    {"date": "2024-01-02", "value": "3.95"},
    {"date": "2024-01-03", "value": "."},
    {"date": "2024-01-04", "value": "4.01"}
  ]
}`

func TestFREDObservations(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(fredFixture))
	}))
	defer srv.Close()

	c := NewFREDClient(srv.URL, "test-key", 100, testutil.NewTestLogger(t))
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)

	obs, err := c.Observations(context.Background(), "DGS10", start, end)
	require.NoError(t, err)

	assert.Contains(t, gotQuery, "series_id=DGS10")
	assert.Contains(t, gotQuery, "api_key=test-key")
	assert.Contains(t, gotQuery, "file_type=json")
	assert.Contains(t, gotQuery, "observation_start=2024-01-02")
	assert.Contains(t, gotQuery, "observation_end=2024-01-04")

	// The "." placeholder is skipped, not an error.
	require.Len(t, obs, 2)
	assert.Equal(t, "DGS10", obs[0].SeriesID)
	assert.InDelta(t, 3.95, obs[0].Value, 1e-9)
	assert.Equal(t, "2024-01-04", obs[1].Date.Format("2006-01-02"))
	assert.InDelta(t, 4.01, obs[1].Value, 1e-9)
}

func TestFREDMissingAPIKey(t *testing.T) {
	c := NewFREDClient("http://localhost:1", "", 100, nil)
	_, err := c.Observations(context.Background(), "DGS10", time.Now(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestFREDBadValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"observations":[{"date":"2024-01-02","value":"not-a-number"}]}`))
	}))
	defer srv.Close()

	c := NewFREDClient(srv.URL, "test-key", 100, nil)
	_, err := c.Observations(context.Background(), "DGS10", time.Now(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad observation value")
}

func TestFREDContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := NewFREDClient(srv.URL, "test-key", 100, nil)
	_, err := c.Observations(ctx, "DGS10", time.Now(), time.Now())
	require.Error(t, err)
}
