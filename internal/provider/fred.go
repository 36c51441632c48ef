package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// FREDClient fetches series observations from the FRED JSON API.
type FREDClient struct {
	baseURL string
	apiKey  string
	http    *httpClient
	logger  *slog.Logger
}

// NewFREDClient returns a FRED client. baseURL defaults to the public
// API root when empty. The API key is required for any request.
func NewFREDClient(baseURL, apiKey string, requestsPerSec float64, logger *slog.Logger) *FREDClient {
	if baseURL == "" {
		baseURL = "https://api.stlouisfed.org/fred"
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FREDClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    newHTTPClient(requestsPerSec, logger),
		logger:  logger,
	}
}

type fredObservation struct {
	Date  string `json:"date"`
	Value string `json:"value"`
}

type fredResponse struct {
	Observations []fredObservation `json:"observations"`
}

// Observations fetches dated values for a series between start and end
// inclusive. Observations FRED reports as "." (no value published) are
// skipped.
func (c *FREDClient) Observations(ctx context.Context, seriesID string, start, end time.Time) ([]Observation, error) {
	if seriesID == "" {
		return nil, fmt.Errorf("series id is required")
	}
	if c.apiKey == "" {
		return nil, fmt.Errorf("FRED API key is not configured")
	}

	q := url.Values{}
	q.Set("series_id", seriesID)
	q.Set("api_key", c.apiKey)
	q.Set("file_type", "json")
	q.Set("observation_start", start.Format("2006-01-02"))
	q.Set("observation_end", end.Format("2006-01-02"))

	u := fmt.Sprintf("%s/series/observations?%s", c.baseURL, q.Encode())
	body, err := c.http.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch series %s: %w", seriesID, err)
	}

	var resp fredResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode series %s: %w", seriesID, err)
	}

	obs := make([]Observation, 0, len(resp.Observations))
	for _, o := range resp.Observations {
		if o.Value == "." || o.Value == "" {
			continue
		}
		date, err := time.Parse("2006-01-02", o.Date)
		if err != nil {
			return nil, fmt.Errorf("bad observation date %q in series %s: %w", o.Date, seriesID, err)
		}
		v, err := strconv.ParseFloat(o.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("bad observation value %q in series %s: %w", o.Value, seriesID, err)
		}
		obs = append(obs, Observation{SeriesID: seriesID, Date: date, Value: v})
	}

	c.logger.Debug("fetched series observations", "series", seriesID, "observations", len(obs))
	return obs, nil
}
