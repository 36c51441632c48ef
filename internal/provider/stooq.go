package provider

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const stooqDateLayout = "20060102"

// StooqClient fetches daily OHLCV bars from the Stooq CSV endpoint.
type StooqClient struct {
	baseURL string
	http    *httpClient
	logger  *slog.Logger
}

// NewStooqClient returns a Stooq client. baseURL defaults to the public
// endpoint when empty.
func NewStooqClient(baseURL string, requestsPerSec float64, logger *slog.Logger) *StooqClient {
	if baseURL == "" {
		baseURL = "https://stooq.com"
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &StooqClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    newHTTPClient(requestsPerSec, logger),
		logger:  logger,
	}
}

// DailyBars fetches daily bars for symbol between start and end inclusive.
// US symbols are queried with the ".us" suffix Stooq expects.
func (c *StooqClient) DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}

	q := url.Values{}
	q.Set("s", stooqSymbol(symbol))
	q.Set("d1", start.Format(stooqDateLayout))
	q.Set("d2", end.Format(stooqDateLayout))
	q.Set("i", "d")

	u := fmt.Sprintf("%s/q/d/l/?%s", c.baseURL, q.Encode())
	body, err := c.http.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bars for %s: %w", symbol, err)
	}

	bars, err := parseStooqCSV(symbol, body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bars for %s: %w", symbol, err)
	}

	c.logger.Debug("fetched daily bars", "symbol", symbol, "bars", len(bars))
	return bars, nil
}

// stooqSymbol lowercases the ticker and appends the .us market suffix
// unless the caller already qualified it.
func stooqSymbol(symbol string) string {
	s := strings.ToLower(strings.TrimSpace(symbol))
	if strings.Contains(s, ".") {
		return s
	}
	return s + ".us"
}

func parseStooqCSV(symbol string, data []byte) ([]Bar, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || strings.EqualFold(trimmed, "No data") {
		return nil, fmt.Errorf("no data returned")
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	minFields := 0
	for _, required := range []string{"date", "open", "high", "low", "close"} {
		i, ok := col[required]
		if !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
		if i+1 > minFields {
			minFields = i + 1
		}
	}

	upper := strings.ToUpper(strings.TrimSpace(symbol))
	var bars []Bar
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read record: %w", err)
		}
		if len(rec) < minFields {
			return nil, fmt.Errorf("truncated record with %d fields, want %d", len(rec), minFields)
		}

		date, err := time.Parse("2006-01-02", rec[col["date"]])
		if err != nil {
			return nil, fmt.Errorf("bad date %q: %w", rec[col["date"]], err)
		}

		bar := Bar{Symbol: upper, Date: date}
		if bar.Open, err = strconv.ParseFloat(rec[col["open"]], 64); err != nil {
			return nil, fmt.Errorf("bad open on %s: %w", rec[col["date"]], err)
		}
		if bar.High, err = strconv.ParseFloat(rec[col["high"]], 64); err != nil {
			return nil, fmt.Errorf("bad high on %s: %w", rec[col["date"]], err)
		}
		if bar.Low, err = strconv.ParseFloat(rec[col["low"]], 64); err != nil {
			return nil, fmt.Errorf("bad low on %s: %w", rec[col["date"]], err)
		}
		if bar.Close, err = strconv.ParseFloat(rec[col["close"]], 64); err != nil {
			return nil, fmt.Errorf("bad close on %s: %w", rec[col["date"]], err)
		}
		// Volume is absent for some instruments, treat it as zero.
		if vi, ok := col["volume"]; ok && vi < len(rec) && rec[vi] != "" {
			v, err := strconv.ParseFloat(rec[vi], 64)
			if err != nil {
				return nil, fmt.Errorf("bad volume on %s: %w", rec[col["date"]], err)
			}
			bar.Volume = int64(v)
		}
		bars = append(bars, bar)
	}

	if len(bars) == 0 {
		return nil, fmt.Errorf("no data returned")
	}
	return bars, nil
}
