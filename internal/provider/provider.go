// Package provider fetches market data from external HTTP sources.
//
// Two sources are implemented: Stooq for daily equity OHLCV bars and
// FRED for macroeconomic series observations. Both clients share the
// same hardening: a token-bucket rate limiter, bounded retries with
// exponential backoff on transient failures, and context propagation
// on every call.
package provider

import (
	"context"
	"time"
)

// Bar is one daily OHLCV bar for a symbol.
type Bar struct {
	Symbol string
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Observation is one dated value of a macroeconomic series.
type Observation struct {
	SeriesID string
	Date     time.Time
	Value    float64
}

// BarProvider fetches daily bars for a symbol over a date range.
type BarProvider interface {
	DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error)
}

// SeriesProvider fetches observations for a macroeconomic series.
type SeriesProvider interface {
	Observations(ctx context.Context, seriesID string, start, end time.Time) ([]Observation, error)
}
