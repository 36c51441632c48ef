// Package etl pulls market data from providers and writes dated CSV
// snapshots into the raw data directory. Snapshots are the warehouse
// build's only input, so a failed fetch never leaves a partial file
// behind.
package etl

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantstack-labs/marketpipe/internal/provider"
)

// maxConcurrentFetches bounds the provider fan-out so a long ticker
// list does not open dozens of simultaneous connections.
const maxConcurrentFetches = 4

// Fetcher pulls bars and macro observations and snapshots them to disk.
type Fetcher struct {
	bars   provider.BarProvider
	series provider.SeriesProvider
	logger *slog.Logger
}

// FetchStats summarizes one fetch run.
type FetchStats struct {
	Tickers      int
	Bars         int
	Series       int
	Observations int
	PriceFile    string
	MacroFile    string
}

// NewFetcher returns a Fetcher. The series provider may be nil when no
// macro series are configured.
func NewFetcher(bars provider.BarProvider, series provider.SeriesProvider, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Fetcher{bars: bars, series: series, logger: logger}
}

// Fetch downloads daily bars for every ticker and observations for
// every macro series, then writes one dated snapshot per kind into
// dataDir. Tickers are fetched concurrently; any failure aborts the
// whole run.
func (f *Fetcher) Fetch(ctx context.Context, dataDir string, tickers, seriesIDs []string, lookbackDays int) (*FetchStats, error) {
	if len(tickers) == 0 {
		return nil, fmt.Errorf("no tickers configured")
	}
	if lookbackDays <= 0 {
		return nil, fmt.Errorf("lookback days must be positive, got %d", lookbackDays)
	}

	end := time.Now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -lookbackDays)

	bars, err := f.fetchBars(ctx, tickers, start, end)
	if err != nil {
		return nil, err
	}

	stats := &FetchStats{Tickers: len(tickers), Bars: len(bars)}

	stats.PriceFile, err = WritePriceSnapshot(dataDir, end, bars)
	if err != nil {
		return nil, err
	}
	f.logger.Info("wrote price snapshot", "path", stats.PriceFile, "bars", len(bars), "tickers", len(tickers))

	if f.series != nil && len(seriesIDs) > 0 {
		obs, err := f.fetchSeries(ctx, seriesIDs, start, end)
		if err != nil {
			return nil, err
		}
		stats.Series = len(seriesIDs)
		stats.Observations = len(obs)

		stats.MacroFile, err = WriteMacroSnapshot(dataDir, end, obs)
		if err != nil {
			return nil, err
		}
		f.logger.Info("wrote macro snapshot", "path", stats.MacroFile, "observations", len(obs), "series", len(seriesIDs))
	}

	return stats, nil
}

func (f *Fetcher) fetchBars(ctx context.Context, tickers []string, start, end time.Time) ([]provider.Bar, error) {
	var (
		mu   sync.Mutex
		bars []provider.Bar
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)

	for _, ticker := range tickers {
		g.Go(func() error {
			f.logger.Debug("fetching bars", "ticker", ticker)
			got, err := f.bars.DailyBars(ctx, ticker, start, end)
			if err != nil {
				return fmt.Errorf("ticker %s: %w", ticker, err)
			}
			mu.Lock()
			bars = append(bars, got...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Snapshot order is stable regardless of fetch completion order.
	sort.Slice(bars, func(i, j int) bool {
		if bars[i].Symbol != bars[j].Symbol {
			return bars[i].Symbol < bars[j].Symbol
		}
		return bars[i].Date.Before(bars[j].Date)
	})
	return bars, nil
}

func (f *Fetcher) fetchSeries(ctx context.Context, seriesIDs []string, start, end time.Time) ([]provider.Observation, error) {
	var (
		mu  sync.Mutex
		obs []provider.Observation
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)

	for _, id := range seriesIDs {
		g.Go(func() error {
			f.logger.Debug("fetching series", "series", id)
			got, err := f.series.Observations(ctx, id, start, end)
			if err != nil {
				return fmt.Errorf("series %s: %w", id, err)
			}
			mu.Lock()
			obs = append(obs, got...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(obs, func(i, j int) bool {
		if obs[i].SeriesID != obs[j].SeriesID {
			return obs[i].SeriesID < obs[j].SeriesID
		}
		return obs[i].Date.Before(obs[j].Date)
	})
	return obs, nil
}
