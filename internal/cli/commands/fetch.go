package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quantstack-labs/marketpipe/internal/cli/output"
)

// NewFetchCommand creates the fetch command.
func NewFetchCommand() *cobra.Command {
	var macro bool
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch market data into CSV snapshots",
		Long: `Download daily bars for the configured tickers (and macro series
observations when configured) and write dated CSV snapshots into the
raw data directory. Snapshots are the input of ` + "`marketpipe build`" + `.`,
		Example: `  # Fetch the configured universe
  marketpipe fetch

  # Fetch into a different snapshot directory
  marketpipe fetch --data-dir /tmp/snapshots

  # Bars only, even when macro series are configured
  marketpipe fetch --macro=false`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFetch(cmd, macro)
		},
	}

	cmd.Flags().BoolVar(&macro, "macro", true, "Include configured FRED macro series")
	return cmd
}

func runFetch(cmd *cobra.Command, macro bool) error {
	cmdCtx := NewCommandContextWithoutDB(cmd)
	cfg := cmdCtx.Cfg
	r := cmdCtx.Renderer

	if err := cfg.Validate(); err != nil {
		return err
	}

	series := fredSeries(cfg)
	if !macro {
		series = nil
	}

	f := newFetcher(cfg, cmdCtx.Logger)
	stats, err := f.Fetch(cmd.Context(), cfg.DataDir, cfg.Tickers, series, cfg.LookbackDays)
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(stats)
	}

	r.Success(fmt.Sprintf("fetched %d bars for %d tickers", stats.Bars, stats.Tickers))
	r.Muted("  " + stats.PriceFile)
	if stats.MacroFile != "" {
		r.Success(fmt.Sprintf("fetched %d observations for %d series", stats.Observations, stats.Series))
		r.Muted("  " + stats.MacroFile)
	}
	return nil
}
