package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quantstack-labs/marketpipe/internal/cli/output"
	"github.com/quantstack-labs/marketpipe/internal/features"
	"github.com/quantstack-labs/marketpipe/internal/warehouse"
)

// NewFeaturesCommand creates the features command.
func NewFeaturesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "features",
		Short: "Compute daily features from warehouse prices",
		Long: `Compute per-ticker indicators (14-day Wilder RSI, 10-day momentum,
21-day return volatility) from the price fact table and upsert them
into ` + warehouse.TableFeatures + ` keyed on (date, ticker).`,
		Example: `  # Compute features for all tickers
  marketpipe features`,
		RunE: runFeatures,
	}
	return cmd
}

func runFeatures(cmd *cobra.Command, _ []string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	e := features.NewEngine(cmdCtx.DB, cmdCtx.Logger)
	stats, err := e.Build(cmd.Context())
	if err != nil {
		return fmt.Errorf("feature build failed: %w", err)
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(stats)
	}

	r.Success(fmt.Sprintf("computed features for %d tickers (%d rows)", stats.Tickers, stats.Rows))
	return nil
}
