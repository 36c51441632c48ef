package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quantstack-labs/marketpipe/internal/cli/output"
	"github.com/quantstack-labs/marketpipe/internal/warehouse"
)

// NewBuildCommand creates the build command.
func NewBuildCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the warehouse from CSV snapshots",
		Long: `Load all raw CSV snapshots into the warehouse and rebuild the daily
price fact table with one-day returns. The build replaces the raw and
fact tables, so re-running it is always safe.`,
		Example: `  # Build the local DuckDB warehouse
  marketpipe build

  # Build against a different warehouse file
  marketpipe build --warehouse /tmp/market.duckdb`,
		RunE: runBuild,
	}
	return cmd
}

func runBuild(cmd *cobra.Command, _ []string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	b := warehouse.NewBuilder(cmdCtx.DB, cmdCtx.Logger)
	stats, err := b.Build(cmd.Context(), cmdCtx.Cfg.DataDir)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(stats)
	}

	r.Success(fmt.Sprintf("loaded %d snapshot files (%d rows, %d symbols)",
		stats.PriceFiles+stats.MacroFiles, stats.PriceRows, stats.Symbols))
	r.Success("rebuilt " + warehouse.TableFctPrices)
	return nil
}
