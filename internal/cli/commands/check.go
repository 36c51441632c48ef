package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quantstack-labs/marketpipe/internal/cli/output"
	"github.com/quantstack-labs/marketpipe/internal/dq"
)

// NewCheckCommand creates the check command.
func NewCheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run data quality checks against the warehouse",
		Long: `Run the data quality suite against the price tables: null keys,
duplicate (date, symbol) pairs, non-positive closes, extreme one-day
returns, weekday gaps, data freshness, and feature coverage.

Errors fail the command; warnings and informational findings do not.`,
		Example: `  # Run all checks
  marketpipe check

  # Machine-readable report
  marketpipe check -o json`,
		RunE: runCheck,
	}
	return cmd
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	cfg := cmdCtx.Cfg
	dqCfg := dq.Config{}
	if cfg.Checks != nil {
		dqCfg.MaxStaleDays = cfg.Checks.MaxStaleDays
		dqCfg.MaxAbsReturn = cfg.Checks.MaxAbsReturn
	}

	runner := dq.NewRunner(cmdCtx.DB, dqCfg, cmdCtx.Logger)
	report, err := runner.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("checks could not run: %w", err)
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		if err := r.JSON(report); err != nil {
			return err
		}
	} else {
		renderReport(r, report)
	}

	if failed := report.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d data quality check(s) failed", len(failed))
	}
	return nil
}

func renderReport(r *output.Renderer, report *dq.Report) {
	r.Header(1, "Data Quality Report")
	r.Muted("source: " + report.Source)
	r.Println("")

	rows := make([][]string, 0, len(report.Results))
	for _, res := range report.Results {
		status := "pass"
		if !res.Passed {
			switch res.Severity {
			case dq.SeverityError:
				status = "FAIL"
			case dq.SeverityWarn:
				status = "warn"
			default:
				status = "info"
			}
		}
		rows = append(rows, []string{res.Name, string(res.Severity), status, res.Detail})
	}
	r.Table([]string{"Check", "Severity", "Status", "Detail"}, rows)
	r.Println("")

	failed := report.Failed()
	warnings := report.Warnings()
	switch {
	case len(failed) > 0:
		r.Error(fmt.Sprintf("%d failed, %d warnings", len(failed), len(warnings)))
	case len(warnings) > 0:
		r.Warning(fmt.Sprintf("all checks passed with %d warnings", len(warnings)))
	default:
		r.Success("all checks passed")
	}
}
