package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantstack-labs/marketpipe/internal/cli/output"
	"github.com/quantstack-labs/marketpipe/internal/state"
)

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "Show pipeline run history",
		Long: `List recent pipeline runs from the state store. With a run ID,
show the per-step breakdown of that run instead.`,
		Example: `  # Recent runs
  marketpipe runs

  # Steps of one run
  marketpipe runs 3f8a1c2e-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runShowRun(cmd, args[0])
			}
			return runListRuns(cmd, limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")
	return cmd
}

func runListRuns(cmd *cobra.Command, limit int) error {
	cmdCtx := NewCommandContextWithoutDB(cmd)
	r := cmdCtx.Renderer

	store, err := openStore(cmdCtx.Cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	runs, err := store.ListRuns(limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(runs)
	}

	if len(runs) == 0 {
		r.Muted("no runs recorded yet (run `marketpipe run`)")
		return nil
	}

	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			run.ID,
			run.Environment,
			string(run.Status),
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			formatRunDuration(run),
		})
	}
	r.Table([]string{"Run ID", "Env", "Status", "Started", "Duration"}, rows)
	return nil
}

func runShowRun(cmd *cobra.Command, runID string) error {
	cmdCtx := NewCommandContextWithoutDB(cmd)
	r := cmdCtx.Renderer

	store, err := openStore(cmdCtx.Cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	run, err := store.GetRun(runID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}
	if run == nil {
		return fmt.Errorf("run %s not found", runID)
	}

	steps, err := store.GetStepsForRun(runID)
	if err != nil {
		return fmt.Errorf("failed to load steps: %w", err)
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(map[string]any{"run": run, "steps": steps})
	}

	r.Header(1, "Run "+run.ID)
	r.Println(output.FormatKeyValue("environment", run.Environment))
	r.Println(output.FormatKeyValue("status", string(run.Status)))
	r.Println(output.FormatKeyValue("started", run.StartedAt.Local().Format(time.RFC3339)))
	if run.Error != "" {
		r.Println(output.FormatKeyValue("error", run.Error))
	}
	r.Println("")

	if len(steps) == 0 {
		r.Muted("no steps recorded")
		return nil
	}
	rows := make([][]string, 0, len(steps))
	for _, s := range steps {
		detail := ""
		if s.Error != "" {
			detail = s.Error
		}
		rows = append(rows, []string{
			s.Name,
			string(s.Status),
			strconv.FormatInt(s.Rows, 10),
			fmt.Sprintf("%dms", s.DurationMS),
			detail,
		})
	}
	r.Table([]string{"Step", "Status", "Rows", "Duration", "Error"}, rows)
	return nil
}

func formatRunDuration(run *state.Run) string {
	if run.CompletedAt == nil {
		return "-"
	}
	return run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
}
