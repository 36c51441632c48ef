package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantstack-labs/marketpipe/internal/cli/output"
	"github.com/quantstack-labs/marketpipe/internal/dq"
	"github.com/quantstack-labs/marketpipe/internal/features"
	"github.com/quantstack-labs/marketpipe/internal/pipeline"
	"github.com/quantstack-labs/marketpipe/internal/state"
	"github.com/quantstack-labs/marketpipe/internal/warehouse"
)

// RunOptions holds options for the run command.
type RunOptions struct {
	SkipFetch  bool
	SkipChecks bool
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline",
		Long: `Run fetch, build, features, and check as one pipeline. Each step is
recorded in the run state store; a failed step skips the remainder and
fails the run.`,
		Example: `  # Full pipeline
  marketpipe run

  # Rebuild from existing snapshots without fetching
  marketpipe run --skip-fetch

  # Stream progress as JSON lines
  marketpipe run -o json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.SkipFetch, "skip-fetch", false, "Skip the fetch step, reuse existing snapshots")
	cmd.Flags().BoolVar(&opts.SkipChecks, "skip-checks", false, "Skip the data quality step")
	return cmd
}

func runPipeline(cmd *cobra.Command, opts *RunOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	cfg := cmdCtx.Cfg
	if err := cfg.Validate(); err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	steps := buildSteps(cmdCtx, opts)
	observer := newRunObserver(cmdCtx.Renderer)

	runner := pipeline.NewRunner(store, cfg.Environment, cmdCtx.Logger, observer)
	if _, err := runner.Execute(cmd.Context(), steps); err != nil {
		return fmt.Errorf("pipeline failed: %w", err)
	}
	return nil
}

func buildSteps(cmdCtx *CommandContext, opts *RunOptions) []pipeline.Step {
	cfg := cmdCtx.Cfg
	var steps []pipeline.Step

	if !opts.SkipFetch {
		steps = append(steps, pipeline.Step{
			Name: "fetch",
			Run: func(ctx context.Context) (int64, error) {
				f := newFetcher(cfg, cmdCtx.Logger)
				stats, err := f.Fetch(ctx, cfg.DataDir, cfg.Tickers, fredSeries(cfg), cfg.LookbackDays)
				if err != nil {
					return 0, err
				}
				return int64(stats.Bars + stats.Observations), nil
			},
		})
	}

	steps = append(steps, pipeline.Step{
		Name: "build",
		Run: func(ctx context.Context) (int64, error) {
			stats, err := warehouse.NewBuilder(cmdCtx.DB, cmdCtx.Logger).Build(ctx, cfg.DataDir)
			if err != nil {
				return 0, err
			}
			return stats.PriceRows, nil
		},
	})

	steps = append(steps, pipeline.Step{
		Name: "features",
		Run: func(ctx context.Context) (int64, error) {
			stats, err := features.NewEngine(cmdCtx.DB, cmdCtx.Logger).Build(ctx)
			if err != nil {
				return 0, err
			}
			return stats.Rows, nil
		},
	})

	if !opts.SkipChecks {
		steps = append(steps, pipeline.Step{
			Name: "check",
			Run: func(ctx context.Context) (int64, error) {
				dqCfg := dq.Config{}
				if cfg.Checks != nil {
					dqCfg.MaxStaleDays = cfg.Checks.MaxStaleDays
					dqCfg.MaxAbsReturn = cfg.Checks.MaxAbsReturn
				}
				report, err := dq.NewRunner(cmdCtx.DB, dqCfg, cmdCtx.Logger).Run(ctx)
				if err != nil {
					return 0, err
				}
				if failed := report.Failed(); len(failed) > 0 {
					return int64(len(report.Results)), fmt.Errorf("%d data quality check(s) failed", len(failed))
				}
				return int64(len(report.Results)), nil
			},
		})
	}

	return steps
}

// runObserver renders pipeline progress, either as styled status lines
// or as JSON-lines events when the renderer is in JSON mode.
type runObserver struct {
	r    *output.Renderer
	json bool
}

func newRunObserver(r *output.Renderer) *runObserver {
	return &runObserver{r: r, json: r.EffectiveMode() == output.ModeJSON}
}

func (o *runObserver) emit(ev output.PipelineEvent) {
	ev.Timestamp = time.Now().UTC().Format(time.RFC3339)
	_ = o.r.JSONLine(ev)
}

func (o *runObserver) RunStarted(runID string) {
	if o.json {
		o.emit(output.PipelineEvent{Event: "run_start", RunID: runID})
		return
	}
	o.r.Header(1, "Pipeline Run")
	o.r.Muted("run " + runID)
	o.r.Println("")
}

func (o *runObserver) StepStarted(runID, step string) {
	if o.json {
		o.emit(output.PipelineEvent{Event: "step_start", RunID: runID, Step: step})
	}
}

func (o *runObserver) StepFinished(runID, step string, res pipeline.StepResult) {
	if o.json {
		ev := output.PipelineEvent{
			Event:      "step_complete",
			RunID:      runID,
			Step:       step,
			Status:     string(res.Status),
			Rows:       res.Rows,
			DurationMS: res.Duration.Milliseconds(),
		}
		if res.Err != nil {
			ev.Error = res.Err.Error()
		}
		o.emit(ev)
		return
	}

	detail := fmt.Sprintf("%d rows in %s", res.Rows, res.Duration.Round(time.Millisecond))
	status := "completed"
	if res.Status == state.StepStatusFailed {
		status = "failed"
		detail = res.Err.Error()
	}
	o.r.StatusLine(step, status, detail)
}

func (o *runObserver) RunFinished(runID string, res *pipeline.Result) {
	successful, failed := 0, 0
	for _, s := range res.Steps {
		switch s.Status {
		case state.StepStatusCompleted:
			successful++
		case state.StepStatusFailed:
			failed++
		}
	}

	if o.json {
		status := string(state.RunStatusCompleted)
		if res.Failed() {
			status = string(state.RunStatusFailed)
		}
		o.emit(output.PipelineEvent{
			Event:      "run_complete",
			RunID:      runID,
			Status:     status,
			TotalSteps: len(res.Steps),
			Successful: successful,
			Failed:     failed,
			TotalMS:    res.Duration.Milliseconds(),
		})
		return
	}

	o.r.Println("")
	if res.Failed() {
		o.r.Error(fmt.Sprintf("run failed: %d/%d steps completed in %s",
			successful, len(res.Steps), res.Duration.Round(time.Millisecond)))
	} else {
		o.r.Success(fmt.Sprintf("run completed: %d steps, %d rows in %s",
			len(res.Steps), res.TotalRows(), res.Duration.Round(time.Millisecond)))
	}
}
