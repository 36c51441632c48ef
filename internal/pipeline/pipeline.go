// Package pipeline executes ordered pipeline steps and records their
// outcomes in the run state store. A failed step marks the remaining
// steps skipped and fails the whole run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantstack-labs/marketpipe/internal/state"
)

// StepFunc performs one pipeline step and reports how many rows it
// touched.
type StepFunc func(ctx context.Context) (rows int64, err error)

// Step is a named unit of pipeline work.
type Step struct {
	Name string
	Run  StepFunc
}

// StepResult is the recorded outcome of one step.
type StepResult struct {
	Name     string
	Status   state.StepStatus
	Rows     int64
	Duration time.Duration
	Err      error
}

// Result summarizes a pipeline run.
type Result struct {
	RunID    string
	Steps    []StepResult
	Duration time.Duration
}

// Failed reports whether any step failed.
func (r *Result) Failed() bool {
	for _, s := range r.Steps {
		if s.Status == state.StepStatusFailed {
			return true
		}
	}
	return false
}

// TotalRows sums the rows touched across completed steps.
func (r *Result) TotalRows() int64 {
	var total int64
	for _, s := range r.Steps {
		total += s.Rows
	}
	return total
}

// Observer receives progress callbacks during a run. Callbacks fire on
// the executing goroutine, so implementations must be fast.
type Observer interface {
	RunStarted(runID string)
	StepStarted(runID, step string)
	StepFinished(runID, step string, res StepResult)
	RunFinished(runID string, res *Result)
}

// Runner executes pipelines against a state store.
type Runner struct {
	store    state.Store
	env      string
	logger   *slog.Logger
	observer Observer
}

// NewRunner returns a pipeline runner. The observer may be nil.
func NewRunner(store state.Store, env string, logger *slog.Logger, observer Observer) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{store: store, env: env, logger: logger, observer: observer}
}

// Execute runs the steps in order. The returned error is the first step
// failure, if any; bookkeeping errors from the state store take
// precedence since losing run history is worse than a failed step.
func (r *Runner) Execute(ctx context.Context, steps []Step) (*Result, error) {
	run, err := r.store.CreateRun(r.env)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	r.logger.Info("pipeline run started", "run_id", run.ID, "environment", r.env, "steps", len(steps))
	if r.observer != nil {
		r.observer.RunStarted(run.ID)
	}

	result := &Result{RunID: run.ID}
	start := time.Now()
	var stepErr error

	for _, step := range steps {
		if stepErr != nil {
			result.Steps = append(result.Steps, StepResult{Name: step.Name, Status: state.StepStatusSkipped})
			r.logger.Warn("step skipped", "run_id", run.ID, "step", step.Name)
			continue
		}

		res, err := r.executeStep(ctx, run.ID, step)
		if err != nil {
			stepErr = fmt.Errorf("step %s: %w", step.Name, err)
		}
		result.Steps = append(result.Steps, res)
	}
	result.Duration = time.Since(start)

	status := state.RunStatusCompleted
	errMsg := ""
	if stepErr != nil {
		status = state.RunStatusFailed
		errMsg = stepErr.Error()
	}
	if err := r.store.CompleteRun(run.ID, status, errMsg); err != nil {
		return result, fmt.Errorf("failed to complete run: %w", err)
	}

	r.logger.Info("pipeline run finished",
		"run_id", run.ID, "status", status, "duration", result.Duration, "rows", result.TotalRows())
	if r.observer != nil {
		r.observer.RunFinished(run.ID, result)
	}
	return result, stepErr
}

func (r *Runner) executeStep(ctx context.Context, runID string, step Step) (StepResult, error) {
	rec, err := r.store.StartStep(runID, step.Name)
	if err != nil {
		return StepResult{Name: step.Name, Status: state.StepStatusFailed, Err: err}, err
	}
	r.logger.Info("step started", "run_id", runID, "step", step.Name)
	if r.observer != nil {
		r.observer.StepStarted(runID, step.Name)
	}

	start := time.Now()
	rows, runErr := step.Run(ctx)
	duration := time.Since(start)

	res := StepResult{Name: step.Name, Rows: rows, Duration: duration, Err: runErr}
	if runErr != nil {
		res.Status = state.StepStatusFailed
		r.logger.Error("step failed", "run_id", runID, "step", step.Name, "error", runErr)
	} else {
		res.Status = state.StepStatusCompleted
		r.logger.Info("step finished", "run_id", runID, "step", step.Name, "rows", rows, "duration", duration)
	}

	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	if err := r.store.CompleteStep(rec.ID, res.Status, rows, errMsg); err != nil {
		return res, err
	}
	if r.observer != nil {
		r.observer.StepFinished(runID, step.Name, res)
	}
	return res, runErr
}
