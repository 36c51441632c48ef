// Package state tracks pipeline run history in a local SQLite database.
package state

import "time"

// RunStatus represents the status of a pipeline run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// StepStatus represents the status of one pipeline step.
type StepStatus string

const (
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// Run is one end-to-end pipeline execution.
type Run struct {
	ID          string
	Environment string
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// StepRun is one step (fetch, build, features, check) within a run.
type StepRun struct {
	ID          string
	RunID       string
	Name        string
	Status      StepStatus
	Rows        int64
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
	DurationMS  int64
}

// Store persists pipeline run history.
type Store interface {
	Open(path string) error
	Close() error
	Migrate() error

	CreateRun(env string) (*Run, error)
	CompleteRun(id string, status RunStatus, errMsg string) error
	GetRun(id string) (*Run, error)
	GetLatestRun(env string) (*Run, error)
	ListRuns(limit int) ([]*Run, error)

	StartStep(runID, name string) (*StepRun, error)
	CompleteStep(id string, status StepStatus, rows int64, errMsg string) error
	GetStepsForRun(runID string) ([]*StepRun, error)
}
