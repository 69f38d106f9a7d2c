// Package pipeline runs an ordered set of verification checks against a
// prepared working directory and folds their results into one verdict.
package pipeline

import (
	"context"
	"time"

	"github.com/mergegate-labs/mergegate-go/internal/domain"
)

// Job is the execution context handed to every check: the working
// directory of the checkout and the explicit environment overrides for
// the run. Environment is always carried here, never set process-wide,
// so concurrent jobs cannot observe each other.
type Job struct {
	ID      string
	Workdir string
	Env     map[string]string
}

// Result is what a check reports about its own execution. A failed
// verification is a Result with StageStatusFailed, not an error; Run
// returns an error only when the check could not be executed at all.
type Result struct {
	Status     domain.StageStatus
	ExitCode   *int
	OutputTail string
}

// Check is a single verification stage.
type Check interface {
	Name() string
	Run(ctx context.Context, job Job) (Result, error)
}

// StageResult is a check result annotated with its position and timing.
type StageResult struct {
	Name       string
	Ordinal    int
	Status     domain.StageStatus
	ExitCode   *int
	OutputTail string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Observer receives stage lifecycle notifications as the runner
// progresses, so callers can persist intermediate state.
type Observer interface {
	StageStarted(ctx context.Context, jobID string, name string, ordinal int, startedAt time.Time)
	StageFinished(ctx context.Context, jobID string, result StageResult)
}

// Outcome is the aggregate verdict for one job run. There is no partial
// success: any stage failure or an exhausted time budget yields a
// non-succeeded status.
type Outcome struct {
	Status      domain.JobStatus
	FailureKind domain.FailureKind
	FailedStage string
	Stages      []StageResult
}

// Success reports whether every stage ran and succeeded.
func (o Outcome) Success() bool {
	return o.Status == domain.JobStatusSucceeded
}
