package domain

import (
	"errors"
	"strings"
	"time"
)

// JobStatus is the lifecycle state of a verification job run.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusTimedOut  JobStatus = "timed_out"
)

// FailureKind distinguishes a stage verdict from a blown time budget.
type FailureKind string

const (
	FailureKindStage   FailureKind = "stage"
	FailureKindTimeout FailureKind = "timeout"
)

// JobRun is one verification job: a trigger event bound to a pipeline
// execution and its aggregate verdict. JobName is the workflow job that
// ran; it is known only once the checkout's workflow has been loaded,
// so queued runs carry none.
type JobRun struct {
	ID          string
	JobName     string
	EventID     string
	EventKind   EventKind
	DeliveryID  string
	RepoURL     string
	Branch      string
	Commit      string
	Status      JobStatus
	FailureKind FailureKind
	FailedStage string
	CacheHit    bool
	QueuedAt    time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

// NormalizeJobStatus maps free-form status values to canonical ones.
func NormalizeJobStatus(value string) JobStatus {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(JobStatusQueued), "pending":
		return JobStatusQueued
	case string(JobStatusRunning):
		return JobStatusRunning
	case string(JobStatusSucceeded):
		return JobStatusSucceeded
	case string(JobStatusFailed):
		return JobStatusFailed
	case string(JobStatusTimedOut):
		return JobStatusTimedOut
	default:
		return ""
	}
}

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusTimedOut:
		return true
	default:
		return false
	}
}

// CanTransitionJobStatus enforces forward-only progression:
// queued -> running -> one terminal status. A failed run is never retried;
// only a new event schedules a new run.
func CanTransitionJobStatus(current, next JobStatus) bool {
	if current == "" || next == "" {
		return false
	}
	if current == next {
		return true
	}
	if current.IsTerminal() {
		return false
	}
	return jobStatusOrder(current) < jobStatusOrder(next)
}

func jobStatusOrder(status JobStatus) int {
	switch status {
	case JobStatusQueued:
		return 1
	case JobStatusRunning:
		return 2
	case JobStatusSucceeded, JobStatusFailed, JobStatusTimedOut:
		return 3
	default:
		return 0
	}
}

func (j JobRun) Validate() error {
	if strings.TrimSpace(j.ID) == "" {
		return errors.New("job run id is required")
	}
	if strings.TrimSpace(j.EventID) == "" {
		return errors.New("event id is required")
	}
	if NormalizeEventKind(string(j.EventKind)) == "" {
		return errors.New("event kind must be pull_request or push")
	}
	if strings.TrimSpace(j.RepoURL) == "" {
		return errors.New("repo url is required")
	}
	if strings.TrimSpace(j.Branch) == "" {
		return errors.New("branch is required")
	}
	if strings.TrimSpace(j.Commit) == "" {
		return errors.New("commit is required")
	}
	if NormalizeJobStatus(string(j.Status)) == "" {
		return errors.New("status is required")
	}
	if j.FailureKind != "" && j.FailureKind != FailureKindStage && j.FailureKind != FailureKindTimeout {
		return errors.New("failure kind must be stage or timeout")
	}
	if j.Status == JobStatusFailed && j.FailureKind != FailureKindStage {
		return errors.New("failed run requires failure kind stage")
	}
	if j.Status == JobStatusTimedOut && j.FailureKind != FailureKindTimeout {
		return errors.New("timed out run requires failure kind timeout")
	}
	if j.FailureKind == FailureKindStage && strings.TrimSpace(j.FailedStage) == "" {
		return errors.New("stage failure requires the failed stage name")
	}
	return nil
}
