package domain

import (
	"errors"
	"strings"
	"time"
)

// StageStatus is the per-stage outcome within a job run. Stages after a
// failure are recorded as not_run.
type StageStatus string

const (
	StageStatusRunning   StageStatus = "running"
	StageStatusSucceeded StageStatus = "succeeded"
	StageStatusFailed    StageStatus = "failed"
	StageStatusNotRun    StageStatus = "not_run"
)

// StageExecution is the record of one verification stage inside a run.
// Ordinal fixes the position in the declared stage order.
type StageExecution struct {
	ID         string
	JobRunID   string
	Name       string
	Ordinal    int
	Status     StageStatus
	ExitCode   *int
	OutputTail string
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// NormalizeStageStatus maps free-form status values to canonical ones.
func NormalizeStageStatus(value string) StageStatus {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(StageStatusRunning):
		return StageStatusRunning
	case string(StageStatusSucceeded):
		return StageStatusSucceeded
	case string(StageStatusFailed):
		return StageStatusFailed
	case string(StageStatusNotRun), "skipped":
		return StageStatusNotRun
	default:
		return ""
	}
}

func (s StageExecution) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("stage execution id is required")
	}
	if strings.TrimSpace(s.JobRunID) == "" {
		return errors.New("job run id is required")
	}
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("stage name is required")
	}
	if s.Ordinal < 0 {
		return errors.New("ordinal must be >= 0")
	}
	if NormalizeStageStatus(string(s.Status)) == "" {
		return errors.New("status is required")
	}
	return nil
}
