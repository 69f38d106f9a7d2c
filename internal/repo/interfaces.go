package repo

import (
	"context"
	"time"

	"github.com/mergegate-labs/mergegate-go/internal/domain"
)

type JobRunFilter struct {
	Status    string
	Branch    string
	EventKind string
	Limit     int
}

// JobRunVerdict is the terminal state written when a run finishes.
// JobName is empty when the run failed before its workflow was loaded.
type JobRunVerdict struct {
	JobName     string
	Status      domain.JobStatus
	FailureKind domain.FailureKind
	FailedStage string
	CacheHit    bool
	FinishedAt  time.Time
}

// DeliveryRecord is one accepted webhook delivery.
type DeliveryRecord struct {
	DeliveryID string
	EventKind  domain.EventKind
	Commit     string
	ReceivedAt time.Time
}

// JobRunRepository manages job runs with forward-only status writes.
type JobRunRepository interface {
	Create(ctx context.Context, job domain.JobRun) error
	Get(ctx context.Context, id string) (domain.JobRun, error)
	List(ctx context.Context, filter JobRunFilter) ([]domain.JobRun, error)

	// MarkRunning claims a queued run. ErrNotFound means the run does
	// not exist or was already claimed, so two workers never execute
	// the same run.
	MarkRunning(ctx context.Context, id string, startedAt time.Time) error

	// Finish writes the verdict of a running run.
	Finish(ctx context.Context, id string, verdict JobRunVerdict) error

	// ListQueuedIDs returns queued run ids oldest first.
	ListQueuedIDs(ctx context.Context, limit int) ([]string, error)

	// RequeueInterrupted moves runs stuck in running back to queued.
	// Called once at boot; a run left running by a dead worker gets a
	// fresh execution rather than a stale verdict.
	RequeueInterrupted(ctx context.Context) (int64, error)
}

// StageExecutionRepository records the per-stage results of a run.
type StageExecutionRepository interface {
	InsertStage(ctx context.Context, record domain.StageExecution) error
	FinishStage(ctx context.Context, id string, status domain.StageStatus, exitCode *int, outputTail string, finishedAt time.Time) error
	ListByRun(ctx context.Context, jobRunID string) ([]domain.StageExecution, error)

	// DeleteByRun clears stage records before a requeued run executes
	// again, so a run's stage list always describes one attempt.
	DeleteByRun(ctx context.Context, jobRunID string) error
}

// DeliveryRepository enforces at most one job run per webhook delivery.
type DeliveryRepository interface {
	// Insert records a delivery and reports whether it was new. A
	// false return means the delivery id was seen before and no job
	// may be scheduled for it.
	Insert(ctx context.Context, record DeliveryRecord) (bool, error)
}
