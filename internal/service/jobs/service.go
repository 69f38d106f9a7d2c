// Package jobs orchestrates the life of a verification run: accepting
// trigger events, executing the staged pipeline against a fresh
// checkout, and publishing the verdict.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mergegate-labs/mergegate-go/internal/cache"
	"github.com/mergegate-labs/mergegate-go/internal/domain"
	"github.com/mergegate-labs/mergegate-go/internal/gatereport"
	"github.com/mergegate-labs/mergegate-go/internal/platform/auditlog"
	"github.com/mergegate-labs/mergegate-go/internal/repo"
	"github.com/mergegate-labs/mergegate-go/internal/toolchain"
	"github.com/mergegate-labs/mergegate-go/internal/trigger"
	"github.com/mergegate-labs/mergegate-go/internal/workflow"
)

// WorkspaceManager provides per-job checkouts.
type WorkspaceManager interface {
	Prepare(ctx context.Context, job domain.JobRun) (string, error)
	Cleanup(dir string) error
}

// RecordTransition persists one job lifecycle audit event. Wiring
// decides where it lands; failures there must not affect the run.
type RecordTransition func(ctx context.Context, transition auditlog.JobTransition)

// Service coordinates intake and execution. Reporter and Cache are
// optional; a nil Cache means every run builds cold. The zero Triggers
// value keeps the default policy.
type Service struct {
	Logger     *slog.Logger
	JobRuns    repo.JobRunRepository
	Stages     repo.StageExecutionRepository
	Deliveries repo.DeliveryRepository
	Workspaces WorkspaceManager
	Cache      cache.Cache
	Runner     toolchain.CommandRunner
	Reporter   gatereport.Reporter
	Audit      RecordTransition
	Triggers   workflow.TriggerSpec
	Now        func() time.Time
}

// IntakeResult is the disposition of one delivered event.
type IntakeResult struct {
	Accepted  bool
	Duplicate bool
	Reason    string
	JobRunID  string
}

// IntakeEvent applies the trigger policy to a delivered event and, when
// it matches, schedules exactly one queued run for the delivery.
func (s *Service) IntakeEvent(ctx context.Context, event domain.TriggerEvent) (IntakeResult, error) {
	if s == nil || s.JobRuns == nil || s.Deliveries == nil {
		return IntakeResult{}, fmt.Errorf("jobs service not initialized")
	}
	if err := event.Validate(); err != nil {
		return IntakeResult{}, err
	}

	decision := trigger.Evaluate(event, s.Triggers)
	if !decision.Accept {
		s.log("event ignored",
			"delivery_id", event.DeliveryID,
			"event_kind", string(event.Kind),
			"branch", event.Branch,
			"reason", decision.Reason,
		)
		return IntakeResult{Reason: decision.Reason}, nil
	}

	created, err := s.Deliveries.Insert(ctx, repo.DeliveryRecord{
		DeliveryID: event.DeliveryID,
		EventKind:  event.Kind,
		Commit:     event.Commit,
		ReceivedAt: event.ReceivedAt,
	})
	if err != nil {
		return IntakeResult{}, fmt.Errorf("record delivery: %w", err)
	}
	if !created {
		s.log("delivery replayed, no new run", "delivery_id", event.DeliveryID)
		return IntakeResult{Duplicate: true}, nil
	}

	now := s.nowUTC()
	job := domain.JobRun{
		ID:         uuid.NewString(),
		EventID:    event.ID,
		EventKind:  event.Kind,
		DeliveryID: event.DeliveryID,
		RepoURL:    event.RepoURL,
		Branch:     event.Branch,
		Commit:     event.Commit,
		Status:     domain.JobStatusQueued,
		QueuedAt:   now,
	}
	if err := s.JobRuns.Create(ctx, job); err != nil {
		return IntakeResult{}, fmt.Errorf("create job run: %w", err)
	}

	s.recordTransition(ctx, job.ID, "queued", map[string]any{
		"event_id":    event.ID,
		"event_kind":  string(event.Kind),
		"delivery_id": event.DeliveryID,
		"branch":      event.Branch,
		"commit":      event.Commit,
	})
	s.log("job run queued",
		"job_run_id", job.ID,
		"event_kind", string(event.Kind),
		"branch", event.Branch,
		"commit", event.Commit,
	)
	return IntakeResult{Accepted: true, JobRunID: job.ID}, nil
}

func (s *Service) nowUTC() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) recordTransition(ctx context.Context, jobRunID string, action string, payload map[string]any) {
	if s.Audit == nil {
		return
	}
	s.Audit(ctx, auditlog.JobTransition{
		OccurredAt: s.nowUTC(),
		JobRunID:   jobRunID,
		Action:     action,
		Payload:    payload,
	})
}

func (s *Service) log(msg string, fields ...any) {
	if s.Logger == nil {
		return
	}
	s.Logger.Info(msg, fields...)
}

func (s *Service) warn(msg string, fields ...any) {
	if s.Logger == nil {
		return
	}
	s.Logger.Warn(msg, fields...)
}
