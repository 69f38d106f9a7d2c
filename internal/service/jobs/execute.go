package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mergegate-labs/mergegate-go/internal/cache"
	"github.com/mergegate-labs/mergegate-go/internal/domain"
	"github.com/mergegate-labs/mergegate-go/internal/pipeline"
	"github.com/mergegate-labs/mergegate-go/internal/repo"
	"github.com/mergegate-labs/mergegate-go/internal/toolchain"
	"github.com/mergegate-labs/mergegate-go/internal/workflow"
)

// setupStageName labels failures before the declared stages could run:
// checkout, workflow load, command parse.
const setupStageName = "setup"

// ExecuteRun claims a queued run and drives it to a verdict. The wall
// clock budget declared by the workflow covers cache restore through
// the final stage; checkout happens before the budget starts. A nil
// return means the run reached a terminal status (including failure
// verdicts); an error means the run could not be driven and keeps its
// current status, so boot recovery can requeue it.
func (s *Service) ExecuteRun(ctx context.Context, jobRunID string) error {
	if s == nil || s.JobRuns == nil || s.Stages == nil || s.Workspaces == nil || s.Runner == nil {
		return fmt.Errorf("jobs service not initialized")
	}

	job, err := s.JobRuns.Get(ctx, jobRunID)
	if err != nil {
		return fmt.Errorf("load job run: %w", err)
	}

	startedAt := s.nowUTC()
	if err := s.JobRuns.MarkRunning(ctx, job.ID, startedAt); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Another worker got there first.
			s.log("job run already claimed", "job_run_id", job.ID)
			return nil
		}
		return fmt.Errorf("claim job run: %w", err)
	}
	job.Status = domain.JobStatusRunning
	job.StartedAt = &startedAt
	s.recordTransition(ctx, job.ID, "started", map[string]any{
		"branch": job.Branch,
		"commit": job.Commit,
	})

	// A requeued run may have stage rows from its interrupted attempt.
	if err := s.Stages.DeleteByRun(ctx, job.ID); err != nil {
		return fmt.Errorf("clear stale stages: %w", err)
	}

	dir, err := s.Workspaces.Prepare(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return s.finishSetupFailure(ctx, job, startedAt, fmt.Errorf("prepare workspace: %w", err))
	}
	defer func() {
		if err := s.Workspaces.Cleanup(dir); err != nil {
			s.warn("workspace cleanup failed", "job_run_id", job.ID, "error", err)
		}
	}()

	spec, err := workflow.LoadDir(dir)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return s.finishSetupFailure(ctx, job, startedAt, fmt.Errorf("load workflow: %w", err))
	}
	checks, err := toolchain.ChecksFromSpec(spec, s.Runner)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return s.finishSetupFailure(ctx, job, startedAt, fmt.Errorf("build checks: %w", err))
	}

	budgetCtx, cancel := context.WithTimeout(ctx, spec.Timeout())
	defer cancel()

	cacheKey, cacheHit := s.restoreCache(budgetCtx, job.ID, dir)
	job.CacheHit = cacheHit

	recorder := &stageRecorder{
		logger: s.Logger,
		stages: s.Stages,
		ids:    make(map[string]string, len(checks)),
	}
	runner := pipeline.NewRunner(s.Logger, checks, recorder)
	outcome := runner.Run(budgetCtx, pipeline.Job{
		ID:      job.ID,
		Workdir: dir,
		Env:     spec.EnvMap(),
	})

	if outcome.Status == domain.JobStatusTimedOut && ctx.Err() != nil {
		// The process is shutting down; what looks like a blown budget
		// is an interrupted run. Leave it running for boot recovery.
		return ctx.Err()
	}

	verdict := repo.JobRunVerdict{
		JobName:     spec.Job.Name,
		Status:      outcome.Status,
		FailureKind: outcome.FailureKind,
		FailedStage: outcome.FailedStage,
		CacheHit:    cacheHit,
		FinishedAt:  s.nowUTC(),
	}
	if err := s.finishRun(ctx, &job, verdict); err != nil {
		return err
	}

	if outcome.Success() && s.Cache != nil && cacheKey != "" {
		if err := s.Cache.Save(context.WithoutCancel(ctx), cacheKey, dir); err != nil {
			s.warn("cache save failed", "job_run_id", job.ID, "cache_key", cacheKey, "error", err)
		}
	}
	return nil
}

// restoreCache resolves the dependency fingerprint and restores the
// matching entry. Every failure here degrades to a cold build; the
// cache is never allowed to fail a job.
func (s *Service) restoreCache(ctx context.Context, jobRunID string, dir string) (string, bool) {
	if s.Cache == nil {
		return "", false
	}
	key, err := cache.Fingerprint(dir)
	if err != nil {
		s.warn("cache fingerprint unavailable", "job_run_id", jobRunID, "error", err)
		return "", false
	}
	hit, err := s.Cache.Restore(ctx, key, dir)
	if err != nil {
		s.warn("cache restore failed, building cold", "job_run_id", jobRunID, "cache_key", key, "error", err)
		return key, false
	}
	s.log("cache restore", "job_run_id", jobRunID, "cache_key", key, "hit", hit)
	return key, hit
}

func (s *Service) finishSetupFailure(ctx context.Context, job domain.JobRun, startedAt time.Time, cause error) error {
	persistCtx := context.WithoutCancel(ctx)
	finishedAt := s.nowUTC()

	record := domain.StageExecution{
		ID:         uuid.NewString(),
		JobRunID:   job.ID,
		Name:       setupStageName,
		Ordinal:    0,
		Status:     domain.StageStatusFailed,
		OutputTail: cause.Error(),
		StartedAt:  &startedAt,
		FinishedAt: &finishedAt,
	}
	if err := s.Stages.InsertStage(persistCtx, record); err != nil {
		s.warn("record setup failure stage failed", "job_run_id", job.ID, "error", err)
	}

	return s.finishRun(ctx, &job, repo.JobRunVerdict{
		Status:      domain.JobStatusFailed,
		FailureKind: domain.FailureKindStage,
		FailedStage: setupStageName,
		FinishedAt:  finishedAt,
	})
}

// finishRun persists the verdict, then publishes it. Persistence
// happens on a detached context so a verdict computed under an expired
// budget still lands.
func (s *Service) finishRun(ctx context.Context, job *domain.JobRun, verdict repo.JobRunVerdict) error {
	persistCtx := context.WithoutCancel(ctx)
	if err := s.JobRuns.Finish(persistCtx, job.ID, verdict); err != nil {
		return fmt.Errorf("finish job run: %w", err)
	}

	job.JobName = verdict.JobName
	job.Status = verdict.Status
	job.FailureKind = verdict.FailureKind
	job.FailedStage = verdict.FailedStage
	job.CacheHit = verdict.CacheHit
	finished := verdict.FinishedAt
	job.FinishedAt = &finished

	s.recordTransition(persistCtx, job.ID, "finished", map[string]any{
		"status":       string(verdict.Status),
		"failure_kind": string(verdict.FailureKind),
		"failed_stage": verdict.FailedStage,
		"cache_hit":    verdict.CacheHit,
	})

	if s.Reporter != nil {
		if err := s.Reporter.Report(persistCtx, *job); err != nil {
			// The verdict stands; delivery is observable, not gating.
			if s.Logger != nil {
				s.Logger.Error("gate report failed", "job_run_id", job.ID, "error", err)
			}
		}
	}

	s.log("job run finished",
		"job_run_id", job.ID,
		"status", string(verdict.Status),
		"failure_kind", string(verdict.FailureKind),
		"failed_stage", verdict.FailedStage,
		"cache_hit", verdict.CacheHit,
	)
	return nil
}

// stageRecorder persists stage lifecycle updates as the pipeline
// progresses. Writes are detached from the budget context: a stage
// killed by the expiring budget must still be recorded.
type stageRecorder struct {
	logger *slog.Logger
	stages repo.StageExecutionRepository
	ids    map[string]string
}

func (r *stageRecorder) StageStarted(ctx context.Context, jobID string, name string, ordinal int, startedAt time.Time) {
	ctx = context.WithoutCancel(ctx)
	id := uuid.NewString()
	r.ids[name] = id
	started := startedAt
	err := r.stages.InsertStage(ctx, domain.StageExecution{
		ID:        id,
		JobRunID:  jobID,
		Name:      name,
		Ordinal:   ordinal,
		Status:    domain.StageStatusRunning,
		StartedAt: &started,
	})
	if err != nil && r.logger != nil {
		r.logger.Error("record stage start failed", "job_run_id", jobID, "stage", name, "error", err)
	}
}

func (r *stageRecorder) StageFinished(ctx context.Context, jobID string, result pipeline.StageResult) {
	ctx = context.WithoutCancel(ctx)

	if result.Status == domain.StageStatusNotRun {
		err := r.stages.InsertStage(ctx, domain.StageExecution{
			ID:       uuid.NewString(),
			JobRunID: jobID,
			Name:     result.Name,
			Ordinal:  result.Ordinal,
			Status:   domain.StageStatusNotRun,
		})
		if err != nil && r.logger != nil {
			r.logger.Error("record skipped stage failed", "job_run_id", jobID, "stage", result.Name, "error", err)
		}
		return
	}

	id := r.ids[result.Name]
	if id == "" {
		if r.logger != nil {
			r.logger.Error("stage finished without a start record", "job_run_id", jobID, "stage", result.Name)
		}
		return
	}
	if err := r.stages.FinishStage(ctx, id, result.Status, result.ExitCode, result.OutputTail, result.FinishedAt); err != nil && r.logger != nil {
		r.logger.Error("record stage finish failed", "job_run_id", jobID, "stage", result.Name, "error", err)
	}
}
