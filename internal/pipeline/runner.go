package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/mergegate-labs/mergegate-go/internal/domain"
)

// Runner executes checks strictly in order. The first failure
// short-circuits the rest: later checks are recorded as not_run, never
// started. The context carries the job's wall-clock budget; when it
// expires the in-progress check is killed and the whole run is
// classified as timed out rather than a stage failure.
type Runner struct {
	logger   *slog.Logger
	checks   []Check
	observer Observer
	now      func() time.Time
}

func NewRunner(logger *slog.Logger, checks []Check, observer Observer) *Runner {
	return &Runner{
		logger:   logger,
		checks:   checks,
		observer: observer,
		now:      time.Now,
	}
}

func (r *Runner) Run(ctx context.Context, job Job) Outcome {
	outcome := Outcome{Stages: make([]StageResult, 0, len(r.checks))}
	failedStage := ""
	timedOut := false

	for i, check := range r.checks {
		name := check.Name()

		if failedStage != "" || timedOut {
			result := StageResult{Name: name, Ordinal: i, Status: domain.StageStatusNotRun}
			outcome.Stages = append(outcome.Stages, result)
			r.observeFinished(ctx, job.ID, result)
			continue
		}

		if ctx.Err() != nil {
			// Budget exhausted between stages.
			timedOut = true
			result := StageResult{Name: name, Ordinal: i, Status: domain.StageStatusNotRun}
			outcome.Stages = append(outcome.Stages, result)
			r.observeFinished(ctx, job.ID, result)
			continue
		}

		startedAt := r.now().UTC()
		r.observeStarted(ctx, job.ID, name, i, startedAt)
		r.log(job.ID, "stage started", "stage", name, "ordinal", i)

		res, err := check.Run(ctx, job)
		finishedAt := r.now().UTC()

		result := StageResult{
			Name:       name,
			Ordinal:    i,
			Status:     res.Status,
			ExitCode:   res.ExitCode,
			OutputTail: res.OutputTail,
			StartedAt:  startedAt,
			FinishedAt: finishedAt,
		}
		if err != nil {
			result.Status = domain.StageStatusFailed
			if result.OutputTail == "" {
				result.OutputTail = err.Error()
			}
		}

		if result.Status != domain.StageStatusSucceeded {
			result.Status = domain.StageStatusFailed
			if ctx.Err() != nil {
				// The check was killed by the expiring budget, not by
				// its own verdict.
				timedOut = true
			} else {
				failedStage = name
			}
		}

		outcome.Stages = append(outcome.Stages, result)
		r.observeFinished(ctx, job.ID, result)
		r.log(job.ID, "stage finished",
			"stage", name,
			"ordinal", i,
			"status", string(result.Status),
			"duration", finishedAt.Sub(startedAt).String(),
		)
	}

	switch {
	case timedOut:
		outcome.Status = domain.JobStatusTimedOut
		outcome.FailureKind = domain.FailureKindTimeout
	case failedStage != "":
		outcome.Status = domain.JobStatusFailed
		outcome.FailureKind = domain.FailureKindStage
		outcome.FailedStage = failedStage
	default:
		outcome.Status = domain.JobStatusSucceeded
	}
	return outcome
}

func (r *Runner) observeStarted(ctx context.Context, jobID string, name string, ordinal int, startedAt time.Time) {
	if r.observer == nil {
		return
	}
	r.observer.StageStarted(ctx, jobID, name, ordinal, startedAt)
}

func (r *Runner) observeFinished(ctx context.Context, jobID string, result StageResult) {
	if r.observer == nil {
		return
	}
	r.observer.StageFinished(ctx, jobID, result)
}

func (r *Runner) log(jobID string, msg string, fields ...any) {
	if r.logger == nil {
		return
	}
	r.logger.Info(msg, append([]any{"job_run_id", jobID}, fields...)...)
}
