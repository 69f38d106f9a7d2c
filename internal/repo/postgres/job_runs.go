package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mergegate-labs/mergegate-go/internal/domain"
	"github.com/mergegate-labs/mergegate-go/internal/repo"
)

type JobRunStore struct {
	db DB
}

const (
	jobRunColumns = `job_run_id, job_name, event_id, event_kind, delivery_id, repo_url, branch, commit_sha,
		status, failure_kind, failed_stage, cache_hit, queued_at, started_at, finished_at`

	insertJobRunQuery = `INSERT INTO job_runs (
		job_run_id,
		job_name,
		event_id,
		event_kind,
		delivery_id,
		repo_url,
		branch,
		commit_sha,
		status,
		failure_kind,
		failed_stage,
		cache_hit,
		queued_at,
		started_at,
		finished_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`

	selectJobRunQuery = `SELECT ` + jobRunColumns + `
	 FROM job_runs
	 WHERE job_run_id = $1`

	claimJobRunQuery = `UPDATE job_runs SET status = $1, started_at = $2
	 WHERE job_run_id = $3 AND status = $4`

	finishJobRunQuery = `UPDATE job_runs SET status = $1, failure_kind = $2, failed_stage = $3, cache_hit = $4, finished_at = $5, job_name = $6
	 WHERE job_run_id = $7 AND status = $8`

	listQueuedJobRunIDsQuery = `SELECT job_run_id FROM job_runs WHERE status = $1 ORDER BY queued_at ASC`

	requeueInterruptedJobRunsQuery = `UPDATE job_runs SET status = $1, started_at = NULL WHERE status = $2`
)

func NewJobRunStore(db DB) *JobRunStore {
	if db == nil {
		return nil
	}
	return &JobRunStore{db: db}
}

func (s *JobRunStore) Create(ctx context.Context, job domain.JobRun) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("job run store not initialized")
	}
	if err := job.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		insertJobRunQuery,
		strings.TrimSpace(job.ID),
		nullIfEmpty(job.JobName),
		strings.TrimSpace(job.EventID),
		string(job.EventKind),
		nullIfEmpty(job.DeliveryID),
		strings.TrimSpace(job.RepoURL),
		strings.TrimSpace(job.Branch),
		strings.TrimSpace(job.Commit),
		string(job.Status),
		nullIfEmpty(string(job.FailureKind)),
		nullIfEmpty(job.FailedStage),
		job.CacheHit,
		normalizeTime(job.QueuedAt),
		nullTimePtr(job.StartedAt),
		nullTimePtr(job.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job run: %w", err)
	}
	return nil
}

func (s *JobRunStore) Get(ctx context.Context, id string) (domain.JobRun, error) {
	if s == nil || s.db == nil {
		return domain.JobRun{}, fmt.Errorf("job run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.JobRun{}, fmt.Errorf("job run id is required")
	}
	row := s.db.QueryRowContext(ctx, selectJobRunQuery, id)
	return scanJobRun(row)
}

func (s *JobRunStore) List(ctx context.Context, filter repo.JobRunFilter) ([]domain.JobRun, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("job run store not initialized")
	}
	query, args, err := buildJobRunListQuery(filter)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list job runs: %w", err)
	}
	defer rows.Close()

	jobs := make([]domain.JobRun, 0)
	for rows.Next() {
		job, err := scanJobRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list job runs: %w", err)
	}
	return jobs, nil
}

func (s *JobRunStore) MarkRunning(ctx context.Context, id string, startedAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("job run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("job run id is required")
	}
	res, err := s.db.ExecContext(
		ctx,
		claimJobRunQuery,
		string(domain.JobStatusRunning),
		normalizeTime(startedAt),
		id,
		string(domain.JobStatusQueued),
	)
	if err != nil {
		return fmt.Errorf("claim job run: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim job run: %w", err)
	}
	if rows == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *JobRunStore) Finish(ctx context.Context, id string, verdict repo.JobRunVerdict) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("job run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("job run id is required")
	}
	if !verdict.Status.IsTerminal() {
		return fmt.Errorf("finish requires a terminal status, got %q", verdict.Status)
	}
	if verdict.Status == domain.JobStatusFailed && verdict.FailureKind != domain.FailureKindStage {
		return fmt.Errorf("failed run requires failure kind stage")
	}
	if verdict.Status == domain.JobStatusTimedOut && verdict.FailureKind != domain.FailureKindTimeout {
		return fmt.Errorf("timed out run requires failure kind timeout")
	}
	if verdict.FailureKind == domain.FailureKindStage && strings.TrimSpace(verdict.FailedStage) == "" {
		return fmt.Errorf("stage failure requires the failed stage name")
	}
	res, err := s.db.ExecContext(
		ctx,
		finishJobRunQuery,
		string(verdict.Status),
		nullIfEmpty(string(verdict.FailureKind)),
		nullIfEmpty(verdict.FailedStage),
		verdict.CacheHit,
		normalizeTime(verdict.FinishedAt),
		nullIfEmpty(verdict.JobName),
		id,
		string(domain.JobStatusRunning),
	)
	if err != nil {
		return fmt.Errorf("finish job run: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish job run: %w", err)
	}
	if rows == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *JobRunStore) ListQueuedIDs(ctx context.Context, limit int) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("job run store not initialized")
	}
	query := listQueuedJobRunIDsQuery
	args := []any{string(domain.JobStatusQueued)}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queued job runs: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan job run id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list queued job runs: %w", err)
	}
	return ids, nil
}

func (s *JobRunStore) RequeueInterrupted(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("job run store not initialized")
	}
	res, err := s.db.ExecContext(
		ctx,
		requeueInterruptedJobRunsQuery,
		string(domain.JobStatusQueued),
		string(domain.JobStatusRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("requeue interrupted job runs: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue interrupted job runs: %w", err)
	}
	return rows, nil
}

func buildJobRunListQuery(filter repo.JobRunFilter) (string, []any, error) {
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 4)

	if status := strings.TrimSpace(filter.Status); status != "" {
		if domain.NormalizeJobStatus(status) == "" {
			return "", nil, fmt.Errorf("unknown status filter %q", status)
		}
		args = append(args, string(domain.NormalizeJobStatus(status)))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if branch := strings.TrimSpace(filter.Branch); branch != "" {
		args = append(args, branch)
		clauses = append(clauses, fmt.Sprintf("branch = $%d", len(args)))
	}
	if kind := strings.TrimSpace(filter.EventKind); kind != "" {
		if domain.NormalizeEventKind(kind) == "" {
			return "", nil, fmt.Errorf("unknown event kind filter %q", kind)
		}
		args = append(args, string(domain.NormalizeEventKind(kind)))
		clauses = append(clauses, fmt.Sprintf("event_kind = $%d", len(args)))
	}

	query := `SELECT ` + jobRunColumns + ` FROM job_runs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY queued_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args, nil
}

type jobRunScanner interface {
	Scan(dest ...any) error
}

func scanJobRun(scanner jobRunScanner) (domain.JobRun, error) {
	var job domain.JobRun
	var jobName sql.NullString
	var deliveryID sql.NullString
	var failureKind sql.NullString
	var failedStage sql.NullString
	var startedAt sql.NullTime
	var finishedAt sql.NullTime
	if err := scanner.Scan(
		&job.ID,
		&jobName,
		&job.EventID,
		&job.EventKind,
		&deliveryID,
		&job.RepoURL,
		&job.Branch,
		&job.Commit,
		&job.Status,
		&failureKind,
		&failedStage,
		&job.CacheHit,
		&job.QueuedAt,
		&startedAt,
		&finishedAt,
	); err != nil {
		return domain.JobRun{}, handleNotFound(err)
	}
	if jobName.Valid {
		job.JobName = jobName.String
	}
	if deliveryID.Valid {
		job.DeliveryID = deliveryID.String
	}
	if failureKind.Valid {
		job.FailureKind = domain.FailureKind(failureKind.String)
	}
	if failedStage.Valid {
		job.FailedStage = failedStage.String
	}
	if startedAt.Valid {
		started := startedAt.Time.UTC()
		job.StartedAt = &started
	}
	if finishedAt.Valid {
		finished := finishedAt.Time.UTC()
		job.FinishedAt = &finished
	}
	job.QueuedAt = job.QueuedAt.UTC()
	return job, nil
}
