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

type StageExecutionStore struct {
	db DB
}

const (
	insertStageExecutionQuery = `INSERT INTO stage_executions (
		stage_execution_id,
		job_run_id,
		stage_name,
		ordinal,
		status,
		exit_code,
		output_tail,
		started_at,
		finished_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	finishStageExecutionQuery = `UPDATE stage_executions SET status = $1, exit_code = $2, output_tail = $3, finished_at = $4
	 WHERE stage_execution_id = $5`

	listStageExecutionsByRunQuery = `SELECT stage_execution_id, job_run_id, stage_name, ordinal, status, exit_code, output_tail, started_at, finished_at
	 FROM stage_executions
	 WHERE job_run_id = $1
	 ORDER BY ordinal ASC`

	deleteStageExecutionsByRunQuery = `DELETE FROM stage_executions WHERE job_run_id = $1`
)

func NewStageExecutionStore(db DB) *StageExecutionStore {
	if db == nil {
		return nil
	}
	return &StageExecutionStore{db: db}
}

func (s *StageExecutionStore) InsertStage(ctx context.Context, record domain.StageExecution) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("stage execution store not initialized")
	}
	if err := record.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		insertStageExecutionQuery,
		strings.TrimSpace(record.ID),
		strings.TrimSpace(record.JobRunID),
		strings.TrimSpace(record.Name),
		record.Ordinal,
		string(record.Status),
		nullIntPtr(record.ExitCode),
		record.OutputTail,
		nullTimePtr(record.StartedAt),
		nullTimePtr(record.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert stage execution: %w", err)
	}
	return nil
}

func (s *StageExecutionStore) FinishStage(ctx context.Context, id string, status domain.StageStatus, exitCode *int, outputTail string, finishedAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("stage execution store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("stage execution id is required")
	}
	if domain.NormalizeStageStatus(string(status)) == "" {
		return fmt.Errorf("stage status is required")
	}
	res, err := s.db.ExecContext(
		ctx,
		finishStageExecutionQuery,
		string(status),
		nullIntPtr(exitCode),
		outputTail,
		normalizeTime(finishedAt),
		id,
	)
	if err != nil {
		return fmt.Errorf("finish stage execution: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish stage execution: %w", err)
	}
	if rows == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *StageExecutionStore) ListByRun(ctx context.Context, jobRunID string) ([]domain.StageExecution, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("stage execution store not initialized")
	}
	jobRunID = strings.TrimSpace(jobRunID)
	if jobRunID == "" {
		return nil, fmt.Errorf("job run id is required")
	}

	rows, err := s.db.QueryContext(ctx, listStageExecutionsByRunQuery, jobRunID)
	if err != nil {
		return nil, fmt.Errorf("list stage executions: %w", err)
	}
	defer rows.Close()

	records := make([]domain.StageExecution, 0)
	for rows.Next() {
		record, err := scanStageExecution(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stage executions: %w", err)
	}
	return records, nil
}

func (s *StageExecutionStore) DeleteByRun(ctx context.Context, jobRunID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("stage execution store not initialized")
	}
	jobRunID = strings.TrimSpace(jobRunID)
	if jobRunID == "" {
		return fmt.Errorf("job run id is required")
	}
	if _, err := s.db.ExecContext(ctx, deleteStageExecutionsByRunQuery, jobRunID); err != nil {
		return fmt.Errorf("delete stage executions: %w", err)
	}
	return nil
}

type stageExecutionScanner interface {
	Scan(dest ...any) error
}

func scanStageExecution(scanner stageExecutionScanner) (domain.StageExecution, error) {
	var record domain.StageExecution
	var exitCode sql.NullInt32
	var startedAt sql.NullTime
	var finishedAt sql.NullTime
	if err := scanner.Scan(
		&record.ID,
		&record.JobRunID,
		&record.Name,
		&record.Ordinal,
		&record.Status,
		&exitCode,
		&record.OutputTail,
		&startedAt,
		&finishedAt,
	); err != nil {
		return domain.StageExecution{}, handleNotFound(err)
	}
	if exitCode.Valid {
		code := int(exitCode.Int32)
		record.ExitCode = &code
	}
	if startedAt.Valid {
		started := startedAt.Time.UTC()
		record.StartedAt = &started
	}
	if finishedAt.Valid {
		finished := finishedAt.Time.UTC()
		record.FinishedAt = &finished
	}
	return record, nil
}
