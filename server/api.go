package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mergegate-labs/mergegate-go/internal/domain"
	"github.com/mergegate-labs/mergegate-go/internal/repo"
	"github.com/mergegate-labs/mergegate-go/internal/service/jobs"
)

// jobsAPI serves the webhook intake endpoint and the read API over
// job runs and their stage executions.
type jobsAPI struct {
	logger        *slog.Logger
	service       *jobs.Service
	jobRuns       repo.JobRunRepository
	stages        repo.StageExecutionRepository
	webhookSecret string
	enqueue       func(jobRunID string)
	audit         func(ctx context.Context, reason string, r *http.Request)
}

func newJobsAPI(logger *slog.Logger, service *jobs.Service, jobRuns repo.JobRunRepository, stages repo.StageExecutionRepository, webhookSecret string, enqueue func(jobRunID string)) *jobsAPI {
	return &jobsAPI{
		logger:        logger,
		service:       service,
		jobRuns:       jobRuns,
		stages:        stages,
		webhookSecret: webhookSecret,
		enqueue:       enqueue,
	}
}

func (api *jobsAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhook", api.handleWebhook)
	mux.HandleFunc("GET /jobs", api.handleListJobRuns)
	mux.HandleFunc("GET /jobs/{job_id}", api.handleGetJobRun)
	mux.HandleFunc("GET /jobs/{job_id}/stages", api.handleListStages)
}

type jobRunResponse struct {
	ID          string     `json:"job_run_id"`
	JobName     string     `json:"job_name,omitempty"`
	EventID     string     `json:"event_id"`
	EventKind   string     `json:"event_kind"`
	DeliveryID  string     `json:"delivery_id,omitempty"`
	RepoURL     string     `json:"repo_url"`
	Branch      string     `json:"branch"`
	Commit      string     `json:"commit"`
	Status      string     `json:"status"`
	FailureKind string     `json:"failure_kind,omitempty"`
	FailedStage string     `json:"failed_stage,omitempty"`
	CacheHit    bool       `json:"cache_hit"`
	QueuedAt    time.Time  `json:"queued_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

func jobRunResponseFromDomain(job domain.JobRun) jobRunResponse {
	return jobRunResponse{
		ID:          job.ID,
		JobName:     job.JobName,
		EventID:     job.EventID,
		EventKind:   string(job.EventKind),
		DeliveryID:  job.DeliveryID,
		RepoURL:     job.RepoURL,
		Branch:      job.Branch,
		Commit:      job.Commit,
		Status:      string(job.Status),
		FailureKind: string(job.FailureKind),
		FailedStage: job.FailedStage,
		CacheHit:    job.CacheHit,
		QueuedAt:    job.QueuedAt,
		StartedAt:   job.StartedAt,
		FinishedAt:  job.FinishedAt,
	}
}

type stageResponse struct {
	ID         string     `json:"stage_execution_id"`
	JobRunID   string     `json:"job_run_id"`
	Name       string     `json:"name"`
	Ordinal    int        `json:"ordinal"`
	Status     string     `json:"status"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	OutputTail string     `json:"output_tail,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func stageResponseFromDomain(stage domain.StageExecution) stageResponse {
	return stageResponse{
		ID:         stage.ID,
		JobRunID:   stage.JobRunID,
		Name:       stage.Name,
		Ordinal:    stage.Ordinal,
		Status:     string(stage.Status),
		ExitCode:   stage.ExitCode,
		OutputTail: stage.OutputTail,
		StartedAt:  stage.StartedAt,
		FinishedAt: stage.FinishedAt,
	}
}

func (api *jobsAPI) handleListJobRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status := strings.TrimSpace(q.Get("status"))
	if status != "" && domain.NormalizeJobStatus(status) == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_status")
		return
	}
	eventKind := strings.TrimSpace(q.Get("event_kind"))
	if eventKind != "" && domain.NormalizeEventKind(eventKind) == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_event_kind")
		return
	}

	filter := repo.JobRunFilter{
		Status:    status,
		Branch:    strings.TrimSpace(q.Get("branch")),
		EventKind: eventKind,
		Limit:     clampInt(parseIntQuery(r, "limit", 100), 1, 500),
	}

	runs, err := api.jobRuns.List(r.Context(), filter)
	if err != nil {
		api.logger.Error("list job runs failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	out := make([]jobRunResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, jobRunResponseFromDomain(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_runs": out})
}

func (api *jobsAPI) handleGetJobRun(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.PathValue("job_id"))
	if jobID == "" {
		writeError(w, r, http.StatusBadRequest, "job_id_required")
		return
	}

	job, err := api.jobRuns.Get(r.Context(), jobID)
	if errors.Is(err, repo.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		api.logger.Error("get job run failed", "job_run_id", jobID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, jobRunResponseFromDomain(job))
}

func (api *jobsAPI) handleListStages(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.PathValue("job_id"))
	if jobID == "" {
		writeError(w, r, http.StatusBadRequest, "job_id_required")
		return
	}

	if _, err := api.jobRuns.Get(r.Context(), jobID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.logger.Error("get job run failed", "job_run_id", jobID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	stages, err := api.stages.ListByRun(r.Context(), jobID)
	if err != nil {
		api.logger.Error("list stage executions failed", "job_run_id", jobID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	out := make([]stageResponse, 0, len(stages))
	for _, stage := range stages {
		out = append(out, stageResponseFromDomain(stage))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_run_id": jobID,
		"stages":     out,
	})
}

func parseIntQuery(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	writeJSON(w, status, map[string]string{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}
