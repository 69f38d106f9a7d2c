// Package gatereport publishes finished run verdicts to the merge gate
// endpoint that decides whether a change may land.
package gatereport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mergegate-labs/mergegate-go/internal/domain"
	"github.com/mergegate-labs/mergegate-go/internal/platform/auth"
)

// Reporter delivers the verdict of a finished run. Reporting failures
// must not change the verdict; callers log and move on.
type Reporter interface {
	Report(ctx context.Context, job domain.JobRun) error
}

// Verdict is the wire shape posted to the gate.
type Verdict struct {
	JobRunID    string     `json:"job_run_id"`
	JobName     string     `json:"job_name,omitempty"`
	EventID     string     `json:"event_id"`
	EventKind   string     `json:"event_kind"`
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

type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("gate report rejected (status=%d)", e.StatusCode)
	}
	return fmt.Sprintf("gate report rejected (status=%d): %s", e.StatusCode, body)
}

// HTTPReporter posts signed verdicts to a gate URL. Requests carry the
// X-Mergegate-Ts and X-Mergegate-Sig headers so the gate can verify
// origin and freshness.
type HTTPReporter struct {
	endpoint *url.URL
	secret   string
	http     *http.Client
	now      func() time.Time
}

func NewHTTPReporter(endpoint string, secret string) (*HTTPReporter, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("gate endpoint is required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse gate endpoint: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("gate endpoint must be http or https, got %q", parsed.Scheme)
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("gate signing secret is required")
	}
	return &HTTPReporter{
		endpoint: parsed,
		secret:   secret,
		http:     &http.Client{Timeout: 15 * time.Second},
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *HTTPReporter) Report(ctx context.Context, job domain.JobRun) error {
	if r == nil || r.endpoint == nil {
		return errors.New("gate reporter not initialized")
	}
	if !job.Status.IsTerminal() {
		return fmt.Errorf("cannot report non-terminal status %q", job.Status)
	}

	body, err := json.Marshal(verdictFromJob(job))
	if err != nil {
		return fmt.Errorf("marshal verdict: %w", err)
	}

	ts := strconv.FormatInt(r.now().Unix(), 10)
	sig, err := auth.ComputeRequestSignature(r.secret, ts, http.MethodPost, r.endpoint.Path, auth.BodyDigest(body))
	if err != nil {
		return fmt.Errorf("sign verdict: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.HeaderSignatureTimestamp, ts)
	req.Header.Set(auth.HeaderSignature, sig)

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("post verdict: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read gate response: %w", err)
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent:
		return nil
	default:
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
}

// LogReporter writes verdicts to the log. It stands in when no gate
// endpoint is configured, which keeps single-node setups runnable.
type LogReporter struct {
	Logger *slog.Logger
}

func (r LogReporter) Report(_ context.Context, job domain.JobRun) error {
	if r.Logger == nil {
		return nil
	}
	r.Logger.Info("gate verdict",
		"job_run_id", job.ID,
		"status", string(job.Status),
		"failure_kind", string(job.FailureKind),
		"failed_stage", job.FailedStage,
		"branch", job.Branch,
		"commit", job.Commit,
		"cache_hit", job.CacheHit,
	)
	return nil
}

func verdictFromJob(job domain.JobRun) Verdict {
	return Verdict{
		JobRunID:    job.ID,
		JobName:     job.JobName,
		EventID:     job.EventID,
		EventKind:   string(job.EventKind),
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
