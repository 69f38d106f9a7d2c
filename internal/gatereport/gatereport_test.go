package gatereport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mergegate-labs/mergegate-go/internal/domain"
	"github.com/mergegate-labs/mergegate-go/internal/platform/auth"
)

func finishedJob() domain.JobRun {
	started := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	finished := started.Add(12 * time.Minute)
	return domain.JobRun{
		ID:          "job-1",
		EventID:     "evt-1",
		EventKind:   domain.EventKindPullRequest,
		RepoURL:     "https://example.com/acme/widget.git",
		Branch:      "feature/x",
		Commit:      "0db32907c4b87c4326ba7ba5930b10d19d39878f",
		Status:      domain.JobStatusFailed,
		FailureKind: domain.FailureKindStage,
		FailedStage: "lint",
		QueuedAt:    started.Add(-time.Minute),
		StartedAt:   &started,
		FinishedAt:  &finished,
	}
}

func TestHTTPReporter_SignsAndPostsVerdict(t *testing.T) {
	const secret = "gate-secret"
	var got Verdict
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		ts := r.Header.Get(auth.HeaderSignatureTimestamp)
		sig := r.Header.Get(auth.HeaderSignature)
		if err := auth.VerifyRequestSignature(secret, ts, r.Method, r.URL.Path, auth.BodyDigest(body), sig); err != nil {
			t.Errorf("verify signature: %v", err)
		}
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode verdict: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	reporter, err := NewHTTPReporter(srv.URL+"/gate/verdicts", secret)
	if err != nil {
		t.Fatalf("new reporter: %v", err)
	}
	if err := reporter.Report(context.Background(), finishedJob()); err != nil {
		t.Fatalf("report: %v", err)
	}

	if got.JobRunID != "job-1" || got.Status != "failed" || got.FailedStage != "lint" {
		t.Fatalf("unexpected verdict %+v", got)
	}
	if got.FailureKind != "stage" {
		t.Fatalf("expected failure kind stage, got %q", got.FailureKind)
	}
}

func TestHTTPReporter_RejectionSurfacesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"unknown_commit"}`))
	}))
	defer srv.Close()

	reporter, err := NewHTTPReporter(srv.URL, "gate-secret")
	if err != nil {
		t.Fatalf("new reporter: %v", err)
	}
	err = reporter.Report(context.Background(), finishedJob())
	if err == nil {
		t.Fatal("expected rejection to surface")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", apiErr.StatusCode)
	}
}

func TestHTTPReporter_RefusesNonTerminalRun(t *testing.T) {
	reporter, err := NewHTTPReporter("https://gate.internal/verdicts", "gate-secret")
	if err != nil {
		t.Fatalf("new reporter: %v", err)
	}
	job := finishedJob()
	job.Status = domain.JobStatusRunning
	job.FailureKind = ""
	job.FailedStage = ""
	if err := reporter.Report(context.Background(), job); err == nil {
		t.Fatal("expected non-terminal run to be refused")
	}
}

func TestNewHTTPReporter_Rejects(t *testing.T) {
	cases := map[string]struct {
		endpoint string
		secret   string
	}{
		"blank endpoint": {"", "s"},
		"bad scheme":     {"ftp://gate", "s"},
		"blank secret":   {"https://gate.internal", " "},
	}
	for name, tc := range cases {
		if _, err := NewHTTPReporter(tc.endpoint, tc.secret); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLogReporter_NilLoggerIsNoop(t *testing.T) {
	if err := (LogReporter{}).Report(context.Background(), finishedJob()); err != nil {
		t.Fatalf("noop report: %v", err)
	}
}
