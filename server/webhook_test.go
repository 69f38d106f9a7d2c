package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mergegate-labs/mergegate-go/internal/domain"
	"github.com/mergegate-labs/mergegate-go/internal/repo"
)

func githubSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (f *apiFixture) deliver(t *testing.T, event, deliveryID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("X-Request-Id", "req-1")
	req.Header.Set(webhookHeaderEvent, event)
	if deliveryID != "" {
		req.Header.Set(webhookHeaderDelivery, deliveryID)
	}
	req.Header.Set(webhookHeaderSignature, githubSignature("hook-secret", []byte(body)))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

const pullRequestBody = `{
	"action": "opened",
	"pull_request": {
		"head": {
			"ref": "feature/batch-netting",
			"sha": "4f9d8c7b6a5f4e3d2c1b0a9c4f2a7d1e8b3c6a5f",
			"repo": {"clone_url": "https://github.test/acme/settlement.git"}
		}
	},
	"repository": {"clone_url": "https://github.test/acme/settlement.git"},
	"sender": {"login": "rmorrow"}
}`

func pushBody(ref string) string {
	return `{
		"ref": "` + ref + `",
		"after": "0a9c4f2a7d1e8b3c6a5f4f9d8c7b6a5f4e3d2c1b",
		"deleted": false,
		"repository": {"clone_url": "https://github.test/acme/settlement.git"},
		"sender": {"login": "rmorrow"}
	}`
}

func TestWebhook_SchedulesPullRequestRun(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.deliver(t, "pull_request", "delivery-1", pullRequestBody)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != "queued" {
		t.Fatalf("status=%v", body["status"])
	}
	jobRunID, _ := body["job_run_id"].(string)
	if jobRunID == "" {
		t.Fatalf("job_run_id missing in %v", body)
	}

	if len(f.enqueued) != 1 || f.enqueued[0] != jobRunID {
		t.Fatalf("enqueued=%v, want [%s]", f.enqueued, jobRunID)
	}

	job := f.runs.get(t, jobRunID)
	if job.Status != domain.JobStatusQueued {
		t.Fatalf("status=%s", job.Status)
	}
	if job.EventKind != domain.EventKindPullRequest {
		t.Fatalf("event kind=%s", job.EventKind)
	}
	if job.Branch != "feature/batch-netting" {
		t.Fatalf("branch=%s", job.Branch)
	}
	if job.Commit != "4f9d8c7b6a5f4e3d2c1b0a9c4f2a7d1e8b3c6a5f" {
		t.Fatalf("commit=%s", job.Commit)
	}
	if job.DeliveryID != "delivery-1" {
		t.Fatalf("delivery id=%s", job.DeliveryID)
	}
}

func TestWebhook_PushToMainSchedules(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.deliver(t, "push", "delivery-2", pushBody("refs/heads/main"))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["status"] != "queued" {
		t.Fatalf("body=%v", body)
	}
	runs, err := f.runs.List(context.Background(), repo.JobRunFilter{})
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	if runs[0].EventKind != domain.EventKindPush || runs[0].Branch != "main" {
		t.Fatalf("run=%+v", runs[0])
	}
}

func TestWebhook_IgnoresPushToFeatureBranch(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.deliver(t, "push", "delivery-3", pushBody("refs/heads/feature/batch-netting"))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status=%d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ignored" {
		t.Fatalf("status=%v", body["status"])
	}
	reason, _ := body["reason"].(string)
	if !strings.Contains(reason, "only main") {
		t.Fatalf("reason=%q", reason)
	}
	if f.runs.count() != 0 {
		t.Fatalf("no run should be scheduled")
	}
}

func TestWebhook_IgnoresTagPush(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.deliver(t, "push", "delivery-4", pushBody("refs/tags/v1.4.0"))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status=%d", rec.Code)
	}
	if body := decodeBody(t, rec); body["reason"] != "not_a_branch" {
		t.Fatalf("body=%v", body)
	}
}

func TestWebhook_IgnoresLabelAction(t *testing.T) {
	f := newAPIFixture(t)

	body := strings.Replace(pullRequestBody, `"action": "opened"`, `"action": "labeled"`, 1)
	rec := f.deliver(t, "pull_request", "delivery-5", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status=%d", rec.Code)
	}
	if got := decodeBody(t, rec); got["reason"] != "ignored_action" {
		t.Fatalf("body=%v", got)
	}
	if f.runs.count() != 0 {
		t.Fatalf("no run should be scheduled")
	}
}

func TestWebhook_DuplicateDeliverySchedulesOnce(t *testing.T) {
	f := newAPIFixture(t)

	first := f.deliver(t, "pull_request", "delivery-6", pullRequestBody)
	if first.Code != http.StatusAccepted {
		t.Fatalf("first status=%d", first.Code)
	}
	second := f.deliver(t, "pull_request", "delivery-6", pullRequestBody)
	if second.Code != http.StatusOK {
		t.Fatalf("second status=%d body=%s", second.Code, second.Body.String())
	}
	if body := decodeBody(t, second); body["status"] != "duplicate" {
		t.Fatalf("body=%v", body)
	}
	if f.runs.count() != 1 {
		t.Fatalf("got %d runs, want 1", f.runs.count())
	}
	if len(f.enqueued) != 1 {
		t.Fatalf("enqueued=%v, want one id", f.enqueued)
	}
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(pullRequestBody))
	req.Header.Set(webhookHeaderEvent, "pull_request")
	req.Header.Set(webhookHeaderDelivery, "delivery-7")
	req.Header.Set(webhookHeaderSignature, githubSignature("wrong-secret", []byte(pullRequestBody)))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "signature_invalid" {
		t.Fatalf("body=%v", body)
	}
	if f.runs.count() != 0 {
		t.Fatalf("no run should be scheduled")
	}
}

func TestWebhook_RequiresSignature(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(pullRequestBody))
	req.Header.Set(webhookHeaderEvent, "pull_request")
	req.Header.Set(webhookHeaderDelivery, "delivery-8")
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "signature_required" {
		t.Fatalf("body=%v", body)
	}
}

func TestWebhook_RequiresDeliveryID(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.deliver(t, "pull_request", "", pullRequestBody)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "delivery_id_required" {
		t.Fatalf("body=%v", body)
	}
}

func TestWebhook_UnsupportedEventAcknowledged(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.deliver(t, "issues", "delivery-9", `{"action":"opened"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status=%d", rec.Code)
	}
	if body := decodeBody(t, rec); body["reason"] != "unsupported_event" {
		t.Fatalf("body=%v", body)
	}
}

func TestWebhook_PingAnswersOK(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.deliver(t, "ping", "delivery-10", `{"zen":"Design for failure."}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "ok" {
		t.Fatalf("body=%v", body)
	}
}

func TestVerifyWebhookSignature_OK(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main"}`)
	sig := githubSignature("hook-secret", body)
	if err := verifyWebhookSignature("hook-secret", body, sig); err != nil {
		t.Fatalf("verifyWebhookSignature failed: %v", err)
	}
}

func TestVerifyWebhookSignature_Mismatch(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main"}`)
	if err := verifyWebhookSignature("hook-secret", body, githubSignature("other", body)); err == nil {
		t.Fatalf("expected error")
	}
	if err := verifyWebhookSignature("hook-secret", body, "sha1=abcdef"); err == nil {
		t.Fatalf("expected scheme error")
	}
	if err := verifyWebhookSignature("hook-secret", body, "sha256=zzzz"); err == nil {
		t.Fatalf("expected encoding error")
	}
}

func TestWebhook_DeletedBranchIgnored(t *testing.T) {
	f := newAPIFixture(t)

	body := `{
		"ref": "refs/heads/main",
		"after": "` + zeroCommit + `",
		"deleted": true,
		"repository": {"clone_url": "https://github.test/acme/settlement.git"},
		"sender": {"login": "rmorrow"}
	}`
	rec := f.deliver(t, "push", "delivery-11", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status=%d", rec.Code)
	}
	if got := decodeBody(t, rec); got["reason"] != "branch_deleted" {
		t.Fatalf("body=%v", got)
	}
}
