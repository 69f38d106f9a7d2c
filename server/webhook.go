package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mergegate-labs/mergegate-go/internal/domain"
)

const (
	webhookHeaderSignature = "X-Hub-Signature-256"
	webhookHeaderEvent     = "X-GitHub-Event"
	webhookHeaderDelivery  = "X-GitHub-Delivery"

	webhookMaxBodyBytes = 1 << 20

	zeroCommit = "0000000000000000000000000000000000000000"
)

// scheduledActions lists the pull request actions that carry a new or
// updated head commit. Everything else (labels, assignees, closing)
// is acknowledged without scheduling a run.
var scheduledActions = map[string]bool{
	"opened":      true,
	"synchronize": true,
	"reopened":    true,
}

func (api *jobsAPI) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if strings.TrimSpace(api.webhookSecret) == "" {
		api.logger.Error("webhook secret not configured")
		writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, webhookMaxBodyBytes))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body")
		return
	}

	signature := strings.TrimSpace(r.Header.Get(webhookHeaderSignature))
	if signature == "" {
		api.rejectWebhook(ctx, r, "signature_required")
		writeError(w, r, http.StatusUnauthorized, "signature_required")
		return
	}
	if err := verifyWebhookSignature(api.webhookSecret, body, signature); err != nil {
		api.rejectWebhook(ctx, r, "signature_invalid")
		writeError(w, r, http.StatusUnauthorized, "signature_invalid")
		return
	}

	deliveryID := strings.TrimSpace(r.Header.Get(webhookHeaderDelivery))
	if deliveryID == "" {
		api.rejectWebhook(ctx, r, "delivery_id_required")
		writeError(w, r, http.StatusBadRequest, "delivery_id_required")
		return
	}

	eventName := strings.ToLower(strings.TrimSpace(r.Header.Get(webhookHeaderEvent)))

	var (
		event  domain.TriggerEvent
		ignore string
	)
	switch eventName {
	case "ping":
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	case "pull_request":
		event, ignore, err = parsePullRequestEvent(body)
	case "push":
		event, ignore, err = parsePushEvent(body)
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "ignored",
			"reason": "unsupported_event",
		})
		return
	}
	if err != nil {
		api.logger.Warn("webhook payload rejected",
			"delivery_id", deliveryID,
			"event", eventName,
			"error", err,
		)
		writeError(w, r, http.StatusBadRequest, "invalid_payload")
		return
	}
	if ignore != "" {
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "ignored",
			"reason": ignore,
		})
		return
	}

	event.DeliveryID = deliveryID
	event.ReceivedAt = time.Now().UTC()

	res, err := api.service.IntakeEvent(ctx, event)
	if err != nil {
		api.logger.Error("event intake failed",
			"delivery_id", deliveryID,
			"event", eventName,
			"error", err,
		)
		writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	if res.Duplicate {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":      "duplicate",
			"delivery_id": deliveryID,
		})
		return
	}
	if !res.Accepted {
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "ignored",
			"reason": res.Reason,
		})
		return
	}

	if api.enqueue != nil {
		api.enqueue(res.JobRunID)
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":     "queued",
		"job_run_id": res.JobRunID,
	})
}

func (api *jobsAPI) rejectWebhook(ctx context.Context, r *http.Request, reason string) {
	api.logger.Warn("webhook rejected",
		"reason", reason,
		"remote_addr", r.RemoteAddr,
		"request_id", r.Header.Get("X-Request-Id"),
	)
	if api.audit != nil {
		api.audit(ctx, reason, r)
	}
}

type pullRequestPayload struct {
	Action      string `json:"action"`
	PullRequest struct {
		Head struct {
			Ref  string `json:"ref"`
			SHA  string `json:"sha"`
			Repo struct {
				CloneURL string `json:"clone_url"`
			} `json:"repo"`
		} `json:"head"`
	} `json:"pull_request"`
	Repository struct {
		CloneURL string `json:"clone_url"`
	} `json:"repository"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
}

func parsePullRequestEvent(body []byte) (domain.TriggerEvent, string, error) {
	var payload pullRequestPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.TriggerEvent{}, "", fmt.Errorf("decode pull request payload: %w", err)
	}

	if !scheduledActions[strings.ToLower(strings.TrimSpace(payload.Action))] {
		return domain.TriggerEvent{}, "ignored_action", nil
	}

	repoURL := strings.TrimSpace(payload.PullRequest.Head.Repo.CloneURL)
	if repoURL == "" {
		repoURL = strings.TrimSpace(payload.Repository.CloneURL)
	}

	event := domain.TriggerEvent{
		ID:      uuid.NewString(),
		Kind:    domain.EventKindPullRequest,
		RepoURL: repoURL,
		Branch:  strings.TrimSpace(payload.PullRequest.Head.Ref),
		Commit:  strings.TrimSpace(payload.PullRequest.Head.SHA),
		Sender:  strings.TrimSpace(payload.Sender.Login),
	}
	if event.RepoURL == "" || event.Branch == "" || event.Commit == "" {
		return domain.TriggerEvent{}, "", errors.New("pull request payload missing head ref, sha, or repository")
	}
	return event, "", nil
}

type pushPayload struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Deleted    bool   `json:"deleted"`
	Repository struct {
		CloneURL string `json:"clone_url"`
	} `json:"repository"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
}

func parsePushEvent(body []byte) (domain.TriggerEvent, string, error) {
	var payload pushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.TriggerEvent{}, "", fmt.Errorf("decode push payload: %w", err)
	}

	ref := strings.TrimSpace(payload.Ref)
	if !strings.HasPrefix(ref, "refs/heads/") {
		return domain.TriggerEvent{}, "not_a_branch", nil
	}
	if payload.Deleted || payload.After == zeroCommit {
		return domain.TriggerEvent{}, "branch_deleted", nil
	}

	event := domain.TriggerEvent{
		ID:      uuid.NewString(),
		Kind:    domain.EventKindPush,
		RepoURL: strings.TrimSpace(payload.Repository.CloneURL),
		Branch:  strings.TrimPrefix(ref, "refs/heads/"),
		Commit:  strings.TrimSpace(payload.After),
		Sender:  strings.TrimSpace(payload.Sender.Login),
	}
	if event.RepoURL == "" || event.Branch == "" || event.Commit == "" {
		return domain.TriggerEvent{}, "", errors.New("push payload missing ref, after, or repository")
	}
	return event, "", nil
}

func verifyWebhookSignature(secret string, body []byte, header string) error {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return errors.New("unexpected signature scheme")
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return errors.New("signature is not hex encoded")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), got) {
		return errors.New("signature mismatch")
	}
	return nil
}
