package domain

import (
	"errors"
	"strings"
	"time"
)

// EventKind identifies the repository event that asked for verification.
type EventKind string

const (
	EventKindPullRequest EventKind = "pull_request"
	EventKindPush        EventKind = "push"
)

// TriggerEvent is a normalized repository event, the only input that can
// schedule a verification run.
type TriggerEvent struct {
	ID         string
	Kind       EventKind
	RepoURL    string
	Branch     string
	Commit     string
	DeliveryID string
	Sender     string
	ReceivedAt time.Time
}

// NormalizeEventKind maps free-form event names to canonical kinds.
// Unknown kinds normalize to "".
func NormalizeEventKind(value string) EventKind {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(EventKindPullRequest):
		return EventKindPullRequest
	case string(EventKindPush):
		return EventKindPush
	default:
		return ""
	}
}

func (e TriggerEvent) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("event id is required")
	}
	if NormalizeEventKind(string(e.Kind)) == "" {
		return errors.New("event kind must be pull_request or push")
	}
	if strings.TrimSpace(e.RepoURL) == "" {
		return errors.New("repo url is required")
	}
	if strings.TrimSpace(e.Branch) == "" {
		return errors.New("branch is required")
	}
	if strings.TrimSpace(e.Commit) == "" {
		return errors.New("commit is required")
	}
	return nil
}
