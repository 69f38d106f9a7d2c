package auditlog

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// JobTransition records a job run lifecycle change (queued, started,
// finished) in the audit trail.
type JobTransition struct {
	OccurredAt time.Time
	Actor      string
	JobRunID   string
	Action     string
	RequestID  string
	Payload    map[string]any
}

func InsertJobTransition(ctx context.Context, db *sql.DB, transition JobTransition) error {
	actor := strings.TrimSpace(transition.Actor)
	if actor == "" {
		actor = "dispatcher"
	}
	_, err := Insert(ctx, db, Event{
		OccurredAt:   transition.OccurredAt,
		Actor:        actor,
		Action:       "job." + strings.TrimSpace(transition.Action),
		ResourceType: "job_run",
		ResourceID:   transition.JobRunID,
		RequestID:    transition.RequestID,
		Payload:      transition.Payload,
	})
	return err
}
