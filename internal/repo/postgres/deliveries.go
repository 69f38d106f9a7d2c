package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/mergegate-labs/mergegate-go/internal/domain"
	"github.com/mergegate-labs/mergegate-go/internal/repo"
)

type DeliveryStore struct {
	db DB
}

// The conflict clause makes intake idempotent: a redelivered webhook
// inserts nothing and therefore schedules nothing.
const insertDeliveryQuery = `INSERT INTO deliveries (
	delivery_id,
	event_kind,
	commit_sha,
	received_at
) VALUES ($1,$2,$3,$4)
ON CONFLICT (delivery_id) DO NOTHING`

func NewDeliveryStore(db DB) *DeliveryStore {
	if db == nil {
		return nil
	}
	return &DeliveryStore{db: db}
}

func (s *DeliveryStore) Insert(ctx context.Context, record repo.DeliveryRecord) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("delivery store not initialized")
	}
	deliveryID := strings.TrimSpace(record.DeliveryID)
	if deliveryID == "" {
		return false, fmt.Errorf("delivery id is required")
	}
	if domain.NormalizeEventKind(string(record.EventKind)) == "" {
		return false, fmt.Errorf("event kind must be pull_request or push")
	}

	res, err := s.db.ExecContext(
		ctx,
		insertDeliveryQuery,
		deliveryID,
		string(record.EventKind),
		nullIfEmpty(record.Commit),
		normalizeTime(record.ReceivedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert delivery: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert delivery: %w", err)
	}
	return rows == 1, nil
}
