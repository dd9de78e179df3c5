package store

import (
	"context"
	"fmt"
	"time"

	"github.com/bloomworks/bloom/internal/model"
)

// AppendSecurityEvent writes one audit log entry. The log is append-only;
// entries are never updated or deleted.
func (s *Store) AppendSecurityEvent(ctx context.Context, e *model.SecurityEvent) error {
	e.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO security_events
		(event_type, user_id, source_ip, success, detail, created_at)
		VALUES
		(:event_type, :user_id, :source_ip, :success, :detail, :created_at)`

	id, err := s.insert(ctx, q, e)
	if err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	e.ID = id
	return nil
}

// ListSecurityEvents returns audit entries newest first, optionally filtered
// by event type and a lower time bound.
func (s *Store) ListSecurityEvents(ctx context.Context, eventType string, since time.Time, limit int) ([]model.SecurityEvent, error) {
	q := "SELECT * FROM security_events WHERE created_at >= ?"
	args := []interface{}{since}
	if eventType != "" {
		q += " AND event_type = ?"
		args = append(args, eventType)
	}
	q += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	var events []model.SecurityEvent
	if err := s.db.SelectContext(ctx, &events, s.rebind(q), args...); err != nil {
		return nil, fmt.Errorf("list security events: %w", err)
	}
	return events, nil
}
