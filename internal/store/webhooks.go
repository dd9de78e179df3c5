package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bloomworks/bloom/internal/model"
)

// webhookRow maps 1:1 to the webhooks table; events are stored JSON-encoded.
type webhookRow struct {
	ID         int64     `db:"id"`
	URL        string    `db:"url"`
	Secret     string    `db:"secret"`
	EventsJSON string    `db:"events_json"`
	IsActive   bool      `db:"is_active"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func webhookRowFromModel(w *model.Webhook) (webhookRow, error) {
	events := w.Events
	if events == nil {
		events = []string{}
	}
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return webhookRow{}, fmt.Errorf("marshal events: %w", err)
	}
	return webhookRow{
		ID:         w.ID,
		URL:        w.URL,
		Secret:     w.Secret,
		EventsJSON: string(eventsJSON),
		IsActive:   w.IsActive,
		CreatedAt:  w.CreatedAt,
		UpdatedAt:  w.UpdatedAt,
	}, nil
}

func (r webhookRow) toModel() (model.Webhook, error) {
	var events []string
	if r.EventsJSON != "" && r.EventsJSON != "[]" {
		if err := json.Unmarshal([]byte(r.EventsJSON), &events); err != nil {
			return model.Webhook{}, fmt.Errorf("unmarshal events: %w", err)
		}
	}
	if events == nil {
		events = []string{}
	}
	return model.Webhook{
		ID:        r.ID,
		URL:       r.URL,
		Secret:    r.Secret,
		Events:    events,
		IsActive:  r.IsActive,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

// CreateWebhook inserts a new webhook endpoint. The ID, CreatedAt, and
// UpdatedAt fields are populated after a successful insert.
func (s *Store) CreateWebhook(ctx context.Context, w *model.Webhook) error {
	now := time.Now().UTC()
	w.CreatedAt = now
	w.UpdatedAt = now

	row, err := webhookRowFromModel(w)
	if err != nil {
		return err
	}

	const q = `INSERT INTO webhooks
		(url, secret, events_json, is_active, created_at, updated_at)
		VALUES
		(:url, :secret, :events_json, :is_active, :created_at, :updated_at)`

	id, err := s.insert(ctx, q, row)
	if err != nil {
		return fmt.Errorf("insert webhook: %w", err)
	}
	w.ID = id
	return nil
}

// GetWebhook returns a webhook by ID.
func (s *Store) GetWebhook(ctx context.Context, id int64) (*model.Webhook, error) {
	var row webhookRow
	if err := s.db.GetContext(ctx, &row, s.rebind("SELECT * FROM webhooks WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get webhook: %w", err)
	}
	w, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListWebhooks returns all registered endpoints.
func (s *Store) ListWebhooks(ctx context.Context) ([]model.Webhook, error) {
	var rows []webhookRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM webhooks ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}

	hooks := make([]model.Webhook, 0, len(rows))
	for _, r := range rows {
		w, err := r.toModel()
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, w)
	}
	return hooks, nil
}

// UpdateWebhook updates an existing endpoint. The UpdatedAt field is
// refreshed automatically.
func (s *Store) UpdateWebhook(ctx context.Context, w *model.Webhook) error {
	w.UpdatedAt = time.Now().UTC()

	row, err := webhookRowFromModel(w)
	if err != nil {
		return err
	}

	const q = `UPDATE webhooks SET
		url = :url, secret = :secret, events_json = :events_json,
		is_active = :is_active, updated_at = :updated_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return fmt.Errorf("update webhook: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update webhook rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteWebhook removes an endpoint by ID. Past deliveries are kept.
func (s *Store) DeleteWebhook(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM webhooks WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete webhook rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordWebhookDelivery appends one delivery attempt record.
func (s *Store) RecordWebhookDelivery(ctx context.Context, d *model.WebhookDelivery) error {
	d.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO webhook_deliveries
		(webhook_id, event, status_code, error, duration_ms, created_at)
		VALUES
		(:webhook_id, :event, :status_code, :error, :duration_ms, :created_at)`

	id, err := s.insert(ctx, q, d)
	if err != nil {
		return fmt.Errorf("insert webhook delivery: %w", err)
	}
	d.ID = id
	return nil
}

// ListWebhookDeliveries returns recent delivery attempts for an endpoint,
// newest first.
func (s *Store) ListWebhookDeliveries(ctx context.Context, webhookID int64, limit int) ([]model.WebhookDelivery, error) {
	var deliveries []model.WebhookDelivery
	if err := s.db.SelectContext(ctx, &deliveries,
		s.rebind("SELECT * FROM webhook_deliveries WHERE webhook_id = ? ORDER BY created_at DESC LIMIT ?"),
		webhookID, limit); err != nil {
		return nil, fmt.Errorf("list webhook deliveries: %w", err)
	}
	return deliveries, nil
}
