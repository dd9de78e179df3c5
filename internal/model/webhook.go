package model

import "time"

// Webhook event names emitted by the system.
const (
	EventSaleCreated    = "sale.created"
	EventSaleUpdated    = "sale.updated"
	EventPostPublished  = "post.published"
	EventProductCreated = "product.created"
)

// KnownWebhookEvents lists every event a webhook endpoint may subscribe to.
var KnownWebhookEvents = []string{
	EventSaleCreated,
	EventSaleUpdated,
	EventPostPublished,
	EventProductCreated,
}

// Webhook is a registered external endpoint that receives HMAC-signed JSON
// payloads for the events it subscribes to.
type Webhook struct {
	ID        int64     `json:"id" db:"id"`
	URL       string    `json:"url" db:"url"`
	Secret    string    `json:"-" db:"secret"` // HMAC key, never expose
	Events    []string  `json:"events"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Subscribed reports whether the webhook wants the given event.
func (w *Webhook) Subscribed(event string) bool {
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

// WebhookDelivery records one delivery attempt. Deliveries are single-shot:
// a failed attempt is recorded but not retried.
type WebhookDelivery struct {
	ID         int64     `json:"id" db:"id"`
	WebhookID  int64     `json:"webhook_id" db:"webhook_id"`
	Event      string    `json:"event" db:"event"`
	StatusCode int       `json:"status_code" db:"status_code"` // 0 when transport failed
	Error      string    `json:"error,omitempty" db:"error"`
	DurationMs float64   `json:"duration_ms" db:"duration_ms"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
