// Package webhook delivers HMAC-signed event payloads to registered
// external endpoints.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bloomworks/bloom/internal/model"
	"github.com/bloomworks/bloom/internal/store"
)

const (
	// SignatureHeader carries the hex HMAC-SHA256 of the request body,
	// keyed with the webhook's secret.
	SignatureHeader = "X-Bloom-Signature"
	// EventHeader names the event so receivers can route without parsing.
	EventHeader = "X-Bloom-Event"
	// DeliveryHeader carries a unique ID per delivery attempt.
	DeliveryHeader = "X-Bloom-Delivery"

	httpTimeout = 10 * time.Second
)

// Sign computes the signature header value for a payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature against the payload in
// constant time. Exposed for receivers built on this module.
func VerifySignature(secret string, payload []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, payload)), []byte(signature))
}

// envelope is the JSON body posted to endpoints.
type envelope struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Dispatcher fans events out to subscribed webhooks. Deliveries run in
// background goroutines and are single-shot: the outcome is recorded in the
// delivery log but failed attempts are not retried.
type Dispatcher struct {
	store  *store.Store
	client *http.Client
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewDispatcher(st *store.Store, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:  st,
		client: &http.Client{Timeout: httpTimeout},
		logger: logger,
	}
}

// Emit delivers the event to every active webhook subscribed to it. The
// call returns immediately; deliveries happen in the background. Emission
// is best-effort and never fails the operation that triggered it.
func (d *Dispatcher) Emit(ctx context.Context, event string, data interface{}) {
	hooks, err := d.store.ListWebhooks(ctx)
	if err != nil {
		d.logger.Warn("list webhooks", "event", event, "error", err)
		return
	}

	body, err := json.Marshal(envelope{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
	if err != nil {
		d.logger.Warn("marshal webhook payload", "event", event, "error", err)
		return
	}

	for _, hook := range hooks {
		if !hook.IsActive || !hook.Subscribed(event) {
			continue
		}
		d.wg.Add(1)
		go func(hook model.Webhook) {
			defer d.wg.Done()
			d.deliver(hook, event, body)
		}(hook)
	}
}

// Wait blocks until all in-flight deliveries have finished. Called during
// graceful shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(hook model.Webhook, event string, body []byte) {
	delivery := &model.WebhookDelivery{
		WebhookID: hook.ID,
		Event:     event,
	}
	start := time.Now()

	err := d.post(hook, event, body, delivery)
	delivery.DurationMs = float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		delivery.Error = err.Error()
		d.logger.Warn("webhook delivery failed",
			"webhook_id", hook.ID, "event", event, "error", err)
	}

	// Delivery context is detached from the request that triggered the
	// event; the log write gets its own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.store.RecordWebhookDelivery(ctx, delivery); err != nil {
		d.logger.Warn("record webhook delivery", "webhook_id", hook.ID, "error", err)
	}
}

func (d *Dispatcher) post(hook model.Webhook, event string, body []byte, delivery *model.WebhookDelivery) error {
	req, err := http.NewRequest(http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(hook.Secret, body))
	req.Header.Set(EventHeader, event)
	req.Header.Set(DeliveryHeader, uuid.Must(uuid.NewV7()).String())

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	delivery.StatusCode = resp.StatusCode
	return nil
}
