package handler

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/bloomworks/bloom/internal/model"
	"github.com/bloomworks/bloom/internal/store"
)

// WebhookHandler manages registered webhook endpoints and their delivery
// logs.
type WebhookHandler struct {
	store *store.Store
}

func NewWebhookHandler(st *store.Store) *WebhookHandler {
	return &WebhookHandler{store: st}
}

// List returns all registered webhooks.
// GET /api/v1/admin/webhooks
func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	hooks, err := h.store.ListWebhooks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list webhooks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"resource": hooks})
}

type webhookRequest struct {
	URL      string   `json:"url"`
	Secret   string   `json:"secret"`
	Events   []string `json:"events"`
	IsActive bool     `json:"is_active"`
}

func (req *webhookRequest) validate() error {
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("url must be a valid http or https URL")
	}
	if len(req.Secret) < 16 {
		return errors.New("secret must be at least 16 characters")
	}
	if len(req.Events) == 0 {
		return errors.New("at least one event is required")
	}
	for _, event := range req.Events {
		known := false
		for _, k := range model.KnownWebhookEvents {
			if event == k {
				known = true
				break
			}
		}
		if !known {
			return errors.New("unknown event: " + event)
		}
	}
	return nil
}

// Create registers a webhook endpoint.
// POST /api/v1/admin/webhooks
func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hook := &model.Webhook{
		URL:      req.URL,
		Secret:   req.Secret,
		Events:   req.Events,
		IsActive: req.IsActive,
	}
	if err := h.store.CreateWebhook(r.Context(), hook); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create webhook")
		return
	}
	writeJSON(w, http.StatusCreated, hook)
}

// Update modifies a webhook registration.
// PUT /api/v1/admin/webhooks/{id}
func (h *WebhookHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook id")
		return
	}
	hook, err := h.store.GetWebhook(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "webhook not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load webhook")
		return
	}

	var req webhookRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hook.URL = req.URL
	hook.Secret = req.Secret
	hook.Events = req.Events
	hook.IsActive = req.IsActive

	if err := h.store.UpdateWebhook(r.Context(), hook); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update webhook")
		return
	}
	writeJSON(w, http.StatusOK, hook)
}

// Delete removes a webhook registration.
// DELETE /api/v1/admin/webhooks/{id}
func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook id")
		return
	}
	if err := h.store.DeleteWebhook(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "webhook not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete webhook")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// Deliveries returns recent delivery attempts for a webhook, newest first.
// GET /api/v1/admin/webhooks/{id}/deliveries
func (h *WebhookHandler) Deliveries(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook id")
		return
	}
	if _, err := h.store.GetWebhook(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "webhook not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load webhook")
		return
	}

	limit := clampInt(queryInt(r, "limit", 50), 1, 200)
	deliveries, err := h.store.ListWebhookDeliveries(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list deliveries")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"resource": deliveries})
}
