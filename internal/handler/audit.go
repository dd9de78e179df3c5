package handler

import (
	"net/http"
	"time"

	"github.com/bloomworks/bloom/internal/model"
	"github.com/bloomworks/bloom/internal/store"
)

// AuditHandler exposes the append-only security event log to super admins.
type AuditHandler struct {
	store *store.Store
}

func NewAuditHandler(st *store.Store) *AuditHandler {
	return &AuditHandler{store: st}
}

// List returns audit entries, newest first. Supports event_type, since
// (RFC 3339), and limit query parameters.
// GET /api/v1/admin/audit
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	eventType := queryString(r, "event_type")
	limit := clampInt(queryInt(r, "limit", 100), 1, 1000)

	since := time.Time{}
	if raw := queryString(r, "since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = parsed
	}

	events, err := h.store.ListSecurityEvents(r.Context(), eventType, since, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list audit events")
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: events,
		Meta:     &model.ResponseMeta{Count: len(events), Limit: limit},
	})
}
