package handler

import (
	"net/http"

	"github.com/bloomworks/bloom/internal/model"
	"github.com/bloomworks/bloom/internal/store"
)

// SettingsHandler serves site settings: a public whitelist for the storefront
// and full read/write for super admins.
type SettingsHandler struct {
	store *store.Store
}

func NewSettingsHandler(st *store.Store) *SettingsHandler {
	return &SettingsHandler{store: st}
}

// Site returns the public settings used to render the storefront: shop
// name, contacts, map coordinates, analytics ID.
// GET /api/v1/site
func (h *SettingsHandler) Site(w http.ResponseWriter, r *http.Request) {
	all, err := h.store.ListSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}

	public := make(map[string]string, len(model.PublicSettings))
	for _, key := range model.PublicSettings {
		if val, ok := all[key]; ok {
			public[key] = val
		}
	}
	writeJSON(w, http.StatusOK, public)
}

// List returns every setting, secrets included.
// GET /api/v1/admin/settings
func (h *SettingsHandler) List(w http.ResponseWriter, r *http.Request) {
	all, err := h.store.ListSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, all)
}

// Update upserts the submitted key-value pairs.
// PUT /api/v1/admin/settings
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req) == 0 {
		writeError(w, http.StatusBadRequest, "no settings provided")
		return
	}
	for key := range req {
		if key == "" {
			writeError(w, http.StatusBadRequest, "setting keys must not be empty")
			return
		}
	}

	for key, value := range req {
		if err := h.store.SetSetting(r.Context(), key, value); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to save setting "+key)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "updated": len(req)})
}
