package handler

import (
	"errors"
	"net/http"

	"github.com/bloomworks/bloom/internal/model"
	"github.com/bloomworks/bloom/internal/store"
)

// PortfolioHandler serves the showcase gallery.
type PortfolioHandler struct {
	store *store.Store
}

func NewPortfolioHandler(st *store.Store) *PortfolioHandler {
	return &PortfolioHandler{store: st}
}

// List returns all entries in display order.
// GET /api/v1/portfolio
func (h *PortfolioHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.ListPortfolio(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list portfolio")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"resource": entries})
}

// Get returns one entry.
// GET /api/v1/portfolio/{id}
func (h *PortfolioHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid portfolio id")
		return
	}
	entry, err := h.store.GetPortfolioEntry(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "portfolio entry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load portfolio entry")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type portfolioRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
	Category    string `json:"category"`
	SortOrder   int    `json:"sort_order"`
}

// Create adds an entry.
// POST /api/v1/admin/portfolio
func (h *PortfolioHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req portfolioRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" || req.ImageURL == "" {
		writeError(w, http.StatusBadRequest, "title and image_url are required")
		return
	}

	entry := &model.PortfolioEntry{
		Title:       req.Title,
		Description: req.Description,
		ImageURL:    req.ImageURL,
		Category:    req.Category,
		SortOrder:   req.SortOrder,
	}
	if err := h.store.CreatePortfolioEntry(r.Context(), entry); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create portfolio entry")
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// Update modifies an entry.
// PUT /api/v1/admin/portfolio/{id}
func (h *PortfolioHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid portfolio id")
		return
	}
	entry, err := h.store.GetPortfolioEntry(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "portfolio entry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load portfolio entry")
		return
	}

	var req portfolioRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" || req.ImageURL == "" {
		writeError(w, http.StatusBadRequest, "title and image_url are required")
		return
	}

	entry.Title = req.Title
	entry.Description = req.Description
	entry.ImageURL = req.ImageURL
	entry.Category = req.Category
	entry.SortOrder = req.SortOrder

	if err := h.store.UpdatePortfolioEntry(r.Context(), entry); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update portfolio entry")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Delete removes an entry.
// DELETE /api/v1/admin/portfolio/{id}
func (h *PortfolioHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid portfolio id")
		return
	}
	if err := h.store.DeletePortfolioEntry(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "portfolio entry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete portfolio entry")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
