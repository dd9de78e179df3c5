package handler

import (
	"errors"
	"net/http"

	"github.com/bloomworks/bloom/internal/model"
	"github.com/bloomworks/bloom/internal/server/middleware"
	"github.com/bloomworks/bloom/internal/store"
	"github.com/bloomworks/bloom/internal/webhook"
)

// SaleHandler is the staff-facing CRM surface for customer orders.
type SaleHandler struct {
	store      *store.Store
	dispatcher *webhook.Dispatcher
}

func NewSaleHandler(st *store.Store, dispatcher *webhook.Dispatcher) *SaleHandler {
	return &SaleHandler{store: st, dispatcher: dispatcher}
}

// List returns sales, newest first, optionally filtered by status.
// GET /api/v1/admin/sales
func (h *SaleHandler) List(w http.ResponseWriter, r *http.Request) {
	status := model.SaleStatus(queryString(r, "status"))
	if status != "" && !model.ValidSaleStatus(status) {
		writeError(w, http.StatusBadRequest, "unknown status filter")
		return
	}
	limit := clampInt(queryInt(r, "limit", 50), 1, 200)
	offset := queryInt(r, "offset", 0)

	sales, err := h.store.ListSales(r.Context(), status, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sales")
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: sales,
		Meta:     &model.ResponseMeta{Count: len(sales), Limit: limit, Offset: offset},
	})
}

// Get returns one sale.
// GET /api/v1/admin/sales/{id}
func (h *SaleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sale id")
		return
	}
	sale, err := h.store.GetSale(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "sale not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load sale")
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

type saleRequest struct {
	ProductID     int64  `json:"product_id"`
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	Quantity      int    `json:"quantity"`
	Amount        int64  `json:"amount"`
	Note          string `json:"note"`
}

func (req *saleRequest) validate() error {
	if req.CustomerName == "" {
		return errors.New("customer_name is required")
	}
	if req.Quantity < 1 {
		return errors.New("quantity must be at least 1")
	}
	if req.Amount < 0 {
		return errors.New("amount must not be negative")
	}
	return nil
}

// Create records a sale in status "new" and emits sale.created.
// POST /api/v1/admin/sales
func (h *SaleHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	var req saleRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ProductID != 0 {
		if _, err := h.store.GetProduct(r.Context(), req.ProductID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusBadRequest, "unknown product")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to check product")
			return
		}
	}

	sale := &model.Sale{
		ProductID:     req.ProductID,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		Quantity:      req.Quantity,
		Amount:        req.Amount,
		Status:        model.SaleNew,
		Note:          req.Note,
		CreatedBy:     principal.User.ID,
	}
	if err := h.store.CreateSale(r.Context(), sale); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create sale")
		return
	}

	h.dispatcher.Emit(r.Context(), model.EventSaleCreated, sale)
	writeJSON(w, http.StatusCreated, sale)
}

// Update modifies a sale's customer and order details. Status changes go
// through UpdateStatus.
// PUT /api/v1/admin/sales/{id}
func (h *SaleHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sale id")
		return
	}
	sale, err := h.store.GetSale(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "sale not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load sale")
		return
	}

	var req saleRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sale.ProductID = req.ProductID
	sale.CustomerName = req.CustomerName
	sale.CustomerPhone = req.CustomerPhone
	sale.Quantity = req.Quantity
	sale.Amount = req.Amount
	sale.Note = req.Note

	if err := h.store.UpdateSale(r.Context(), sale); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update sale")
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

type saleStatusRequest struct {
	Status model.SaleStatus `json:"status"`
}

// UpdateStatus moves a sale through its lifecycle and emits sale.updated.
// PUT /api/v1/admin/sales/{id}/status
func (h *SaleHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sale id")
		return
	}
	sale, err := h.store.GetSale(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "sale not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load sale")
		return
	}

	var req saleStatusRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !model.ValidSaleStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}

	if sale.Status != req.Status {
		sale.Status = req.Status
		if err := h.store.UpdateSale(r.Context(), sale); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to update sale")
			return
		}
		h.dispatcher.Emit(r.Context(), model.EventSaleUpdated, sale)
	}
	writeJSON(w, http.StatusOK, sale)
}
