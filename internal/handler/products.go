package handler

import (
	"errors"
	"net/http"

	"github.com/bloomworks/bloom/internal/model"
	"github.com/bloomworks/bloom/internal/store"
	"github.com/bloomworks/bloom/internal/webhook"
)

// ProductHandler serves the product catalog.
type ProductHandler struct {
	store      *store.Store
	dispatcher *webhook.Dispatcher
}

func NewProductHandler(st *store.Store, dispatcher *webhook.Dispatcher) *ProductHandler {
	return &ProductHandler{store: st, dispatcher: dispatcher}
}

// ListActive returns active catalog items for the public site.
// GET /api/v1/products
func (h *ProductHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	products, err := h.store.ListProducts(r.Context(), true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list products")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"resource": products})
}

// Get returns one active product.
// GET /api/v1/products/{id}
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}
	product, err := h.store.GetProduct(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load product")
		return
	}
	if !product.IsActive {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	writeJSON(w, http.StatusOK, product)
}

// ListAll returns every product including inactive ones, for the admin
// console.
// GET /api/v1/admin/products
func (h *ProductHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	products, err := h.store.ListProducts(r.Context(), false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list products")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"resource": products})
}

type productRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
	Category    string `json:"category"`
	ImageURL    string `json:"image_url"`
	Stock       int    `json:"stock"`
	IsActive    bool   `json:"is_active"`
}

func (req *productRequest) validate() error {
	if req.Name == "" {
		return errors.New("name is required")
	}
	if req.Price < 0 {
		return errors.New("price must not be negative")
	}
	if req.Stock < 0 {
		return errors.New("stock must not be negative")
	}
	return nil
}

// Create adds a product and emits product.created.
// POST /api/v1/admin/products
func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	product := &model.Product{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Category:    req.Category,
		ImageURL:    req.ImageURL,
		Stock:       req.Stock,
		IsActive:    req.IsActive,
	}
	if err := h.store.CreateProduct(r.Context(), product); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create product")
		return
	}

	h.dispatcher.Emit(r.Context(), model.EventProductCreated, product)
	writeJSON(w, http.StatusCreated, product)
}

// Update modifies a product.
// PUT /api/v1/admin/products/{id}
func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}
	product, err := h.store.GetProduct(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load product")
		return
	}

	var req productRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	product.Name = req.Name
	product.Description = req.Description
	product.Price = req.Price
	product.Category = req.Category
	product.ImageURL = req.ImageURL
	product.Stock = req.Stock
	product.IsActive = req.IsActive

	if err := h.store.UpdateProduct(r.Context(), product); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update product")
		return
	}
	writeJSON(w, http.StatusOK, product)
}

// Delete removes a product.
// DELETE /api/v1/admin/products/{id}
func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}
	if err := h.store.DeleteProduct(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete product")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
