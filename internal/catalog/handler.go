package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/adumitrescu/onlineshop/internal/auth"
	"github.com/adumitrescu/onlineshop/internal/domain"
)

// actorHeader carries the acting user's id on mutating requests.
const actorHeader = "X-Actor-ID"

type Store interface {
	Create(ctx context.Context, product *domain.Product) error
	GetByCode(ctx context.Context, code string) (*domain.Product, error)
	List(ctx context.Context) ([]domain.Product, error)
	Update(ctx context.Context, product *domain.Product) error
	Delete(ctx context.Context, code string) error
	AddStock(ctx context.Context, code string, quantity int) error
}

type Authorizer interface {
	Authorize(ctx context.Context, actorID string, op auth.Operation) error
}

type Handler struct {
	store  Store
	gate   Authorizer
	logger *slog.Logger
}

func NewHandler(store Store, gate Authorizer, logger *slog.Logger) *Handler {
	return &Handler{
		store:  store,
		gate:   gate,
		logger: logger,
	}
}

type productRequest struct {
	Code        string          `json:"code"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Currency    domain.Currency `json:"currency"`
	Stock       int             `json:"stock"`
	Valid       bool            `json:"valid"`
}

func (h *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.Authorize(r.Context(), r.Header.Get(actorHeader), auth.OpAddProduct); err != nil {
		h.writeDomainError(w, err)
		return
	}

	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Code == "" {
		h.writeError(w, http.StatusBadRequest, "missing product code")
		return
	}

	product := &domain.Product{
		Code:        req.Code,
		Description: req.Description,
		Price:       req.Price,
		Currency:    req.Currency,
		Stock:       req.Stock,
		Valid:       req.Valid,
	}

	if err := h.store.Create(r.Context(), product); err != nil {
		h.logger.Error("failed to add product", "error", err, "code", req.Code)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("product added", "product_id", product.ID, "code", product.Code)
	h.writeJSON(w, http.StatusCreated, product)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if code == "" {
		h.writeError(w, http.StatusBadRequest, "missing product code")
		return
	}

	product, err := h.store.GetByCode(r.Context(), code)
	if err != nil {
		h.logger.Error("failed to get product", "error", err, "code", code)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if product == nil {
		h.writeDomainError(w, domain.ErrInvalidProductCode)
		return
	}

	h.writeJSON(w, http.StatusOK, product)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	products, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list products", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if products == nil {
		products = []domain.Product{}
	}

	h.writeJSON(w, http.StatusOK, products)
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.Authorize(r.Context(), r.Header.Get(actorHeader), auth.OpUpdateProduct); err != nil {
		h.writeDomainError(w, err)
		return
	}

	code := r.PathValue("code")
	if code == "" {
		h.writeError(w, http.StatusBadRequest, "missing product code")
		return
	}

	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	product := &domain.Product{
		Code:        code,
		Description: req.Description,
		Price:       req.Price,
		Currency:    req.Currency,
		Stock:       req.Stock,
		Valid:       req.Valid,
	}

	if err := h.store.Update(r.Context(), product); err != nil {
		h.writeStoreError(w, err, "failed to update product", code)
		return
	}

	h.logger.Info("product updated", "code", code)
	h.writeJSON(w, http.StatusOK, product)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.Authorize(r.Context(), r.Header.Get(actorHeader), auth.OpDeleteProduct); err != nil {
		h.writeDomainError(w, err)
		return
	}

	code := r.PathValue("code")
	if code == "" {
		h.writeError(w, http.StatusBadRequest, "missing product code")
		return
	}

	if err := h.store.Delete(r.Context(), code); err != nil {
		h.writeStoreError(w, err, "failed to delete product", code)
		return
	}

	h.logger.Info("product deleted", "code", code)
	w.WriteHeader(http.StatusNoContent)
}

type addStockRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) HandleAddStock(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.Authorize(r.Context(), r.Header.Get(actorHeader), auth.OpAddStock); err != nil {
		h.writeDomainError(w, err)
		return
	}

	code := r.PathValue("code")
	if code == "" {
		h.writeError(w, http.StatusBadRequest, "missing product code")
		return
	}

	var req addStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Quantity <= 0 {
		h.writeError(w, http.StatusBadRequest, "quantity must be positive")
		return
	}

	if err := h.store.AddStock(r.Context(), code, req.Quantity); err != nil {
		h.writeStoreError(w, err, "failed to add stock", code)
		return
	}

	product, err := h.store.GetByCode(r.Context(), code)
	if err != nil {
		h.logger.Error("failed to get updated product", "error", err, "code", code)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("stock added", "code", code, "quantity", req.Quantity)
	h.writeJSON(w, http.StatusOK, product)
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error, msg, code string) {
	if errors.Is(err, domain.ErrInvalidProductCode) {
		h.writeDomainError(w, err)
		return
	}
	h.logger.Error(msg, "error", err, "code", code)
	h.writeError(w, http.StatusInternalServerError, "internal server error")
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotPermitted):
		h.writeError(w, http.StatusForbidden, "operation not permitted")
	case errors.Is(err, domain.ErrInvalidProductCode):
		h.writeError(w, http.StatusNotFound, "invalid product code")
	case errors.Is(err, domain.ErrInvalidCustomerID):
		h.writeError(w, http.StatusNotFound, "invalid customer id")
	default:
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
