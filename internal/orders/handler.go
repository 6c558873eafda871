package orders

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/adumitrescu/onlineshop/internal/auth"
	"github.com/adumitrescu/onlineshop/internal/domain"
	"github.com/adumitrescu/onlineshop/internal/messaging"
)

const actorHeader = "X-Actor-ID"

// Lifecycle is the order state machine as seen by the HTTP boundary.
// *OrderRepository is the production implementation.
type Lifecycle interface {
	Place(ctx context.Context, customerID string, items []domain.OrderItem) (*domain.Order, error)
	Deliver(ctx context.Context, id string) (*domain.Order, error)
	Cancel(ctx context.Context, id string) (*domain.Order, error)
	Return(ctx context.Context, id string) (*domain.Order, error)
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	List(ctx context.Context) ([]domain.Order, error)
}

type Authorizer interface {
	Authorize(ctx context.Context, actorID string, op auth.Operation) error
}

type Handler struct {
	lifecycle Lifecycle
	gate      Authorizer
	producer  *messaging.Producer
	logger    *slog.Logger
}

func NewHandler(lifecycle Lifecycle, gate Authorizer, producer *messaging.Producer, logger *slog.Logger) *Handler {
	return &Handler{
		lifecycle: lifecycle,
		gate:      gate,
		producer:  producer,
		logger:    logger,
	}
}

type placeOrderRequest struct {
	CustomerID string         `json:"customer_id"`
	Items      map[string]int `json:"items"`
}

func (h *Handler) HandlePlace(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(req.Items) == 0 {
		h.writeError(w, http.StatusBadRequest, "order must contain at least one item")
		return
	}

	items := make([]domain.OrderItem, 0, len(req.Items))
	for productID, quantity := range req.Items {
		if quantity <= 0 {
			h.writeError(w, http.StatusBadRequest, "quantity must be positive")
			return
		}
		items = append(items, domain.OrderItem{ProductID: productID, Quantity: quantity})
	}

	// The placing customer is the actor.
	if err := h.gate.Authorize(r.Context(), req.CustomerID, auth.OpPlaceOrder); err != nil {
		h.writeDomainError(w, err)
		return
	}

	order, err := h.lifecycle.Place(r.Context(), req.CustomerID, items)
	if err != nil {
		h.writeLifecycleError(w, err, "failed to place order", "customer_id", req.CustomerID)
		return
	}

	h.publish(r.Context(), domain.OrderEventPlaced, order)

	h.logger.Info("order placed", "order_id", order.ID, "customer_id", order.CustomerID)
	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) HandleDeliver(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, auth.OpDeliverOrder, h.lifecycle.Deliver, domain.OrderEventDelivered, "order delivered")
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, auth.OpCancelOrder, h.lifecycle.Cancel, domain.OrderEventCanceled, "order canceled")
}

func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, auth.OpReturnOrder, h.lifecycle.Return, domain.OrderEventReturned, "order returned")
}

func (h *Handler) handleTransition(
	w http.ResponseWriter,
	r *http.Request,
	op auth.Operation,
	transition func(ctx context.Context, id string) (*domain.Order, error),
	eventType domain.OrderEventType,
	logMsg string,
) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	if err := h.gate.Authorize(r.Context(), r.Header.Get(actorHeader), op); err != nil {
		h.writeDomainError(w, err)
		return
	}

	order, err := transition(r.Context(), id)
	if err != nil {
		h.writeLifecycleError(w, err, "failed to transition order", "order_id", id)
		return
	}

	h.publish(r.Context(), eventType, order)

	h.logger.Info(logMsg, "order_id", order.ID)
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.lifecycle.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "order_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if order == nil {
		h.writeDomainError(w, domain.ErrInvalidOrderID)
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	orders, err := h.lifecycle.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list orders", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) publish(ctx context.Context, eventType domain.OrderEventType, order *domain.Order) {
	if h.producer == nil {
		return
	}

	event := domain.OrderEvent{
		Type:       eventType,
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Items:      order.Items,
		Timestamp:  time.Now().UTC(),
	}
	if err := h.producer.Publish(ctx, order.ID, event); err != nil {
		h.logger.Error("failed to publish order event", "error", err, "order_id", order.ID, "type", eventType)
	}
}

func (h *Handler) writeLifecycleError(w http.ResponseWriter, err error, msg string, key, value string) {
	if status, message := statusForError(err); status != 0 {
		h.writeError(w, status, message)
		return
	}
	h.logger.Error(msg, "error", err, key, value)
	h.writeError(w, http.StatusInternalServerError, "internal server error")
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	if status, message := statusForError(err); status != 0 {
		h.writeError(w, status, message)
		return
	}
	h.writeError(w, http.StatusInternalServerError, "internal server error")
}

// statusForError maps each domain error kind to its fixed user-visible
// rejection. Validation errors are 404, state conflicts and stock
// shortage 409, authorization denial 403.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotPermitted):
		return http.StatusForbidden, "operation not permitted"
	case errors.Is(err, domain.ErrInvalidCustomerID):
		return http.StatusNotFound, "invalid customer id"
	case errors.Is(err, domain.ErrInvalidProductID):
		return http.StatusNotFound, "invalid product id"
	case errors.Is(err, domain.ErrInvalidOrderID):
		return http.StatusNotFound, "invalid order id"
	case errors.Is(err, domain.ErrNotEnoughStock):
		return http.StatusConflict, "not enough stock"
	case errors.Is(err, domain.ErrOrderCanceled):
		return http.StatusConflict, "order was canceled"
	case errors.Is(err, domain.ErrOrderAlreadyDelivered):
		return http.StatusConflict, "order was already delivered"
	case errors.Is(err, domain.ErrOrderNotDeliveredYet):
		return http.StatusConflict, "order was not delivered yet"
	}
	return 0, ""
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
