// Package notifier turns committed order lifecycle events into
// customer emails.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/adumitrescu/onlineshop/internal/domain"
)

// Directory resolves a customer id to the stored user record.
// auth.UserRepository is the production implementation.
type Directory interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

type Handler struct {
	emailServiceURL string
	directory       Directory
	httpClient      *http.Client
	logger          *slog.Logger
}

func NewHandler(emailServiceURL string, directory Directory, client *http.Client, logger *slog.Logger) *Handler {
	return &Handler{
		emailServiceURL: emailServiceURL,
		directory:       directory,
		httpClient:      client,
		logger:          logger,
	}
}

// Handle consumes one lifecycle event. Unknown customers and unknown
// event types are logged and dropped rather than retried; a failing
// email service propagates the error so the offset is not committed.
func (h *Handler) Handle(ctx context.Context, payload []byte) error {
	var event domain.OrderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal order event: %w", err)
	}

	h.logger.Info("processing order event", "type", event.Type, "order_id", event.OrderID)

	subject, body, ok := composeEmail(event)
	if !ok {
		h.logger.Warn("skipping unknown event type", "type", event.Type, "order_id", event.OrderID)
		return nil
	}

	user, err := h.directory.GetByID(ctx, event.CustomerID)
	if err != nil {
		return fmt.Errorf("resolve customer %s: %w", event.CustomerID, err)
	}
	if user == nil {
		h.logger.Warn("customer not found, dropping event", "customer_id", event.CustomerID, "order_id", event.OrderID)
		return nil
	}

	if err := h.sendEmail(ctx, user.Email, subject, body); err != nil {
		return fmt.Errorf("send %s email for order %s: %w", event.Type, event.OrderID, err)
	}

	h.logger.Info("notification sent", "type", event.Type, "order_id", event.OrderID, "to", user.Email)
	return nil
}

func composeEmail(event domain.OrderEvent) (subject, body string, ok bool) {
	switch event.Type {
	case domain.OrderEventPlaced:
		return "Order confirmation: " + event.OrderID,
			fmt.Sprintf("Your order %s with %d items has been placed.", event.OrderID, len(event.Items)),
			true
	case domain.OrderEventDelivered:
		return "Order delivered: " + event.OrderID,
			fmt.Sprintf("Your order %s has been delivered.", event.OrderID),
			true
	case domain.OrderEventCanceled:
		return "Order canceled: " + event.OrderID,
			fmt.Sprintf("Your order %s has been canceled.", event.OrderID),
			true
	case domain.OrderEventReturned:
		return "Return received: " + event.OrderID,
			fmt.Sprintf("We received the return of order %s. Your refund is on its way.", event.OrderID),
			true
	}
	return "", "", false
}

func (h *Handler) sendEmail(ctx context.Context, to, subject, body string) error {
	data, err := json.Marshal(map[string]string{
		"to":      to,
		"subject": subject,
		"body":    body,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}
