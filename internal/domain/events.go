package domain

import "time"

type OrderEventType string

const (
	OrderEventPlaced    OrderEventType = "placed"
	OrderEventDelivered OrderEventType = "delivered"
	OrderEventCanceled  OrderEventType = "canceled"
	OrderEventReturned  OrderEventType = "returned"
)

// OrderEvent is published to Kafka after every committed lifecycle
// transition, keyed by order id.
type OrderEvent struct {
	Type       OrderEventType `json:"type"`
	OrderID    string         `json:"order_id"`
	CustomerID string         `json:"customer_id"`
	Items      []OrderItem    `json:"items"`
	Timestamp  time.Time      `json:"timestamp"`
}
