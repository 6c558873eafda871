package domain

import "time"

// OrderItem pairs one product with the quantity ordered. Items are
// owned by their order and share its lifetime.
type OrderItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Order carries three independent lifecycle flags. Delivered and
// canceled are mutually exclusive at transition time; returned is only
// reachable after delivery.
type Order struct {
	ID         string      `json:"id"`
	CustomerID string      `json:"customer_id"`
	Items      []OrderItem `json:"items"`
	Delivered  bool        `json:"delivered"`
	Canceled   bool        `json:"canceled"`
	Returned   bool        `json:"returned"`
	CreatedAt  time.Time   `json:"created_at"`
}

// MarkDelivered sets the delivered flag. A canceled order cannot be
// delivered. Delivering an already-delivered order again is accepted.
func (o *Order) MarkDelivered() error {
	if o.Canceled {
		return ErrOrderCanceled
	}
	o.Delivered = true
	return nil
}

// MarkCanceled sets the canceled flag. Cancellation is only possible
// before delivery. It does not release reserved stock; see Return.
func (o *Order) MarkCanceled() error {
	if o.Delivered {
		return ErrOrderAlreadyDelivered
	}
	o.Canceled = true
	return nil
}

// MarkReturned sets the returned flag. Only a delivered, non-canceled
// order can be returned. The caller restocks the item quantities.
func (o *Order) MarkReturned() error {
	if !o.Delivered {
		return ErrOrderNotDeliveredYet
	}
	if o.Canceled {
		return ErrOrderCanceled
	}
	o.Returned = true
	return nil
}
