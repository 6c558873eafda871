package domain

import "errors"

// Validation errors: an identifier in the request does not resolve.
var (
	ErrInvalidCustomerID  = errors.New("invalid customer id")
	ErrInvalidProductID   = errors.New("invalid product id")
	ErrInvalidProductCode = errors.New("invalid product code")
	ErrInvalidOrderID     = errors.New("invalid order id")
)

// State-conflict errors: the order is not in a state that admits the
// requested transition.
var (
	ErrOrderCanceled         = errors.New("order was canceled")
	ErrOrderAlreadyDelivered = errors.New("order was already delivered")
	ErrOrderNotDeliveredYet  = errors.New("order was not delivered yet")
)

// ErrNotEnoughStock rejects a placement that would oversell any of the
// requested products. No stock is reserved when it is returned.
var ErrNotEnoughStock = errors.New("not enough stock")

// ErrNotPermitted is the uniform authorization denial, distinct from
// every domain error.
var ErrNotPermitted = errors.New("operation not permitted")
