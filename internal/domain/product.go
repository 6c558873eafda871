package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Currency string

const (
	CurrencyRON Currency = "RON"
	CurrencyEUR Currency = "EUR"
	CurrencyUSD Currency = "USD"
)

// Product is identified externally by its unique business code; the id
// is internal. Stock never goes below zero (enforced by the ledger and
// by a CHECK constraint).
type Product struct {
	ID          string          `json:"id"`
	Code        string          `json:"code"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Currency    Currency        `json:"currency"`
	Stock       int             `json:"stock"`
	Valid       bool            `json:"valid"`
	CreatedAt   time.Time       `json:"created_at"`
}
