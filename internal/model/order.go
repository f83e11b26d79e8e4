package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order sides and statuses.
const (
	SideBuy  = "buy"
	SideSell = "sell"

	OrderStatusPlaced   = "placed"
	OrderStatusRejected = "rejected"
)

// OrderRequest describes a market order to submit.
// Size is optional; zero means "size from capital and leverage".
type OrderRequest struct {
	InstID     string          `json:"inst_id"`
	Side       string          `json:"side"` // buy, sell
	Price      decimal.Decimal `json:"price"`
	Size       decimal.Decimal `json:"size"`
	MarginMode string          `json:"margin_mode"` // cross, isolated
	Leverage   string          `json:"leverage"`
}

// OrderResult is the consolidated outcome of an order submission.
// Rejections by the exchange are reported here with Status "rejected", not as errors.
type OrderResult struct {
	OrderID      string          `json:"order_id"`
	InstID       string          `json:"inst_id"`
	Side         string          `json:"side"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	Size         decimal.Decimal `json:"size"`
	TPPrice      decimal.Decimal `json:"tp_price"`
	SLPrice      decimal.Decimal `json:"sl_price"`
	Status       string          `json:"status"`
	ExchangeCode string          `json:"exchange_code,omitempty"`
	Message      string          `json:"message,omitempty"`
	OrderState   string          `json:"order_state,omitempty"` // from order details poll
	BracketError string          `json:"bracket_error,omitempty"`
	SubmittedAt  time.Time       `json:"submitted_at"`
}

// Rejected reports whether the exchange refused the order.
func (r *OrderResult) Rejected() bool {
	return r.Status == OrderStatusRejected
}
