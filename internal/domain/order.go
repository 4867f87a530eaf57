package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus tracks the order lifecycle. Transitions are monotone: once an
// order reaches a terminal status it never leaves it.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Terminal reports whether s is a final status.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusFailed, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// Order is created by the executor for each approved opportunity. RequestID
// is client-generated and persisted before the outbound call, which is what
// gives retries exactly-once semantics.
type Order struct {
	ID              string          `json:"id"`
	RequestID       string          `json:"request_id"`
	VenueOrderID    string          `json:"venue_order_id,omitempty"`
	OpportunityID   string          `json:"opportunity_id"`
	MarketID        string          `json:"market_id"`
	Venue           string          `json:"venue"`
	TokenID         string          `json:"token_id,omitempty"`
	Side            OrderSide       `json:"side"`
	RequestedAmount decimal.Decimal `json:"requested_amount"`
	MaxPrice        decimal.Decimal `json:"max_price"`
	Status          OrderStatus     `json:"status"`
	FilledAmount    decimal.Decimal `json:"filled_amount"`
	FillPrice       decimal.Decimal `json:"fill_price"`
	Fees            decimal.Decimal `json:"fees"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
