package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PaperTrade is a simulated fill. The (OpportunityID, MarketID, Side) triple
// is unique at the storage boundary, which enforces the one-open-opportunity
// invariant even across agent restarts.
type PaperTrade struct {
	ID            int64           `json:"id"`
	OpportunityID string          `json:"opportunity_id"`
	MarketID      string          `json:"market_id"`
	Venue         string          `json:"venue"`
	Side          OrderSide       `json:"side"`
	Outcome       string          `json:"outcome"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	Fees          decimal.Decimal `json:"fees"`
	ExpectedEdge  decimal.Decimal `json:"expected_edge"`
	RiskApproved  bool            `json:"risk_approved"`
	Status        OrderStatus     `json:"status"`
	ExitPrice     decimal.Decimal `json:"exit_price"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	CreatedAt     time.Time       `json:"created_at"`
}

// PaperTradeStore persists simulated trades.
type PaperTradeStore interface {
	// Insert writes the trade, silently skipping duplicates on
	// (opportunity_id, market_id, side). It reports whether a row was written.
	Insert(ctx context.Context, t PaperTrade) (bool, error)
	GetByOpportunity(ctx context.Context, opportunityID string) ([]PaperTrade, error)
	ListSince(ctx context.Context, since time.Time) ([]PaperTrade, error)
	UpdateExit(ctx context.Context, id int64, exitPrice, realizedPnL decimal.Decimal, status OrderStatus) error
}

// LiveTradeStore persists live orders. InsertPending is the write-ahead step:
// it must be durable before any outbound venue call with the same request_id.
type LiveTradeStore interface {
	// InsertPending records the order keyed on its unique request_id. When
	// the request_id already exists, it returns the previously recorded
	// order and inserted=false instead of an error.
	InsertPending(ctx context.Context, o Order) (existing Order, inserted bool, err error)
	UpdateOutcome(ctx context.Context, o Order) error
	GetByRequestID(ctx context.Context, requestID string) (Order, error)
	ListSince(ctx context.Context, since time.Time) ([]Order, error)
}
