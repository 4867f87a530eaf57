package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market is a normalized venue market snapshot. Owned by the venue feed;
// read-only everywhere else.
type Market struct {
	ID        string          `json:"id"`
	Venue     string          `json:"venue"`
	Title     string          `json:"title"`
	Tokens    []string        `json:"tokens,omitempty"`
	BestBid   decimal.Decimal `json:"best_bid"`
	BestAsk   decimal.Decimal `json:"best_ask"`
	Timestamp time.Time       `json:"timestamp"`
}

// Mid returns the midpoint of the current bid/ask, or zero when the book is
// one-sided.
func (m Market) Mid() decimal.Decimal {
	if m.BestBid.IsZero() || m.BestAsk.IsZero() {
		return decimal.Zero
	}
	return m.BestBid.Add(m.BestAsk).Div(decimal.NewFromInt(2))
}

// MappingDirection states which side of the threshold the market pays out on.
type MappingDirection string

const (
	DirectionAbove MappingDirection = "above"
	DirectionBelow MappingDirection = "below"
)

// MarketOracleMapping links a venue market to the oracle symbol that judges
// it. Exactly one active mapping exists per market; re-registration replaces,
// never merges.
type MarketOracleMapping struct {
	MarketID     string           `json:"market_id"`
	OracleSymbol string           `json:"oracle_symbol"`
	Threshold    decimal.Decimal  `json:"threshold"`
	Direction    MappingDirection `json:"direction"`
}
