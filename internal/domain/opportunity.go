package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opportunity is a fee-adjusted price discrepancy detected by the scanner.
// Immutable once created; consumed by the risk guardian and the executor.
type Opportunity struct {
	ID         string          `json:"id"`
	MarketID   string          `json:"market_id"`
	Venue      string          `json:"venue"`
	GrossEdge  decimal.Decimal `json:"gross_edge"`
	FeeRate    decimal.Decimal `json:"fee_rate"`
	NetEdge    decimal.Decimal `json:"net_edge"`
	Side       OrderSide       `json:"side"`
	SizeHint   decimal.Decimal `json:"size_hint"`
	DetectedAt time.Time       `json:"detected_at"`
}

// OpportunityID derives a stable identifier from the market and the detection
// window it falls in. Duplicate detections within one window collapse to the
// same ID, which is what makes at-least-once bus delivery safe downstream.
func OpportunityID(marketID string, detectedAt time.Time, window time.Duration) string {
	bucket := detectedAt.UTC().Truncate(window).Unix()
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", marketID, bucket)))
	return hex.EncodeToString(sum[:16])
}
