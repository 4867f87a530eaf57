package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskReason is the machine-readable reason code attached to every verdict
// published on the risk.decision channel.
type RiskReason string

const (
	RiskReasonApproved      RiskReason = "approved"
	RiskReasonHalted        RiskReason = "halted"
	RiskReasonPositionLimit RiskReason = "position_limit"
	RiskReasonDrawdownStop  RiskReason = "drawdown_stop"
)

// RiskDecision is the guardian's verdict on a single opportunity.
type RiskDecision struct {
	OpportunityID string          `json:"opportunity_id"`
	MarketID      string          `json:"market_id"`
	Approved      bool            `json:"approved"`
	Reason        RiskReason      `json:"reason"`
	ApprovedSize  decimal.Decimal `json:"approved_size"`
	Equity        decimal.Decimal `json:"equity"`
	Floor         decimal.Decimal `json:"floor"`
	DecidedAt     time.Time       `json:"decided_at"`
}

// RiskState is the guardian's single-owner state for one bankroll. Floor is
// monotonically non-decreasing: it only moves when equity sets a new peak.
type RiskState struct {
	Bankroll      decimal.Decimal            `json:"bankroll"`
	Equity        decimal.Decimal            `json:"equity"`
	PeakEquity    decimal.Decimal            `json:"peak_equity"`
	Floor         decimal.Decimal            `json:"floor"`
	OpenPositions map[string]decimal.Decimal `json:"open_positions"`
	TradingHalted bool                       `json:"trading_halted"`
}
