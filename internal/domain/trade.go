package domain

import "github.com/shopspring/decimal"

// TradeEvent is the terminal record published on trade.executed. RealizedPnL
// is zero until an exit is recorded; paper fills carry the simulated mark.
type TradeEvent struct {
	Order       Order           `json:"order"`
	Mode        string          `json:"mode"` // "paper" | "live"
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
}
