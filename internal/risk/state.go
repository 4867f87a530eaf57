// Package risk gates opportunities against position limits and a ratcheting
// drawdown stop. One Guardian instance owns one bankroll's state.
package risk

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/rstover-fo/oraclepilot/internal/domain"
)

// Limits are the guardian's configured bounds.
type Limits struct {
	Bankroll     decimal.Decimal
	PerMarketCap decimal.Decimal
	RatchetPct   decimal.Decimal
}

// State is the mutable risk ledger. All methods are safe for concurrent use;
// a single mutex covers every read-modify-write so checks and reservations
// never interleave.
type State struct {
	mu     sync.Mutex
	limits Limits
	rs     domain.RiskState

	// haltReason records why TradingHalted was set, so verdicts published
	// after a drawdown stop carry "drawdown_stop" rather than the generic
	// "halted" of a manual stop.
	haltReason domain.RiskReason
}

// NewState creates the ledger with equity at the full bankroll and the floor
// at ratchet_pct of it.
func NewState(limits Limits) *State {
	return &State{
		limits: limits,
		rs: domain.RiskState{
			Bankroll:      limits.Bankroll,
			Equity:        limits.Bankroll,
			PeakEquity:    limits.Bankroll,
			Floor:         limits.Bankroll.Mul(limits.RatchetPct),
			OpenPositions: make(map[string]decimal.Decimal),
		},
	}
}

// Evaluate applies the transition rules, strictly in order, to one incoming
// opportunity and returns the verdict. Approval optimistically reserves the
// approved size against the market's open exposure; Release undoes it if the
// executor later reports failure.
func (s *State) Evaluate(opp domain.Opportunity) (domain.RiskReason, decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 1. Session halted: nothing gets through. The reason names the cause,
	// so a drawdown stop stays observable on every verdict it blocks.
	if s.rs.TradingHalted {
		if s.haltReason != "" {
			return s.haltReason, decimal.Zero
		}
		return domain.RiskReasonHalted, decimal.Zero
	}

	// 2. Per-market exposure cap on the projected position. Exceeding the
	// cap rejects outright; sizes are never clipped to fit.
	existing := s.rs.OpenPositions[opp.MarketID]
	requested := opp.SizeHint
	if requested.LessThanOrEqual(decimal.Zero) ||
		existing.Add(requested).GreaterThan(s.limits.PerMarketCap) {
		return domain.RiskReasonPositionLimit, decimal.Zero
	}

	// 3. Ratcheting drawdown stop. Tripping it is terminal for the session;
	// only an external manual reset clears it.
	if s.rs.Equity.LessThan(s.rs.Floor) {
		s.rs.TradingHalted = true
		s.haltReason = domain.RiskReasonDrawdownStop
		return domain.RiskReasonDrawdownStop, decimal.Zero
	}

	// 4. Approve and reserve.
	s.rs.OpenPositions[opp.MarketID] = existing.Add(requested)
	return domain.RiskReasonApproved, requested
}

// Release undoes a reservation after the executor reports a failed order.
func (s *State) Release(marketID string, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	remaining := s.rs.OpenPositions[marketID].Sub(amount)
	if remaining.LessThanOrEqual(decimal.Zero) {
		delete(s.rs.OpenPositions, marketID)
		return
	}
	s.rs.OpenPositions[marketID] = remaining
}

// ApplyFill folds a confirmed fill's realized PnL into equity and ratchets
// the floor on a new peak. The floor never moves down: it is recomputed only
// when equity exceeds the previous peak. It reports whether this fill tripped
// the drawdown stop.
func (s *State) ApplyFill(pnl decimal.Decimal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rs.Equity = s.rs.Equity.Add(pnl)
	if s.rs.Equity.GreaterThan(s.rs.PeakEquity) {
		s.rs.PeakEquity = s.rs.Equity
		s.rs.Floor = s.rs.PeakEquity.Mul(s.limits.RatchetPct)
	}
	if !s.rs.TradingHalted && s.rs.Equity.LessThan(s.rs.Floor) {
		s.rs.TradingHalted = true
		s.haltReason = domain.RiskReasonDrawdownStop
		return true
	}
	return false
}

// Halt trips the stop manually.
func (s *State) Halt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rs.TradingHalted = true
	s.haltReason = domain.RiskReasonHalted
}

// Reset clears the halt flag. This is the external manual reset; nothing in
// the pilot calls it automatically.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rs.TradingHalted = false
	s.haltReason = ""
}

// Snapshot returns a copy of the current risk state.
func (s *State) Snapshot() domain.RiskState {
	s.mu.Lock()
	defer s.mu.Unlock()

	positions := make(map[string]decimal.Decimal, len(s.rs.OpenPositions))
	for k, v := range s.rs.OpenPositions {
		positions[k] = v
	}
	out := s.rs
	out.OpenPositions = positions
	return out
}
