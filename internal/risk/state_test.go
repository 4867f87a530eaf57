package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rstover-fo/oraclepilot/internal/domain"
)

func newTestState() *State {
	return NewState(Limits{
		Bankroll:     decimal.NewFromInt(500),
		PerMarketCap: decimal.NewFromInt(100),
		RatchetPct:   decimal.RequireFromString("0.8"),
	})
}

func opp(marketID string, size int64) domain.Opportunity {
	return domain.Opportunity{
		ID:       "opp-" + marketID,
		MarketID: marketID,
		SizeHint: decimal.NewFromInt(size),
	}
}

func TestEvaluateApprovesAndReserves(t *testing.T) {
	s := newTestState()

	reason, size := s.Evaluate(opp("mkt-1", 50))
	require.Equal(t, domain.RiskReasonApproved, reason)
	assert.True(t, size.Equal(decimal.NewFromInt(50)))

	snap := s.Snapshot()
	assert.True(t, snap.OpenPositions["mkt-1"].Equal(decimal.NewFromInt(50)))
}

func TestEvaluateRejectsOverPerMarketCap(t *testing.T) {
	s := newTestState()

	reason, size := s.Evaluate(opp("mkt-1", 50))
	require.Equal(t, domain.RiskReasonApproved, reason)
	assert.True(t, size.Equal(decimal.NewFromInt(50)))

	// Cap is 100; 50 + 80 overshoots it, so the whole request is rejected
	// rather than clipped down to the remaining 50.
	reason, size = s.Evaluate(opp("mkt-1", 80))
	require.Equal(t, domain.RiskReasonPositionLimit, reason)
	assert.True(t, size.IsZero(), "got %s", size)

	// Nothing extra was reserved by the rejection.
	assert.True(t, s.Snapshot().OpenPositions["mkt-1"].Equal(decimal.NewFromInt(50)))

	// A request that lands exactly on the cap still goes through.
	reason, size = s.Evaluate(opp("mkt-1", 50))
	require.Equal(t, domain.RiskReasonApproved, reason)
	assert.True(t, size.Equal(decimal.NewFromInt(50)))

	// Market is full now.
	reason, size = s.Evaluate(opp("mkt-1", 1))
	assert.Equal(t, domain.RiskReasonPositionLimit, reason)
	assert.True(t, size.IsZero())

	// Other markets are unaffected.
	reason, _ = s.Evaluate(opp("mkt-2", 50))
	assert.Equal(t, domain.RiskReasonApproved, reason)
}

func TestEvaluateCheckOrderHaltedFirst(t *testing.T) {
	s := newTestState()
	s.Halt()

	// Halted wins over the position limit even when the market is full.
	reason, _ := s.Evaluate(opp("mkt-1", 500))
	assert.Equal(t, domain.RiskReasonHalted, reason)
}

func TestRatchetingFloor(t *testing.T) {
	s := newTestState()

	// Bankroll $500, ratchet 0.8: floor starts at 400.
	snap := s.Snapshot()
	assert.True(t, snap.Floor.Equal(decimal.NewFromInt(400)), "got %s", snap.Floor)

	// Equity grows to $800: floor ratchets to 640.
	s.ApplyFill(decimal.NewFromInt(300))
	snap = s.Snapshot()
	assert.True(t, snap.PeakEquity.Equal(decimal.NewFromInt(800)))
	assert.True(t, snap.Floor.Equal(decimal.NewFromInt(640)), "got %s", snap.Floor)

	// Equity falls to $650: still above the floor, trading continues.
	s.ApplyFill(decimal.NewFromInt(-150))
	reason, _ := s.Evaluate(opp("mkt-1", 10))
	assert.Equal(t, domain.RiskReasonApproved, reason)

	// Equity falls to $630: below the floor, session halts, and every
	// verdict from now on names the drawdown stop.
	tripped := s.ApplyFill(decimal.NewFromInt(-20))
	assert.True(t, tripped)
	reason, _ = s.Evaluate(opp("mkt-2", 10))
	assert.Equal(t, domain.RiskReasonDrawdownStop, reason)

	snap = s.Snapshot()
	assert.True(t, snap.TradingHalted)
	// The floor never moved down.
	assert.True(t, snap.Floor.Equal(decimal.NewFromInt(640)))
}

func TestDrawdownStopReasonPersists(t *testing.T) {
	s := newTestState()

	require.True(t, s.ApplyFill(decimal.NewFromInt(-150)))
	// Further fills don't re-trip an already halted session.
	assert.False(t, s.ApplyFill(decimal.NewFromInt(-10)))

	reason, _ := s.Evaluate(opp("mkt-1", 10))
	assert.Equal(t, domain.RiskReasonDrawdownStop, reason)

	// A manual halt after reset reports the generic reason again.
	s.Reset()
	s.Halt()
	reason, _ = s.Evaluate(opp("mkt-1", 10))
	assert.Equal(t, domain.RiskReasonHalted, reason)
}

func TestFloorIsMonotone(t *testing.T) {
	s := newTestState()

	s.ApplyFill(decimal.NewFromInt(100)) // equity 600, floor 480
	floorAfterGain := s.Snapshot().Floor

	s.ApplyFill(decimal.NewFromInt(-50)) // equity 550, no new peak
	assert.True(t, s.Snapshot().Floor.Equal(floorAfterGain))

	s.ApplyFill(decimal.NewFromInt(25)) // equity 575, still below peak 600
	assert.True(t, s.Snapshot().Floor.Equal(floorAfterGain))

	s.ApplyFill(decimal.NewFromInt(50)) // equity 625, new peak, floor 500
	assert.True(t, s.Snapshot().Floor.Equal(decimal.NewFromInt(500)))
}

func TestApplyFillBelowFloorHalts(t *testing.T) {
	s := newTestState()

	// Straight loss through the initial floor of 400.
	s.ApplyFill(decimal.NewFromInt(-150))
	assert.True(t, s.Snapshot().TradingHalted)
}

func TestReleaseUndoesReservation(t *testing.T) {
	s := newTestState()

	_, size := s.Evaluate(opp("mkt-1", 60))
	require.True(t, size.Equal(decimal.NewFromInt(60)))

	s.Release("mkt-1", decimal.NewFromInt(60))
	snap := s.Snapshot()
	_, open := snap.OpenPositions["mkt-1"]
	assert.False(t, open, "fully released position is removed")

	// The freed capacity is usable again.
	reason, size := s.Evaluate(opp("mkt-1", 100))
	assert.Equal(t, domain.RiskReasonApproved, reason)
	assert.True(t, size.Equal(decimal.NewFromInt(100)))
}

func TestReleasePartial(t *testing.T) {
	s := newTestState()

	s.Evaluate(opp("mkt-1", 60))
	s.Release("mkt-1", decimal.NewFromInt(20))

	snap := s.Snapshot()
	assert.True(t, snap.OpenPositions["mkt-1"].Equal(decimal.NewFromInt(40)))
}

func TestManualResetClearsHalt(t *testing.T) {
	s := newTestState()
	s.Halt()

	reason, _ := s.Evaluate(opp("mkt-1", 10))
	require.Equal(t, domain.RiskReasonHalted, reason)

	s.Reset()
	reason, _ = s.Evaluate(opp("mkt-1", 10))
	assert.Equal(t, domain.RiskReasonApproved, reason)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := newTestState()
	s.Evaluate(opp("mkt-1", 10))

	snap := s.Snapshot()
	snap.OpenPositions["mkt-1"] = decimal.NewFromInt(9999)

	assert.True(t, s.Snapshot().OpenPositions["mkt-1"].Equal(decimal.NewFromInt(10)))
}
