package report

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rstover-fo/oraclepilot/internal/domain"
)

type stubBus struct {
	decisions []domain.RiskDecision
}

func (b *stubBus) Publish(context.Context, string, []byte) error { return nil }

func (b *stubBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *stubBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *stubBus) StreamRead(_ context.Context, stream string, _ string, _ int) ([]domain.StreamMessage, error) {
	if stream != domain.ChanRiskDecision {
		return nil, nil
	}
	var out []domain.StreamMessage
	for _, d := range b.decisions {
		payload, err := json.Marshal(d)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.StreamMessage{ID: "0-0", Payload: payload})
	}
	return out, nil
}

type stubPaperStore struct {
	trades []domain.PaperTrade
}

func (s *stubPaperStore) Insert(context.Context, domain.PaperTrade) (bool, error) {
	return false, nil
}

func (s *stubPaperStore) GetByOpportunity(context.Context, string) ([]domain.PaperTrade, error) {
	return nil, nil
}

func (s *stubPaperStore) ListSince(context.Context, time.Time) ([]domain.PaperTrade, error) {
	return s.trades, nil
}

func (s *stubPaperStore) UpdateExit(context.Context, int64, decimal.Decimal, decimal.Decimal, domain.OrderStatus) error {
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func paperTrade(marketID string, status domain.OrderStatus, edge, qty, fees string) domain.PaperTrade {
	return domain.PaperTrade{
		OpportunityID: "opp-" + marketID,
		MarketID:      marketID,
		Venue:         "polymarket",
		Side:          domain.OrderSideBuy,
		Quantity:      decimal.RequireFromString(qty),
		Price:         decimal.RequireFromString("0.45"),
		Fees:          decimal.RequireFromString(fees),
		ExpectedEdge:  decimal.RequireFromString(edge),
		Status:        status,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestGeneratePaperReport(t *testing.T) {
	store := &stubPaperStore{trades: []domain.PaperTrade{
		paperTrade("mkt-1", domain.OrderStatusFilled, "0.10", "40", "0.5"),
		paperTrade("mkt-2", domain.OrderStatusFilled, "-0.03", "10", "0"),
		paperTrade("mkt-3", domain.OrderStatusFailed, "0.05", "0", "0"),
	}}
	since := time.Now().Add(-24 * time.Hour)
	bus := &stubBus{decisions: []domain.RiskDecision{
		{OpportunityID: "opp-4", Approved: false, Reason: domain.RiskReasonPositionLimit, DecidedAt: time.Now()},
		{OpportunityID: "opp-5", Approved: false, Reason: domain.RiskReasonPositionLimit, DecidedAt: time.Now()},
		{OpportunityID: "opp-6", Approved: false, Reason: domain.RiskReasonHalted, DecidedAt: time.Now()},
		{OpportunityID: "opp-7", Approved: true, Reason: domain.RiskReasonApproved, DecidedAt: time.Now()},
		{OpportunityID: "opp-old", Approved: false, Reason: domain.RiskReasonHalted, DecidedAt: since.Add(-time.Hour)},
	}}

	g := NewGenerator(store, nil, bus, discardLogger())
	r, err := g.Generate(context.Background(), "paper", since)
	require.NoError(t, err)

	assert.Equal(t, 3, r.TradeCount)
	assert.Equal(t, 2, r.FilledCount, "failed trades do not count as fills")
	assert.Equal(t, 1, r.WinCount)

	// 0.10*40 - 0.03*10 = 3.7 marked at expected edge.
	assert.True(t, r.RealizedPnL.Equal(decimal.RequireFromString("3.7")), "got %s", r.RealizedPnL)
	assert.True(t, r.TotalFees.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, r.ByMarket["mkt-1"].Equal(decimal.RequireFromString("4")))

	assert.Equal(t, 2, r.Rejections[domain.RiskReasonPositionLimit])
	assert.Equal(t, 1, r.Rejections[domain.RiskReasonHalted], "approved and stale decisions are excluded")

	assert.True(t, r.WinRate().Equal(decimal.RequireFromString("0.5")))
}

func TestGenerateUnknownMode(t *testing.T) {
	g := NewGenerator(&stubPaperStore{}, nil, &stubBus{}, discardLogger())
	_, err := g.Generate(context.Background(), "shadow", time.Now())
	assert.Error(t, err)
}

func TestGeneratePaperRequiresStore(t *testing.T) {
	g := NewGenerator(nil, nil, &stubBus{}, discardLogger())
	_, err := g.Generate(context.Background(), "paper", time.Now())
	assert.Error(t, err)
}

func TestReportString(t *testing.T) {
	r := Report{
		Since:       time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Mode:        "paper",
		TradeCount:  2,
		FilledCount: 2,
		WinCount:    1,
		RealizedPnL: decimal.RequireFromString("3.7"),
		TotalFees:   decimal.RequireFromString("0.5"),
		Rejections:  map[domain.RiskReason]int{domain.RiskReasonPositionLimit: 2},
		ByMarket:    map[string]decimal.Decimal{"mkt-1": decimal.RequireFromString("4")},
	}

	out := r.String()
	assert.Contains(t, out, "trades: 2 (filled: 2)")
	assert.Contains(t, out, "realized pnl: 3.70")
	assert.Contains(t, out, "win rate: 50.0%")
	assert.Contains(t, out, "position_limit: 2")
	assert.Contains(t, out, "mkt-1: 4.00")
}

func TestWinRateZeroFills(t *testing.T) {
	r := Report{}
	assert.True(t, r.WinRate().IsZero())
}
