package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rstover-fo/oraclepilot/internal/domain"
)

var one = decimal.NewFromInt(1)

// PaperPlacer simulates fills without touching a venue. The fill price is
// the order's reference price pushed against the trade by a fixed slippage,
// so paper results stay reproducible and never flatter the strategy.
type PaperPlacer struct {
	slippageBps int64
	feeRateFor  func(venue string, price decimal.Decimal) decimal.Decimal
	logger      *slog.Logger
}

// NewPaperPlacer builds the simulator. feeRateFor mirrors whatever fee
// schedule the scanner priced the opportunity with.
func NewPaperPlacer(slippageBps int64, feeRateFor func(string, decimal.Decimal) decimal.Decimal, logger *slog.Logger) *PaperPlacer {
	if feeRateFor == nil {
		feeRateFor = func(string, decimal.Decimal) decimal.Decimal { return decimal.Zero }
	}
	return &PaperPlacer{
		slippageBps: slippageBps,
		feeRateFor:  feeRateFor,
		logger:      logger.With(slog.String("component", "paper_placer")),
	}
}

var _ OrderPlacer = (*PaperPlacer)(nil)

// Mode implements OrderPlacer.
func (p *PaperPlacer) Mode() string { return "paper" }

// Place fills the full requested amount at the slipped reference price.
func (p *PaperPlacer) Place(_ context.Context, o domain.Order) (domain.Order, error) {
	if o.MaxPrice.IsZero() {
		o.Status = domain.OrderStatusFailed
		o.ErrorMessage = "no reference price for market"
		return o, nil
	}

	slip := decimal.New(p.slippageBps, -4) // bps -> fraction
	fill := o.MaxPrice
	switch o.Side {
	case domain.OrderSideBuy:
		fill = fill.Mul(one.Add(slip))
	case domain.OrderSideSell:
		fill = fill.Mul(one.Sub(slip))
	}
	fill = clampPrice(fill)

	o.Status = domain.OrderStatusFilled
	o.FilledAmount = o.RequestedAmount
	o.FillPrice = fill.Round(6)
	o.Fees = o.FilledAmount.Mul(p.feeRateFor(o.Venue, fill)).Round(6)
	o.VenueOrderID = "paper-" + o.RequestID
	o.UpdatedAt = time.Now().UTC()

	p.logger.Debug("simulated fill",
		slog.String("market_id", o.MarketID),
		slog.String("side", string(o.Side)),
		slog.String("fill_price", o.FillPrice.String()),
	)
	return o, nil
}

// Check returns the order unchanged; paper fills complete synchronously so
// there is never an in-doubt submission to resolve.
func (p *PaperPlacer) Check(_ context.Context, o domain.Order) (domain.Order, error) {
	return o, nil
}

// clampPrice keeps simulated contract prices inside (0, 1).
func clampPrice(d decimal.Decimal) decimal.Decimal {
	if d.LessThanOrEqual(decimal.Zero) {
		return decimal.New(1, -4)
	}
	if d.GreaterThanOrEqual(one) {
		return one.Sub(decimal.New(1, -4))
	}
	return d
}
