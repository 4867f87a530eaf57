// Package report aggregates session results from the trade stores and the
// durable decision stream into an operator-readable summary.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rstover-fo/oraclepilot/internal/domain"
)

// Report is one session summary.
type Report struct {
	Since       time.Time
	GeneratedAt time.Time
	Mode        string
	TradeCount  int
	FilledCount int
	WinCount    int
	RealizedPnL decimal.Decimal
	TotalFees   decimal.Decimal
	Rejections  map[domain.RiskReason]int
	ByMarket    map[string]decimal.Decimal
}

// WinRate is filled trades with positive expected edge over all fills.
func (r Report) WinRate() decimal.Decimal {
	if r.FilledCount == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(r.WinCount)).
		Div(decimal.NewFromInt(int64(r.FilledCount))).
		Round(4)
}

// String renders the report as plain text for the CLI.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "session report (%s mode) since %s\n",
		r.Mode, r.Since.Format(time.RFC3339))
	fmt.Fprintf(&b, "  trades: %d (filled: %d)\n", r.TradeCount, r.FilledCount)
	fmt.Fprintf(&b, "  realized pnl: %s\n", r.RealizedPnL.StringFixed(2))
	fmt.Fprintf(&b, "  fees paid: %s\n", r.TotalFees.StringFixed(2))
	fmt.Fprintf(&b, "  win rate: %s\n", r.WinRate().Mul(decimal.NewFromInt(100)).StringFixed(1)+"%")

	if len(r.Rejections) > 0 {
		fmt.Fprintf(&b, "  rejections:\n")
		reasons := make([]string, 0, len(r.Rejections))
		for reason := range r.Rejections {
			reasons = append(reasons, string(reason))
		}
		sort.Strings(reasons)
		for _, reason := range reasons {
			fmt.Fprintf(&b, "    %s: %d\n", reason, r.Rejections[domain.RiskReason(reason)])
		}
	}

	if len(r.ByMarket) > 0 {
		fmt.Fprintf(&b, "  pnl by market:\n")
		markets := make([]string, 0, len(r.ByMarket))
		for id := range r.ByMarket {
			markets = append(markets, id)
		}
		sort.Strings(markets)
		for _, id := range markets {
			fmt.Fprintf(&b, "    %s: %s\n", id, r.ByMarket[id].StringFixed(2))
		}
	}
	return b.String()
}

// Generator builds reports from persisted trades and the decision stream.
type Generator struct {
	paperStore domain.PaperTradeStore
	liveStore  domain.LiveTradeStore
	bus        domain.SignalBus
	logger     *slog.Logger
}

// NewGenerator creates a report generator. Either store may be nil when the
// corresponding mode never ran.
func NewGenerator(paperStore domain.PaperTradeStore, liveStore domain.LiveTradeStore, bus domain.SignalBus, logger *slog.Logger) *Generator {
	return &Generator{
		paperStore: paperStore,
		liveStore:  liveStore,
		bus:        bus,
		logger:     logger.With(slog.String("component", "report")),
	}
}

// Generate aggregates the session since the given time for one mode.
func (g *Generator) Generate(ctx context.Context, mode string, since time.Time) (Report, error) {
	r := Report{
		Since:       since,
		GeneratedAt: time.Now().UTC(),
		Mode:        mode,
		RealizedPnL: decimal.Zero,
		TotalFees:   decimal.Zero,
		Rejections:  make(map[domain.RiskReason]int),
		ByMarket:    make(map[string]decimal.Decimal),
	}

	switch mode {
	case "paper":
		if g.paperStore == nil {
			return Report{}, fmt.Errorf("report: no paper trade store configured")
		}
		trades, err := g.paperStore.ListSince(ctx, since)
		if err != nil {
			return Report{}, fmt.Errorf("report: list paper trades: %w", err)
		}
		for _, t := range trades {
			r.TradeCount++
			if t.Status != domain.OrderStatusFilled && t.Status != domain.OrderStatusPartial {
				continue
			}
			r.FilledCount++
			pnl := t.RealizedPnL
			if pnl.IsZero() {
				// Open simulated position: mark at the expected edge.
				pnl = t.ExpectedEdge.Mul(t.Quantity)
			}
			if pnl.IsPositive() {
				r.WinCount++
			}
			r.RealizedPnL = r.RealizedPnL.Add(pnl)
			r.TotalFees = r.TotalFees.Add(t.Fees)
			r.ByMarket[t.MarketID] = r.ByMarket[t.MarketID].Add(pnl)
		}
	case "live":
		if g.liveStore == nil {
			return Report{}, fmt.Errorf("report: no live trade store configured")
		}
		orders, err := g.liveStore.ListSince(ctx, since)
		if err != nil {
			return Report{}, fmt.Errorf("report: list live trades: %w", err)
		}
		for _, o := range orders {
			r.TradeCount++
			if o.Status != domain.OrderStatusFilled && o.Status != domain.OrderStatusPartial {
				continue
			}
			r.FilledCount++
			r.TotalFees = r.TotalFees.Add(o.Fees)
		}
	default:
		return Report{}, fmt.Errorf("report: unknown mode %q", mode)
	}

	g.collectRejections(ctx, since, &r)
	return r, nil
}

// collectRejections replays the durable decision stream. Stream read
// failures degrade the report rather than failing it.
func (g *Generator) collectRejections(ctx context.Context, since time.Time, r *Report) {
	msgs, err := g.bus.StreamRead(ctx, domain.ChanRiskDecision, "0", 4096)
	if err != nil {
		g.logger.Warn("decision stream unavailable", slog.String("error", err.Error()))
		return
	}
	for _, msg := range msgs {
		var d domain.RiskDecision
		if err := json.Unmarshal(msg.Payload, &d); err != nil {
			continue
		}
		if d.Approved || d.DecidedAt.Before(since) {
			continue
		}
		r.Rejections[d.Reason]++
	}
}
