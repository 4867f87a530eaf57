package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rstover-fo/oraclepilot/internal/domain"
	"github.com/rstover-fo/oraclepilot/internal/metrics"
	"github.com/rstover-fo/oraclepilot/internal/notify"
)

// Guardian is the risk agent. It consumes detected opportunities, applies the
// ordered limit checks, and publishes a verdict for every one of them — a
// blocked trade must be observable on the bus, not just in a log line.
type Guardian struct {
	bus      domain.SignalBus
	state    *State
	notifier *notify.Notifier
	rec      *metrics.Recorder
	logger   *slog.Logger

	mu       sync.Mutex
	open     map[string]string          // market id -> unresolved opportunity id
	reserved map[string]decimal.Decimal // opportunity id -> reserved size
	decided  map[string]time.Time       // opportunity id -> decision time (dedup)
	settled  map[string]time.Time       // order request id -> settle time (dedup)
}

// NewGuardian creates the risk agent over the given state ledger.
func NewGuardian(bus domain.SignalBus, state *State, notifier *notify.Notifier, rec *metrics.Recorder, logger *slog.Logger) *Guardian {
	return &Guardian{
		bus:      bus,
		state:    state,
		notifier: notifier,
		rec:      rec,
		logger:   logger.With(slog.String("component", "risk_guardian")),
		open:     make(map[string]string),
		reserved: make(map[string]decimal.Decimal),
		decided:  make(map[string]time.Time),
		settled:  make(map[string]time.Time),
	}
}

// Name implements agent.Agent.
func (g *Guardian) Name() string { return "risk_guardian" }

// Run consumes opportunities and trade outcomes until ctx is cancelled.
func (g *Guardian) Run(ctx context.Context) error {
	oppCh, err := g.bus.Subscribe(ctx, domain.ChanOpportunityDetected)
	if err != nil {
		return fmt.Errorf("risk: subscribe opportunities: %w", err)
	}
	tradeCh, err := g.bus.Subscribe(ctx, domain.ChanTradeExecuted)
	if err != nil {
		return fmt.Errorf("risk: subscribe trades: %w", err)
	}
	ctrlCh, err := g.bus.Subscribe(ctx, domain.ChanControl)
	if err != nil {
		return fmt.Errorf("risk: subscribe control: %w", err)
	}

	g.logger.Info("risk guardian started")
	defer g.logger.Info("risk guardian stopped")

	gc := time.NewTicker(time.Minute)
	defer gc.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-oppCh:
			if !ok {
				return nil
			}
			g.handleOpportunity(ctx, payload)
		case payload, ok := <-tradeCh:
			if !ok {
				return nil
			}
			g.handleTrade(ctx, payload)
		case payload, ok := <-ctrlCh:
			if !ok {
				return nil
			}
			g.handleControl(ctx, payload)
		case <-gc.C:
			g.gc()
		}
	}
}

func (g *Guardian) handleOpportunity(ctx context.Context, payload []byte) {
	var opp domain.Opportunity
	if err := json.Unmarshal(payload, &opp); err != nil {
		g.logger.Warn("malformed opportunity",
			slog.String("payload", string(payload)),
			slog.String("error", err.Error()),
		)
		return
	}
	if opp.ID == "" || opp.MarketID == "" {
		return
	}

	g.mu.Lock()
	if _, dup := g.decided[opp.ID]; dup {
		// At-least-once redelivery; the verdict is already out.
		g.mu.Unlock()
		return
	}
	if openID, busy := g.open[opp.MarketID]; busy && openID != opp.ID {
		// One unresolved opportunity per market at a time.
		g.mu.Unlock()
		g.logger.Debug("market already has an open opportunity",
			slog.String("market_id", opp.MarketID),
			slog.String("open_id", openID),
			slog.String("new_id", opp.ID),
		)
		return
	}
	g.decided[opp.ID] = time.Now()
	g.mu.Unlock()

	reason, size := g.state.Evaluate(opp)
	approved := reason == domain.RiskReasonApproved

	if approved {
		g.mu.Lock()
		g.open[opp.MarketID] = opp.ID
		g.reserved[opp.ID] = size
		g.mu.Unlock()
	}

	snap := g.state.Snapshot()
	g.publishDecision(ctx, domain.RiskDecision{
		OpportunityID: opp.ID,
		MarketID:      opp.MarketID,
		Approved:      approved,
		Reason:        reason,
		ApprovedSize:  size,
		Equity:        snap.Equity,
		Floor:         snap.Floor,
		DecidedAt:     time.Now().UTC(),
	})

	if reason == domain.RiskReasonDrawdownStop {
		g.reportDrawdownStop(ctx, snap)
	}
}

// reportDrawdownStop surfaces a tripped drawdown stop to the log and the
// alerting channels.
func (g *Guardian) reportDrawdownStop(ctx context.Context, snap domain.RiskState) {
	g.logger.Error("drawdown stop tripped, trading halted for the session",
		slog.String("equity", snap.Equity.String()),
		slog.String("floor", snap.Floor.String()),
	)
	_ = g.notifier.Notify(ctx, notify.EventDrawdownStop, "Drawdown stop tripped",
		fmt.Sprintf("equity=%s floor=%s; trading halted until manual reset",
			snap.Equity.StringFixed(2), snap.Floor.StringFixed(2)))
}

// handleTrade settles an executed order: confirmed fills update equity and
// ratchet the floor; failures release the optimistic reservation. Partial
// fills settle too — they are the executor's last word on the order even
// though the status itself is not terminal.
func (g *Guardian) handleTrade(ctx context.Context, payload []byte) {
	var evt domain.TradeEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		g.logger.Warn("malformed trade event",
			slog.String("payload", string(payload)),
			slog.String("error", err.Error()),
		)
		return
	}
	o := evt.Order
	if !o.Status.Terminal() && o.Status != domain.OrderStatusPartial {
		return
	}

	g.mu.Lock()
	if _, dup := g.settled[o.RequestID]; dup {
		g.mu.Unlock()
		return
	}
	g.settled[o.RequestID] = time.Now()
	reserved := g.reserved[o.OpportunityID]
	delete(g.reserved, o.OpportunityID)
	if g.open[o.MarketID] == o.OpportunityID {
		delete(g.open, o.MarketID)
	}
	g.mu.Unlock()

	switch o.Status {
	case domain.OrderStatusFilled, domain.OrderStatusPartial:
		if tripped := g.state.ApplyFill(evt.RealizedPnL); tripped {
			g.reportDrawdownStop(ctx, g.state.Snapshot())
		}
		// Partial fills keep only the filled exposure reserved.
		if o.Status == domain.OrderStatusPartial && reserved.GreaterThan(o.FilledAmount) {
			g.state.Release(o.MarketID, reserved.Sub(o.FilledAmount))
		}
	default:
		// failed / rejected / cancelled: nothing was put on.
		g.state.Release(o.MarketID, reserved)
	}

	snap := g.state.Snapshot()
	eq, _ := snap.Equity.Float64()
	fl, _ := snap.Floor.Float64()
	g.rec.SetEquity(eq)
	g.rec.SetFloor(fl)
}

// handleControl applies operator commands. "reset" is the manual clear for a
// drawdown halt; the kill switch itself is handled by the runner.
func (g *Guardian) handleControl(ctx context.Context, payload []byte) {
	var cmd domain.ControlCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return
	}
	switch cmd.Command {
	case domain.ControlHalt:
		g.state.Halt()
		g.logger.Warn("manual halt applied", slog.String("origin", cmd.Origin))
		_ = g.notifier.Notify(ctx, notify.EventKillSwitch, "Kill switch engaged",
			fmt.Sprintf("manual halt from %s; trading stopped until reset", cmd.Origin))
	case "reset":
		g.state.Reset()
		g.logger.Warn("manual reset applied, trading resumed", slog.String("origin", cmd.Origin))
	}
}

func (g *Guardian) publishDecision(ctx context.Context, d domain.RiskDecision) {
	payload, err := json.Marshal(d)
	if err != nil {
		g.logger.Error("marshal decision", slog.String("error", err.Error()))
		return
	}
	if err := g.bus.StreamAppend(ctx, domain.ChanRiskDecision, payload); err != nil {
		g.logger.Error("stream append decision failed",
			slog.String("opportunity_id", d.OpportunityID),
			slog.String("error", err.Error()),
		)
	}
	if err := g.bus.Publish(ctx, domain.ChanRiskDecision, payload); err != nil {
		g.logger.Warn("publish decision failed",
			slog.String("opportunity_id", d.OpportunityID),
			slog.String("error", err.Error()),
		)
	}

	g.rec.RiskDecision(string(d.Reason))
	g.logger.Info("risk decision",
		slog.String("opportunity_id", d.OpportunityID),
		slog.String("market_id", d.MarketID),
		slog.Bool("approved", d.Approved),
		slog.String("reason", string(d.Reason)),
		slog.String("approved_size", d.ApprovedSize.String()),
	)
}

// gc drops settled/decided records older than an hour.
func (g *Guardian) gc() {
	cutoff := time.Now().Add(-time.Hour)
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, ts := range g.decided {
		if ts.Before(cutoff) {
			delete(g.decided, id)
		}
	}
	for id, ts := range g.settled {
		if ts.Before(cutoff) {
			delete(g.settled, id)
		}
	}
}
