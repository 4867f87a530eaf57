// Package executor turns approved opportunities into orders, live or
// simulated, with per-request idempotency.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rstover-fo/oraclepilot/internal/domain"
	"github.com/rstover-fo/oraclepilot/internal/metrics"
	"github.com/rstover-fo/oraclepilot/internal/notify"
)

// requestNamespace seeds deterministic request IDs. A redelivered or retried
// opportunity derives the same request_id, which is what makes retries safe.
var requestNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// OrderPlacer is the boundary to a venue (or its simulation). Place submits
// exactly one order; Check resolves an order whose submission outcome is
// unknown after a crash, by consulting venue state instead of resubmitting.
type OrderPlacer interface {
	Mode() string
	Place(ctx context.Context, o domain.Order) (domain.Order, error)
	Check(ctx context.Context, o domain.Order) (domain.Order, error)
}

// Executor is the execution agent. It joins opportunity.detected with
// risk.decision by opportunity id and hands approved pairs to the placer.
type Executor struct {
	bus        domain.SignalBus
	placer     OrderPlacer
	liveStore  domain.LiveTradeStore
	paperStore domain.PaperTradeStore
	notifier   *notify.Notifier
	rec        *metrics.Recorder
	logger     *slog.Logger

	mu      sync.Mutex
	opps    map[string]domain.Opportunity // opportunity id -> payload
	prices  map[string]domain.Market      // market id -> latest quote
	handled map[string]time.Time          // request id -> completion time
}

// New creates the executor agent. liveStore may be nil in paper mode and
// paperStore may be nil in live mode.
func New(
	bus domain.SignalBus,
	placer OrderPlacer,
	liveStore domain.LiveTradeStore,
	paperStore domain.PaperTradeStore,
	notifier *notify.Notifier,
	rec *metrics.Recorder,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		bus:        bus,
		placer:     placer,
		liveStore:  liveStore,
		paperStore: paperStore,
		notifier:   notifier,
		rec:        rec,
		logger:     logger.With(slog.String("component", "executor"), slog.String("mode", placer.Mode())),
		opps:       make(map[string]domain.Opportunity),
		prices:     make(map[string]domain.Market),
		handled:    make(map[string]time.Time),
	}
}

// Name implements agent.Agent.
func (e *Executor) Name() string { return "executor" }

// Run consumes decisions until ctx is cancelled. An in-flight execution is
// always carried through its write-ahead step before the loop observes
// cancellation.
func (e *Executor) Run(ctx context.Context) error {
	oppCh, err := e.bus.Subscribe(ctx, domain.ChanOpportunityDetected)
	if err != nil {
		return fmt.Errorf("executor: subscribe opportunities: %w", err)
	}
	decisionCh, err := e.bus.Subscribe(ctx, domain.ChanRiskDecision)
	if err != nil {
		return fmt.Errorf("executor: subscribe decisions: %w", err)
	}
	priceCh, err := e.bus.Subscribe(ctx, "venue.*.prices")
	if err != nil {
		return fmt.Errorf("executor: subscribe venue prices: %w", err)
	}

	e.logger.Info("executor started")
	defer e.logger.Info("executor stopped")

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
			e.cacheOpportunity(payload)
		case payload, ok := <-priceCh:
			if !ok {
				return nil
			}
			e.cachePrice(payload)
		case payload, ok := <-decisionCh:
			if !ok {
				return nil
			}
			e.handleDecision(ctx, payload)
		case <-gc.C:
			e.gc()
		}
	}
}

func (e *Executor) cacheOpportunity(payload []byte) {
	var opp domain.Opportunity
	if err := json.Unmarshal(payload, &opp); err != nil || opp.ID == "" {
		return
	}
	e.mu.Lock()
	e.opps[opp.ID] = opp
	e.mu.Unlock()
}

func (e *Executor) cachePrice(payload []byte) {
	var m domain.Market
	if err := json.Unmarshal(payload, &m); err != nil || m.ID == "" {
		return
	}
	e.mu.Lock()
	if prev, ok := e.prices[m.ID]; !ok || !prev.Timestamp.After(m.Timestamp) {
		e.prices[m.ID] = m
	}
	e.mu.Unlock()
}

// MarketPrice returns the latest cached mid for a market.
func (e *Executor) MarketPrice(marketID string) (decimal.Decimal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.prices[marketID]
	if !ok {
		return decimal.Decimal{}, false
	}
	mid := m.Mid()
	if mid.IsZero() {
		return decimal.Decimal{}, false
	}
	return mid, true
}

func (e *Executor) handleDecision(ctx context.Context, payload []byte) {
	var d domain.RiskDecision
	if err := json.Unmarshal(payload, &d); err != nil {
		e.logger.Warn("malformed decision",
			slog.String("payload", string(payload)),
			slog.String("error", err.Error()),
		)
		return
	}
	if !d.Approved {
		return
	}

	opp, ok := e.lookupOpportunity(ctx, d.OpportunityID)
	if !ok {
		e.logger.Error("approved opportunity not found",
			slog.String("opportunity_id", d.OpportunityID),
		)
		return
	}

	order, err := e.Execute(ctx, opp, d.ApprovedSize)
	if err != nil {
		e.logger.Error("execution error",
			slog.String("opportunity_id", opp.ID),
			slog.String("error", err.Error()),
		)
		if !errors.Is(err, domain.ErrAlreadyExists) {
			e.notifier.Notify(ctx, notify.EventExecutionFailed, "Order failed",
				fmt.Sprintf("market=%s side=%s: %s", opp.MarketID, opp.Side, err.Error()))
		}
		return
	}
	if order.Status == domain.OrderStatusFailed || order.Status == domain.OrderStatusRejected {
		e.notifier.Notify(ctx, notify.EventExecutionFailed, "Order failed",
			fmt.Sprintf("market=%s side=%s status=%s: %s", order.MarketID, order.Side, order.Status, order.ErrorMessage))
	}
}

// lookupOpportunity serves from the in-memory cache, falling back to the
// durable stream so a restarted executor can resume without the scanner's
// memory.
func (e *Executor) lookupOpportunity(ctx context.Context, id string) (domain.Opportunity, bool) {
	e.mu.Lock()
	opp, ok := e.opps[id]
	e.mu.Unlock()
	if ok {
		return opp, true
	}

	msgs, err := e.bus.StreamRead(ctx, domain.ChanOpportunityDetected, "0", 1024)
	if err != nil {
		e.logger.Warn("opportunity stream read failed", slog.String("error", err.Error()))
		return domain.Opportunity{}, false
	}
	for _, msg := range msgs {
		var candidate domain.Opportunity
		if err := json.Unmarshal(msg.Payload, &candidate); err != nil {
			continue
		}
		e.mu.Lock()
		e.opps[candidate.ID] = candidate
		e.mu.Unlock()
		if candidate.ID == id {
			opp, ok = candidate, true
		}
	}
	return opp, ok
}

// RequestID derives the deterministic client request id for an opportunity.
func RequestID(opp domain.Opportunity) string {
	return uuid.NewSHA1(requestNamespace, []byte(opp.ID+":"+string(opp.Side))).String()
}

// Execute runs one approved opportunity through the placer. It is idempotent
// on the derived request_id: the write-ahead insert happens before any
// outbound call, and a replay with the same request_id resolves the recorded
// order instead of submitting a second one.
func (e *Executor) Execute(ctx context.Context, opp domain.Opportunity, approvedSize decimal.Decimal) (domain.Order, error) {
	requestID := RequestID(opp)

	e.mu.Lock()
	if _, done := e.handled[requestID]; done {
		e.mu.Unlock()
		e.logger.Debug("request already handled", slog.String("request_id", requestID))
		return domain.Order{}, fmt.Errorf("executor: request %s: %w", requestID, domain.ErrAlreadyExists)
	}
	e.mu.Unlock()

	maxPrice := decimal.Decimal{}
	if mid, ok := e.MarketPrice(opp.MarketID); ok {
		maxPrice = mid
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:              requestID,
		RequestID:       requestID,
		OpportunityID:   opp.ID,
		MarketID:        opp.MarketID,
		Venue:           opp.Venue,
		Side:            opp.Side,
		RequestedAmount: approvedSize,
		MaxPrice:        maxPrice,
		Status:          domain.OrderStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var final domain.Order
	var err error
	if e.placer.Mode() == "live" {
		final, err = e.executeLive(ctx, order)
	} else {
		final, err = e.executePaper(ctx, order, opp)
	}
	if err != nil {
		// The failure is still this opportunity's outcome: publish it so the
		// guardian releases the reservation instead of leaking the exposure.
		failed := order
		failed.Status = domain.OrderStatusFailed
		failed.ErrorMessage = err.Error()
		failed.UpdatedAt = time.Now().UTC()

		e.mu.Lock()
		e.handled[requestID] = time.Now()
		e.mu.Unlock()

		e.publish(ctx, failed, opp)
		return domain.Order{}, err
	}

	e.mu.Lock()
	e.handled[requestID] = time.Now()
	e.mu.Unlock()

	e.publish(ctx, final, opp)
	return final, nil
}

// executeLive performs write-ahead persistence, then places. If the
// request_id is already recorded, the prior outcome is resolved via the
// venue rather than resubmitting blindly.
func (e *Executor) executeLive(ctx context.Context, order domain.Order) (domain.Order, error) {
	existing, inserted, err := e.liveStore.InsertPending(ctx, order)
	if err != nil {
		return domain.Order{}, fmt.Errorf("executor: write-ahead %s: %w", order.RequestID, err)
	}

	if !inserted {
		if existing.Status.Terminal() {
			// Crash after completion: the record is the truth.
			return existing, nil
		}
		// Crash between submission and acknowledgment: consult the venue.
		resolved, err := e.placer.Check(ctx, existing)
		if err != nil {
			return domain.Order{}, fmt.Errorf("executor: check %s: %w", order.RequestID, err)
		}
		resolved.UpdatedAt = time.Now().UTC()
		if err := e.liveStore.UpdateOutcome(ctx, resolved); err != nil {
			return domain.Order{}, fmt.Errorf("executor: update outcome %s: %w", order.RequestID, err)
		}
		return resolved, nil
	}

	placed, err := e.placer.Place(ctx, order)
	if err != nil {
		// Network failure or venue rejection is terminal; surfaced, never
		// auto-retried.
		placed = order
		placed.Status = domain.OrderStatusFailed
		placed.ErrorMessage = err.Error()
	}
	placed.UpdatedAt = time.Now().UTC()

	if err := e.liveStore.UpdateOutcome(ctx, placed); err != nil {
		return domain.Order{}, fmt.Errorf("executor: update outcome %s: %w", order.RequestID, err)
	}
	return placed, nil
}

// executePaper simulates the fill, recording the trade with the storage-level
// uniqueness on (opportunity_id, market_id, side) as the dedup boundary.
func (e *Executor) executePaper(ctx context.Context, order domain.Order, opp domain.Opportunity) (domain.Order, error) {
	placed, err := e.placer.Place(ctx, order)
	if err != nil {
		placed = order
		placed.Status = domain.OrderStatusFailed
		placed.ErrorMessage = err.Error()
	}
	placed.UpdatedAt = time.Now().UTC()

	trade := domain.PaperTrade{
		OpportunityID: opp.ID,
		MarketID:      opp.MarketID,
		Venue:         opp.Venue,
		Side:          opp.Side,
		Quantity:      placed.FilledAmount,
		Price:         placed.FillPrice,
		Fees:          placed.Fees,
		ExpectedEdge:  opp.NetEdge,
		RiskApproved:  true,
		Status:        placed.Status,
		CreatedAt:     placed.UpdatedAt,
	}
	inserted, err := e.paperStore.Insert(ctx, trade)
	if err != nil {
		return domain.Order{}, fmt.Errorf("executor: record paper trade %s: %w", opp.ID, err)
	}
	if !inserted {
		e.logger.Debug("paper trade already recorded", slog.String("opportunity_id", opp.ID))
	}
	return placed, nil
}

// publish emits the terminal record on trade.executed, durable first.
func (e *Executor) publish(ctx context.Context, order domain.Order, opp domain.Opportunity) {
	pnl := decimal.Zero
	if order.Status == domain.OrderStatusFilled || order.Status == domain.OrderStatusPartial {
		// Expected-value mark: the edge the fill captured at entry.
		pnl = opp.NetEdge.Mul(order.FilledAmount)
	}

	evt := domain.TradeEvent{Order: order, Mode: e.placer.Mode(), RealizedPnL: pnl}
	payload, err := json.Marshal(evt)
	if err != nil {
		e.logger.Error("marshal trade event", slog.String("error", err.Error()))
		return
	}
	if err := e.bus.StreamAppend(ctx, domain.ChanTradeExecuted, payload); err != nil {
		e.logger.Error("stream append trade failed",
			slog.String("request_id", order.RequestID),
			slog.String("error", err.Error()),
		)
	}
	if err := e.bus.Publish(ctx, domain.ChanTradeExecuted, payload); err != nil {
		e.logger.Warn("publish trade failed",
			slog.String("request_id", order.RequestID),
			slog.String("error", err.Error()),
		)
	}

	e.rec.OrderFinished(string(order.Status), e.placer.Mode())
	e.logger.Info("order finished",
		slog.String("request_id", order.RequestID),
		slog.String("market_id", order.MarketID),
		slog.String("status", string(order.Status)),
		slog.String("filled", order.FilledAmount.String()),
		slog.String("fill_price", order.FillPrice.String()),
	)
}

// gc drops handled-request records older than an hour.
func (e *Executor) gc() {
	cutoff := time.Now().Add(-time.Hour)
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, ts := range e.handled {
		if ts.Before(cutoff) {
			delete(e.handled, id)
		}
	}
}
