// Package scanner detects fee-adjusted price discrepancies between venue
// quotes and oracle-implied fair values, and emits Opportunity records on the
// bus.
package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rstover-fo/oraclepilot/internal/domain"
	"github.com/rstover-fo/oraclepilot/internal/matcher"
	"github.com/rstover-fo/oraclepilot/internal/metrics"
)

// logisticSteepness shapes the implied fair-value curve: how fast the
// probability saturates as the oracle value moves away from the threshold.
const logisticSteepness = 12.0

// Config tunes the scanner.
type Config struct {
	MinEdgeThreshold decimal.Decimal
	DetectionWindow  time.Duration
	DefaultSizeHint  decimal.Decimal
	FeeVenues        []string
}

type oraclePoint struct {
	value decimal.Decimal
	ts    time.Time
}

// Scanner is the opportunity-detection agent. It keeps the latest oracle
// reading per symbol and the latest venue quote per market; on every update
// to either side of a mapped market it re-evaluates the edge. Each market is
// evaluated independently; emission is idempotent per (market, window) so
// duplicate bus deliveries collapse.
type Scanner struct {
	bus      domain.SignalBus
	registry matcher.Registry
	fees     *FeeSchedule
	cfg      Config
	rec      *metrics.Recorder
	logger   *slog.Logger

	mu      sync.Mutex
	oracle  map[string]oraclePoint   // symbol -> latest reading
	markets map[string]domain.Market // market id -> latest quote
	emitted map[string]time.Time     // opportunity id -> emission time
}

// New creates a Scanner.
func New(bus domain.SignalBus, registry matcher.Registry, cfg Config, rec *metrics.Recorder, logger *slog.Logger) *Scanner {
	if cfg.DetectionWindow <= 0 {
		cfg.DetectionWindow = 30 * time.Second
	}
	if cfg.MinEdgeThreshold.IsZero() {
		cfg.MinEdgeThreshold = decimal.RequireFromString("0.02")
	}
	return &Scanner{
		bus:      bus,
		registry: registry,
		fees:     NewFeeSchedule(cfg.FeeVenues),
		cfg:      cfg,
		rec:      rec,
		logger:   logger.With(slog.String("component", "scanner")),
		oracle:   make(map[string]oraclePoint),
		markets:  make(map[string]domain.Market),
		emitted:  make(map[string]time.Time),
	}
}

// Name implements agent.Agent.
func (s *Scanner) Name() string { return "scanner" }

// Run subscribes to venue and oracle channels and evaluates until ctx is
// cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	venueCh, err := s.bus.Subscribe(ctx, "venue.*.prices")
	if err != nil {
		return fmt.Errorf("scanner: subscribe venue prices: %w", err)
	}
	oracleCh, err := s.bus.Subscribe(ctx, "oracle.*.*")
	if err != nil {
		return fmt.Errorf("scanner: subscribe oracle prices: %w", err)
	}

	s.logger.Info("scanner started",
		slog.String("min_edge", s.cfg.MinEdgeThreshold.String()),
		slog.Duration("detection_window", s.cfg.DetectionWindow),
	)
	defer s.logger.Info("scanner stopped")

	cleanup := time.NewTicker(s.cfg.DetectionWindow)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-venueCh:
			if !ok {
				return nil
			}
			s.handleVenue(ctx, payload)
		case payload, ok := <-oracleCh:
			if !ok {
				return nil
			}
			s.handleOracle(ctx, payload)
		case <-cleanup.C:
			s.gcEmitted()
		}
	}
}

// handleVenue stores a venue quote and re-evaluates that market. Malformed
// payloads are logged and skipped; the stream keeps flowing.
func (s *Scanner) handleVenue(ctx context.Context, payload []byte) {
	var m domain.Market
	if err := json.Unmarshal(payload, &m); err != nil {
		s.logger.Warn("malformed venue tick",
			slog.String("payload", string(payload)),
			slog.String("error", err.Error()),
		)
		return
	}
	if m.ID == "" || m.Mid().IsZero() {
		return
	}

	s.mu.Lock()
	// Most recent wins; at-least-once delivery may reorder.
	if prev, ok := s.markets[m.ID]; ok && prev.Timestamp.After(m.Timestamp) {
		s.mu.Unlock()
		return
	}
	s.markets[m.ID] = m
	s.mu.Unlock()

	s.evaluateMarket(ctx, m.ID)
}

// handleOracle stores an oracle reading and re-evaluates every market mapped
// to its symbol.
func (s *Scanner) handleOracle(ctx context.Context, payload []byte) {
	var data domain.OracleData
	if err := json.Unmarshal(payload, &data); err != nil {
		s.logger.Warn("malformed oracle reading",
			slog.String("payload", string(payload)),
			slog.String("error", err.Error()),
		)
		return
	}
	if data.Symbol == "" {
		return
	}
	if data.Meta != nil && data.Meta.HighDeviation {
		// Providers disagree; do not trade on this reading.
		s.logger.Warn("skipping high-deviation consensus reading",
			slog.String("symbol", data.Symbol),
			slog.String("max_deviation", data.Meta.MaxDeviation.String()),
		)
		return
	}

	s.mu.Lock()
	if prev, ok := s.oracle[data.Symbol]; ok && prev.ts.After(data.Timestamp) {
		s.mu.Unlock()
		return
	}
	s.oracle[data.Symbol] = oraclePoint{value: data.Value, ts: data.Timestamp}
	s.mu.Unlock()

	for _, mapping := range s.registry.BySymbol(data.Symbol) {
		if ctx.Err() != nil {
			return
		}
		s.evaluateMarket(ctx, mapping.MarketID)
	}
}

// evaluateMarket computes the fee-adjusted edge for one market and emits an
// Opportunity when it clears the threshold. Missing oracle data or a missing
// mapping means no emission — never a zero-edge record.
func (s *Scanner) evaluateMarket(ctx context.Context, marketID string) {
	mapping, ok := s.registry.Lookup(marketID)
	if !ok {
		s.logger.Debug("no mapping for market, skipping", slog.String("market_id", marketID))
		return
	}

	s.mu.Lock()
	market, haveMarket := s.markets[marketID]
	point, haveOracle := s.oracle[mapping.OracleSymbol]
	s.mu.Unlock()

	if !haveMarket || !haveOracle {
		return
	}

	price := market.Mid()
	if price.IsZero() {
		return
	}

	fair := ImpliedFairValue(point.value, mapping.Threshold, mapping.Direction)
	feeRate := s.fees.Rate(market.Venue, price)
	gross, net := ComputeEdge(fair, price, feeRate)

	if net.Abs().LessThan(s.cfg.MinEdgeThreshold) {
		return
	}

	side := domain.OrderSideBuy
	if net.IsNegative() {
		side = domain.OrderSideSell
	}

	now := time.Now().UTC()
	opp := domain.Opportunity{
		ID:         domain.OpportunityID(marketID, now, s.cfg.DetectionWindow),
		MarketID:   marketID,
		Venue:      market.Venue,
		GrossEdge:  gross,
		FeeRate:    feeRate,
		NetEdge:    net,
		Side:       side,
		SizeHint:   s.cfg.DefaultSizeHint,
		DetectedAt: now,
	}

	s.mu.Lock()
	if _, dup := s.emitted[opp.ID]; dup {
		s.mu.Unlock()
		return
	}
	s.emitted[opp.ID] = now
	s.mu.Unlock()

	s.emit(ctx, opp)
}

func (s *Scanner) emit(ctx context.Context, opp domain.Opportunity) {
	payload, err := json.Marshal(opp)
	if err != nil {
		s.logger.Error("marshal opportunity", slog.String("error", err.Error()))
		return
	}

	// Durable append first so a crashed guardian can resume from the stream,
	// then the ephemeral publish for live consumers.
	if err := s.bus.StreamAppend(ctx, domain.ChanOpportunityDetected, payload); err != nil {
		s.logger.Error("stream append opportunity failed",
			slog.String("opportunity_id", opp.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.bus.Publish(ctx, domain.ChanOpportunityDetected, payload); err != nil {
		s.logger.Warn("publish opportunity failed",
			slog.String("opportunity_id", opp.ID),
			slog.String("error", err.Error()),
		)
	}

	s.rec.OpportunityDetected()
	s.logger.Info("opportunity detected",
		slog.String("opportunity_id", opp.ID),
		slog.String("market_id", opp.MarketID),
		slog.String("venue", opp.Venue),
		slog.String("gross_edge", opp.GrossEdge.String()),
		slog.String("fee_rate", opp.FeeRate.String()),
		slog.String("net_edge", opp.NetEdge.String()),
		slog.String("side", string(opp.Side)),
	)
}

// gcEmitted drops emission records older than two detection windows.
func (s *Scanner) gcEmitted() {
	cutoff := time.Now().Add(-2 * s.cfg.DetectionWindow)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ts := range s.emitted {
		if ts.Before(cutoff) {
			delete(s.emitted, id)
		}
	}
}

// ComputeEdge returns the signed gross and net edge of a venue quote against
// the oracle-implied fair value: gross = (fair - price) / price,
// net = gross - feeRate.
func ComputeEdge(fair, price, feeRate decimal.Decimal) (gross, net decimal.Decimal) {
	gross = fair.Sub(price).Div(price)
	net = gross.Sub(feeRate)
	return gross, net
}

// ImpliedFairValue converts a raw oracle value into a probability that the
// market resolves in the mapped direction. The curve is a logistic over the
// relative distance from the threshold, so a value right at the threshold is
// worth 0.5 and the estimate saturates toward 0 or 1 as the distance grows.
func ImpliedFairValue(value, threshold decimal.Decimal, direction domain.MappingDirection) decimal.Decimal {
	if threshold.IsZero() {
		return decimal.RequireFromString("0.5")
	}
	dist, _ := value.Sub(threshold).Div(threshold).Float64()
	if direction == domain.DirectionBelow {
		dist = -dist
	}
	p := 1.0 / (1.0 + math.Exp(-logisticSteepness*dist))
	return decimal.NewFromFloat(p).Round(6)
}
