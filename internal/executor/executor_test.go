package executor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rstover-fo/oraclepilot/internal/domain"
)

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	appended  map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: make(map[string][][]byte), appended: make(map[string][][]byte)}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appended[stream] = append(b.appended[stream], payload)
	return nil
}

func (b *fakeBus) StreamRead(_ context.Context, stream string, _ string, _ int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamMessage
	for _, p := range b.appended[stream] {
		out = append(out, domain.StreamMessage{ID: "0-0", Payload: p})
	}
	return out, nil
}

func (b *fakeBus) tradeEvents(t *testing.T) []domain.TradeEvent {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var events []domain.TradeEvent
	for _, p := range b.published[domain.ChanTradeExecuted] {
		var evt domain.TradeEvent
		require.NoError(t, json.Unmarshal(p, &evt))
		events = append(events, evt)
	}
	return events
}

type fakePaperStore struct {
	mu        sync.Mutex
	trades    []domain.PaperTrade
	insertErr error
}

func (s *fakePaperStore) Insert(_ context.Context, tr domain.PaperTrade) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return false, s.insertErr
	}
	for _, existing := range s.trades {
		if existing.OpportunityID == tr.OpportunityID &&
			existing.MarketID == tr.MarketID && existing.Side == tr.Side {
			return false, nil
		}
	}
	s.trades = append(s.trades, tr)
	return true, nil
}

func (s *fakePaperStore) GetByOpportunity(_ context.Context, id string) ([]domain.PaperTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PaperTrade
	for _, tr := range s.trades {
		if tr.OpportunityID == id {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (s *fakePaperStore) ListSince(_ context.Context, _ time.Time) ([]domain.PaperTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.PaperTrade(nil), s.trades...), nil
}

func (s *fakePaperStore) UpdateExit(context.Context, int64, decimal.Decimal, decimal.Decimal, domain.OrderStatus) error {
	return nil
}

type fakeLiveStore struct {
	mu      sync.Mutex
	orders  map[string]domain.Order
	updates int
}

func newFakeLiveStore() *fakeLiveStore {
	return &fakeLiveStore{orders: make(map[string]domain.Order)}
}

func (s *fakeLiveStore) InsertPending(_ context.Context, o domain.Order) (domain.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.orders[o.RequestID]; ok {
		return existing, false, nil
	}
	s.orders[o.RequestID] = o
	return o, true, nil
}

func (s *fakeLiveStore) UpdateOutcome(_ context.Context, o domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.RequestID]; !ok {
		return domain.ErrNotFound
	}
	s.orders[o.RequestID] = o
	s.updates++
	return nil
}

func (s *fakeLiveStore) GetByRequestID(_ context.Context, requestID string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[requestID]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (s *fakeLiveStore) ListSince(_ context.Context, _ time.Time) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	return out, nil
}

// fakeLivePlacer scripts venue behavior for the live path.
type fakeLivePlacer struct {
	mu         sync.Mutex
	placeCalls int
	checkCalls int
	placeErr   error
	checkAs    domain.OrderStatus
}

func (p *fakeLivePlacer) Mode() string { return "live" }

func (p *fakeLivePlacer) Place(_ context.Context, o domain.Order) (domain.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.placeCalls++
	if p.placeErr != nil {
		return domain.Order{}, p.placeErr
	}
	o.Status = domain.OrderStatusFilled
	o.FilledAmount = o.RequestedAmount
	o.FillPrice = o.MaxPrice
	o.VenueOrderID = "venue-1"
	return o, nil
}

func (p *fakeLivePlacer) Check(_ context.Context, o domain.Order) (domain.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkCalls++
	o.Status = p.checkAs
	if o.Status == "" {
		o.Status = domain.OrderStatusFilled
	}
	return o, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOpportunity() domain.Opportunity {
	return domain.Opportunity{
		ID:         "opp-1",
		MarketID:   "mkt-1",
		Venue:      "polymarket",
		GrossEdge:  decimal.RequireFromString("0.10"),
		FeeRate:    decimal.Zero,
		NetEdge:    decimal.RequireFromString("0.10"),
		Side:       domain.OrderSideBuy,
		SizeHint:   decimal.NewFromInt(50),
		DetectedAt: time.Now().UTC(),
	}
}

func primePrice(e *Executor, marketID string, mid string) {
	m := domain.Market{
		ID:        marketID,
		Venue:     "polymarket",
		BestBid:   decimal.RequireFromString(mid),
		BestAsk:   decimal.RequireFromString(mid),
		Timestamp: time.Now().UTC(),
	}
	payload, _ := json.Marshal(m)
	e.cachePrice(payload)
}

func newPaperExecutor(bus domain.SignalBus, store domain.PaperTradeStore) *Executor {
	placer := NewPaperPlacer(10, nil, discardLogger())
	return New(bus, placer, nil, store, nil, nil, discardLogger())
}

func TestRequestIDDeterministic(t *testing.T) {
	opp := testOpportunity()

	assert.Equal(t, RequestID(opp), RequestID(opp))

	other := opp
	other.Side = domain.OrderSideSell
	assert.NotEqual(t, RequestID(opp), RequestID(other), "side changes the request id")

	other = opp
	other.ID = "opp-2"
	assert.NotEqual(t, RequestID(opp), RequestID(other), "opportunity changes the request id")
}

func TestPaperExecuteFillsAndPublishes(t *testing.T) {
	bus := newFakeBus()
	store := &fakePaperStore{}
	e := newPaperExecutor(bus, store)
	primePrice(e, "mkt-1", "0.45")

	opp := testOpportunity()
	order, err := e.Execute(context.Background(), opp, decimal.NewFromInt(40))
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusFilled, order.Status)
	assert.Equal(t, RequestID(opp), order.RequestID)
	assert.True(t, order.FilledAmount.Equal(decimal.NewFromInt(40)))
	// Buy slips up: 0.45 * 1.001 with 10 bps.
	assert.True(t, order.FillPrice.Equal(decimal.RequireFromString("0.45045")), "got %s", order.FillPrice)

	require.Len(t, store.trades, 1)
	tr := store.trades[0]
	assert.Equal(t, opp.ID, tr.OpportunityID)
	assert.Equal(t, opp.MarketID, tr.MarketID)
	assert.Equal(t, opp.Side, tr.Side)
	assert.True(t, tr.ExpectedEdge.Equal(opp.NetEdge))

	events := bus.tradeEvents(t)
	require.Len(t, events, 1)
	assert.Equal(t, "paper", events[0].Mode)
	assert.True(t, events[0].RealizedPnL.Equal(opp.NetEdge.Mul(decimal.NewFromInt(40))))
}

func TestExecuteDuplicateRequestShortCircuits(t *testing.T) {
	bus := newFakeBus()
	store := &fakePaperStore{}
	e := newPaperExecutor(bus, store)
	primePrice(e, "mkt-1", "0.45")

	opp := testOpportunity()
	_, err := e.Execute(context.Background(), opp, decimal.NewFromInt(40))
	require.NoError(t, err)

	_, err = e.Execute(context.Background(), opp, decimal.NewFromInt(40))
	require.ErrorIs(t, err, domain.ErrAlreadyExists)

	assert.Len(t, store.trades, 1)
	assert.Len(t, bus.tradeEvents(t), 1)
}

func TestPaperSellSlipsDown(t *testing.T) {
	placer := NewPaperPlacer(10, nil, discardLogger())
	order := domain.Order{
		RequestID:       "req-1",
		MarketID:        "mkt-1",
		Side:            domain.OrderSideSell,
		RequestedAmount: decimal.NewFromInt(10),
		MaxPrice:        decimal.RequireFromString("0.50"),
	}

	placed, err := placer.Place(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, placed.Status)
	assert.True(t, placed.FillPrice.Equal(decimal.RequireFromString("0.4995")), "got %s", placed.FillPrice)
	assert.Equal(t, "paper-req-1", placed.VenueOrderID)
}

func TestPaperPlaceNoReferencePriceFails(t *testing.T) {
	placer := NewPaperPlacer(10, nil, discardLogger())
	order := domain.Order{
		RequestID: "req-1",
		Side:      domain.OrderSideBuy,
	}

	placed, err := placer.Place(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFailed, placed.Status)
	assert.NotEmpty(t, placed.ErrorMessage)
}

func TestLiveExecuteWritesAheadThenPlaces(t *testing.T) {
	bus := newFakeBus()
	store := newFakeLiveStore()
	placer := &fakeLivePlacer{}
	e := New(bus, placer, store, nil, nil, nil, discardLogger())
	primePrice(e, "mkt-1", "0.45")

	opp := testOpportunity()
	order, err := e.Execute(context.Background(), opp, decimal.NewFromInt(40))
	require.NoError(t, err)

	assert.Equal(t, 1, placer.placeCalls)
	assert.Equal(t, domain.OrderStatusFilled, order.Status)

	stored, err := store.GetByRequestID(context.Background(), order.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, stored.Status)
}

func TestLiveDuplicateTerminalRecordNotResubmitted(t *testing.T) {
	bus := newFakeBus()
	store := newFakeLiveStore()
	placer := &fakeLivePlacer{}
	e := New(bus, placer, store, nil, nil, nil, discardLogger())
	primePrice(e, "mkt-1", "0.45")

	opp := testOpportunity()
	prior := domain.Order{
		RequestID:    RequestID(opp),
		MarketID:     opp.MarketID,
		Side:         opp.Side,
		Status:       domain.OrderStatusFilled,
		FilledAmount: decimal.NewFromInt(40),
		FillPrice:    decimal.RequireFromString("0.45"),
	}
	_, inserted, err := store.InsertPending(context.Background(), prior)
	require.NoError(t, err)
	require.True(t, inserted)

	order, err := e.Execute(context.Background(), opp, decimal.NewFromInt(40))
	require.NoError(t, err)

	assert.Equal(t, 0, placer.placeCalls, "terminal record must not resubmit")
	assert.Equal(t, 0, placer.checkCalls)
	assert.Equal(t, domain.OrderStatusFilled, order.Status)
	assert.True(t, order.FilledAmount.Equal(decimal.NewFromInt(40)))
}

func TestLiveDuplicatePendingResolvedViaVenue(t *testing.T) {
	bus := newFakeBus()
	store := newFakeLiveStore()
	placer := &fakeLivePlacer{checkAs: domain.OrderStatusFilled}
	e := New(bus, placer, store, nil, nil, nil, discardLogger())
	primePrice(e, "mkt-1", "0.45")

	opp := testOpportunity()
	prior := domain.Order{
		RequestID: RequestID(opp),
		MarketID:  opp.MarketID,
		Side:      opp.Side,
		Status:    domain.OrderStatusPending,
	}
	_, _, err := store.InsertPending(context.Background(), prior)
	require.NoError(t, err)

	order, err := e.Execute(context.Background(), opp, decimal.NewFromInt(40))
	require.NoError(t, err)

	assert.Equal(t, 0, placer.placeCalls, "in-doubt submission is checked, not resubmitted")
	assert.Equal(t, 1, placer.checkCalls)
	assert.Equal(t, domain.OrderStatusFilled, order.Status)
}

func TestLivePlaceErrorRecordedAsFailed(t *testing.T) {
	bus := newFakeBus()
	store := newFakeLiveStore()
	placer := &fakeLivePlacer{placeErr: errors.New("venue unreachable")}
	e := New(bus, placer, store, nil, nil, nil, discardLogger())
	primePrice(e, "mkt-1", "0.45")

	opp := testOpportunity()
	order, err := e.Execute(context.Background(), opp, decimal.NewFromInt(40))
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusFailed, order.Status)
	assert.Equal(t, "venue unreachable", order.ErrorMessage)

	stored, err := store.GetByRequestID(context.Background(), order.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFailed, stored.Status)

	// A failed order still produces a trade event, with zero PnL.
	events := bus.tradeEvents(t)
	require.Len(t, events, 1)
	assert.True(t, events[0].RealizedPnL.IsZero())
}

func TestExecuteErrorPublishesFailedOrder(t *testing.T) {
	bus := newFakeBus()
	store := &fakePaperStore{insertErr: errors.New("connection refused")}
	e := newPaperExecutor(bus, store)
	primePrice(e, "mkt-1", "0.45")

	opp := testOpportunity()
	_, err := e.Execute(context.Background(), opp, decimal.NewFromInt(40))
	require.Error(t, err)

	// The failure goes out as a trade event so downstream consumers can
	// release the reservation held for this opportunity.
	events := bus.tradeEvents(t)
	require.Len(t, events, 1)
	assert.Equal(t, domain.OrderStatusFailed, events[0].Order.Status)
	assert.Equal(t, opp.ID, events[0].Order.OpportunityID)
	assert.NotEmpty(t, events[0].Order.ErrorMessage)
	assert.True(t, events[0].RealizedPnL.IsZero())

	// Failures are terminal for the request: no automatic retry.
	_, err = e.Execute(context.Background(), opp, decimal.NewFromInt(40))
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
	assert.Len(t, bus.tradeEvents(t), 1)
}

func TestHandleDecisionExecutesApprovedOnly(t *testing.T) {
	bus := newFakeBus()
	store := &fakePaperStore{}
	e := newPaperExecutor(bus, store)
	primePrice(e, "mkt-1", "0.45")

	opp := testOpportunity()
	oppPayload, err := json.Marshal(opp)
	require.NoError(t, err)
	e.cacheOpportunity(oppPayload)

	ctx := context.Background()
	rejected, err := json.Marshal(domain.RiskDecision{
		OpportunityID: opp.ID,
		MarketID:      opp.MarketID,
		Approved:      false,
		Reason:        domain.RiskReasonPositionLimit,
	})
	require.NoError(t, err)
	e.handleDecision(ctx, rejected)
	assert.Empty(t, store.trades)

	approved, err := json.Marshal(domain.RiskDecision{
		OpportunityID: opp.ID,
		MarketID:      opp.MarketID,
		Approved:      true,
		Reason:        domain.RiskReasonApproved,
		ApprovedSize:  decimal.NewFromInt(25),
	})
	require.NoError(t, err)
	e.handleDecision(ctx, approved)

	require.Len(t, store.trades, 1)
	assert.True(t, store.trades[0].Quantity.Equal(decimal.NewFromInt(25)))
}

func TestLookupOpportunityFallsBackToStream(t *testing.T) {
	bus := newFakeBus()
	store := &fakePaperStore{}
	e := newPaperExecutor(bus, store)
	primePrice(e, "mkt-1", "0.45")

	// The opportunity only exists on the durable stream, as after a restart.
	opp := testOpportunity()
	payload, err := json.Marshal(opp)
	require.NoError(t, err)
	require.NoError(t, bus.StreamAppend(context.Background(), domain.ChanOpportunityDetected, payload))

	approved, err := json.Marshal(domain.RiskDecision{
		OpportunityID: opp.ID,
		MarketID:      opp.MarketID,
		Approved:      true,
		Reason:        domain.RiskReasonApproved,
		ApprovedSize:  decimal.NewFromInt(25),
	})
	require.NoError(t, err)
	e.handleDecision(context.Background(), approved)

	require.Len(t, store.trades, 1)
	assert.Equal(t, opp.ID, store.trades[0].OpportunityID)
}
