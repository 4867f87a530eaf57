package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rstover-fo/oraclepilot/internal/domain"
)

// VenueTrader is one venue's order API. Implementations live in
// internal/venue and own authentication and wire formats.
type VenueTrader interface {
	Venue() string
	// PlaceOrder submits the order with its request_id as the client order
	// id, so the venue deduplicates resubmissions on its side too.
	PlaceOrder(ctx context.Context, o domain.Order) (domain.Order, error)
	// LookupOrder resolves the venue-side state of a previously submitted
	// request_id. Returns domain.ErrNotFound if the venue never saw it.
	LookupOrder(ctx context.Context, o domain.Order) (domain.Order, error)
}

// LivePlacer routes orders to real venues.
type LivePlacer struct {
	traders map[string]VenueTrader
	logger  *slog.Logger
}

// NewLivePlacer indexes traders by venue name.
func NewLivePlacer(traders []VenueTrader, logger *slog.Logger) *LivePlacer {
	byVenue := make(map[string]VenueTrader, len(traders))
	for _, t := range traders {
		byVenue[t.Venue()] = t
	}
	return &LivePlacer{
		traders: byVenue,
		logger:  logger.With(slog.String("component", "live_placer")),
	}
}

var _ OrderPlacer = (*LivePlacer)(nil)

// Mode implements OrderPlacer.
func (p *LivePlacer) Mode() string { return "live" }

// Place submits to the venue. A venue-side rejection comes back as a
// terminal order, not an error; errors are reserved for not knowing the
// outcome.
func (p *LivePlacer) Place(ctx context.Context, o domain.Order) (domain.Order, error) {
	trader, ok := p.traders[o.Venue]
	if !ok {
		return domain.Order{}, fmt.Errorf("live placer: venue %q: %w", o.Venue, domain.ErrNotFound)
	}
	placed, err := trader.PlaceOrder(ctx, o)
	if err != nil {
		return domain.Order{}, fmt.Errorf("live placer: place on %s: %w", o.Venue, err)
	}
	p.logger.Info("order placed",
		slog.String("venue", o.Venue),
		slog.String("request_id", o.RequestID),
		slog.String("venue_order_id", placed.VenueOrderID),
		slog.String("status", string(placed.Status)),
	)
	return placed, nil
}

// Check resolves an in-doubt submission. If the venue has no record of the
// request_id, the submission never landed and the order is marked failed.
func (p *LivePlacer) Check(ctx context.Context, o domain.Order) (domain.Order, error) {
	trader, ok := p.traders[o.Venue]
	if !ok {
		return domain.Order{}, fmt.Errorf("live placer: venue %q: %w", o.Venue, domain.ErrNotFound)
	}
	resolved, err := trader.LookupOrder(ctx, o)
	if err != nil {
		if domain.IsNotFound(err) {
			o.Status = domain.OrderStatusFailed
			o.ErrorMessage = "submission not found at venue"
			return o, nil
		}
		return domain.Order{}, fmt.Errorf("live placer: lookup on %s: %w", o.Venue, err)
	}
	return resolved, nil
}
