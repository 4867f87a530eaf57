// Package venue normalizes market data from prediction-market venues and
// publishes it on the signal bus. All venue wire formats stay inside this
// package; everything downstream sees domain.Market.
package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/rstover-fo/oraclepilot/internal/domain"
)

// PriceSource streams normalized market snapshots from one venue. Stream
// blocks until ctx is cancelled or the source fails unrecoverably.
type PriceSource interface {
	Venue() string
	Stream(ctx context.Context, out chan<- domain.Market) error
}

// Feed fans in all configured price sources and publishes each snapshot to
// venue.{venue}.prices. Price ticks are transient, so they travel over plain
// pub/sub with no stream backing.
type Feed struct {
	bus     domain.SignalBus
	sources []PriceSource
	logger  *slog.Logger
}

// NewFeed creates the venue feed agent.
func NewFeed(bus domain.SignalBus, sources []PriceSource, logger *slog.Logger) *Feed {
	return &Feed{
		bus:     bus,
		sources: sources,
		logger:  logger.With(slog.String("component", "venue_feed")),
	}
}

// Name implements agent.Agent.
func (f *Feed) Name() string { return "venue_feed" }

// Run starts every source and publishes until ctx is cancelled. One source
// failing takes the feed down so the supervisor restarts the process whole.
func (f *Feed) Run(ctx context.Context) error {
	if len(f.sources) == 0 {
		f.logger.Info("no venue sources configured, feed idle")
		<-ctx.Done()
		return ctx.Err()
	}

	out := make(chan domain.Market, 256)
	g, ctx := errgroup.WithContext(ctx)

	for _, src := range f.sources {
		src := src
		g.Go(func() error {
			if err := src.Stream(ctx, out); err != nil && ctx.Err() == nil {
				return fmt.Errorf("venue: %s stream: %w", src.Venue(), err)
			}
			return ctx.Err()
		})
	}

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case m := <-out:
				f.publish(ctx, m)
			}
		}
	})

	return g.Wait()
}

func (f *Feed) publish(ctx context.Context, m domain.Market) {
	payload, err := json.Marshal(m)
	if err != nil {
		f.logger.Error("marshal market", slog.String("error", err.Error()))
		return
	}
	channel := domain.VenueChannel(m.Venue)
	if err := f.bus.Publish(ctx, channel, payload); err != nil {
		f.logger.Warn("publish market failed",
			slog.String("channel", channel),
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
}
