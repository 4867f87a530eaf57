package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rstover-fo/oraclepilot/internal/domain"
	"github.com/rstover-fo/oraclepilot/internal/notify"
)

type outageEvent struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
	TS     int64  `json:"ts"`
}

// PollerConfig tunes the oracle poller agent.
type PollerConfig struct {
	Symbols            []string
	Interval           time.Duration
	ConsensusEnabled   bool
	ConsensusThreshold float64
}

// Poller is the oracle agent: on every tick it fetches each configured symbol
// through the resilience layer and publishes the reading on its per-symbol
// channel "oracle.{provider}.{symbol}".
type Poller struct {
	res      *Resilience
	bus      domain.SignalBus
	cfg      PollerConfig
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewPoller creates the oracle poller agent.
func NewPoller(res *Resilience, bus domain.SignalBus, cfg PollerConfig, notifier *notify.Notifier, logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Poller{
		res:      res,
		bus:      bus,
		cfg:      cfg,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "oracle_poller")),
	}
}

// Name implements agent.Agent.
func (p *Poller) Name() string { return "oracle_poller" }

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("oracle poller started",
		slog.Int("symbols", len(p.cfg.Symbols)),
		slog.Duration("interval", p.cfg.Interval),
		slog.Bool("consensus", p.cfg.ConsensusEnabled),
	)
	defer p.logger.Info("oracle poller stopped")

	// First pass immediately so the scanner has oracle data at startup.
	p.pollAll(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.pollAll(ctx)
		}
	}
}

func (p *Poller) pollAll(ctx context.Context) {
	for _, symbol := range p.cfg.Symbols {
		if ctx.Err() != nil {
			return
		}
		p.pollOne(ctx, symbol)
	}
}

func (p *Poller) pollOne(ctx context.Context, symbol string) {
	var (
		data domain.OracleData
		err  error
	)
	if p.cfg.ConsensusEnabled {
		data, err = p.res.GetConsensus(ctx, symbol, p.cfg.ConsensusThreshold)
	} else {
		data, err = p.res.GetCurrent(ctx, symbol)
	}
	if err != nil {
		if IsUnavailable(err) {
			// Absence propagates as absence: nothing is published on the
			// price channel, and the outage itself becomes observable.
			p.publishOutage(ctx, symbol)
			return
		}
		p.logger.Error("oracle poll failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return
	}

	if data.Meta != nil && data.Meta.HighDeviation {
		_ = p.notifier.Notify(ctx, notify.EventHighDeviation, "High oracle deviation",
			fmt.Sprintf("symbol=%s max_deviation=%s across %d providers",
				symbol, data.Meta.MaxDeviation.String(), len(data.Meta.Providers)))
	}

	payload, err := json.Marshal(data)
	if err != nil {
		p.logger.Error("marshal oracle data",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := p.bus.Publish(ctx, domain.OracleChannel(data.Source, symbol), payload); err != nil {
		p.logger.Warn("publish oracle data failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Poller) publishOutage(ctx context.Context, symbol string) {
	p.logger.Warn("no oracle data from any provider", slog.String("symbol", symbol))
	_ = p.notifier.Notify(ctx, notify.EventProviderOutage, "Oracle provider outage",
		fmt.Sprintf("no provider returned data for %s", symbol))
	evt, _ := json.Marshal(outageEvent{
		Symbol: symbol,
		Reason: "provider_outage",
		TS:     time.Now().UTC().Unix(),
	})
	if err := p.bus.Publish(ctx, domain.ChanOracleOutage, evt); err != nil && ctx.Err() == nil {
		p.logger.Warn("publish outage failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
}
