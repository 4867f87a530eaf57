package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rstover-fo/oraclepilot/internal/domain"
	"github.com/rstover-fo/oraclepilot/internal/metrics"
)

// heartbeatInterval is how often each supervised agent reports liveness.
const heartbeatInterval = 10 * time.Second

// Runner supervises a set of agents with a shared errgroup, publishes their
// heartbeats, and watches the control channel for the kill switch.
type Runner struct {
	bus    domain.SignalBus
	rec    *metrics.Recorder
	logger *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(bus domain.SignalBus, rec *metrics.Recorder, logger *slog.Logger) *Runner {
	return &Runner{
		bus:    bus,
		rec:    rec,
		logger: logger.With(slog.String("component", "runner")),
	}
}

// Run starts every agent plus its heartbeat loop and blocks until the context
// is cancelled, the kill switch fires, or an agent fails. A halt command on
// pilot.control cancels the shared context; each agent observes it at its
// next iteration boundary and exits after completing any in-flight write.
func (r *Runner) Run(ctx context.Context, agents ...Agent) error {
	g, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.Go(func() error {
		return r.watchKillSwitch(ctx, cancel)
	})

	for _, a := range agents {
		a := a
		g.Go(func() error {
			r.logger.Info("agent starting", slog.String("agent", a.Name()))
			err := a.Run(ctx)
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("agent %s: %w", a.Name(), err)
			}
			r.logger.Info("agent stopped", slog.String("agent", a.Name()))
			return nil // clean shutdown
		})
		g.Go(func() error {
			r.heartbeatLoop(ctx, a.Name())
			return nil
		})
	}

	return g.Wait()
}

// watchKillSwitch subscribes to the control channel and cancels the shared
// context when a halt command arrives.
func (r *Runner) watchKillSwitch(ctx context.Context, cancel context.CancelFunc) error {
	ch, err := r.bus.Subscribe(ctx, domain.ChanControl)
	if err != nil {
		return fmt.Errorf("runner: subscribe control: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			var cmd domain.ControlCommand
			if err := json.Unmarshal(payload, &cmd); err != nil {
				r.logger.Warn("malformed control command",
					slog.String("payload", string(payload)),
					slog.String("error", err.Error()),
				)
				continue
			}
			if cmd.Command == domain.ControlHalt {
				r.logger.Warn("kill switch received, cancelling agents",
					slog.String("origin", cmd.Origin),
				)
				cancel()
				return nil
			}
		}
	}
}

// heartbeatLoop publishes liveness until ctx is cancelled. Publish failures
// are logged and skipped; a missed heartbeat must never take an agent down.
func (r *Runner) heartbeatLoop(ctx context.Context, name string) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	channel := domain.HeartbeatChannel(name)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hb, _ := json.Marshal(Heartbeat{Agent: name, TS: time.Now().UTC().Unix()})
			if err := r.bus.Publish(ctx, channel, hb); err != nil {
				if ctx.Err() != nil {
					return
				}
				r.logger.Warn("heartbeat publish failed",
					slog.String("agent", name),
					slog.String("error", err.Error()),
				)
				continue
			}
			r.rec.Heartbeat(name)
		}
	}
}
