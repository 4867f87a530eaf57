package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/rstover-fo/oraclepilot/internal/agent"
	"github.com/rstover-fo/oraclepilot/internal/executor"
	"github.com/rstover-fo/oraclepilot/internal/metrics"
	"github.com/rstover-fo/oraclepilot/internal/oracle"
	"github.com/rstover-fo/oraclepilot/internal/report"
	"github.com/rstover-fo/oraclepilot/internal/risk"
	"github.com/rstover-fo/oraclepilot/internal/scanner"
	"github.com/rstover-fo/oraclepilot/internal/venue"
)

// PilotMode runs the full pipeline: oracle poller, venue feed, scanner, risk
// guardian, and the executor in the configured paper/live mode.
func (a *App) PilotMode(ctx context.Context, deps *Dependencies) error {
	agents := a.pipelineAgents(deps)

	state := risk.NewState(risk.Limits{
		Bankroll:     decimal.NewFromFloat(a.cfg.Risk.Bankroll),
		PerMarketCap: decimal.NewFromFloat(a.cfg.Risk.PerMarketCap),
		RatchetPct:   decimal.NewFromFloat(a.cfg.Risk.RatchetPct),
	})
	agents = append(agents, risk.NewGuardian(deps.SignalBus, state, deps.Notifier, deps.Metrics, a.logger))

	placer, err := a.buildPlacer(deps)
	if err != nil {
		return err
	}
	agents = append(agents, executor.New(
		deps.SignalBus,
		placer,
		deps.LiveStore,
		deps.PaperStore,
		deps.Notifier,
		deps.Metrics,
		a.logger,
	))

	return a.supervise(ctx, deps, agents)
}

// MonitorMode runs detection without execution: oracle poller, venue feed,
// and scanner. Opportunities still land on the bus and its durable stream.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	return a.supervise(ctx, deps, a.pipelineAgents(deps))
}

// ReportMode prints the session summary and exits.
func (a *App) ReportMode(ctx context.Context, deps *Dependencies) error {
	gen := report.NewGenerator(deps.PaperStore, deps.LiveStore, deps.SignalBus, a.logger)

	since := time.Now().Add(-24 * time.Hour)
	r, err := gen.Generate(ctx, a.cfg.Executor.Mode, since)
	if err != nil {
		return fmt.Errorf("app: generate report: %w", err)
	}

	fmt.Fprint(os.Stdout, r.String())
	deps.Notifier.NotifyAll(ctx, "Session report", r.String())
	return nil
}

// pipelineAgents builds the detection half of the pipeline, shared between
// pilot and monitor modes.
func (a *App) pipelineAgents(deps *Dependencies) []agent.Agent {
	poller := oracle.NewPoller(deps.Oracle, deps.SignalBus, oracle.PollerConfig{
		Symbols:            a.cfg.Oracle.Symbols,
		Interval:           a.cfg.Oracle.PollInterval.Duration,
		ConsensusEnabled:   a.cfg.Oracle.ConsensusEnabled,
		ConsensusThreshold: a.cfg.Oracle.ConsensusThreshold,
	}, deps.Notifier, a.logger)

	feed := venue.NewFeed(deps.SignalBus, deps.VenueSources, a.logger)

	scan := scanner.New(deps.SignalBus, deps.Registry, scanner.Config{
		MinEdgeThreshold: decimal.NewFromFloat(a.cfg.Scanner.MinEdgeThreshold),
		DetectionWindow:  a.cfg.Scanner.DetectionWindow.Duration,
		DefaultSizeHint:  decimal.NewFromFloat(a.cfg.Scanner.DefaultSizeHint),
	}, deps.Metrics, a.logger)

	return []agent.Agent{poller, feed, scan}
}

// buildPlacer selects the execution backend for the configured mode.
func (a *App) buildPlacer(deps *Dependencies) (executor.OrderPlacer, error) {
	switch a.cfg.Executor.Mode {
	case "paper":
		fees := scanner.NewFeeSchedule(nil)
		return executor.NewPaperPlacer(
			int64(a.cfg.Executor.SlippageBps),
			fees.Rate,
			a.logger,
		), nil
	case "live":
		if len(deps.Traders) == 0 {
			return nil, fmt.Errorf("app: live mode configured but no venue traders available")
		}
		return executor.NewLivePlacer(deps.Traders, a.logger), nil
	default:
		return nil, fmt.Errorf("app: unknown executor mode %q", a.cfg.Executor.Mode)
	}
}

// supervise runs the agents under the runner, with the metrics endpoint
// alongside when enabled.
func (a *App) supervise(ctx context.Context, deps *Dependencies, agents []agent.Agent) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Metrics.Enabled {
		g.Go(func() error {
			return metrics.Serve(ctx, a.cfg.Metrics.Port, a.logger)
		})
	}

	runner := agent.NewRunner(deps.SignalBus, deps.Metrics, a.logger)
	g.Go(func() error {
		return runner.Run(ctx, agents...)
	})

	return g.Wait()
}
