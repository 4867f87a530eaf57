package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	redisbus "github.com/rstover-fo/oraclepilot/internal/bus/redis"
	"github.com/rstover-fo/oraclepilot/internal/config"
	"github.com/rstover-fo/oraclepilot/internal/domain"
	"github.com/rstover-fo/oraclepilot/internal/executor"
	"github.com/rstover-fo/oraclepilot/internal/matcher"
	"github.com/rstover-fo/oraclepilot/internal/metrics"
	"github.com/rstover-fo/oraclepilot/internal/notify"
	"github.com/rstover-fo/oraclepilot/internal/oracle"
	"github.com/rstover-fo/oraclepilot/internal/oracle/providers"
	"github.com/rstover-fo/oraclepilot/internal/store/postgres"
	"github.com/rstover-fo/oraclepilot/internal/venue"

	"github.com/shopspring/decimal"
)

// Dependencies bundles everything the run modes need. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	Oracle   *oracle.Resilience
	Registry matcher.Registry

	PaperStore domain.PaperTradeStore
	LiveStore  domain.LiveTradeStore

	VenueSources []venue.PriceSource
	Traders      []executor.VenueTrader

	Metrics  *metrics.Recorder
	Notifier *notify.Notifier
}

// needsPostgres returns true for modes that persist or read trades.
func needsPostgres(mode string) bool {
	switch mode {
	case "pilot", "report":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Registry: matcher.NewInMemory(),
	}

	// --- Redis (bus + rate limiter) ---
	redisClient, err := redisbus.New(ctx, redisbus.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	streamMaxLen := int64(10000)
	if cfg.Redis.StreamMaxLen > 0 {
		streamMaxLen = int64(cfg.Redis.StreamMaxLen)
	}
	deps.SignalBus = redisbus.NewSignalBusWithMaxLen(redisClient, streamMaxLen)
	deps.RateLimiter = redisbus.NewRateLimiter(redisClient)

	// --- Metrics ---
	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.New()
	}

	// --- PostgreSQL (only for modes that need persistence) ---
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.PaperStore = postgres.NewPaperTradeStore(pool)
		deps.LiveStore = postgres.NewLiveTradeStore(pool)
	}

	// --- Oracle resilience layer ---
	res, err := buildOracle(cfg, deps.RateLimiter, deps.Metrics, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Oracle = res

	// --- Market/oracle mappings ---
	for _, m := range cfg.Mappings {
		mapping := domain.MarketOracleMapping{
			MarketID:     m.MarketID,
			OracleSymbol: m.OracleSymbol,
			Threshold:    decimal.NewFromFloat(m.Threshold),
			Direction:    domain.MappingDirection(m.Direction),
		}
		if err := deps.Registry.Register(mapping); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: mapping %s: %w", m.MarketID, err)
		}
	}

	// --- Venue sources and traders ---
	if cfg.Venues.Polymarket.Enabled {
		deps.VenueSources = append(deps.VenueSources, venue.NewPolymarketSource(
			cfg.Venues.Polymarket.WsURL,
			cfg.Venues.Polymarket.MarketIDs,
			logger,
		))
	}
	if cfg.Venues.Kalshi.Enabled {
		kalshiClient := venue.NewKalshiClient(cfg.Venues.Kalshi.BaseURL, cfg.Venues.Kalshi.APIKey)
		if cfg.Executor.Mode == "live" {
			pem, err := os.ReadFile(cfg.Venues.Kalshi.PrivateKeyPath)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: kalshi private key: %w", err)
			}
			if err := kalshiClient.SetRSAPrivateKey(pem); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: %w", err)
			}
			deps.Traders = append(deps.Traders, venue.NewKalshiTrader(kalshiClient, logger))
		}
		deps.VenueSources = append(deps.VenueSources, venue.NewKalshiSource(
			kalshiClient,
			cfg.Venues.Kalshi.MarketIDs,
			cfg.Venues.Kalshi.PollInterval.Duration,
			logger,
		))
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	return deps, cleanup, nil
}

// buildOracle assembles the provider set and the resilience layer over it.
func buildOracle(cfg *config.Config, limiter domain.RateLimiter, rec *metrics.Recorder, logger *slog.Logger) (*oracle.Resilience, error) {
	var provs []domain.OracleProvider
	budgets := make(map[string]oracle.RateBudget)
	timeouts := make(map[string]time.Duration)

	for _, pc := range cfg.Oracle.Providers {
		if !pc.Enabled {
			continue
		}
		var p domain.OracleProvider
		switch pc.Name {
		case "binance":
			p = providers.NewBinance(pc.BaseURL, pc.Priority, pc.Weight)
		case "coingecko":
			p = providers.NewCoinGecko(pc.BaseURL, pc.APIKey, pc.Priority, pc.Weight)
		case "fred":
			p = providers.NewFRED(pc.BaseURL, pc.APIKey, pc.Priority, pc.Weight)
		case "nws":
			p = providers.NewNWS(pc.BaseURL, pc.Priority, pc.Weight)
		default:
			return nil, fmt.Errorf("wire: unknown oracle provider %q", pc.Name)
		}
		provs = append(provs, p)

		if pc.RateLimit > 0 && pc.RateWindow.Duration > 0 {
			budgets[pc.Name] = oracle.RateBudget{
				Limit:  pc.RateLimit,
				Window: pc.RateWindow.Duration,
			}
		}
		if pc.RequestTimeout.Duration > 0 {
			timeouts[pc.Name] = pc.RequestTimeout.Duration
		}
	}

	res, err := oracle.New(provs, oracle.Config{
		CacheTTL:         cfg.Oracle.CacheTTL.Duration,
		FailureThreshold: cfg.Oracle.FailureThreshold,
		Timeouts:         timeouts,
		Budgets:          budgets,
	}, limiter, rec, logger)
	if err != nil {
		return nil, fmt.Errorf("wire: oracle: %w", err)
	}
	return res, nil
}
