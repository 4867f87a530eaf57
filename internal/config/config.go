// Package config defines the top-level configuration for the pilot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by PILOT_* environment variables.
type Config struct {
	Oracle   OracleConfig    `toml:"oracle"`
	Venues   VenuesConfig    `toml:"venues"`
	Mappings []MappingConfig `toml:"mappings"`
	Scanner  ScannerConfig   `toml:"scanner"`
	Risk     RiskConfig      `toml:"risk"`
	Executor ExecutorConfig  `toml:"executor"`
	Redis    RedisConfig     `toml:"redis"`
	Postgres PostgresConfig  `toml:"postgres"`
	Metrics  MetricsConfig   `toml:"metrics"`
	Notify   NotifyConfig    `toml:"notify"`
	Mode     string          `toml:"mode"`
	LogLevel string          `toml:"log_level"`
}

// ProviderConfig describes one oracle provider: its fallback priority
// (higher tried first), consensus weight, and outbound rate budget.
type ProviderConfig struct {
	Name           string   `toml:"name"`
	Enabled        bool     `toml:"enabled"`
	Priority       int      `toml:"priority"`
	Weight         float64  `toml:"weight"`
	BaseURL        string   `toml:"base_url"`
	APIKey         string   `toml:"api_key"`
	RateLimit      int      `toml:"rate_limit"`
	RateWindow     duration `toml:"rate_window"`
	RequestTimeout duration `toml:"request_timeout"`
}

// OracleConfig holds resilience-layer parameters.
type OracleConfig struct {
	Providers          []ProviderConfig `toml:"providers"`
	Symbols            []string         `toml:"symbols"`
	CacheTTL           duration         `toml:"cache_ttl"`
	PollInterval       duration         `toml:"poll_interval"`
	FailureThreshold   int              `toml:"failure_threshold"`
	ConsensusEnabled   bool             `toml:"consensus_enabled"`
	ConsensusThreshold float64          `toml:"consensus_threshold"`
}

// VenueConfig holds connection parameters for one venue feed.
type VenueConfig struct {
	Enabled        bool     `toml:"enabled"`
	BaseURL        string   `toml:"base_url"`
	WsURL          string   `toml:"ws_url"`
	APIKey         string   `toml:"api_key"`
	PrivateKeyPath string   `toml:"private_key_path"`
	PollInterval   duration `toml:"poll_interval"`
	MarketIDs      []string `toml:"market_ids"`
}

// VenuesConfig bundles the supported venue feeds.
type VenuesConfig struct {
	Polymarket VenueConfig `toml:"polymarket"`
	Kalshi     VenueConfig `toml:"kalshi"`
}

// MappingConfig declares a market→oracle mapping loaded at startup.
type MappingConfig struct {
	MarketID     string  `toml:"market_id"`
	OracleSymbol string  `toml:"oracle_symbol"`
	Threshold    float64 `toml:"threshold"`
	Direction    string  `toml:"direction"` // "above" | "below"
}

// ScannerConfig holds opportunity-detection parameters.
type ScannerConfig struct {
	MinEdgeThreshold float64  `toml:"min_edge_threshold"`
	DetectionWindow  duration `toml:"detection_window"`
	DefaultSizeHint  float64  `toml:"default_size_hint"`
}

// RiskConfig holds the guardian's limits.
type RiskConfig struct {
	Bankroll     float64 `toml:"bankroll"`
	PerMarketCap float64 `toml:"per_market_cap"`
	RatchetPct   float64 `toml:"ratchet_pct"`
}

// ExecutorConfig selects execution mode and the paper slippage model.
type ExecutorConfig struct {
	Mode           string   `toml:"mode"` // "paper" | "live"
	SlippageBps    float64  `toml:"slippage_bps"`
	RequestTimeout duration `toml:"request_timeout"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// MetricsConfig holds the Prometheus endpoint parameters.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// NotifyConfig holds alerting channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Oracle: OracleConfig{
			Providers: []ProviderConfig{
				{
					Name:           "binance",
					Enabled:        true,
					Priority:       100,
					Weight:         1.0,
					BaseURL:        "https://api.binance.com",
					RateLimit:      20,
					RateWindow:     duration{time.Second},
					RequestTimeout: duration{5 * time.Second},
				},
				{
					Name:           "coingecko",
					Enabled:        true,
					Priority:       50,
					Weight:         0.8,
					BaseURL:        "https://api.coingecko.com",
					RateLimit:      10,
					RateWindow:     duration{time.Minute},
					RequestTimeout: duration{8 * time.Second},
				},
				{
					Name:           "fred",
					Enabled:        false,
					Priority:       30,
					Weight:         1.0,
					BaseURL:        "https://api.stlouisfed.org",
					RateLimit:      60,
					RateWindow:     duration{time.Minute},
					RequestTimeout: duration{10 * time.Second},
				},
				{
					Name:           "nws",
					Enabled:        false,
					Priority:       30,
					Weight:         1.0,
					BaseURL:        "https://api.weather.gov",
					RateLimit:      30,
					RateWindow:     duration{time.Minute},
					RequestTimeout: duration{10 * time.Second},
				},
			},
			Symbols:            []string{"BTC", "ETH"},
			CacheTTL:           duration{30 * time.Second},
			PollInterval:       duration{5 * time.Second},
			FailureThreshold:   3,
			ConsensusEnabled:   false,
			ConsensusThreshold: 0.95,
		},
		Venues: VenuesConfig{
			Polymarket: VenueConfig{
				Enabled:      true,
				BaseURL:      "https://clob.polymarket.com",
				WsURL:        "wss://ws-subscriptions-clob.polymarket.com/ws/market",
				PollInterval: duration{2 * time.Second},
			},
			Kalshi: VenueConfig{
				Enabled:      false,
				BaseURL:      "https://api.elections.kalshi.com/trade-api/v2",
				PollInterval: duration{5 * time.Second},
			},
		},
		Scanner: ScannerConfig{
			MinEdgeThreshold: 0.02,
			DetectionWindow:  duration{30 * time.Second},
			DefaultSizeHint:  10.0,
		},
		Risk: RiskConfig{
			Bankroll:     500.0,
			PerMarketCap: 50.0,
			RatchetPct:   0.8,
		},
		Executor: ExecutorConfig{
			Mode:           "paper",
			SlippageBps:    10.0,
			RequestTimeout: duration{10 * time.Second},
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     20,
			MaxRetries:   3,
			TLSEnabled:   false,
			StreamMaxLen: 10000,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "oraclepilot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Notify: NotifyConfig{
			Events: []string{"execution_failed", "drawdown_stop", "provider_outage"},
		},
		Mode:     "pilot",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"pilot":   true,
	"monitor": true,
	"report":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for invalid or missing values and returns a combined
// error describing every problem found. The pilot must not start degraded:
// any problem here is fatal at startup.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: pilot, monitor, report)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	enabled := 0
	for i, p := range c.Oracle.Providers {
		if !p.Enabled {
			continue
		}
		enabled++
		if p.Name == "" {
			errs = append(errs, fmt.Sprintf("oracle.providers[%d]: name is required", i))
		}
		if p.BaseURL == "" {
			errs = append(errs, fmt.Sprintf("oracle.providers[%d] (%s): base_url is required", i, p.Name))
		}
		if p.Name == "fred" && p.APIKey == "" {
			errs = append(errs, "oracle.providers: fred requires api_key")
		}
		if p.Weight < 0 {
			errs = append(errs, fmt.Sprintf("oracle.providers[%d] (%s): weight must be >= 0", i, p.Name))
		}
	}
	if enabled == 0 {
		errs = append(errs, "oracle: at least one provider must be enabled")
	}
	if c.Oracle.FailureThreshold <= 0 {
		errs = append(errs, "oracle: failure_threshold must be > 0")
	}
	if c.Oracle.CacheTTL.Duration <= 0 {
		errs = append(errs, "oracle: cache_ttl must be > 0")
	}
	if c.Oracle.ConsensusEnabled && (c.Oracle.ConsensusThreshold <= 0 || c.Oracle.ConsensusThreshold > 1) {
		errs = append(errs, "oracle: consensus_threshold must be in (0, 1]")
	}

	for i, m := range c.Mappings {
		if m.MarketID == "" || m.OracleSymbol == "" {
			errs = append(errs, fmt.Sprintf("mappings[%d]: market_id and oracle_symbol are required", i))
		}
		if m.Direction != "above" && m.Direction != "below" {
			errs = append(errs, fmt.Sprintf("mappings[%d]: direction must be \"above\" or \"below\", got %q", i, m.Direction))
		}
	}

	if c.Scanner.MinEdgeThreshold <= 0 {
		errs = append(errs, "scanner: min_edge_threshold must be > 0")
	}
	if c.Scanner.DetectionWindow.Duration <= 0 {
		errs = append(errs, "scanner: detection_window must be > 0")
	}

	if c.Risk.Bankroll <= 0 {
		errs = append(errs, "risk: bankroll must be > 0")
	}
	if c.Risk.PerMarketCap <= 0 {
		errs = append(errs, "risk: per_market_cap must be > 0")
	}
	if c.Risk.RatchetPct <= 0 || c.Risk.RatchetPct >= 1 {
		errs = append(errs, "risk: ratchet_pct must be in (0, 1)")
	}

	switch c.Executor.Mode {
	case "paper", "live":
	default:
		errs = append(errs, fmt.Sprintf("executor: unknown mode %q (valid: paper, live)", c.Executor.Mode))
	}
	if c.Executor.Mode == "live" {
		if c.Venues.Polymarket.Enabled && c.Venues.Polymarket.APIKey == "" {
			errs = append(errs, "executor: live mode requires venues.polymarket.api_key")
		}
		if c.Venues.Kalshi.Enabled && c.Venues.Kalshi.APIKey == "" {
			errs = append(errs, "executor: live mode requires venues.kalshi.api_key")
		}
		if c.Venues.Kalshi.Enabled && c.Venues.Kalshi.PrivateKeyPath == "" {
			errs = append(errs, "executor: live mode requires venues.kalshi.private_key_path")
		}
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
