package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PILOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PILOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets and tune limits at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Oracle ──
	setDuration(&cfg.Oracle.CacheTTL, "PILOT_ORACLE_CACHE_TTL")
	setDuration(&cfg.Oracle.PollInterval, "PILOT_ORACLE_POLL_INTERVAL")
	setInt(&cfg.Oracle.FailureThreshold, "PILOT_ORACLE_FAILURE_THRESHOLD")
	setBool(&cfg.Oracle.ConsensusEnabled, "PILOT_ORACLE_CONSENSUS_ENABLED")
	setFloat64(&cfg.Oracle.ConsensusThreshold, "PILOT_ORACLE_CONSENSUS_THRESHOLD")
	setStringSlice(&cfg.Oracle.Symbols, "PILOT_ORACLE_SYMBOLS")
	for i := range cfg.Oracle.Providers {
		p := &cfg.Oracle.Providers[i]
		prefix := "PILOT_ORACLE_" + strings.ToUpper(p.Name)
		setBool(&p.Enabled, prefix+"_ENABLED")
		setInt(&p.Priority, prefix+"_PRIORITY")
		setFloat64(&p.Weight, prefix+"_WEIGHT")
		setStr(&p.BaseURL, prefix+"_BASE_URL")
		setStr(&p.APIKey, prefix+"_API_KEY")
		setInt(&p.RateLimit, prefix+"_RATE_LIMIT")
		setDuration(&p.RateWindow, prefix+"_RATE_WINDOW")
		setDuration(&p.RequestTimeout, prefix+"_REQUEST_TIMEOUT")
	}

	// ── Venues ──
	setBool(&cfg.Venues.Polymarket.Enabled, "PILOT_VENUE_POLYMARKET_ENABLED")
	setStr(&cfg.Venues.Polymarket.BaseURL, "PILOT_VENUE_POLYMARKET_BASE_URL")
	setStr(&cfg.Venues.Polymarket.WsURL, "PILOT_VENUE_POLYMARKET_WS_URL")
	setStr(&cfg.Venues.Polymarket.APIKey, "PILOT_VENUE_POLYMARKET_API_KEY")
	setDuration(&cfg.Venues.Polymarket.PollInterval, "PILOT_VENUE_POLYMARKET_POLL_INTERVAL")
	setStringSlice(&cfg.Venues.Polymarket.MarketIDs, "PILOT_VENUE_POLYMARKET_MARKET_IDS")
	setBool(&cfg.Venues.Kalshi.Enabled, "PILOT_VENUE_KALSHI_ENABLED")
	setStr(&cfg.Venues.Kalshi.BaseURL, "PILOT_VENUE_KALSHI_BASE_URL")
	setStr(&cfg.Venues.Kalshi.APIKey, "PILOT_VENUE_KALSHI_API_KEY")
	setStr(&cfg.Venues.Kalshi.PrivateKeyPath, "PILOT_VENUE_KALSHI_PRIVATE_KEY_PATH")
	setDuration(&cfg.Venues.Kalshi.PollInterval, "PILOT_VENUE_KALSHI_POLL_INTERVAL")
	setStringSlice(&cfg.Venues.Kalshi.MarketIDs, "PILOT_VENUE_KALSHI_MARKET_IDS")

	// ── Scanner ──
	setFloat64(&cfg.Scanner.MinEdgeThreshold, "PILOT_SCANNER_MIN_EDGE_THRESHOLD")
	setDuration(&cfg.Scanner.DetectionWindow, "PILOT_SCANNER_DETECTION_WINDOW")
	setFloat64(&cfg.Scanner.DefaultSizeHint, "PILOT_SCANNER_DEFAULT_SIZE_HINT")

	// ── Risk ──
	setFloat64(&cfg.Risk.Bankroll, "PILOT_RISK_BANKROLL")
	setFloat64(&cfg.Risk.PerMarketCap, "PILOT_RISK_PER_MARKET_CAP")
	setFloat64(&cfg.Risk.RatchetPct, "PILOT_RISK_RATCHET_PCT")

	// ── Executor ──
	setStr(&cfg.Executor.Mode, "PILOT_EXECUTOR_MODE")
	setFloat64(&cfg.Executor.SlippageBps, "PILOT_EXECUTOR_SLIPPAGE_BPS")
	setDuration(&cfg.Executor.RequestTimeout, "PILOT_EXECUTOR_REQUEST_TIMEOUT")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PILOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PILOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PILOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PILOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PILOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PILOT_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.StreamMaxLen, "PILOT_REDIS_STREAM_MAX_LEN")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PILOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PILOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PILOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PILOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PILOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PILOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PILOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PILOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PILOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PILOT_POSTGRES_RUN_MIGRATIONS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "PILOT_METRICS_ENABLED")
	setInt(&cfg.Metrics.Port, "PILOT_METRICS_PORT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PILOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PILOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PILOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PILOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PILOT_MODE")
	setStr(&cfg.LogLevel, "PILOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
