package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "turbo"
	cfg.Risk.Bankroll = 0
	cfg.Risk.RatchetPct = 1.5
	cfg.Scanner.MinEdgeThreshold = 0
	cfg.Executor.Mode = "shadow"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "unknown mode")
	assert.Contains(t, msg, "bankroll")
	assert.Contains(t, msg, "ratchet_pct")
	assert.Contains(t, msg, "min_edge_threshold")
	assert.Contains(t, msg, "executor")
}

func TestValidateRequiresEnabledProvider(t *testing.T) {
	cfg := Defaults()
	for i := range cfg.Oracle.Providers {
		cfg.Oracle.Providers[i].Enabled = false
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one provider")
}

func TestValidateFredRequiresAPIKey(t *testing.T) {
	cfg := Defaults()
	for i := range cfg.Oracle.Providers {
		if cfg.Oracle.Providers[i].Name == "fred" {
			cfg.Oracle.Providers[i].Enabled = true
			cfg.Oracle.Providers[i].APIKey = ""
		}
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fred requires api_key")
}

func TestValidateLiveModeRequiresCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Executor.Mode = "live"
	cfg.Venues.Kalshi.Enabled = true
	cfg.Venues.Kalshi.APIKey = ""
	cfg.Venues.Kalshi.PrivateKeyPath = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kalshi.api_key")
	assert.Contains(t, err.Error(), "private_key_path")
}

func TestValidateMappingDirection(t *testing.T) {
	cfg := Defaults()
	cfg.Mappings = append(cfg.Mappings, MappingConfig{
		MarketID:     "mkt-1",
		OracleSymbol: "BTC",
		Threshold:    50000,
		Direction:    "sideways",
	})
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "direction")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pilot.toml")
	body := `
mode = "monitor"
log_level = "debug"

[oracle]
cache_ttl = "45s"

[risk]
bankroll = 500.0
per_market_cap = 100.0
ratchet_pct = 0.8

[[mappings]]
market_id = "mkt-btc-60k"
oracle_symbol = "BTC"
threshold = 60000.0
direction = "above"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 45*time.Second, cfg.Oracle.CacheTTL.Duration)
	assert.Equal(t, 500.0, cfg.Risk.Bankroll)
	assert.Equal(t, 0.8, cfg.Risk.RatchetPct)
	require.Len(t, cfg.Mappings, 1)
	assert.Equal(t, "mkt-btc-60k", cfg.Mappings[0].MarketID)

	// Untouched sections keep their defaults.
	assert.NotEmpty(t, cfg.Oracle.Providers)
	assert.Equal(t, "paper", cfg.Executor.Mode)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PILOT_MODE", "report")
	t.Setenv("PILOT_RISK_BANKROLL", "750.5")
	t.Setenv("PILOT_ORACLE_CACHE_TTL", "10s")
	t.Setenv("PILOT_ORACLE_SYMBOLS", "BTC,ETH")
	t.Setenv("PILOT_REDIS_TLS_ENABLED", "true")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "report", cfg.Mode)
	assert.Equal(t, 750.5, cfg.Risk.Bankroll)
	assert.Equal(t, 10*time.Second, cfg.Oracle.CacheTTL.Duration)
	assert.Equal(t, []string{"BTC", "ETH"}, cfg.Oracle.Symbols)
	assert.True(t, cfg.Redis.TLSEnabled)
}

func TestEnvOverridesIgnoreMalformed(t *testing.T) {
	t.Setenv("PILOT_RISK_BANKROLL", "not-a-number")
	t.Setenv("PILOT_ORACLE_CACHE_TTL", "soon")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, Defaults().Risk.Bankroll, cfg.Risk.Bankroll)
	assert.Equal(t, Defaults().Oracle.CacheTTL.Duration, cfg.Oracle.CacheTTL.Duration)
}
