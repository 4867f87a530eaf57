// Package oracle wraps N independent oracle providers behind one logical
// feed: priority fallback, per-provider circuit breaking, TTL-bounded
// caching, and optional weighted consensus.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/rstover-fo/oraclepilot/internal/domain"
	"github.com/rstover-fo/oraclepilot/internal/metrics"
)

// RateBudget is the outbound call allowance toward one provider.
type RateBudget struct {
	Limit  int
	Window time.Duration
}

// Config tunes the resilience layer.
type Config struct {
	// CacheTTL bounds how long a cached value may be served. Past it, a
	// fresh call is mandatory; a stale value is never silently substituted.
	CacheTTL time.Duration
	// FailureThreshold is the consecutive-failure count that opens a
	// provider's circuit.
	FailureThreshold int
	// Timeouts bounds each provider call; missing entries use DefaultTimeout.
	Timeouts       map[string]time.Duration
	DefaultTimeout time.Duration
	// Budgets holds per-provider rate limits consulted before every call.
	Budgets map[string]RateBudget
}

type cacheEntry struct {
	data     domain.OracleData
	cachedAt time.Time
}

// Resilience is the one logical oracle feed. Provider health and the value
// cache are local to this process; each has a single mutex so a batch refresh
// and a lookup never interleave a read-modify-write.
type Resilience struct {
	providers []domain.OracleProvider // sorted by priority, highest first
	cfg       Config
	limiter   domain.RateLimiter
	logger    *slog.Logger
	rec       *metrics.Recorder

	healthMu sync.Mutex
	health   map[string]*domain.ProviderHealth

	cacheMu sync.Mutex
	cache   map[string]cacheEntry

	// flight collapses concurrent refreshes of the same symbol: a lookup
	// that finds a refresh in flight waits for it instead of duplicating it.
	flight singleflight.Group
}

// New creates a Resilience layer over the given providers. At least one
// provider is required; this is a fatal configuration error, not a runtime
// condition.
func New(providers []domain.OracleProvider, cfg Config, limiter domain.RateLimiter, rec *metrics.Recorder, logger *slog.Logger) (*Resilience, error) {
	if len(providers) == 0 {
		return nil, domain.ErrNoProviders
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 5 * time.Second
	}

	sorted := make([]domain.OracleProvider, len(providers))
	copy(sorted, providers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() > sorted[j].Priority()
	})

	health := make(map[string]*domain.ProviderHealth, len(sorted))
	for _, p := range sorted {
		health[p.Name()] = &domain.ProviderHealth{Healthy: true}
	}

	return &Resilience{
		providers: sorted,
		cfg:       cfg,
		limiter:   limiter,
		logger:    logger.With(slog.String("component", "oracle_resilience")),
		rec:       rec,
		health:    health,
		cache:     make(map[string]cacheEntry),
	}, nil
}

// GetCurrent returns the freshest value for symbol: from the TTL cache when
// within bounds, otherwise from the highest-priority healthy provider. When
// every provider fails it returns ErrDataUnavailable — never a numeric
// default. Provider failures are converted to health-state updates and do not
// propagate.
func (r *Resilience) GetCurrent(ctx context.Context, symbol string) (domain.OracleData, error) {
	if data, ok := r.cached(symbol); ok {
		r.rec.CacheHit()
		return data, nil
	}

	v, err, _ := r.flight.Do(symbol, func() (interface{}, error) {
		// Re-check under the flight: a concurrent refresh may have landed
		// between the cache miss and acquiring the slot.
		if data, ok := r.cached(symbol); ok {
			return data, nil
		}
		return r.fetchFallback(ctx, symbol)
	})
	if err != nil {
		return domain.OracleData{}, err
	}
	return v.(domain.OracleData), nil
}

// fetchFallback walks providers by descending priority, skipping open
// circuits. If every circuit is open it probes all providers anyway, which is
// the only path by which a broken provider can recover.
func (r *Resilience) fetchFallback(ctx context.Context, symbol string) (domain.OracleData, error) {
	candidates := r.healthyProviders()
	if len(candidates) == 0 {
		r.logger.Warn("all provider circuits open, probing every provider",
			slog.String("symbol", symbol),
		)
		candidates = r.providers
	}

	for _, p := range candidates {
		data, err := r.callProvider(ctx, p, symbol)
		if err != nil {
			if ctx.Err() != nil {
				return domain.OracleData{}, fmt.Errorf("oracle: get %s: %w", symbol, ctx.Err())
			}
			continue
		}
		r.store(symbol, data)
		return data, nil
	}

	return domain.OracleData{}, fmt.Errorf("oracle: get %s: %w", symbol, domain.ErrDataUnavailable)
}

// GetConsensus queries all healthy providers concurrently and returns their
// weight-normalized average. When the max relative deviation of any single
// contributor exceeds 1-threshold, the result is still returned but flagged
// high-deviation in its metadata so callers may distrust it.
func (r *Resilience) GetConsensus(ctx context.Context, symbol string, threshold float64) (domain.OracleData, error) {
	candidates := r.healthyProviders()
	if len(candidates) == 0 {
		candidates = r.providers
	}

	type reading struct {
		name   string
		weight decimal.Decimal
		value  decimal.Decimal
	}

	var (
		mu       sync.Mutex
		readings []reading
		wg       sync.WaitGroup
	)

	// Fan-out with individual timeouts; aggregation waits for every call to
	// finish or time out, never indefinitely.
	for _, p := range candidates {
		wg.Add(1)
		go func(p domain.OracleProvider) {
			defer wg.Done()
			data, err := r.callProvider(ctx, p, symbol)
			if err != nil {
				return
			}
			mu.Lock()
			readings = append(readings, reading{
				name:   p.Name(),
				weight: decimal.NewFromFloat(p.Weight()),
				value:  data.Value,
			})
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	if len(readings) == 0 {
		return domain.OracleData{}, fmt.Errorf("oracle: consensus %s: %w", symbol, domain.ErrDataUnavailable)
	}

	weightSum := decimal.Zero
	weighted := decimal.Zero
	for _, rd := range readings {
		weightSum = weightSum.Add(rd.weight)
		weighted = weighted.Add(rd.value.Mul(rd.weight))
	}
	if weightSum.IsZero() {
		return domain.OracleData{}, fmt.Errorf("oracle: consensus %s: all contributing weights are zero", symbol)
	}
	avg := weighted.Div(weightSum)

	maxDev := decimal.Zero
	names := make([]string, 0, len(readings))
	for _, rd := range readings {
		names = append(names, rd.name)
		if avg.IsZero() {
			continue
		}
		dev := rd.value.Sub(avg).Abs().Div(avg)
		if dev.GreaterThan(maxDev) {
			maxDev = dev
		}
	}

	allowed := decimal.NewFromFloat(1 - threshold)
	data := domain.OracleData{
		Source:    "consensus",
		Symbol:    symbol,
		Value:     avg,
		Timestamp: time.Now().UTC(),
		Meta: &domain.OracleMeta{
			Providers:     names,
			MaxDeviation:  maxDev,
			HighDeviation: maxDev.GreaterThan(allowed),
		},
	}
	if data.Meta.HighDeviation {
		r.logger.Warn("consensus deviation above threshold",
			slog.String("symbol", symbol),
			slog.String("max_deviation", maxDev.String()),
			slog.Float64("threshold", threshold),
		)
	}

	r.store(symbol, data)
	return data, nil
}

// callProvider performs one rate-limited, timeout-bounded provider call and
// folds the outcome into that provider's health state.
func (r *Resilience) callProvider(ctx context.Context, p domain.OracleProvider, symbol string) (domain.OracleData, error) {
	timeout := r.cfg.DefaultTimeout
	if t, ok := r.cfg.Timeouts[p.Name()]; ok && t > 0 {
		timeout = t
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if r.limiter != nil {
		if budget, ok := r.cfg.Budgets[p.Name()]; ok && budget.Limit > 0 {
			if err := r.limiter.Wait(callCtx, "oracle:"+p.Name(), budget.Limit, budget.Window); err != nil {
				// Exhausted budget past the hard timeout counts as a failure.
				r.recordFailure(p.Name())
				r.rec.OracleFetch(p.Name(), "rate_limited")
				return domain.OracleData{}, fmt.Errorf("oracle: %s: %w", p.Name(), domain.ErrRateLimited)
			}
		}
	}

	data, err := p.GetCurrent(callCtx, symbol)
	if err != nil {
		r.recordFailure(p.Name())
		r.rec.OracleFetch(p.Name(), "error")
		r.logger.Warn("provider call failed",
			slog.String("provider", p.Name()),
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return domain.OracleData{}, err
	}

	r.recordSuccess(p.Name())
	r.rec.OracleFetch(p.Name(), "ok")
	return data, nil
}

// Health returns a copy of the provider's current health state.
func (r *Resilience) Health(provider string) (domain.ProviderHealth, bool) {
	r.healthMu.Lock()
	defer r.healthMu.Unlock()
	h, ok := r.health[provider]
	if !ok {
		return domain.ProviderHealth{}, false
	}
	return *h, true
}

func (r *Resilience) healthyProviders() []domain.OracleProvider {
	r.healthMu.Lock()
	defer r.healthMu.Unlock()

	out := make([]domain.OracleProvider, 0, len(r.providers))
	for _, p := range r.providers {
		if h := r.health[p.Name()]; h != nil && h.Healthy {
			out = append(out, p)
		}
	}
	return out
}

func (r *Resilience) recordFailure(provider string) {
	r.healthMu.Lock()
	defer r.healthMu.Unlock()

	h := r.health[provider]
	if h == nil {
		return
	}
	h.ConsecutiveFailures++
	r.rec.ProviderFailure(provider)
	if h.Healthy && h.ConsecutiveFailures >= r.cfg.FailureThreshold {
		h.Healthy = false
		r.rec.CircuitState(provider, true)
		r.logger.Warn("provider circuit opened",
			slog.String("provider", provider),
			slog.Int("consecutive_failures", h.ConsecutiveFailures),
		)
	}
}

func (r *Resilience) recordSuccess(provider string) {
	r.healthMu.Lock()
	defer r.healthMu.Unlock()

	h := r.health[provider]
	if h == nil {
		return
	}
	if !h.Healthy {
		r.logger.Info("provider circuit closed", slog.String("provider", provider))
	}
	h.Healthy = true
	h.ConsecutiveFailures = 0
	h.LastSuccess = time.Now().UTC()
	r.rec.CircuitState(provider, false)
}

func (r *Resilience) cached(symbol string) (domain.OracleData, bool) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	entry, ok := r.cache[symbol]
	if !ok {
		return domain.OracleData{}, false
	}
	if time.Since(entry.cachedAt) >= r.cfg.CacheTTL {
		// Expired entries are dropped, not served.
		delete(r.cache, symbol)
		return domain.OracleData{}, false
	}
	return entry.data, true
}

func (r *Resilience) store(symbol string, data domain.OracleData) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	r.cache[symbol] = cacheEntry{data: data, cachedAt: time.Now()}
}

// IsUnavailable reports whether err means "no data", as opposed to a
// programmer or configuration error.
func IsUnavailable(err error) bool {
	return errors.Is(err, domain.ErrDataUnavailable)
}
