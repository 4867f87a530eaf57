package oracle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rstover-fo/oraclepilot/internal/domain"
)

// fakeProvider scripts GetCurrent responses and counts calls.
type fakeProvider struct {
	name     string
	priority int
	weight   float64

	mu    sync.Mutex
	calls int
	value decimal.Decimal
	err   error
}

func (f *fakeProvider) Name() string                              { return f.name }
func (f *fakeProvider) Priority() int                             { return f.priority }
func (f *fakeProvider) Weight() float64                           { return f.weight }
func (f *fakeProvider) Connect(context.Context) error             { return nil }
func (f *fakeProvider) Disconnect() error                         { return nil }
func (f *fakeProvider) Subscribe(context.Context, []string) error { return nil }

func (f *fakeProvider) GetCurrent(_ context.Context, symbol string) (domain.OracleData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return domain.OracleData{}, f.err
	}
	return domain.OracleData{
		Source:    f.name,
		Symbol:    symbol,
		Value:     f.value,
		Timestamp: time.Now().UTC(),
	}, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeProvider) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestResilience(t *testing.T, cfg Config, provs ...domain.OracleProvider) *Resilience {
	t.Helper()
	res, err := New(provs, cfg, nil, nil, testLogger())
	require.NoError(t, err)
	return res
}

func TestNewRequiresProviders(t *testing.T) {
	_, err := New(nil, Config{}, nil, nil, testLogger())
	require.ErrorIs(t, err, domain.ErrNoProviders)
}

func TestFallbackToSecondary(t *testing.T) {
	primary := &fakeProvider{name: "primary", priority: 10, weight: 1, err: errors.New("boom")}
	secondary := &fakeProvider{name: "secondary", priority: 5, weight: 1, value: decimal.NewFromInt(64000)}
	res := newTestResilience(t, Config{}, primary, secondary)

	data, err := res.GetCurrent(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, "secondary", data.Source)
	assert.True(t, data.Value.Equal(decimal.NewFromInt(64000)))

	h, ok := res.Health("primary")
	require.True(t, ok)
	assert.Equal(t, 1, h.ConsecutiveFailures)
	assert.True(t, h.Healthy, "one failure must not open the circuit")
}

func TestCircuitOpensAtThreeConsecutiveFailures(t *testing.T) {
	primary := &fakeProvider{name: "primary", priority: 10, weight: 1, err: errors.New("down")}
	secondary := &fakeProvider{name: "secondary", priority: 5, weight: 1, value: decimal.NewFromInt(100)}
	// Tiny TTL so each lookup reaches the providers.
	res := newTestResilience(t, Config{CacheTTL: time.Nanosecond}, primary, secondary)

	for i := 0; i < 3; i++ {
		_, err := res.GetCurrent(context.Background(), "BTC")
		require.NoError(t, err)
	}

	h, _ := res.Health("primary")
	assert.False(t, h.Healthy, "three consecutive failures open the circuit")
	assert.Equal(t, 3, h.ConsecutiveFailures)

	// With the circuit open the primary is skipped entirely.
	before := primary.callCount()
	_, err := res.GetCurrent(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, before, primary.callCount())
}

func TestSuccessResetsCircuit(t *testing.T) {
	primary := &fakeProvider{name: "primary", priority: 10, weight: 1, err: errors.New("down")}
	res := newTestResilience(t, Config{CacheTTL: time.Nanosecond}, primary)

	for i := 0; i < 3; i++ {
		_, err := res.GetCurrent(context.Background(), "BTC")
		require.ErrorIs(t, err, domain.ErrDataUnavailable)
	}
	h, _ := res.Health("primary")
	require.False(t, h.Healthy)

	// The sole provider recovered. With every circuit open the layer probes
	// anyway, and the success closes the circuit.
	primary.setErr(nil)
	primary.mu.Lock()
	primary.value = decimal.NewFromInt(42)
	primary.mu.Unlock()

	data, err := res.GetCurrent(context.Background(), "BTC")
	require.NoError(t, err)
	assert.True(t, data.Value.Equal(decimal.NewFromInt(42)))

	h, _ = res.Health("primary")
	assert.True(t, h.Healthy)
	assert.Equal(t, 0, h.ConsecutiveFailures)
}

func TestAllProvidersFailingReturnsDataUnavailable(t *testing.T) {
	a := &fakeProvider{name: "a", priority: 2, weight: 1, err: errors.New("down")}
	b := &fakeProvider{name: "b", priority: 1, weight: 1, err: errors.New("down")}
	res := newTestResilience(t, Config{}, a, b)

	_, err := res.GetCurrent(context.Background(), "BTC")
	require.ErrorIs(t, err, domain.ErrDataUnavailable)
	assert.True(t, IsUnavailable(err))
}

func TestCacheServesWithinTTLOnly(t *testing.T) {
	p := &fakeProvider{name: "p", priority: 1, weight: 1, value: decimal.NewFromInt(7)}
	res := newTestResilience(t, Config{CacheTTL: 80 * time.Millisecond}, p)

	_, err := res.GetCurrent(context.Background(), "BTC")
	require.NoError(t, err)
	_, err = res.GetCurrent(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, 1, p.callCount(), "second lookup within TTL must come from cache")

	time.Sleep(100 * time.Millisecond)

	_, err = res.GetCurrent(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, 2, p.callCount(), "expired entry mandates a fresh fetch")
}

func TestExpiredCacheNeverServedWhenProvidersDown(t *testing.T) {
	p := &fakeProvider{name: "p", priority: 1, weight: 1, value: decimal.NewFromInt(7)}
	res := newTestResilience(t, Config{CacheTTL: 30 * time.Millisecond}, p)

	_, err := res.GetCurrent(context.Background(), "BTC")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	p.setErr(errors.New("down"))

	_, err = res.GetCurrent(context.Background(), "BTC")
	require.ErrorIs(t, err, domain.ErrDataUnavailable,
		"a stale value must never substitute for a failed fetch")
}

func TestConcurrentLookupsShareOneRefresh(t *testing.T) {
	p := &fakeProvider{name: "p", priority: 1, weight: 1, value: decimal.NewFromInt(9)}
	res := newTestResilience(t, Config{CacheTTL: time.Minute}, p)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := res.GetCurrent(context.Background(), "BTC")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Single-flight plus the cache collapse the burst to one upstream call.
	assert.Equal(t, 1, p.callCount())
}

func TestConsensusWeightedAverageAndDeviationFlag(t *testing.T) {
	a := &fakeProvider{name: "a", priority: 2, weight: 3, value: decimal.NewFromInt(100)}
	b := &fakeProvider{name: "b", priority: 1, weight: 1, value: decimal.NewFromInt(200)}
	res := newTestResilience(t, Config{}, a, b)

	data, err := res.GetConsensus(context.Background(), "BTC", 0.95)
	require.NoError(t, err)

	// (100*3 + 200*1) / 4 = 125
	assert.True(t, data.Value.Equal(decimal.NewFromInt(125)), "got %s", data.Value)
	require.NotNil(t, data.Meta)
	assert.ElementsMatch(t, []string{"a", "b"}, data.Meta.Providers)
	// b deviates |200-125|/125 = 0.6 > 1-0.95: flagged but still returned.
	assert.True(t, data.Meta.HighDeviation)
}

func TestConsensusAgreementNotFlagged(t *testing.T) {
	a := &fakeProvider{name: "a", priority: 2, weight: 1, value: decimal.RequireFromString("100.0")}
	b := &fakeProvider{name: "b", priority: 1, weight: 1, value: decimal.RequireFromString("100.4")}
	res := newTestResilience(t, Config{}, a, b)

	data, err := res.GetConsensus(context.Background(), "BTC", 0.95)
	require.NoError(t, err)
	assert.False(t, data.Meta.HighDeviation)
}
