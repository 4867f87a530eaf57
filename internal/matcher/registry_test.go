package matcher

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rstover-fo/oraclepilot/internal/domain"
)

func mapping(marketID, symbol string, threshold int64) domain.MarketOracleMapping {
	return domain.MarketOracleMapping{
		MarketID:     marketID,
		OracleSymbol: symbol,
		Threshold:    decimal.NewFromInt(threshold),
		Direction:    domain.DirectionAbove,
	}
}

func TestRegisterAndLookup(t *testing.T) {
	r := NewInMemory()
	require.NoError(t, r.Register(mapping("mkt-1", "BTC", 50000)))

	m, ok := r.Lookup("mkt-1")
	require.True(t, ok)
	assert.Equal(t, "BTC", m.OracleSymbol)

	_, ok = r.Lookup("mkt-2")
	assert.False(t, ok)
}

func TestRegisterReplacesExisting(t *testing.T) {
	r := NewInMemory()
	require.NoError(t, r.Register(mapping("mkt-1", "BTC", 50000)))
	require.NoError(t, r.Register(mapping("mkt-1", "ETH", 3000)))

	m, ok := r.Lookup("mkt-1")
	require.True(t, ok)
	assert.Equal(t, "ETH", m.OracleSymbol, "last registration wins")
	assert.True(t, m.Threshold.Equal(decimal.NewFromInt(3000)))
	assert.Len(t, r.List(), 1)
}

func TestRegisterValidates(t *testing.T) {
	r := NewInMemory()

	assert.Error(t, r.Register(mapping("", "BTC", 50000)))
	assert.Error(t, r.Register(mapping("mkt-1", "", 50000)))

	bad := mapping("mkt-1", "BTC", 50000)
	bad.Direction = "sideways"
	assert.Error(t, r.Register(bad))
}

func TestUnregister(t *testing.T) {
	r := NewInMemory()
	require.NoError(t, r.Register(mapping("mkt-1", "BTC", 50000)))

	r.Unregister("mkt-1")
	_, ok := r.Lookup("mkt-1")
	assert.False(t, ok)

	// Unknown market is a no-op.
	r.Unregister("mkt-404")
}

func TestBySymbol(t *testing.T) {
	r := NewInMemory()
	require.NoError(t, r.Register(mapping("mkt-1", "BTC", 50000)))
	require.NoError(t, r.Register(mapping("mkt-2", "BTC", 60000)))
	require.NoError(t, r.Register(mapping("mkt-3", "ETH", 3000)))

	btc := r.BySymbol("BTC")
	assert.Len(t, btc, 2)
	assert.Empty(t, r.BySymbol("SOL"))
}
