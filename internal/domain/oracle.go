// Package domain holds the core data model and the interfaces through which
// the pilot's agents talk to external collaborators (bus, stores, providers).
package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OracleMeta carries optional provenance for an oracle reading, populated by
// consensus queries.
type OracleMeta struct {
	Providers     []string        `json:"providers,omitempty"`
	MaxDeviation  decimal.Decimal `json:"max_deviation,omitempty"`
	HighDeviation bool            `json:"high_deviation,omitempty"`
}

// OracleData is an immutable real-world price reading. Symbol is a bare asset
// code ("BTC", "ETH"); Value is arbitrary-precision so providers with
// different scales aggregate without float drift.
type OracleData struct {
	Source    string          `json:"source"`
	Symbol    string          `json:"symbol"`
	Value     decimal.Decimal `json:"value"`
	Timestamp time.Time       `json:"timestamp"`
	Meta      *OracleMeta     `json:"meta,omitempty"`
}

// ProviderHealth is each process's local view of a provider. It is never
// shared across processes; health is best-effort, not globally consistent.
type ProviderHealth struct {
	Healthy             bool
	ConsecutiveFailures int
	LastSuccess         time.Time
}

// OracleProvider is implemented by each concrete oracle client (Binance,
// CoinGecko, FRED, NWS). The resilience layer depends only on this interface.
type OracleProvider interface {
	// Name returns the provider identifier used in channel names and health
	// bookkeeping.
	Name() string
	// Priority orders fallback; higher is tried first.
	Priority() int
	// Weight is this provider's contribution to weighted consensus.
	Weight() float64

	Connect(ctx context.Context) error
	Disconnect() error

	// GetCurrent fetches the latest value for symbol. It must return
	// ErrDataUnavailable (possibly wrapped) when the source has no data,
	// never a zero-value reading.
	GetCurrent(ctx context.Context, symbol string) (OracleData, error)

	// Subscribe declares interest in a symbol set for providers with push
	// transports. Pull-only providers may treat it as a no-op.
	Subscribe(ctx context.Context, symbols []string) error
}
