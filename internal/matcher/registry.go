// Package matcher maps venue market identifiers to the oracle symbol,
// threshold, and direction that judge them.
package matcher

import (
	"fmt"
	"sync"

	"github.com/rstover-fo/oraclepilot/internal/domain"
)

// Registry holds market→oracle mappings. Exactly one active mapping exists
// per market id; Register replaces, never merges.
type Registry interface {
	Register(m domain.MarketOracleMapping) error
	Lookup(marketID string) (domain.MarketOracleMapping, bool)
	Unregister(marketID string)
	List() []domain.MarketOracleMapping
	// BySymbol returns every mapping judged by the given oracle symbol.
	BySymbol(symbol string) []domain.MarketOracleMapping
}

// InMemory is the default Registry implementation. Safe for concurrent use.
type InMemory struct {
	mu       sync.RWMutex
	mappings map[string]domain.MarketOracleMapping
}

// NewInMemory creates an empty registry.
func NewInMemory() *InMemory {
	return &InMemory{mappings: make(map[string]domain.MarketOracleMapping)}
}

// Register stores the mapping, replacing any previous registration for the
// same market id. Last registration wins.
func (r *InMemory) Register(m domain.MarketOracleMapping) error {
	if m.MarketID == "" || m.OracleSymbol == "" {
		return fmt.Errorf("matcher: market_id and oracle_symbol are required")
	}
	switch m.Direction {
	case domain.DirectionAbove, domain.DirectionBelow:
	default:
		return fmt.Errorf("matcher: invalid direction %q for market %s", m.Direction, m.MarketID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappings[m.MarketID] = m
	return nil
}

// Lookup returns the active mapping for a market, if any.
func (r *InMemory) Lookup(marketID string) (domain.MarketOracleMapping, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mappings[marketID]
	return m, ok
}

// Unregister removes the mapping for a market. Removing an unknown market is
// a no-op.
func (r *InMemory) Unregister(marketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.mappings, marketID)
}

// List returns a copy of every active mapping.
func (r *InMemory) List() []domain.MarketOracleMapping {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.MarketOracleMapping, 0, len(r.mappings))
	for _, m := range r.mappings {
		out = append(out, m)
	}
	return out
}

// BySymbol returns every mapping judged by the given oracle symbol.
func (r *InMemory) BySymbol(symbol string) []domain.MarketOracleMapping {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.MarketOracleMapping
	for _, m := range r.mappings {
		if m.OracleSymbol == symbol {
			out = append(out, m)
		}
	}
	return out
}

var _ Registry = (*InMemory)(nil)
