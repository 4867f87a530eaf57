package domain

import (
	"context"
	"time"
)

// Bus channel names. These are a wire contract shared with the dashboard and
// alerting collaborators and must not drift.
const (
	ChanOpportunityDetected = "opportunity.detected"
	ChanRiskDecision        = "risk.decision"
	ChanTradeExecuted       = "trade.executed"
	ChanControl             = "pilot.control"
	ChanOracleOutage        = "oracle.outage"
)

// OracleChannel returns the per-symbol publication channel for a provider,
// e.g. "oracle.binance.BTC".
func OracleChannel(provider, symbol string) string {
	return "oracle." + provider + "." + symbol
}

// VenueChannel returns the price-tick channel for a venue, e.g.
// "venue.polymarket.prices".
func VenueChannel(venue string) string {
	return "venue." + venue + ".prices"
}

// HeartbeatChannel returns the liveness channel for an agent.
func HeartbeatChannel(agent string) string {
	return "pilot.heartbeat." + agent
}

// ControlCommand is published on ChanControl by operators.
type ControlCommand struct {
	Command  string    `json:"command"` // "halt" | "reset"
	Origin   string    `json:"origin,omitempty"`
	IssuedAt time.Time `json:"issued_at"`
}

// ControlHalt is the kill switch command. Every agent loop polls for it at
// iteration boundaries and exits promptly.
const ControlHalt = "halt"

// StreamMessage is a single entry read back from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus is the ordered, durable publish/subscribe medium every agent
// coordinates through. Delivery is at-least-once with no ordering guarantee
// across channels; consumers must be idempotent.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RateLimiter throttles outbound calls to a given upstream. Wait suspends
// until a slot frees rather than failing, bounded by the caller's context.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}
