// Package metrics exposes the pilot's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds every collector the pilot publishes. All record methods are
// nil-safe so tests can pass a nil recorder.
type Recorder struct {
	providerFailures *prometheus.CounterVec
	circuitOpen      *prometheus.GaugeVec
	oracleFetches    *prometheus.CounterVec
	cacheHits        prometheus.Counter
	opportunities    prometheus.Counter
	riskDecisions    *prometheus.CounterVec
	orders           *prometheus.CounterVec
	equity           prometheus.Gauge
	floor            prometheus.Gauge
	heartbeats       *prometheus.CounterVec
}

// New creates a Recorder and registers its collectors on the default
// registry. Call it once per process.
func New() *Recorder {
	return &Recorder{
		providerFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pilot_oracle_provider_failures_total",
				Help: "Consecutive-failure increments per oracle provider",
			},
			[]string{"provider"},
		),
		circuitOpen: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pilot_oracle_circuit_open",
				Help: "1 when the provider's circuit is open, 0 otherwise",
			},
			[]string{"provider"},
		),
		oracleFetches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pilot_oracle_fetches_total",
				Help: "Oracle fetches by provider and result",
			},
			[]string{"provider", "result"},
		),
		cacheHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pilot_oracle_cache_hits_total",
				Help: "Oracle lookups served from the TTL cache",
			},
		),
		opportunities: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pilot_opportunities_detected_total",
				Help: "Opportunities emitted by the scanner",
			},
		),
		riskDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pilot_risk_decisions_total",
				Help: "Risk guardian verdicts by reason code",
			},
			[]string{"reason"},
		),
		orders: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pilot_orders_total",
				Help: "Orders by terminal status and execution mode",
			},
			[]string{"status", "mode"},
		),
		equity: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pilot_equity",
				Help: "Current equity in bankroll currency",
			},
		),
		floor: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pilot_drawdown_floor",
				Help: "Current ratcheting drawdown floor",
			},
		),
		heartbeats: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pilot_agent_heartbeats_total",
				Help: "Heartbeats published per agent",
			},
			[]string{"agent"},
		),
	}
}

func (r *Recorder) ProviderFailure(provider string) {
	if r == nil {
		return
	}
	r.providerFailures.WithLabelValues(provider).Inc()
}

func (r *Recorder) CircuitState(provider string, open bool) {
	if r == nil {
		return
	}
	v := 0.0
	if open {
		v = 1.0
	}
	r.circuitOpen.WithLabelValues(provider).Set(v)
}

func (r *Recorder) OracleFetch(provider, result string) {
	if r == nil {
		return
	}
	r.oracleFetches.WithLabelValues(provider, result).Inc()
}

func (r *Recorder) CacheHit() {
	if r == nil {
		return
	}
	r.cacheHits.Inc()
}

func (r *Recorder) OpportunityDetected() {
	if r == nil {
		return
	}
	r.opportunities.Inc()
}

func (r *Recorder) RiskDecision(reason string) {
	if r == nil {
		return
	}
	r.riskDecisions.WithLabelValues(reason).Inc()
}

func (r *Recorder) OrderFinished(status, mode string) {
	if r == nil {
		return
	}
	r.orders.WithLabelValues(status, mode).Inc()
}

func (r *Recorder) SetEquity(v float64) {
	if r == nil {
		return
	}
	r.equity.Set(v)
}

func (r *Recorder) SetFloor(v float64) {
	if r == nil {
		return
	}
	r.floor.Set(v)
}

func (r *Recorder) Heartbeat(agent string) {
	if r == nil {
		return
	}
	r.heartbeats.WithLabelValues(agent).Inc()
}
