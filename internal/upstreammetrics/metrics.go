// Package upstreammetrics tracks the live health signal each upstream
// contributes to routing (spec §4.6/§4.7): in-flight count,
// consecutive-failure count, and an exponentially-weighted moving average latency,
// plus a Prometheus export of the same numbers.
package upstreammetrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/riftgw/gateway/internal/clock"
)

// emaAlpha is the smoothing factor for latency averaging (spec §4.7:
// "exponentially-weighted moving average with alpha=0.2").
const emaAlpha = 0.2

// Registry holds one Tracker per upstream name plus the Prometheus
// collectors they report through.
type Registry struct {
	mu       sync.RWMutex
	trackers map[string]*Tracker
	clock    clock.Clock

	inFlightGauge  *prometheus.GaugeVec
	latencyGauge   *prometheus.GaugeVec
	failureGauge   *prometheus.GaugeVec
	breakerGauge   *prometheus.GaugeVec
}

// NewRegistry builds a Registry and registers its collectors against
// reg (pass prometheus.NewRegistry() or prometheus.DefaultRegisterer).
// clk drives the last-success timestamp so tests can use clock.Fake
// instead of the wall clock (spec §9).
func NewRegistry(reg prometheus.Registerer, clk clock.Clock) *Registry {
	r := &Registry{
		trackers: make(map[string]*Tracker),
		clock:    clk,
		inFlightGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_upstream_in_flight",
			Help: "Number of requests currently in flight to an upstream.",
		}, []string{"upstream"}),
		latencyGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_upstream_latency_ewma_ms",
			Help: "Exponentially-weighted moving average latency per upstream, in milliseconds.",
		}, []string{"upstream"}),
		failureGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_upstream_consecutive_failures",
			Help: "Consecutive failure count per upstream.",
		}, []string{"upstream"}),
		breakerGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_upstream_breaker_state",
			Help: "Breaker state per upstream: 0=closed, 1=half_open, 2=open.",
		}, []string{"upstream"}),
	}
	reg.MustRegister(r.inFlightGauge, r.latencyGauge, r.failureGauge, r.breakerGauge)
	return r
}

// Tracker returns the Tracker for name, creating it on first use.
func (r *Registry) Tracker(name string) *Tracker {
	r.mu.RLock()
	t, ok := r.trackers[name]
	r.mu.RUnlock()
	if ok {
		return t
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok = r.trackers[name]; ok {
		return t
	}
	t = &Tracker{
		name:     name,
		registry: r,
	}
	r.trackers[name] = t
	return t
}

// SetBreakerState publishes the breaker state gauge for name. state
// must be 0 (closed), 1 (half_open) or 2 (open).
func (r *Registry) SetBreakerState(name string, state float64) {
	r.breakerGauge.WithLabelValues(name).Set(state)
}

// Snapshot is a point-in-time view of a Tracker for introspection
// endpoints and router scoring.
type Snapshot struct {
	InFlight            int64     `json:"in_flight"`
	ConsecutiveFailures int64     `json:"consecutive_failures"`
	LatencyEWMA         float64   `json:"latency_ewma_ms"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	TotalCalls          int64     `json:"total_calls"`
	TotalFailed         int64     `json:"total_failed"`
}

// Tracker accumulates health signal for a single upstream. InFlight is
// an atomic counter so Begin and the func it returns can be called from
// any goroutine without a lock; the EWMA and failure counters share one mutex since they
// must be updated together (spec §9: "plain atomic floats are not
// safe for a read-modify-write average").
type Tracker struct {
	name     string
	registry *Registry

	inFlight int64

	mu                  sync.Mutex
	latencyEWMA         float64
	haveLatency         bool
	totalCalls          int64
	totalFailed         int64
	consecutiveFailures int64
	lastSuccess         time.Time
}

// Begin marks the start of a call, incrementing the in-flight gauge.
// The returned func must be called exactly once with the call's
// outcome and latency.
func (t *Tracker) Begin() func(success bool, latency time.Duration) {
	n := atomic.AddInt64(&t.inFlight, 1)
	t.registry.inFlightGauge.WithLabelValues(t.name).Set(float64(n))

	return func(success bool, latency time.Duration) {
		n := atomic.AddInt64(&t.inFlight, -1)
		t.registry.inFlightGauge.WithLabelValues(t.name).Set(float64(n))
		t.record(success, latency)
	}
}

func (t *Tracker) record(success bool, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalCalls++
	if success {
		// record_success resets consecutive failures and updates the
		// EMA and last-success timestamp (spec §4.6).
		ms := float64(latency.Microseconds()) / 1000.0
		if !t.haveLatency {
			t.latencyEWMA = ms
			t.haveLatency = true
		} else {
			t.latencyEWMA = emaAlpha*ms + (1-emaAlpha)*t.latencyEWMA
		}
		t.consecutiveFailures = 0
		t.lastSuccess = t.registry.clock.Now()
	} else {
		// record_failure only increments the consecutive-failure
		// count; latency of a failed call does not feed the EMA.
		t.totalFailed++
		t.consecutiveFailures++
	}

	t.registry.latencyGauge.WithLabelValues(t.name).Set(t.latencyEWMA)
	t.registry.failureGauge.WithLabelValues(t.name).Set(float64(t.consecutiveFailures))
}

// Snapshot returns the current health signal for scoring (spec §4.7)
// and introspection.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		InFlight:            atomic.LoadInt64(&t.inFlight),
		ConsecutiveFailures: t.consecutiveFailures,
		LatencyEWMA:         t.latencyEWMA,
		LastSuccess:         t.lastSuccess,
		TotalCalls:          t.totalCalls,
		TotalFailed:         t.totalFailed,
	}
}
