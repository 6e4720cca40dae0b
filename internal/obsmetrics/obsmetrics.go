// Package obsmetrics exports the request-path Prometheus collectors
// that sit above the per-upstream signal in internal/upstreammetrics:
// total requests, latency distribution, and rate-limit outcomes.
package obsmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds the request-scoped collectors, registered once at
// startup against the same prometheus.Registerer as upstreammetrics.
type Registry struct {
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	rateLimitHits *prometheus.CounterVec
}

// NewRegistry builds and registers the collectors.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total requests handled, labeled by route and final status class (2xx, 4xx, ...).",
		}, []string{"route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "End-to-end request duration, from request ingress to response write.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		rateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_rate_limit_outcomes_total",
			Help: "Rate-limit decisions, labeled allow/deny.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(r.requests, r.duration, r.rateLimitHits)
	return r
}

// ObserveRequest records one completed request (spec §4.9 completion
// log line has a matching metric here).
func (r *Registry) ObserveRequest(route string, status int, d time.Duration) {
	if route == "" {
		route = "-"
	}
	r.requests.WithLabelValues(route, statusLabel(status)).Inc()
	r.duration.WithLabelValues(route).Observe(d.Seconds())
}

// ObserveRateLimit records one rate-limit decision ("allow" or "deny").
func (r *Registry) ObserveRateLimit(outcome string) {
	r.rateLimitHits.WithLabelValues(outcome).Inc()
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}
