package obsmetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestObserveRequestIncrementsCounterAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.ObserveRequest("/api", 200, 15*time.Millisecond)
	r.ObserveRequest("/api", 500, 5*time.Millisecond)

	mf := mustGather(t, reg, "gateway_requests_total")
	if got := sumCounter(mf); got != 2 {
		t.Fatalf("expected 2 total requests, got %v", got)
	}

	hist := mustGather(t, reg, "gateway_request_duration_seconds")
	if got := hist.Metric[0].GetHistogram().GetSampleCount(); got != 2 {
		t.Fatalf("expected 2 duration observations, got %v", got)
	}
}

func TestObserveRequestDefaultsEmptyRouteLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.ObserveRequest("", 404, time.Millisecond)

	mf := mustGather(t, reg, "gateway_requests_total")
	for _, m := range mf.Metric {
		for _, l := range m.Label {
			if l.GetName() == "route" && l.GetValue() != "-" {
				t.Fatalf("expected route label '-', got %q", l.GetValue())
			}
		}
	}
}

func TestObserveRateLimitIncrementsOutcomeCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.ObserveRateLimit("allow")
	r.ObserveRateLimit("deny")
	r.ObserveRateLimit("deny")

	mf := mustGather(t, reg, "gateway_rate_limit_outcomes_total")
	if got := sumCounter(mf); got != 3 {
		t.Fatalf("expected 3 rate-limit observations, got %v", got)
	}
}

func mustGather(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric family %q not found", name)
	return nil
}

func sumCounter(mf *dto.MetricFamily) float64 {
	var total float64
	for _, m := range mf.Metric {
		total += m.GetCounter().GetValue()
	}
	return total
}
