package router

import (
	"net/url"
	"testing"
	"time"

	"github.com/riftgw/gateway/internal/breaker"
	"github.com/riftgw/gateway/internal/clock"
	"github.com/riftgw/gateway/internal/config"
	"github.com/riftgw/gateway/internal/upstreammetrics"
	"github.com/prometheus/client_golang/prometheus"
)

func testConfig() *config.Config {
	u := func(name string, weight int) config.UpstreamConfig {
		raw, _ := url.Parse("http://" + name + ".internal")
		return config.UpstreamConfig{Name: name, BaseURL: raw, Weight: weight, Timeout: time.Second}
	}
	return &config.Config{
		Upstreams: []config.UpstreamConfig{u("a", 1), u("b", 1), u("c", 2)},
		Routes: []config.RouteConfig{
			{PathPrefix: "/", Upstreams: []string{"a", "b", "c"}},
			{PathPrefix: "/v2", Upstreams: []string{"c"}},
		},
		Routing: config.RoutingConfig{
			Base:             1000,
			WeightFactor:     100,
			InFlightPenalty:  12,
			FailurePenalty:   250,
			PreferLowLatency: true,
		},
	}
}

func newTestRouter() (*Router, *breaker.Registry, *upstreammetrics.Registry) {
	cfg := testConfig()
	fc := clock.NewFake(time.Unix(0, 0))
	breakers := breaker.NewRegistry(breaker.Config{FailureThreshold: 3, OpenDuration: 10 * time.Second, HalfOpenMax: 1}, fc)
	metrics := upstreammetrics.NewRegistry(prometheus.NewRegistry(), fc)
	return New(cfg, breakers, metrics), breakers, metrics
}

func TestMatchLongestPrefixWins(t *testing.T) {
	r, _, _ := newTestRouter()
	rt, ok := r.Match("/v2/foo")
	if !ok || rt.PathPrefix != "/v2" {
		t.Fatalf("expected /v2 route, got %+v ok=%v", rt, ok)
	}
	rt, ok = r.Match("/other")
	if !ok || rt.PathPrefix != "/" {
		t.Fatalf("expected / route, got %+v ok=%v", rt, ok)
	}
}

func TestSelectHigherWeightScoresBetter(t *testing.T) {
	r, _, _ := newTestRouter()
	rt, _ := r.Match("/")
	cands := r.Select(rt)
	if len(cands) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(cands))
	}
	if cands[0].Upstream.Name != "c" {
		t.Fatalf("expected heavier-weighted upstream c to rank first, got %s", cands[0].Upstream.Name)
	}
}

func TestSelectExcludesOpenBreakerUnlessAllOpen(t *testing.T) {
	r, breakers, _ := newTestRouter()
	rt, _ := r.Match("/")

	ba := breakers.Get("a")
	for i := 0; i < 3; i++ {
		ba.Admit()
		ba.Done(false, false)
	}

	cands := r.Select(rt)
	for _, c := range cands {
		if c.Upstream.Name == "a" {
			t.Fatal("expected open-breaker upstream a to be excluded")
		}
	}
	if len(cands) != 2 {
		t.Fatalf("expected 2 candidates after excluding a, got %d", len(cands))
	}
}

func TestSelectKeepsAllWhenEveryBreakerOpen(t *testing.T) {
	r, breakers, _ := newTestRouter()
	rt, _ := r.Match("/")

	for _, name := range []string{"a", "b", "c"} {
		b := breakers.Get(name)
		for i := 0; i < 3; i++ {
			b.Admit()
			b.Done(false, false)
		}
	}

	cands := r.Select(rt)
	if len(cands) != 3 {
		t.Fatalf("expected all 3 candidates kept when all breakers open, got %d", len(cands))
	}
}
