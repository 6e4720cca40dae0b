// Package router selects and ranks upstream candidates for a route
// (spec §4.7), combining the static route declaration with each
// upstream's live breaker state and health signal.
package router

import (
	"sort"
	"strings"

	"github.com/riftgw/gateway/internal/breaker"
	"github.com/riftgw/gateway/internal/config"
	"github.com/riftgw/gateway/internal/upstreammetrics"
)

// Candidate is a ranked upstream, bound to its immutable descriptor.
type Candidate struct {
	Upstream config.UpstreamConfig
	Score    float64
}

// Router holds the immutable route table and borrowed read access to
// the breaker and metrics registries (spec §9: "the router holds
// borrowed read access to those registries for the duration of a
// single selection call").
type Router struct {
	routes    []config.RouteConfig
	upstreams map[string]config.UpstreamConfig
	breakers  *breaker.Registry
	metrics   *upstreammetrics.Registry
	weights   config.RoutingConfig
}

// New builds a Router from the parsed config and the two live
// registries it consults on every Select call.
func New(cfg *config.Config, breakers *breaker.Registry, metrics *upstreammetrics.Registry) *Router {
	byName := make(map[string]config.UpstreamConfig, len(cfg.Upstreams))
	for _, u := range cfg.Upstreams {
		byName[u.Name] = u
	}
	routes := make([]config.RouteConfig, len(cfg.Routes))
	copy(routes, cfg.Routes)
	return &Router{
		routes:    routes,
		upstreams: byName,
		breakers:  breakers,
		metrics:   metrics,
		weights:   cfg.Routing,
	}
}

// Match finds the route for path by longest-prefix match, ties broken
// by declaration order (spec §3 "Route").
func (r *Router) Match(path string) (config.RouteConfig, bool) {
	best := -1
	bestLen := -1
	for i, rt := range r.routes {
		if !strings.HasPrefix(path, rt.PathPrefix) {
			continue
		}
		if len(rt.PathPrefix) > bestLen {
			bestLen = len(rt.PathPrefix)
			best = i
		}
	}
	if best < 0 {
		return config.RouteConfig{}, false
	}
	return r.routes[best], true
}

// Select ranks the route's declared upstreams per spec §4.7: filter
// open-breaker upstreams (unless all are open, in which case keep
// all), score, then stable-sort ascending by score.
func (r *Router) Select(route config.RouteConfig) []Candidate {
	type scored struct {
		Candidate
		open bool
	}

	all := make([]scored, 0, len(route.Upstreams))
	for _, name := range route.Upstreams {
		u, ok := r.upstreams[name]
		if !ok {
			continue
		}
		st := r.breakers.Get(name).Stats()
		snap := r.metrics.Tracker(name).Snapshot()
		all = append(all, scored{
			Candidate: Candidate{Upstream: u, Score: r.score(u, snap)},
			open:      st.State == breaker.Open,
		})
	}

	allOpen := len(all) > 0
	for _, s := range all {
		if !s.open {
			allOpen = false
			break
		}
	}

	out := make([]Candidate, 0, len(all))
	for _, s := range all {
		if s.open && !allOpen {
			continue
		}
		out = append(out, s.Candidate)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score < out[j].Score
	})
	return out
}

// score implements the §4.7 formula: lower is better.
func (r *Router) score(u config.UpstreamConfig, snap upstreammetrics.Snapshot) float64 {
	score := r.weights.Base - float64(u.Weight)*r.weights.WeightFactor
	score += float64(snap.InFlight) * r.weights.InFlightPenalty
	score += float64(snap.ConsecutiveFailures) * r.weights.FailurePenalty
	if r.weights.PreferLowLatency {
		score += snap.LatencyEWMA
	}
	return score
}
