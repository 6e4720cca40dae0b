package gateway

import (
	"encoding/json"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/riftgw/gateway/internal/breaker"
	"github.com/riftgw/gateway/internal/config"
	"github.com/riftgw/gateway/internal/timingsafe"
	"github.com/riftgw/gateway/internal/upstreammetrics"
)

// NewAdminMux builds the introspection endpoints supplementing the
// core spec: /-/status, /-/routes, /-/upstreams, /healthz, /metrics
// (grounded on the teacher's /-/status, /-/routes, /-/limits
// endpoints, generalized to this gateway's upstream/breaker model).
// Every admin endpoint except /healthz and /metrics requires the
// configured admin key via a timing-safe comparison.
func NewAdminMux(cfg *config.Config, breakers *breaker.Registry, metrics *upstreammetrics.Registry, reg *prometheus.Registry, startedAt time.Time) chi.Router {
	mux := chi.NewRouter()

	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	guard := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if cfg.AdminKey == "" {
				http.NotFound(w, r)
				return
			}
			if !timingsafe.Equal(r.Header.Get("X-Admin-Key"), cfg.AdminKey) {
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
				return
			}
			h(w, r)
		}
	}

	mux.Get("/-/status", guard(func(w http.ResponseWriter, _ *http.Request) {
		info, _ := debug.ReadBuildInfo()
		goVersion := ""
		if info != nil {
			goVersion = info.GoVersion
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"uptime_seconds":    int(time.Since(startedAt).Seconds()),
			"listen_addr":       cfg.BindAddr,
			"go_version":        goVersion,
			"rate_limit_algo":   cfg.RateLimit.Algorithm,
			"rate_limit_backend": cfg.RateLimit.Backend,
			"routes_configured": len(cfg.Routes),
			"upstreams_configured": len(cfg.Upstreams),
		})
	}))

	mux.Get("/-/routes", guard(func(w http.ResponseWriter, _ *http.Request) {
		type outRoute struct {
			PathPrefix string   `json:"path_prefix"`
			Upstreams  []string `json:"upstreams"`
		}
		out := make([]outRoute, 0, len(cfg.Routes))
		for _, rt := range cfg.Routes {
			out = append(out, outRoute{PathPrefix: rt.PathPrefix, Upstreams: rt.Upstreams})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}))

	mux.Get("/-/upstreams", guard(func(w http.ResponseWriter, _ *http.Request) {
		type outUpstream struct {
			Name    string          `json:"name"`
			BaseURL string          `json:"base_url"`
			Weight  int             `json:"weight"`
			Breaker breaker.Stats   `json:"breaker"`
			Metrics upstreammetrics.Snapshot `json:"metrics"`
		}
		out := make([]outUpstream, 0, len(cfg.Upstreams))
		for _, u := range cfg.Upstreams {
			out = append(out, outUpstream{
				Name:    u.Name,
				BaseURL: u.BaseURL.String(),
				Weight:  u.Weight,
				Breaker: breakers.Get(u.Name).Stats(),
				Metrics: metrics.Tracker(u.Name).Snapshot(),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}))

	return mux
}
