// Command gateway boots the API gateway: loads configuration from the
// environment, wires the rate-limit backend, breaker/metrics
// registries, router, forwarding client, and middleware pipeline, and
// serves both the admin/introspection endpoints and the catch-all
// gateway handler.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/riftgw/gateway/internal/breaker"
	"github.com/riftgw/gateway/internal/clock"
	"github.com/riftgw/gateway/internal/config"
	"github.com/riftgw/gateway/internal/forward"
	"github.com/riftgw/gateway/internal/gateway"
	"github.com/riftgw/gateway/internal/logging"
	"github.com/riftgw/gateway/internal/obsmetrics"
	"github.com/riftgw/gateway/internal/pipeline"
	"github.com/riftgw/gateway/internal/ratelimit"
	"github.com/riftgw/gateway/internal/router"
	"github.com/riftgw/gateway/internal/stage"
	"github.com/riftgw/gateway/internal/upstreammetrics"
)

func main() {
	log := logging.New()

	env := envToMap(os.Environ())
	cfg, err := config.Load(env)
	if err != nil {
		log.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(2)
	}

	clk := clock.Real{}

	rlBackend, err := buildRateLimitBackend(cfg)
	if err != nil {
		log.Error("failed to build rate-limit backend", slog.String("error", err.Error()))
		os.Exit(2)
	}
	defer rlBackend.Close()

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		OpenDuration:     cfg.Breaker.OpenDuration,
		HalfOpenMax:      cfg.Breaker.HalfOpenMax,
	}, clk)

	reg := prometheus.NewRegistry()
	metrics := upstreammetrics.NewRegistry(reg, clk)
	obs := obsmetrics.NewRegistry(reg)

	rtr := router.New(cfg, breakers, metrics)

	transport := buildTransport()
	fwd := forward.New(transport, breakers, metrics, clk, forward.DefaultPolicy{})

	p := pipeline.New(
		stage.RequestIDStage{},
		stage.SecurityHeadersStage{},
		stage.NewValidationStage(cfg.Validation),
		stage.NewAuthStage(cfg.Auth),
		stage.NewLoggingStage(log),
		stage.NewRateLimitStage(rlBackend, cfg.RateLimit, clk, obs),
	)

	gw := gateway.New(p, rtr, fwd, breakers, metrics, obs, log, cfg.Validation.MaxBodyBytes)

	// Admin mux already declares full paths (/-/status, /healthz,
	// /metrics, ...); the gateway's own handler answers everything
	// else.
	mux := gateway.NewAdminMux(cfg, breakers, metrics, reg, time.Now())
	mux.Handle("/*", gw)

	srv := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Info("gateway listening", slog.String("addr", cfg.BindAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.String("error", err.Error()))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Info("shutdown complete")
}

func buildRateLimitBackend(cfg *config.Config) (ratelimit.Backend, error) {
	switch cfg.RateLimit.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.RedisAddr,
			Password: cfg.RateLimit.RedisPassword,
			DB:       cfg.RateLimit.RedisDB,
		})
		if cfg.RateLimit.Algorithm == "sliding_window" {
			return ratelimit.RedisSlidingWindow(rdb, cfg.RateLimit.RedisPrefix, cfg.RateLimit.SlidingWindow, cfg.RateLimit.SlidingWindowMax), nil
		}
		return ratelimit.RedisTokenBucket(rdb, cfg.RateLimit.RedisPrefix, cfg.RateLimit.TokenBucketCapacity, cfg.RateLimit.TokenBucketRefill), nil

	default:
		if cfg.RateLimit.Algorithm == "sliding_window" {
			return ratelimit.NewSlidingWindowMemory(cfg.RateLimit.SlidingWindow, cfg.RateLimit.SlidingWindowMax), nil
		}
		return ratelimit.NewTokenBucketMemory(cfg.RateLimit.TokenBucketCapacity, cfg.RateLimit.TokenBucketRefill, 5*time.Minute), nil
	}
}

// buildTransport constructs the hardened http.Transport the teacher
// used for upstream calls, shared across every upstream rather than
// built once per route.
func buildTransport() http.RoundTripper {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
	}
}

// envToMap turns os.Environ()'s KEY=VALUE pairs into a map, kept
// outside config so FromEnv stays a pure function (spec §1: "consumes
// a flat key/value map").
func envToMap(environ []string) map[string]string {
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			out[k] = v
		}
	}
	return out
}
