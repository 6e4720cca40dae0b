// Package config builds the gateway's immutable Config snapshot.
//
// Per spec.md §1, reading the process environment is an external
// collaborator's job: cmd/gateway assembles a flat map[string]string
// from os.Environ and hands it to FromEnv, which does the actual
// strict parsing, defaulting and validation as a pure function. Load
// is a thin convenience wrapper that additionally honors CONFIG_FILE,
// an optional YAML overlay for upstream/route topologies too large for
// the flat grammar.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the immutable snapshot of every tunable the gateway reads
// once at startup (spec §2 "Configuration record").
type Config struct {
	BindAddr string

	Auth       AuthConfig
	Validation ValidationConfig
	RateLimit  RateLimitConfig
	Breaker    BreakerConfig
	Routing    RoutingConfig

	Upstreams []UpstreamConfig
	Routes    []RouteConfig

	AdminKey string
}

type AuthConfig struct {
	Header          string
	Keys            []string
	ExemptPrefixes  []string
}

type ValidationConfig struct {
	AllowedMethods map[string]struct{}
	MaxHeaders     int
	MaxBodyBytes   int64
}

type RateLimitConfig struct {
	Algorithm string // "token_bucket" | "sliding_window"
	Backend   string // "memory" | "redis"
	FailOpen  bool
	KeyHeader string

	TokenBucketCapacity float64
	TokenBucketRefill   float64

	SlidingWindow       time.Duration
	SlidingWindowMax    int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

type BreakerConfig struct {
	FailureThreshold int
	OpenDuration     time.Duration
	HalfOpenMax      int
}

type RoutingConfig struct {
	Base             float64
	WeightFactor     float64
	InFlightPenalty  float64
	FailurePenalty   float64
	PreferLowLatency bool
}

// UpstreamConfig is the static, immutable upstream descriptor (spec §3).
type UpstreamConfig struct {
	Name    string
	BaseURL *url.URL
	Weight  int
	Timeout time.Duration
}

// RouteConfig maps a path prefix to the ordered upstream preference
// list declared before dynamic scoring (spec §3 "Route").
type RouteConfig struct {
	PathPrefix string
	Upstreams  []string
}

type yamlOverlay struct {
	Upstreams string `yaml:"upstreams"`
	Routes    string `yaml:"routes"`
}

// Load reads env, optionally overlaid by a CONFIG_FILE YAML document
// for the UPSTREAMS/ROUTES keys, and returns the parsed Config.
func Load(env map[string]string) (*Config, error) {
	merged := make(map[string]string, len(env))
	for k, v := range env {
		merged[k] = v
	}

	if path := strings.TrimSpace(merged["CONFIG_FILE"]); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config_file: %w", err)
		}
		var overlay yamlOverlay
		if err := yaml.Unmarshal(b, &overlay); err != nil {
			return nil, fmt.Errorf("config_file: invalid yaml: %w", err)
		}
		if overlay.Upstreams != "" {
			if _, ok := merged["UPSTREAMS"]; !ok {
				merged["UPSTREAMS"] = overlay.Upstreams
			}
		}
		if overlay.Routes != "" {
			if _, ok := merged["ROUTES"]; !ok {
				merged["ROUTES"] = overlay.Routes
			}
		}
	}

	return FromEnv(merged)
}

// FromEnv parses a flat key/value map per the spec §6 defaults table.
// Parsing is strict: any malformed value is an error (cmd/gateway maps
// that to exit code 2).
func FromEnv(env map[string]string) (*Config, error) {
	cfg := &Config{}

	cfg.BindAddr = str(env, "BIND_ADDR", "0.0.0.0:8080")

	cfg.Auth.Header = str(env, "AUTH_KEY_HEADER", "x-api-key")
	cfg.Auth.Keys = splitNonEmpty(str(env, "API_KEYS", "dev-key"), ",")
	if len(cfg.Auth.Keys) == 0 {
		return nil, fmt.Errorf("API_KEYS must declare at least one key")
	}
	cfg.Auth.ExemptPrefixes = splitNonEmpty(str(env, "AUTH_EXEMPT_PREFIXES", "/health"), ",")

	methods := splitNonEmpty(str(env, "VALIDATION_ALLOWED_METHODS", "GET,POST,PUT,PATCH,DELETE,OPTIONS"), ",")
	cfg.Validation.AllowedMethods = make(map[string]struct{}, len(methods))
	for _, m := range methods {
		cfg.Validation.AllowedMethods[strings.ToUpper(m)] = struct{}{}
	}
	maxHeaders, err := intVal(env, "VALIDATION_MAX_HEADERS", 128)
	if err != nil {
		return nil, err
	}
	cfg.Validation.MaxHeaders = maxHeaders
	maxBody, err := int64Val(env, "MAX_BODY_BYTES", 1<<20)
	if err != nil {
		return nil, err
	}
	cfg.Validation.MaxBodyBytes = maxBody

	cfg.RateLimit.Algorithm = strings.ToLower(str(env, "RATE_LIMIT_ALGORITHM", "token_bucket"))
	if cfg.RateLimit.Algorithm != "token_bucket" && cfg.RateLimit.Algorithm != "sliding_window" {
		return nil, fmt.Errorf("RATE_LIMIT_ALGORITHM must be token_bucket or sliding_window, got %q", cfg.RateLimit.Algorithm)
	}
	cfg.RateLimit.Backend = strings.ToLower(str(env, "RATE_LIMIT_BACKEND", "memory"))
	if cfg.RateLimit.Backend != "memory" && cfg.RateLimit.Backend != "redis" {
		return nil, fmt.Errorf("RATE_LIMIT_BACKEND must be memory or redis, got %q", cfg.RateLimit.Backend)
	}
	failOpen, err := boolVal(env, "RATE_LIMIT_FAIL_OPEN", true)
	if err != nil {
		return nil, err
	}
	cfg.RateLimit.FailOpen = failOpen
	cfg.RateLimit.KeyHeader = str(env, "RATE_LIMIT_KEY_HEADER", "x-api-key")

	tbCap, err := floatVal(env, "RATE_LIMIT_TB_CAPACITY", 200)
	if err != nil {
		return nil, err
	}
	cfg.RateLimit.TokenBucketCapacity = tbCap
	tbRefill, err := floatVal(env, "RATE_LIMIT_TB_REFILL", 100)
	if err != nil {
		return nil, err
	}
	cfg.RateLimit.TokenBucketRefill = tbRefill

	swSeconds, err := intVal(env, "RATE_LIMIT_SW_WINDOW_SECONDS", 60)
	if err != nil {
		return nil, err
	}
	cfg.RateLimit.SlidingWindow = time.Duration(swSeconds) * time.Second
	swMax, err := intVal(env, "RATE_LIMIT_SW_MAX", 600)
	if err != nil {
		return nil, err
	}
	cfg.RateLimit.SlidingWindowMax = swMax

	cfg.RateLimit.RedisAddr = str(env, "RATE_LIMIT_REDIS_ADDR", "")
	cfg.RateLimit.RedisPassword = str(env, "RATE_LIMIT_REDIS_PASSWORD", "")
	redisDB, err := intVal(env, "RATE_LIMIT_REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	cfg.RateLimit.RedisDB = redisDB
	cfg.RateLimit.RedisPrefix = str(env, "RATE_LIMIT_REDIS_PREFIX", "gateway:ratelimit")
	if cfg.RateLimit.Backend == "redis" && strings.TrimSpace(cfg.RateLimit.RedisAddr) == "" {
		return nil, fmt.Errorf("RATE_LIMIT_REDIS_ADDR is required when RATE_LIMIT_BACKEND=redis")
	}

	cbThreshold, err := intVal(env, "CB_FAILURE_THRESHOLD", 5)
	if err != nil {
		return nil, err
	}
	cfg.Breaker.FailureThreshold = cbThreshold
	cbOpenSeconds, err := intVal(env, "CB_OPEN_SECONDS", 20)
	if err != nil {
		return nil, err
	}
	cfg.Breaker.OpenDuration = time.Duration(cbOpenSeconds) * time.Second
	cbHalfOpen, err := intVal(env, "CB_HALF_OPEN_MAX", 1)
	if err != nil {
		return nil, err
	}
	cfg.Breaker.HalfOpenMax = cbHalfOpen

	base, err := floatVal(env, "ROUTING_BASE_SCORE", 1000)
	if err != nil {
		return nil, err
	}
	cfg.Routing.Base = base
	weightFactor, err := floatVal(env, "ROUTING_WEIGHT_FACTOR", 100)
	if err != nil {
		return nil, err
	}
	cfg.Routing.WeightFactor = weightFactor
	inFlightPenalty, err := floatVal(env, "ROUTING_INFLIGHT_PENALTY", 12)
	if err != nil {
		return nil, err
	}
	cfg.Routing.InFlightPenalty = inFlightPenalty
	failurePenalty, err := floatVal(env, "ROUTING_FAILURE_PENALTY", 250)
	if err != nil {
		return nil, err
	}
	cfg.Routing.FailurePenalty = failurePenalty
	preferLowLatency, err := boolVal(env, "ROUTING_PREFER_LOW_LATENCY", true)
	if err != nil {
		return nil, err
	}
	cfg.Routing.PreferLowLatency = preferLowLatency

	upstreams, err := parseUpstreams(str(env, "UPSTREAMS", ""))
	if err != nil {
		return nil, err
	}
	cfg.Upstreams = upstreams

	routes, err := parseRoutes(str(env, "ROUTES", "/=svc-a|svc-b,/health=svc-a"))
	if err != nil {
		return nil, err
	}
	cfg.Routes = routes

	cfg.AdminKey = str(env, "ADMIN_KEY", "")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Upstreams) == 0 {
		return fmt.Errorf("UPSTREAMS must declare at least one upstream")
	}
	names := make(map[string]struct{}, len(c.Upstreams))
	for _, u := range c.Upstreams {
		if _, dup := names[u.Name]; dup {
			return fmt.Errorf("duplicate upstream name %q", u.Name)
		}
		names[u.Name] = struct{}{}
	}
	if len(c.Routes) == 0 {
		return fmt.Errorf("ROUTES must declare at least one route")
	}
	for _, r := range c.Routes {
		if !strings.HasPrefix(r.PathPrefix, "/") {
			return fmt.Errorf("route prefix %q must start with '/'", r.PathPrefix)
		}
		for _, name := range r.Upstreams {
			if _, ok := names[name]; !ok {
				return fmt.Errorf("route %q references unknown upstream %q", r.PathPrefix, name)
			}
		}
	}
	return nil
}

// parseUpstreams parses "name=url@weight@timeout_ms,name2=url2@w2@t2".
func parseUpstreams(raw string) ([]UpstreamConfig, error) {
	var out []UpstreamConfig
	for _, entry := range splitNonEmpty(raw, ",") {
		eq := strings.SplitN(entry, "=", 2)
		if len(eq) != 2 {
			return nil, fmt.Errorf("invalid UPSTREAMS entry %q: expected name=url@weight@timeout_ms", entry)
		}
		name := strings.TrimSpace(eq[0])
		fields := strings.Split(eq[1], "@")
		if len(fields) != 3 {
			return nil, fmt.Errorf("invalid UPSTREAMS entry %q: expected url@weight@timeout_ms", entry)
		}
		u, err := url.Parse(strings.TrimSpace(fields[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid UPSTREAMS url in %q: %w", entry, err)
		}
		weight, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil || weight <= 0 {
			return nil, fmt.Errorf("invalid UPSTREAMS weight in %q: must be a positive integer", entry)
		}
		timeoutMS, err := strconv.Atoi(strings.TrimSpace(fields[2]))
		if err != nil || timeoutMS <= 0 {
			return nil, fmt.Errorf("invalid UPSTREAMS timeout_ms in %q: must be a positive integer", entry)
		}
		out = append(out, UpstreamConfig{
			Name:    name,
			BaseURL: u,
			Weight:  weight,
			Timeout: time.Duration(timeoutMS) * time.Millisecond,
		})
	}
	return out, nil
}

// parseRoutes parses "prefix=u1|u2,prefix2=u3".
func parseRoutes(raw string) ([]RouteConfig, error) {
	var out []RouteConfig
	for _, entry := range splitNonEmpty(raw, ",") {
		eq := strings.SplitN(entry, "=", 2)
		if len(eq) != 2 {
			return nil, fmt.Errorf("invalid ROUTES entry %q: expected prefix=u1|u2", entry)
		}
		prefix := strings.TrimSpace(eq[0])
		ups := splitNonEmpty(eq[1], "|")
		if len(ups) == 0 {
			return nil, fmt.Errorf("invalid ROUTES entry %q: no upstreams listed", entry)
		}
		out = append(out, RouteConfig{PathPrefix: prefix, Upstreams: ups})
	}
	return out, nil
}

func str(env map[string]string, key, def string) string {
	if v, ok := env[key]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func intVal(env map[string]string, key string, def int) (int, error) {
	v, ok := env[key]
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func int64Val(env map[string]string, key string, def int64) (int64, error) {
	v, ok := env[key]
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func floatVal(env map[string]string, key string, def float64) (float64, error) {
	v, ok := env[key]
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func boolVal(env map[string]string, key string, def bool) (bool, error) {
	v, ok := env[key]
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		p := strings.TrimSpace(part)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
