package stage

import (
	"context"
	"strconv"
	"strings"

	"github.com/riftgw/gateway/internal/clock"
	"github.com/riftgw/gateway/internal/config"
	"github.com/riftgw/gateway/internal/obsmetrics"
	"github.com/riftgw/gateway/internal/problemx"
	"github.com/riftgw/gateway/internal/ratelimit"
	"github.com/riftgw/gateway/internal/reqctx"
)

// RateLimitStage implements spec §4.5: derive a key from the
// configured header (falling back to remote address), consult the
// backend, and deny with 429/Retry-After on a Deny decision. Backend
// errors are recovered per the FAIL_OPEN flag (spec §4.5, §7).
type RateLimitStage struct {
	passthroughResponse
	backend   ratelimit.Backend
	keyHeader string
	failOpen  bool
	clock     clock.Clock
	obs       *obsmetrics.Registry
}

func NewRateLimitStage(backend ratelimit.Backend, cfg config.RateLimitConfig, clk clock.Clock, obs *obsmetrics.Registry) *RateLimitStage {
	return &RateLimitStage{backend: backend, keyHeader: cfg.KeyHeader, failOpen: cfg.FailOpen, clock: clk, obs: obs}
}

func (RateLimitStage) Name() string { return "rate_limit" }

func (s *RateLimitStage) observe(outcome string) {
	if s.obs != nil {
		s.obs.ObserveRateLimit(outcome)
	}
}

func (s *RateLimitStage) OnRequest(ctx context.Context, rc *reqctx.Context) Decision {
	key := strings.TrimSpace(rc.Header.Get(s.keyHeader))
	if key == "" {
		key = rc.RemoteAddr
	}

	dec, err := s.backend.Check(ctx, key, s.clock.Now())
	if err != nil {
		if s.failOpen {
			rc.RateLimitOutcome = "allow"
			s.observe("allow")
			return Continue()
		}
		rc.RateLimitOutcome = "deny"
		s.observe("deny")
		return shortCircuitProblem(problemx.KindServiceUnavailable, rc)
	}

	if dec.Allowed {
		rc.RateLimitOutcome = "allow"
		s.observe("allow")
		return Continue()
	}

	rc.RateLimitOutcome = "deny"
	s.observe("deny")
	retrySeconds := (dec.RetryAfterMS + 999) / 1000
	if retrySeconds < 1 {
		retrySeconds = 1
	}
	p := problemx.New(problemx.KindTooManyRequests, rc.RequestID, nil)
	resp := headerResponse(problemx.StatusFor(problemx.KindTooManyRequests), p.Bytes(), nil)
	resp.Header.Set("Retry-After", strconv.FormatInt(retrySeconds, 10))
	return ShortCircuit(resp)
}
