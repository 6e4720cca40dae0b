// Package forward implements the terminal forwarding step (spec
// §4.8): dispatch to a ranked list of upstream candidates in order,
// consulting each candidate's breaker, updating metrics on every
// outcome, and failing over to the next candidate on transport error
// or timeout.
package forward

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/riftgw/gateway/internal/breaker"
	"github.com/riftgw/gateway/internal/clock"
	"github.com/riftgw/gateway/internal/router"
	"github.com/riftgw/gateway/internal/upstreammetrics"
)

// hopByHop headers are never forwarded (spec §6).
var hopByHop = map[string]struct{}{
	"Connection":        {},
	"Keep-Alive":        {},
	"Proxy-Authenticate": {},
	"Proxy-Authorization": {},
	"Te":                {},
	"Trailer":           {},
	"Transfer-Encoding": {},
	"Upgrade":           {},
}

func isHopByHop(header string) bool {
	if _, ok := hopByHop[http.CanonicalHeaderKey(header)]; ok {
		return true
	}
	return strings.HasPrefix(strings.ToLower(header), "proxy-")
}

// Attempt records one upstream try for the response's attempt history
// (spec §3 "attempt history").
type Attempt struct {
	Upstream string
	Outcome  string // "ok" | "error" | "breaker_open"
}

// Result is the outcome of Dispatch.
type Result struct {
	Response    *http.Response
	Upstream    string
	Attempts    []Attempt
	BadGateway  bool
}

// Client dispatches requests to ranked upstream candidates.
type Client struct {
	transport http.RoundTripper
	breakers  *breaker.Registry
	metrics   *upstreammetrics.Registry
	clock     clock.Clock
	policy    BreakerPolicy
}

// BreakerPolicy decides whether a completed call (by HTTP status)
// should count as a breaker failure. The default policy never does —
// only transport errors and timeouts do (spec §4.8, §9 open question).
type BreakerPolicy interface {
	CountStatus(status int) bool
}

// DefaultPolicy implements "status codes are not failures".
type DefaultPolicy struct{}

func (DefaultPolicy) CountStatus(int) bool { return false }

// New builds a forwarding Client.
func New(transport http.RoundTripper, breakers *breaker.Registry, metrics *upstreammetrics.Registry, clk clock.Clock, policy BreakerPolicy) *Client {
	if policy == nil {
		policy = DefaultPolicy{}
	}
	return &Client{transport: transport, breakers: breakers, metrics: metrics, clock: clk, policy: policy}
}

// Dispatch attempts each candidate in order until one succeeds or the
// list is exhausted. body is read once into memory by the caller and
// replayed verbatim on every attempt, so request bodies survive
// failover byte-exact (spec §8 round-trip property).
func (c *Client) Dispatch(ctx context.Context, candidates []router.Candidate, method, path, rawQuery string, header http.Header, body []byte) Result {
	var attempts []Attempt

	for _, cand := range candidates {
		resp, outcome := c.attempt(ctx, cand, method, path, rawQuery, header, body)
		attempts = append(attempts, Attempt{Upstream: cand.Upstream.Name, Outcome: outcome})
		if outcome == "ok" {
			return Result{Response: resp, Upstream: cand.Upstream.Name, Attempts: attempts}
		}
	}

	return Result{Attempts: attempts, BadGateway: true}
}

// attempt dispatches to a single candidate. The in-flight decrement
// and breaker notification are deferred off named results so they
// fire exactly once on every exit path, including a panic unwinding
// out of buildRequest or RoundTrip (spec §4.6: "every incr_in_flight
// must be followed by exactly one decr_in_flight on any outcome
// path").
func (c *Client) attempt(ctx context.Context, cand router.Candidate, method, path, rawQuery string, header http.Header, body []byte) (resp *http.Response, outcome string) {
	name := cand.Upstream.Name
	br := c.breakers.Get(name)

	allowed, probe := br.Admit()
	if !allowed {
		return nil, "breaker_open"
	}

	tracker := c.metrics.Tracker(name)
	done := tracker.Begin()
	var success bool
	var latency time.Duration
	defer func() {
		done(success, latency)
		br.Done(success, probe)
	}()

	callCtx, cancel := context.WithTimeout(ctx, cand.Upstream.Timeout)
	defer cancel()

	req, err := buildRequest(callCtx, cand.Upstream.BaseURL.String(), method, path, rawQuery, header, body)
	if err != nil {
		return nil, "error"
	}

	start := c.clock.Now()
	r, err := c.transport.RoundTrip(req)
	latency = c.clock.Now().Sub(start)
	if err != nil {
		return nil, "error"
	}

	success = !c.policy.CountStatus(r.StatusCode)
	return r, "ok"
}

func buildRequest(ctx context.Context, base, method, path, rawQuery string, header http.Header, body []byte) (*http.Request, error) {
	u := strings.TrimSuffix(base, "/") + path
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for name, values := range header {
		if isHopByHop(name) || http.CanonicalHeaderKey(name) == "Host" {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.ContentLength = int64(len(body))
	return req, nil
}

// DrainBody reads and closes resp.Body, used by callers that need the
// bytes to copy downstream after Dispatch returns.
func DrainBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
