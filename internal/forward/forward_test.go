package forward

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/riftgw/gateway/internal/breaker"
	"github.com/riftgw/gateway/internal/clock"
	"github.com/riftgw/gateway/internal/config"
	"github.com/riftgw/gateway/internal/router"
	"github.com/riftgw/gateway/internal/upstreammetrics"
)

// stubTransport answers RoundTrip per upstream host without touching
// the network, so attempts/failover can be tested deterministically.
type stubTransport struct {
	byHost map[string]func(*http.Request) (*http.Response, error)
}

func (s *stubTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	fn, ok := s.byHost[req.URL.Host]
	if !ok {
		return nil, errors.New("no stub for host " + req.URL.Host)
	}
	return fn(req)
}

func okResponse() (*http.Response, error) {
	return &http.Response{StatusCode: 200, Body: http.NoBody, Header: http.Header{}}, nil
}

func candidate(name string) router.Candidate {
	u, _ := url.Parse("http://" + name)
	return router.Candidate{Upstream: config.UpstreamConfig{Name: name, BaseURL: u, Timeout: time.Second}}
}

func newTestClient(rt http.RoundTripper) (*Client, *breaker.Registry, *upstreammetrics.Registry) {
	fc := clock.NewFake(time.Unix(0, 0))
	breakers := breaker.NewRegistry(breaker.Config{FailureThreshold: 3, OpenDuration: 10 * time.Second, HalfOpenMax: 1}, fc)
	metrics := upstreammetrics.NewRegistry(prometheus.NewRegistry(), fc)
	return New(rt, breakers, metrics, fc, DefaultPolicy{}), breakers, metrics
}

func TestDispatchSuccessOnFirstCandidate(t *testing.T) {
	rt := &stubTransport{byHost: map[string]func(*http.Request) (*http.Response, error){
		"a": func(*http.Request) (*http.Response, error) { return okResponse() },
	}}
	c, _, metrics := newTestClient(rt)

	res := c.Dispatch(context.Background(), []router.Candidate{candidate("a")}, "GET", "/foo", "", http.Header{}, nil)
	if res.BadGateway || res.Upstream != "a" {
		t.Fatalf("expected success from a, got %+v", res)
	}
	if metrics.Tracker("a").Snapshot().InFlight != 0 {
		t.Fatal("expected in-flight to return to 0 after completion")
	}
}

func TestDispatchFailsOverOnTransportError(t *testing.T) {
	rt := &stubTransport{byHost: map[string]func(*http.Request) (*http.Response, error){
		"a": func(*http.Request) (*http.Response, error) { return nil, errors.New("connection refused") },
		"b": func(*http.Request) (*http.Response, error) { return okResponse() },
	}}
	c, _, metrics := newTestClient(rt)

	res := c.Dispatch(context.Background(), []router.Candidate{candidate("a"), candidate("b")}, "GET", "/foo", "", http.Header{}, nil)
	if res.Upstream != "b" {
		t.Fatalf("expected failover to b, got %+v", res)
	}
	if len(res.Attempts) != 2 || res.Attempts[0].Upstream != "a" || res.Attempts[0].Outcome != "error" {
		t.Fatalf("expected attempt history [a:error, b:ok], got %+v", res.Attempts)
	}
	if metrics.Tracker("a").Snapshot().ConsecutiveFailures != 1 {
		t.Fatal("expected a's consecutive failure count to be 1")
	}
}

func TestDispatchSkipsOpenBreaker(t *testing.T) {
	rt := &stubTransport{byHost: map[string]func(*http.Request) (*http.Response, error){
		"b": func(*http.Request) (*http.Response, error) { return okResponse() },
	}}
	c, breakers, _ := newTestClient(rt)

	ba := breakers.Get("a")
	for i := 0; i < 3; i++ {
		ba.Admit()
		ba.Done(false, false)
	}

	res := c.Dispatch(context.Background(), []router.Candidate{candidate("a"), candidate("b")}, "GET", "/foo", "", http.Header{}, nil)
	if res.Upstream != "b" {
		t.Fatalf("expected b to serve after a's breaker is open, got %+v", res)
	}
	if res.Attempts[0].Outcome != "breaker_open" {
		t.Fatalf("expected first attempt to be breaker_open, got %+v", res.Attempts[0])
	}
}

func TestAttemptRecoversInFlightAndBreakerOnPanic(t *testing.T) {
	rt := &stubTransport{byHost: map[string]func(*http.Request) (*http.Response, error){
		"a": func(*http.Request) (*http.Response, error) { panic("boom") },
	}}
	c, breakers, metrics := newTestClient(rt)

	func() {
		defer func() { recover() }()
		c.attempt(context.Background(), candidate("a"), "GET", "/foo", "", http.Header{}, nil)
	}()

	if metrics.Tracker("a").Snapshot().InFlight != 0 {
		t.Fatal("expected in-flight to be decremented even after a panic unwinds the attempt")
	}
	if breakers.Get("a").Stats().Failures != 1 {
		t.Fatal("expected the breaker to record the failed attempt even after a panic")
	}
}

func TestDispatchExhaustionIsBadGateway(t *testing.T) {
	rt := &stubTransport{byHost: map[string]func(*http.Request) (*http.Response, error){
		"a": func(*http.Request) (*http.Response, error) { return nil, errors.New("refused") },
	}}
	c, _, _ := newTestClient(rt)

	res := c.Dispatch(context.Background(), []router.Candidate{candidate("a")}, "GET", "/foo", "", http.Header{}, nil)
	if !res.BadGateway {
		t.Fatal("expected bad gateway after exhausting candidates")
	}
}
