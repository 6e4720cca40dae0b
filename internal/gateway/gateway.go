// Package gateway assembles the pipeline, router, and forwarding
// client into the single entry point described by spec §4.9: build
// and run the pipeline, then on reaching the terminal stage, select
// ranked upstreams and forward with failover.
package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/riftgw/gateway/internal/breaker"
	"github.com/riftgw/gateway/internal/forward"
	"github.com/riftgw/gateway/internal/obsmetrics"
	"github.com/riftgw/gateway/internal/pipeline"
	"github.com/riftgw/gateway/internal/problemx"
	"github.com/riftgw/gateway/internal/reqctx"
	"github.com/riftgw/gateway/internal/router"
	"github.com/riftgw/gateway/internal/upstreammetrics"
)

// Gateway is the single entry point taking a normalized inbound
// request and returning a normalized response (spec §4.9).
type Gateway struct {
	pipeline  *pipeline.Pipeline
	router    *router.Router
	forward   *forward.Client
	breakers  *breaker.Registry
	metrics   *upstreammetrics.Registry
	obs       *obsmetrics.Registry
	log       *slog.Logger
	maxBody   int64
}

// New builds a Gateway from its already-wired collaborators. obs may
// be nil, in which case request-level metrics are skipped.
func New(p *pipeline.Pipeline, r *router.Router, f *forward.Client, breakers *breaker.Registry, metrics *upstreammetrics.Registry, obs *obsmetrics.Registry, log *slog.Logger, maxBody int64) *Gateway {
	return &Gateway{pipeline: p, router: r, forward: f, breakers: breakers, metrics: metrics, obs: obs, log: log, maxBody: maxBody}
}

// ServeHTTP implements http.Handler. Panics anywhere in the pipeline
// or forwarding step are caught here and surfaced as 500 (spec §7:
// "must not poison shared state; paired counter updates guarantee
// this" — Begin/Done closures always run in pairs regardless of how
// Dispatch returns).
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rc := reqctx.New(r, r.RemoteAddr, nil)

	defer func() {
		if rec := recover(); rec != nil {
			p := problemx.New(problemx.KindInternalError, rc.RequestID, nil)
			g.log.Error("panic recovered", slog.String("request_id", rc.RequestID), slog.Any("panic", rec))
			writeResponse(w, &reqctx.Response{Status: problemx.StatusFor(problemx.KindInternalError), Body: p.Bytes()})
		}
	}()

	body, overflow := readBounded(r.Body, g.maxBody)
	rc.Body = body
	rc.BodyOverflow = overflow

	ctx := r.Context()
	entered, shortCircuit := g.pipeline.RunRequest(ctx, rc)

	var resp *reqctx.Response
	if shortCircuit != nil {
		resp = shortCircuit
	} else {
		resp = g.forwardTerminal(ctx, rc)
	}

	resp = g.pipeline.RunResponse(ctx, rc, entered, resp)
	writeResponse(w, resp)

	if g.obs != nil {
		g.obs.ObserveRequest(rc.Route, resp.Status, time.Since(rc.StartTime))
	}
}

// forwardTerminal implements the terminal stage (spec §4.1/§4.8):
// match the route, rank candidates, dispatch with failover.
func (g *Gateway) forwardTerminal(ctx context.Context, rc *reqctx.Context) *reqctx.Response {
	route, ok := g.router.Match(rc.Path)
	if !ok {
		p := problemx.New(problemx.KindBadRequest, rc.RequestID, "no route matches path")
		return &reqctx.Response{Status: problemx.StatusFor(problemx.KindBadRequest), Body: p.Bytes()}
	}
	rc.Route = route.PathPrefix

	candidates := g.router.Select(route)
	result := g.forward.Dispatch(ctx, candidates, rc.Method, rc.Path, rc.RawQuery, rc.Header, rc.Body)

	for _, a := range result.Attempts {
		rc.Attempts = append(rc.Attempts, reqctx.AttemptRecord{Upstream: a.Upstream, Outcome: a.Outcome})
	}

	if result.BadGateway {
		p := problemx.New(problemx.KindBadGateway, rc.RequestID, result.Attempts)
		return &reqctx.Response{Status: problemx.StatusFor(problemx.KindBadGateway), Body: p.Bytes()}
	}

	rc.UpstreamSelected = result.Upstream
	body, _ := forward.DrainBody(result.Response)
	return &reqctx.Response{
		Status: result.Response.StatusCode,
		Header: result.Response.Header,
		Body:   body,
	}
}

// readBounded reads at most limit+1 bytes, reporting overflow instead
// of allocating an unbounded buffer (spec §4.3, §5 "bounded body
// buffer").
func readBounded(r io.ReadCloser, limit int64) (body []byte, overflow bool) {
	defer r.Close()
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return data, false
	}
	if int64(len(data)) > limit {
		return data[:limit], true
	}
	return data, false
}

func writeResponse(w http.ResponseWriter, resp *reqctx.Response) {
	for k, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	if resp.Status == 0 {
		resp.Status = http.StatusOK
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}
