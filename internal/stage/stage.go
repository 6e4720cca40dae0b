// Package stage implements the gateway's middleware stages (spec
// §4.1): request-ID, security headers, validation, authentication,
// logging, and rate limiting. Each stage is polymorphic over two
// capabilities, OnRequest and OnResponse, composed by
// internal/pipeline into the fixed-order chain.
package stage

import (
	"context"
	"net/http"

	"github.com/riftgw/gateway/internal/reqctx"
)

// Decision is the tagged variant a stage returns from OnRequest:
// Continue or ShortCircuit(response) (spec §4.1).
type Decision struct {
	shortCircuit bool
	response     *reqctx.Response
}

// Continue lets the pipeline proceed to the next stage.
func Continue() Decision { return Decision{} }

// ShortCircuit stops request-side processing; already-entered stages
// still run their response-side hooks in reverse order.
func ShortCircuit(resp *reqctx.Response) Decision {
	return Decision{shortCircuit: true, response: resp}
}

// IsShortCircuit reports whether the decision short-circuits, and if
// so, the response it carries.
func (d Decision) IsShortCircuit() (*reqctx.Response, bool) {
	return d.response, d.shortCircuit
}

// Stage is one link in the middleware pipeline.
type Stage interface {
	Name() string
	OnRequest(ctx context.Context, rc *reqctx.Context) Decision
	OnResponse(ctx context.Context, rc *reqctx.Context, resp *reqctx.Response) *reqctx.Response
}

// passthroughResponse is embedded by stages that have nothing to do
// on the response side.
type passthroughResponse struct{}

func (passthroughResponse) OnResponse(_ context.Context, _ *reqctx.Context, resp *reqctx.Response) *reqctx.Response {
	return resp
}

func headerResponse(status int, body []byte, extra http.Header) *reqctx.Response {
	h := make(http.Header, len(extra)+1)
	for k, v := range extra {
		h[k] = v
	}
	if h.Get("Content-Type") == "" {
		h.Set("Content-Type", "application/problem+json")
	}
	return &reqctx.Response{Status: status, Header: h, Body: body}
}
