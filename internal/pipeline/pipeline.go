// Package pipeline composes stage.Stage values into the fixed-order
// middleware chain (spec §4.1).
package pipeline

import (
	"context"

	"github.com/riftgw/gateway/internal/reqctx"
	"github.com/riftgw/gateway/internal/stage"
)

// Pipeline runs a fixed sequence of stages.
type Pipeline struct {
	stages []stage.Stage
}

// New builds a Pipeline in request-direction order. The same order,
// reversed, governs response-side hooks.
func New(stages ...stage.Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// RunRequest runs every stage's OnRequest in order until one
// short-circuits or all continue. It returns the stages that were
// entered (so the caller can run their response hooks in reverse,
// even on short-circuit) and the short-circuit response, if any.
func (p *Pipeline) RunRequest(ctx context.Context, rc *reqctx.Context) (entered []stage.Stage, shortCircuit *reqctx.Response) {
	entered = make([]stage.Stage, 0, len(p.stages))
	for _, s := range p.stages {
		entered = append(entered, s)
		decision := s.OnRequest(ctx, rc)
		if resp, short := decision.IsShortCircuit(); short {
			return entered, resp
		}
	}
	return entered, nil
}

// RunResponse runs OnResponse for the entered stages in reverse order
// (spec §4.1: "still runs response-side hooks of already-entered
// middlewares in reverse order").
func (p *Pipeline) RunResponse(ctx context.Context, rc *reqctx.Context, entered []stage.Stage, resp *reqctx.Response) *reqctx.Response {
	for i := len(entered) - 1; i >= 0; i-- {
		resp = entered[i].OnResponse(ctx, rc, resp)
	}
	return resp
}
