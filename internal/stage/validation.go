package stage

import (
	"context"

	"github.com/riftgw/gateway/internal/config"
	"github.com/riftgw/gateway/internal/problemx"
	"github.com/riftgw/gateway/internal/reqctx"
)

// ValidationStage enforces spec §4.3: allowed methods, required Host
// header, max header count, and max body size.
type ValidationStage struct {
	passthroughResponse
	cfg config.ValidationConfig
}

func NewValidationStage(cfg config.ValidationConfig) *ValidationStage {
	return &ValidationStage{cfg: cfg}
}

func (ValidationStage) Name() string { return "validation" }

func (s *ValidationStage) OnRequest(_ context.Context, rc *reqctx.Context) Decision {
	if _, ok := s.cfg.AllowedMethods[rc.Method]; !ok {
		return shortCircuitProblem(problemx.KindMethodNotAllowed, rc)
	}
	if rc.Host == "" {
		return shortCircuitProblem(problemx.KindBadRequest, rc)
	}
	headerCount := 0
	for range rc.Header {
		headerCount++
	}
	if headerCount > s.cfg.MaxHeaders {
		return shortCircuitProblem(problemx.KindBadRequest, rc)
	}
	if rc.BodyOverflow || int64(len(rc.Body)) > s.cfg.MaxBodyBytes {
		return shortCircuitProblem(problemx.KindPayloadTooLarge, rc)
	}
	return Continue()
}

func shortCircuitProblem(kind problemx.Kind, rc *reqctx.Context) Decision {
	p := problemx.New(kind, rc.RequestID, nil)
	return ShortCircuit(headerResponse(problemx.StatusFor(kind), p.Bytes(), nil))
}
