package stage

import (
	"context"
	"regexp"

	"github.com/google/uuid"
	"github.com/riftgw/gateway/internal/reqctx"
)

// inboundRequestID matches the inbound X-Request-Id grammar the spec
// accepts verbatim: 8-128 chars of [A-Za-z0-9_-] (spec §6).
var inboundRequestID = regexp.MustCompile(`^[A-Za-z0-9_-]{8,128}$`)

// RequestIDStage assigns or echoes the request ID (spec §4.1 first
// stage, §6 "echoed from inbound if present and well-formed").
type RequestIDStage struct {
	passthroughResponse
}

func (RequestIDStage) Name() string { return "request_id" }

func (RequestIDStage) OnRequest(_ context.Context, rc *reqctx.Context) Decision {
	rid := rc.Header.Get("X-Request-Id")
	if !inboundRequestID.MatchString(rid) {
		rid = uuid.NewString()
	}
	rc.RequestID = rid
	rc.Header.Set("X-Request-Id", rid)
	return Continue()
}
