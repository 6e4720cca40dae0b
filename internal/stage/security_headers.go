package stage

import (
	"context"

	"github.com/riftgw/gateway/internal/reqctx"
)

// SecurityHeadersStage has no request-side work; it stamps the fixed
// set of response headers on every response, including rejections
// (spec §4.1 "security headers apply even to rejections", §6).
type SecurityHeadersStage struct{}

func (SecurityHeadersStage) Name() string { return "security_headers" }

func (SecurityHeadersStage) OnRequest(_ context.Context, _ *reqctx.Context) Decision {
	return Continue()
}

func (SecurityHeadersStage) OnResponse(_ context.Context, rc *reqctx.Context, resp *reqctx.Response) *reqctx.Response {
	if resp.Header == nil {
		resp.Header = make(map[string][]string)
	}
	resp.Header.Set("X-Content-Type-Options", "nosniff")
	resp.Header.Set("X-Frame-Options", "DENY")
	resp.Header.Set("Referrer-Policy", "no-referrer")
	if rc.RequestID != "" {
		resp.Header.Set("X-Request-Id", rc.RequestID)
	}
	return resp
}
