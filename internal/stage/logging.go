package stage

import (
	"context"
	"log/slog"
	"time"

	"github.com/riftgw/gateway/internal/reqctx"
)

// LoggingStage has no request-side decision to make; it exists to
// guarantee the completion log line fires for every request that
// reaches it, including ones rate-limiting later short-circuits
// (spec §4.9, §9 open question: "the spec places logging before rate
// limiting so denials are observable").
type LoggingStage struct {
	log *slog.Logger
}

func NewLoggingStage(log *slog.Logger) *LoggingStage {
	return &LoggingStage{log: log}
}

func (LoggingStage) Name() string { return "logging" }

func (LoggingStage) OnRequest(_ context.Context, _ *reqctx.Context) Decision {
	return Continue()
}

func (s *LoggingStage) OnResponse(_ context.Context, rc *reqctx.Context, resp *reqctx.Response) *reqctx.Response {
	upstream := "-"
	if rc.UpstreamSelected != "" {
		upstream = rc.UpstreamSelected
	}
	s.log.Info("http_request",
		slog.String("request_id", rc.RequestID),
		slog.String("method", rc.Method),
		slog.String("path", rc.Path),
		slog.Int("status", resp.Status),
		slog.String("upstream", upstream),
		slog.String("rate_limit", rc.RateLimitOutcome),
		slog.String("duration", time.Since(rc.StartTime).String()),
	)
	return resp
}
