package stage

import (
	"context"
	"strings"

	"github.com/riftgw/gateway/internal/config"
	"github.com/riftgw/gateway/internal/problemx"
	"github.com/riftgw/gateway/internal/reqctx"
	"github.com/riftgw/gateway/internal/timingsafe"
)

// AuthStage implements spec §4.2: a configured header is compared
// against each configured key with a timing-safe comparison, exempt
// paths skip the check entirely.
type AuthStage struct {
	passthroughResponse
	cfg config.AuthConfig
}

func NewAuthStage(cfg config.AuthConfig) *AuthStage {
	return &AuthStage{cfg: cfg}
}

func (AuthStage) Name() string { return "auth" }

func (s *AuthStage) OnRequest(_ context.Context, rc *reqctx.Context) Decision {
	for _, prefix := range s.cfg.ExemptPrefixes {
		if strings.HasPrefix(rc.Path, prefix) {
			return Continue()
		}
	}

	received := rc.Header.Get(s.cfg.Header)
	for _, key := range s.cfg.Keys {
		if timingsafe.Equal(received, key) {
			rc.AuthKeyID = key
			return Continue()
		}
	}
	return shortCircuitProblem(problemx.KindUnauthorized, rc)
}
