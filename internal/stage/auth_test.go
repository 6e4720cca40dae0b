package stage

import (
	"context"
	"net/http"
	"testing"

	"github.com/riftgw/gateway/internal/config"
	"github.com/riftgw/gateway/internal/reqctx"
)

func TestAuthStageAcceptsConfiguredKey(t *testing.T) {
	s := NewAuthStage(config.AuthConfig{Header: "x-api-key", Keys: []string{"good-key"}, ExemptPrefixes: []string{"/health"}})
	rc := &reqctx.Context{Path: "/foo", Header: http.Header{"X-Api-Key": []string{"good-key"}}}
	d := s.OnRequest(context.Background(), rc)
	if _, short := d.IsShortCircuit(); short {
		t.Fatal("expected valid key to continue")
	}
	if rc.AuthKeyID != "good-key" {
		t.Fatalf("expected AuthKeyID set, got %q", rc.AuthKeyID)
	}
}

func TestAuthStageRejectsMissingKey(t *testing.T) {
	s := NewAuthStage(config.AuthConfig{Header: "x-api-key", Keys: []string{"good-key"}})
	rc := &reqctx.Context{Path: "/foo", Header: http.Header{}}
	d := s.OnRequest(context.Background(), rc)
	resp, short := d.IsShortCircuit()
	if !short || resp.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 short circuit, got short=%v resp=%+v", short, resp)
	}
}

func TestAuthStageExemptsConfiguredPrefix(t *testing.T) {
	s := NewAuthStage(config.AuthConfig{Header: "x-api-key", Keys: []string{"good-key"}, ExemptPrefixes: []string{"/health"}})
	rc := &reqctx.Context{Path: "/health/live", Header: http.Header{}}
	d := s.OnRequest(context.Background(), rc)
	if _, short := d.IsShortCircuit(); short {
		t.Fatal("expected exempt path to continue without a key")
	}
}
