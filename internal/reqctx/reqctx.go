// Package reqctx defines the mutable per-request record threaded
// through the middleware pipeline (spec §3 "Request context").
package reqctx

import (
	"net/http"
	"time"
)

// AttemptRecord is one entry in a request's upstream attempt history.
type AttemptRecord struct {
	Upstream string
	Outcome  string
}

// Context is created by the orchestrator at request ingress, mutated
// only by the middleware currently executing, and discarded after the
// response is written.
type Context struct {
	Method   string
	Path     string
	RawQuery string
	Host     string
	Header   http.Header
	Body     []byte
	// BodyOverflow is set by the orchestrator when Body was truncated
	// to the configured limit; ValidationStage is the one place that
	// acts on it, ahead of auth (spec §4.1, §4.3).
	BodyOverflow bool

	RemoteAddr string
	RequestID  string
	StartTime  time.Time

	AuthKeyID string
	Route     string

	RateLimitOutcome string // "allow" | "deny" | "" (not evaluated)

	Attempts []AttemptRecord

	UpstreamSelected string
}

// Response is the normalized outbound response a stage may produce,
// either by short-circuiting or at the terminal forwarding step.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// New builds a Context for an inbound request. The caller is
// responsible for bounding Body before constructing it (validation
// reads and checks the body length itself).
func New(r *http.Request, remoteAddr string, body []byte) *Context {
	return &Context{
		Method:     r.Method,
		Path:       r.URL.Path,
		RawQuery:   r.URL.RawQuery,
		Host:       r.Host,
		Header:     r.Header.Clone(),
		Body:       body,
		RemoteAddr: remoteAddr,
		StartTime:  time.Now(),
	}
}
