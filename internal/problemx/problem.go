// Package problemx renders the gateway's error responses as RFC 7807
// Problem Details, extended with the error kind, request_id, and
// optional route and detail fields.
package problemx

import (
	"encoding/json"
	"net/http"

	"github.com/moogar0880/problems"
)

// Kind enumerates the error kinds the gateway surfaces at its boundary
// (spec §7).
type Kind string

const (
	KindUnauthorized       Kind = "unauthorized"
	KindBadRequest         Kind = "bad_request"
	KindMethodNotAllowed   Kind = "method_not_allowed"
	KindPayloadTooLarge    Kind = "payload_too_large"
	KindTooManyRequests    Kind = "too_many_requests"
	KindServiceUnavailable Kind = "service_unavailable"
	KindBadGateway         Kind = "bad_gateway"
	KindGatewayTimeout     Kind = "gateway_timeout"
	KindInternalError      Kind = "internal_error"
)

var statusByKind = map[Kind]int{
	KindUnauthorized:       http.StatusUnauthorized,
	KindBadRequest:         http.StatusBadRequest,
	KindMethodNotAllowed:   http.StatusMethodNotAllowed,
	KindPayloadTooLarge:    http.StatusRequestEntityTooLarge,
	KindTooManyRequests:    http.StatusTooManyRequests,
	KindServiceUnavailable: http.StatusServiceUnavailable,
	KindBadGateway:         http.StatusBadGateway,
	KindGatewayTimeout:     http.StatusGatewayTimeout,
	KindInternalError:      http.StatusInternalServerError,
}

// StatusFor returns the HTTP status code for a Kind.
func StatusFor(k Kind) int {
	if s, ok := statusByKind[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Problem is the gateway's RFC 7807 body, embedding the library's
// DefaultProblem for the standard fields and adding the gateway's own
// error/request_id contract (spec §7: "{error, request_id}").
type Problem struct {
	*problems.DefaultProblem
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
	Route     string `json:"route,omitempty"`
	Detail    any    `json:"detail,omitempty"`
}

// New builds a Problem for the given error kind.
func New(k Kind, requestID string, detail any) *Problem {
	status := StatusFor(k)
	base := problems.NewStatusProblem(status)
	return &Problem{
		DefaultProblem: base,
		Error:          string(k),
		RequestID:      requestID,
		Detail:         detail,
	}
}

// Write marshals the Problem as application/problem+json.
func (p *Problem) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// Bytes marshals the Problem without writing it, for callers building a
// gateway.Response body independently of an http.ResponseWriter.
func (p *Problem) Bytes() []byte {
	b, _ := json.Marshal(p)
	return b
}
