// Package breaker implements the per-upstream circuit breaker state
// machine (spec §4.4): Closed/Open/HalfOpen, admission and transition
// decided under one critical section so counter reads are always
// consistent with the admission decision made alongside them.
package breaker

import (
	"sync"
	"time"

	"github.com/riftgw/gateway/internal/clock"
)

// State is the breaker's tagged-variant status (spec §3 "Circuit
// breaker state").
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Config holds the breaker's tunables (spec §4.4 defaults: F=5, D=20s,
// P=1).
type Config struct {
	FailureThreshold int
	OpenDuration     time.Duration
	HalfOpenMax      int
}

// Breaker is one state machine per upstream.
type Breaker struct {
	cfg   Config
	clock clock.Clock

	mu               sync.Mutex
	state            State
	failures         int
	openedAt         time.Time
	halfOpenInFlight int
}

// New builds a Breaker starting Closed. clk is the injected time
// source (spec §9); pass clock.Real{} in production.
func New(cfg Config, clk clock.Clock) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = 20 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	return &Breaker{cfg: cfg, clock: clk, state: Closed}
}

// Stats is a point-in-time snapshot for introspection endpoints.
type Stats struct {
	State            State     `json:"state"`
	Failures         int       `json:"failures"`
	OpenedAt         time.Time `json:"opened_at,omitempty"`
	HalfOpenInFlight int       `json:"half_open_in_flight"`
}

func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:            b.state,
		Failures:         b.failures,
		OpenedAt:         b.openedAt,
		HalfOpenInFlight: b.halfOpenInFlight,
	}
}

// Admit decides whether a call may proceed right now, transitioning
// Open->HalfOpen when the open window has elapsed, and throttling
// HalfOpen admissions to cfg.HalfOpenMax concurrent probes. Every
// caller that receives allowed=true for a HalfOpen probe MUST later
// call Done(success) exactly once to release the probe slot.
func (b *Breaker) Admit() (allowed bool, probe bool) {
	now := b.clock.Now()
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true, false

	case Open:
		if now.Sub(b.openedAt) >= b.cfg.OpenDuration {
			b.state = HalfOpen
			b.halfOpenInFlight = 0
			// fall through to HalfOpen admission below
		} else {
			return false, false
		}
		fallthrough

	case HalfOpen:
		if b.halfOpenInFlight >= b.cfg.HalfOpenMax {
			return false, false
		}
		b.halfOpenInFlight++
		return true, true

	default:
		return true, false
	}
}

// Done reports the outcome of a call admitted by Admit. probe must
// match the value Admit returned for the same call.
func (b *Breaker) Done(success bool, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		if success {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = Open
			b.openedAt = b.clock.Now()
		}

	case HalfOpen:
		if probe && b.halfOpenInFlight > 0 {
			b.halfOpenInFlight--
		}
		if success {
			b.state = Closed
			b.failures = 0
			return
		}
		b.state = Open
		b.openedAt = b.clock.Now()
		b.failures = b.cfg.FailureThreshold

	case Open:
		// A call may straggle in after the breaker reopened; nothing
		// to update.
	}
}
