package breaker

import (
	"sync"

	"github.com/riftgw/gateway/internal/clock"
)

// Registry owns one Breaker per upstream name, created lazily with a
// shared Config and Clock (spec §9: "registries own... breakers by
// name").
type Registry struct {
	cfg   Config
	clock clock.Clock

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry builds a Registry. clk is the injected time source
// shared by every breaker it creates.
func NewRegistry(cfg Config, clk clock.Clock) *Registry {
	return &Registry{
		cfg:      cfg,
		clock:    clk,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the Breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[name]; ok {
		return b
	}
	b = New(r.cfg, r.clock)
	r.breakers[name] = b
	return b
}

// All returns a snapshot of every breaker currently tracked, keyed by
// upstream name, for introspection endpoints.
func (r *Registry) All() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Stats, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Stats()
	}
	return out
}
