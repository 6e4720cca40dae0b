// Package ratelimit implements the gateway's rate-limit backend
// contract (spec §4.5): a single Check operation, safe for concurrent
// callers, behind which two algorithms (token bucket, sliding window)
// and two backends (memory, Redis) are interchangeable.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one Check call.
type Decision struct {
	Allowed        bool
	RetryAfterMS   int64
}

// Backend is the rate-limit capability every algorithm/storage
// combination implements. Tagged variants (not an open interface
// hierarchy) are deliberately avoided here per spec §9: the set of
// backends is fixed by deployment choice (memory vs Redis), but a
// future third party could add one, so this stays an interface.
type Backend interface {
	Check(ctx context.Context, key string, now time.Time) (Decision, error)
	Close() error
}
