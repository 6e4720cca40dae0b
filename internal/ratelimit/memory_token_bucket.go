package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// shardCount controls how many independent mutexes guard the key
// space, so unrelated keys don't contend (spec §5: "fine-grained
// locking (per-key or sharded)").
const shardCount = 32

// TokenBucketMemory implements the token-bucket algorithm (spec
// §4.5.1) in-process, keyed per caller. Each key gets its own
// golang.org/x/time/rate.Limiter, whose Reserve/Cancel pair gives
// exact allow/deny-with-retry-after semantics without deducting a
// token on a denied call.
type TokenBucketMemory struct {
	capacity float64
	refill   float64

	shards [shardCount]struct {
		mu sync.Mutex
		m  map[string]*tbEntry
	}

	ttl     time.Duration
	stopCh  chan struct{}
}

type tbEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewTokenBucketMemory builds a memory token-bucket backend with
// capacity C and refill rate R tokens/sec. Idle keys are reclaimed
// after ttl of inactivity.
func NewTokenBucketMemory(capacity, refill float64, ttl time.Duration) *TokenBucketMemory {
	tb := &TokenBucketMemory{
		capacity: capacity,
		refill:   refill,
		ttl:      ttl,
		stopCh:   make(chan struct{}),
	}
	for i := range tb.shards {
		tb.shards[i].m = make(map[string]*tbEntry)
	}
	go tb.gcLoop()
	return tb
}

func shardFor(key string) int {
	var h uint32 = 2166136261
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return int(h % shardCount)
}

func (tb *TokenBucketMemory) entry(key string, now time.Time) (*rate.Limiter, *sync.Mutex) {
	s := &tb.shards[shardFor(key)]
	s.mu.Lock()
	e, ok := s.m[key]
	if !ok {
		e = &tbEntry{lim: rate.NewLimiter(rate.Limit(tb.refill), int(tb.capacity))}
		s.m[key] = e
	}
	e.lastSeen = now
	lim := e.lim
	s.mu.Unlock()
	return lim, &s.mu
}

// Check implements Backend.
func (tb *TokenBucketMemory) Check(_ context.Context, key string, now time.Time) (Decision, error) {
	lim, _ := tb.entry(key, now)

	r := lim.ReserveN(now, 1)
	if !r.OK() {
		// Capacity is zero or smaller than the cost; deny forever.
		return Decision{Allowed: false, RetryAfterMS: 1000}, nil
	}

	delay := r.DelayFrom(now)
	if delay <= 0 {
		return Decision{Allowed: true}, nil
	}

	// Deny without consuming the reserved token (spec §4.5.1 step 3:
	// tokens are not deducted on a denied call).
	r.CancelAt(now)
	retryMS := int64(math.Ceil(delay.Seconds() * 1000))
	return Decision{Allowed: false, RetryAfterMS: retryMS}, nil
}

func (tb *TokenBucketMemory) gcLoop() {
	interval := tb.ttl
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			now := time.Now()
			for i := range tb.shards {
				s := &tb.shards[i]
				s.mu.Lock()
				for k, e := range s.m {
					if now.Sub(e.lastSeen) > tb.ttl {
						delete(s.m, k)
					}
				}
				s.mu.Unlock()
			}
		case <-tb.stopCh:
			return
		}
	}
}

// Close implements Backend.
func (tb *TokenBucketMemory) Close() error {
	close(tb.stopCh)
	return nil
}
