package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// SlidingWindowMemory implements the sliding-window algorithm (spec
// §4.5.2): each key holds the ordered timestamps of requests admitted
// within the last window, trimmed on every access.
type SlidingWindowMemory struct {
	window time.Duration
	max    int

	shards [shardCount]struct {
		mu sync.Mutex
		m  map[string]*swEntry
	}

	ttl    time.Duration
	stopCh chan struct{}
}

type swEntry struct {
	timestamps []time.Time
	lastSeen   time.Time
}

// NewSlidingWindowMemory builds a memory sliding-window backend
// admitting at most max requests per window.
func NewSlidingWindowMemory(window time.Duration, max int) *SlidingWindowMemory {
	sw := &SlidingWindowMemory{
		window: window,
		max:    max,
		ttl:    window * 2,
		stopCh: make(chan struct{}),
	}
	for i := range sw.shards {
		sw.shards[i].m = make(map[string]*swEntry)
	}
	go sw.gcLoop()
	return sw
}

// Check implements Backend.
func (sw *SlidingWindowMemory) Check(_ context.Context, key string, now time.Time) (Decision, error) {
	s := &sw.shards[shardFor(key)]
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.m[key]
	if !ok {
		e = &swEntry{}
		s.m[key] = e
	}
	e.lastSeen = now

	cutoff := now.Add(-sw.window)
	kept := e.timestamps[:0]
	for _, ts := range e.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	e.timestamps = kept

	if len(e.timestamps) < sw.max {
		e.timestamps = append(e.timestamps, now)
		return Decision{Allowed: true}, nil
	}

	oldest := e.timestamps[0]
	retrySeconds := oldest.Add(sw.window).Sub(now).Seconds()
	retryMS := int64(math.Ceil(retrySeconds * 1000))
	if retryMS < 0 {
		retryMS = 0
	}
	return Decision{Allowed: false, RetryAfterMS: retryMS}, nil
}

func (sw *SlidingWindowMemory) gcLoop() {
	interval := sw.ttl
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			now := time.Now()
			for i := range sw.shards {
				s := &sw.shards[i]
				s.mu.Lock()
				for k, e := range s.m {
					if now.Sub(e.lastSeen) > sw.ttl {
						delete(s.m, k)
					}
				}
				s.mu.Unlock()
			}
		case <-sw.stopCh:
			return
		}
	}
}

// Close implements Backend.
func (sw *SlidingWindowMemory) Close() error {
	close(sw.stopCh)
	return nil
}
