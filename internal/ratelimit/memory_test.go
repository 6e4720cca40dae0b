package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestTokenBucketAllowsUpToCapacityThenDenies(t *testing.T) {
	tb := NewTokenBucketMemory(2, 1, time.Minute)
	defer tb.Close()

	base := time.Unix(0, 0)
	ctx := context.Background()

	d1, err := tb.Check(ctx, "k", base)
	if err != nil || !d1.Allowed {
		t.Fatalf("expected first call allowed, got %+v err=%v", d1, err)
	}
	d2, err := tb.Check(ctx, "k", base.Add(100*time.Millisecond))
	if err != nil || !d2.Allowed {
		t.Fatalf("expected second call allowed, got %+v err=%v", d2, err)
	}
	d3, err := tb.Check(ctx, "k", base.Add(200*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d3.Allowed {
		t.Fatalf("expected third call denied, got %+v", d3)
	}
	if d3.RetryAfterMS <= 0 {
		t.Fatalf("expected positive retry-after, got %d", d3.RetryAfterMS)
	}
}

func TestTokenBucketRefillsOverTime(t *testing.T) {
	tb := NewTokenBucketMemory(1, 10, time.Minute)
	defer tb.Close()

	base := time.Unix(0, 0)
	ctx := context.Background()

	d1, _ := tb.Check(ctx, "k", base)
	if !d1.Allowed {
		t.Fatal("expected first call allowed")
	}
	// refill rate 10/s; after 200ms, ~2 tokens available (capped at 1)
	d2, _ := tb.Check(ctx, "k", base.Add(200*time.Millisecond))
	if !d2.Allowed {
		t.Fatal("expected refilled call allowed")
	}
}

func TestSlidingWindowAllowsExactlyMaxPerWindow(t *testing.T) {
	sw := NewSlidingWindowMemory(time.Second, 3)
	defer sw.Close()

	base := time.Unix(0, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := sw.Check(ctx, "k", base.Add(time.Duration(i)*time.Millisecond))
		if err != nil || !d.Allowed {
			t.Fatalf("expected call %d allowed, got %+v err=%v", i, d, err)
		}
	}
	d, err := sw.Check(ctx, "k", base.Add(4*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected 4th call in window denied")
	}
	if d.RetryAfterMS <= 0 {
		t.Fatalf("expected positive retry-after, got %d", d.RetryAfterMS)
	}
}

func TestSlidingWindowAllowsAgainAfterWindowPasses(t *testing.T) {
	sw := NewSlidingWindowMemory(100*time.Millisecond, 1)
	defer sw.Close()

	base := time.Unix(0, 0)
	ctx := context.Background()

	d1, _ := sw.Check(ctx, "k", base)
	if !d1.Allowed {
		t.Fatal("expected first call allowed")
	}
	d2, _ := sw.Check(ctx, "k", base.Add(50*time.Millisecond))
	if d2.Allowed {
		t.Fatal("expected second call within window denied")
	}
	d3, _ := sw.Check(ctx, "k", base.Add(150*time.Millisecond))
	if !d3.Allowed {
		t.Fatal("expected call after window elapsed to be allowed")
	}
}
