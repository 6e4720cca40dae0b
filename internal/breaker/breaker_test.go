package breaker

import (
	"testing"
	"time"

	"github.com/riftgw/gateway/internal/clock"
)

func newTestBreaker() (*Breaker, *clock.Fake) {
	fc := clock.NewFake(time.Unix(0, 0))
	b := New(Config{FailureThreshold: 3, OpenDuration: 10 * time.Second, HalfOpenMax: 1}, fc)
	return b, fc
}

func TestClosedAllowsAndStaysClosedOnSuccess(t *testing.T) {
	b, _ := newTestBreaker()
	for i := 0; i < 10; i++ {
		allowed, probe := b.Admit()
		if !allowed || probe {
			t.Fatalf("expected closed admission, got allowed=%v probe=%v", allowed, probe)
		}
		b.Done(true, probe)
	}
	if b.Stats().State != Closed {
		t.Fatalf("expected closed, got %v", b.Stats().State)
	}
}

func TestOpensAfterFailureThreshold(t *testing.T) {
	b, _ := newTestBreaker()
	for i := 0; i < 3; i++ {
		allowed, probe := b.Admit()
		if !allowed {
			t.Fatalf("call %d should be admitted while closed", i)
		}
		b.Done(false, probe)
	}
	if b.Stats().State != Open {
		t.Fatalf("expected open after threshold failures, got %v", b.Stats().State)
	}
	allowed, _ := b.Admit()
	if allowed {
		t.Fatal("expected open breaker to deny admission")
	}
}

func TestHalfOpenAfterOpenDurationThenCloseOnSuccess(t *testing.T) {
	b, fc := newTestBreaker()
	for i := 0; i < 3; i++ {
		b.Admit()
		b.Done(false, false)
	}
	if b.Stats().State != Open {
		t.Fatalf("expected open, got %v", b.Stats().State)
	}

	fc.Advance(5 * time.Second)
	if allowed, _ := b.Admit(); allowed {
		t.Fatal("expected still open before OpenDuration elapses")
	}

	fc.Advance(6 * time.Second)
	allowed, probe := b.Admit()
	if !allowed || !probe {
		t.Fatalf("expected half-open probe admission, got allowed=%v probe=%v", allowed, probe)
	}
	// A second concurrent probe must be refused while HalfOpenMax=1 probe is in flight.
	if allowed2, _ := b.Admit(); allowed2 {
		t.Fatal("expected second half-open probe to be refused")
	}

	b.Done(true, probe)
	if b.Stats().State != Closed {
		t.Fatalf("expected closed after successful probe, got %v", b.Stats().State)
	}
}

func TestHalfOpenReopensOnFailedProbe(t *testing.T) {
	b, fc := newTestBreaker()
	for i := 0; i < 3; i++ {
		b.Admit()
		b.Done(false, false)
	}
	fc.Advance(11 * time.Second)

	allowed, probe := b.Admit()
	if !allowed || !probe {
		t.Fatal("expected half-open probe admission")
	}
	b.Done(false, probe)

	if b.Stats().State != Open {
		t.Fatalf("expected open again after failed probe, got %v", b.Stats().State)
	}
	if allowed, _ := b.Admit(); allowed {
		t.Fatal("expected newly reopened breaker to deny admission immediately")
	}
}
