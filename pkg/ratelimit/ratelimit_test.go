package ratelimit

import (
	"testing"
	"time"
)

func frozen(l *Limiter, start time.Time) *time.Time {
	now := start
	l.now = func() time.Time { return now }
	return &now
}

func TestAllowBurstThenRefill(t *testing.T) {
	l := New(3, time.Minute)
	defer l.Close()
	now := frozen(l, time.Unix(1000, 0))

	for i := 0; i < 3; i++ {
		if !l.Allow("client") {
			t.Fatalf("request %d rejected within burst", i)
		}
	}
	if l.Allow("client") {
		t.Fatal("request beyond burst allowed")
	}
	if !l.Allow("other") {
		t.Fatal("keys are not independent")
	}

	*now = now.Add(20 * time.Second)
	if !l.Allow("client") {
		t.Fatal("token not refilled after a third of the window")
	}
	if l.Allow("client") {
		t.Fatal("refill granted more than one token")
	}
}

func TestResetAndEvict(t *testing.T) {
	l := New(1, time.Second)
	defer l.Close()
	now := frozen(l, time.Unix(1000, 0))

	l.Allow("a")
	if l.Allow("a") {
		t.Fatal("second request allowed")
	}
	l.Reset("a")
	if !l.Allow("a") {
		t.Fatal("reset did not restore the bucket")
	}

	*now = now.Add(time.Minute)
	l.evict()
	if len(l.entries) != 0 {
		t.Errorf("idle entries not evicted: %d left", len(l.entries))
	}
}

func TestZeroLimitRejects(t *testing.T) {
	l := New(0, time.Second)
	defer l.Close()
	if l.Allow("a") {
		t.Error("zero limit allowed a request")
	}
	l.Close()
}
