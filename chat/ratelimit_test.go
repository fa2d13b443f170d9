package chat

import (
	"testing"
	"time"
)

func newTestLimiter(max int, window time.Duration) (*RateLimiter, *time.Time) {
	rl := NewRateLimiter(max, window)
	current := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return current }
	return rl, &current
}

func TestSlidingWindowRejectsEleventh(t *testing.T) {
	rl, current := newTestLimiter(10, time.Minute)

	for i := 0; i < 10; i++ {
		if !rl.Allow("guest-1") {
			t.Fatalf("request %d rejected under the limit", i+1)
		}
		*current = current.Add(time.Second)
	}

	if rl.Allow("guest-1") {
		t.Fatal("eleventh request inside the window was allowed")
	}
}

func TestWindowSlides(t *testing.T) {
	rl, current := newTestLimiter(10, time.Minute)

	for i := 0; i < 10; i++ {
		rl.Allow("guest-1")
	}
	if rl.Allow("guest-1") {
		t.Fatal("over-limit request allowed")
	}

	// All ten stamps age out together once the window passes them.
	*current = current.Add(61 * time.Second)
	if !rl.Allow("guest-1") {
		t.Fatal("request rejected after the window slid past the burst")
	}
}

func TestRejectionsNotRecorded(t *testing.T) {
	rl, current := newTestLimiter(2, time.Minute)

	rl.Allow("guest-1")
	rl.Allow("guest-1")
	for i := 0; i < 5; i++ {
		if rl.Allow("guest-1") {
			t.Fatal("over-limit request allowed")
		}
	}

	// Only the two accepted stamps count; hammering must not extend the
	// lockout.
	*current = current.Add(61 * time.Second)
	if !rl.Allow("guest-1") {
		t.Fatal("rejected requests pushed the window forward")
	}
}

func TestPerUserIsolation(t *testing.T) {
	rl, _ := newTestLimiter(1, time.Minute)

	if !rl.Allow("guest-1") {
		t.Fatal("first request for guest-1 rejected")
	}
	if !rl.Allow("guest-2") {
		t.Fatal("guest-2 throttled by guest-1's usage")
	}
	if rl.Allow("guest-1") {
		t.Fatal("guest-1 allowed past its own limit")
	}
}

func TestPrune(t *testing.T) {
	rl, current := newTestLimiter(10, time.Minute)

	rl.Allow("guest-1")
	rl.Allow("guest-2")
	*current = current.Add(2 * time.Minute)
	rl.Allow("guest-2")

	rl.Prune()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.byUser["guest-1"]; ok {
		t.Error("stale user survived Prune")
	}
	if _, ok := rl.byUser["guest-2"]; !ok {
		t.Error("active user removed by Prune")
	}
}
