package chat

import (
	"sync"
	"time"
)

// RateLimiter enforces an exact sliding window per user: at most max requests
// inside any trailing window. A timestamp log (not a token bucket) is kept per
// user so the Nth+1 request inside the window is always rejected regardless of
// how the requests were spaced.
type RateLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	byUser map[string][]time.Time

	now func() time.Time
}

func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		max:    max,
		window: window,
		byUser: make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow records a request for userID and reports whether it is within the
// limit. Rejected requests are not recorded, so a client hammering the
// endpoint does not push its own window forward.
func (rl *RateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window)

	log := rl.byUser[userID]
	kept := log[:0]
	for _, t := range log {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= rl.max {
		rl.byUser[userID] = kept
		return false
	}

	rl.byUser[userID] = append(kept, now)
	return true
}

// Prune drops users whose entire log has aged out. Called opportunistically
// by the owner; the map otherwise only grows.
func (rl *RateLimiter) Prune() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.window)
	for user, log := range rl.byUser {
		stale := true
		for _, t := range log {
			if t.After(cutoff) {
				stale = false
				break
			}
		}
		if stale {
			delete(rl.byUser, user)
		}
	}
}
