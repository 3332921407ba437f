// Package security holds the process-wide throttling and abuse-tracking state
// shared by every client context: the sliding-window rate limiter and the
// security monitor with its failed-attempt ledger and activity log.
package security

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements a sliding-window in-memory rate limiter.
// Keys are opaque strings; callers scope them ("login_<client>", "admin_<client>").
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int           // Max requests
	window   time.Duration // Time window
	now      func() time.Time
}

// NewRateLimiter creates a new rate limiter. Expired entries are only removed
// by Sweep, so long-running processes should also call Run.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	rl.now = now
	return rl
}

// Allow records a request for key and reports whether it fits in the window.
// Rejected requests are not recorded.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	valid := rl.pruneLocked(key, now)

	if len(valid) >= rl.limit {
		return false
	}

	rl.requests[key] = append(valid, now)
	return true
}

// Remaining returns the number of remaining requests for a key
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	remaining := rl.limit - len(rl.pruneLocked(key, rl.now()))
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset returns the time when the oldest request in the window expires
func (rl *RateLimiter) Reset(key string) time.Time {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	valid := rl.pruneLocked(key, now)
	if len(valid) == 0 {
		return now
	}
	return valid[0].Add(rl.window)
}

// Sweep drops expired timestamps and empty keys. It returns the number of keys removed.
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for key := range rl.requests {
		if len(rl.pruneLocked(key, now)) == 0 {
			removed++
		}
	}
	return removed
}

// Run sweeps at the given interval until ctx is cancelled.
func (rl *RateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Sweep()
		}
	}
}

// pruneLocked keeps only timestamps newer than now-window. Timestamps are
// appended in order, so the first one inside the window ends the scan.
func (rl *RateLimiter) pruneLocked(key string, now time.Time) []time.Time {
	requests, ok := rl.requests[key]
	if !ok {
		return nil
	}

	windowStart := now.Add(-rl.window)
	i := 0
	for i < len(requests) && !requests[i].After(windowStart) {
		i++
	}

	if i == len(requests) {
		delete(rl.requests, key)
		return nil
	}
	if i > 0 {
		requests = append(requests[:0:0], requests[i:]...)
		rl.requests[key] = requests
	}
	return requests
}
