// File: transport/ratelimit.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Rolling-window message rate limiter, one per connection.

package transport

import (
	"sync"
	"time"
)

const (
	DefaultRateLimit  = 20
	DefaultRateWindow = 10 * time.Second
)

// RateLimiter admits at most Limit events in any rolling Window.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	events []time.Time
	now    func() time.Time
}

// NewRateLimiter builds a limiter; non-positive arguments select the defaults.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &RateLimiter{
		limit:  limit,
		window: window,
		events: make([]time.Time, 0, limit),
		now:    time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (r *RateLimiter) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// Limited prunes expired events and reports whether the window is full.
func (r *RateLimiter) Limited() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(r.now())
	return len(r.events) >= r.limit
}

// Record registers one event at the current time.
func (r *RateLimiter) Record() {
	r.mu.Lock()
	r.events = append(r.events, r.now())
	r.mu.Unlock()
}

// Count returns the number of events inside the current window.
func (r *RateLimiter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(r.now())
	return len(r.events)
}

// events are appended in time order, so expired ones form a prefix.
func (r *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(r.events) && !r.events[i].After(cutoff) {
		i++
	}
	if i > 0 {
		r.events = append(r.events[:0], r.events[i:]...)
	}
}
