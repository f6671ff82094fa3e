package router

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// RateLimiter is a fixed-window limiter keyed by peer id.
type RateLimiter struct {
	limit  int
	window time.Duration
	clock  clock.Clock

	mu      sync.Mutex
	clients map[string]*ClientLimit
}

// ClientLimit is the window state of one peer.
type ClientLimit struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// NewRateLimiter allows limit actions per window for each key.
func NewRateLimiter(limit int, window time.Duration, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.New()
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		clock:   clk,
		clients: make(map[string]*ClientLimit),
	}
}

// Allow records one action for key and reports whether it is within the
// limit. Rejected actions do not consume the budget.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()

	state, exists := rl.clients[key]
	if !exists {
		rl.clients[key] = &ClientLimit{
			Limit:     rl.limit,
			Remaining: rl.limit - 1,
			ResetAt:   now.Add(rl.window),
		}
		return rl.limit > 0
	}

	if !state.ResetAt.After(now) {
		state.Remaining = state.Limit
		state.ResetAt = now.Add(rl.window)
	}

	if state.Remaining <= 0 {
		return false
	}
	state.Remaining--
	return true
}

// State returns a copy of key's window state.
func (rl *RateLimiter) State(key string) (ClientLimit, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	state, ok := rl.clients[key]
	if !ok {
		return ClientLimit{}, false
	}
	return *state, true
}

// Len returns the number of tracked keys. Entries are never removed.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
