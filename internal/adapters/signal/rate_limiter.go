package signal

import (
	"sync"
	"time"

	"github.com/harborchat/harbor/internal/core"
)

// RateLimiter bounds inbound frames per connection with a sliding
// window. Frames above the limit are dropped, not fatal: signaling
// bursts (ICE candidates, consume storms) recover on their own.
type RateLimiter struct {
	mu       sync.Mutex
	history  map[core.ConnectionID][]time.Time
	limit    int
	interval time.Duration
}

func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		history:  make(map[core.ConnectionID][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *RateLimiter) Allow(id core.ConnectionID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[id]
	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[id] = fresh
		return false
	}

	fresh = append(fresh, now)
	rl.history[id] = fresh
	return true
}

func (rl *RateLimiter) Forget(id core.ConnectionID) {
	rl.mu.Lock()
	delete(rl.history, id)
	rl.mu.Unlock()
}
