package ws

import (
	"sync"
	"time"
)

// rateLimiter is a token bucket: capacity tokens, refilled linearly so the
// bucket goes from empty to full in one interval.
type rateLimiter struct {
	mu        sync.Mutex
	tokens    float64
	capacity  float64
	rate      float64 // tokens per second
	lastCheck time.Time
	now       func() time.Time
}

func newRateLimiter(capacity int, interval time.Duration) *rateLimiter {
	rl := &rateLimiter{now: time.Now}
	rl.configure(capacity, interval)
	rl.tokens = rl.capacity
	rl.lastCheck = rl.now()
	return rl
}

// configure changes the bucket size and refill rate. Tokens already in the
// bucket are kept, clipped to the new capacity.
func (rl *rateLimiter) configure(capacity int, interval time.Duration) {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.capacity = float64(capacity)
	rl.rate = float64(capacity) / interval.Seconds()
	if rl.tokens > rl.capacity {
		rl.tokens = rl.capacity
	}
}

// allow takes one token if there is one.
func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	elapsed := now.Sub(rl.lastCheck).Seconds()
	rl.lastCheck = now

	if elapsed > 0 {
		rl.tokens += elapsed * rl.rate
		if rl.tokens > rl.capacity {
			rl.tokens = rl.capacity
		}
	}

	if rl.tokens < 1 {
		return false
	}
	rl.tokens--
	return true
}
