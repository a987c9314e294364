package ratelimit

import (
	"sync"
	"time"
)

// One token is represented as 1e9 nano-tokens so integer fill rates
// (tokens/sec) map 1:1 to nano-tokens per nanosecond, avoiding float
// rounding drift.
const nanosPerToken int64 = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket is a deterministic token bucket driven by a Clock, used for
// per-connection inbound message rate limiting.
type TokenBucket struct {
	mu sync.Mutex

	clock    Clock
	capacity int64 // tokens
	rate     int64 // tokens/sec

	available int64 // nano-tokens
	last      time.Time
}

func NewTokenBucket(clock Clock, capacity, rate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacity < 0 {
		capacity = 0
	}
	if rate < 0 {
		rate = 0
	}
	return &TokenBucket{
		clock:     clock,
		capacity:  capacity,
		rate:      rate,
		available: toNanoTokens(capacity),
		last:      clock.Now(),
	}
}

// Allow consumes tokens if available. tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}
	cost := toNanoTokens(tokens)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

func (b *TokenBucket) refill() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Time went backwards; re-anchor without refilling.
		b.last = now
		return
	}
	elapsed := now.Sub(b.last).Nanoseconds()
	if elapsed <= 0 {
		return
	}
	b.last = now

	if b.rate <= 0 || b.capacity <= 0 {
		return
	}

	cap := toNanoTokens(b.capacity)
	need := cap - b.available
	if need <= 0 {
		b.available = cap
		return
	}

	// rate tokens/sec == rate nano-tokens/ns. Clamp instead of multiplying
	// when the elapsed time alone is enough to fill the bucket, which also
	// avoids overflow on long idle periods.
	if elapsed >= need/b.rate {
		b.available = cap
		return
	}
	b.available += elapsed * b.rate
}

func toNanoTokens(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/nanosPerToken {
		return maxInt64
	}
	return tokens * nanosPerToken
}
