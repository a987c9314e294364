package ratelimit

import (
	"context"
	"sync"
	"time"
)

// ConnLimiter admits new connections per remote address using a trailing
// window: an attempt is allowed iff fewer than max attempts were recorded
// within the last window. Every check recomputes the active subset by
// filtering timestamps, so memory per address is bounded by max and no
// background state is required for correctness; the periodic sweep only
// reclaims addresses whose window has drained.
type ConnLimiter struct {
	clock  Clock
	max    int
	window time.Duration

	mu       sync.Mutex
	attempts map[string][]time.Time
}

func NewConnLimiter(clock Clock, max int, window time.Duration) *ConnLimiter {
	if clock == nil {
		clock = RealClock{}
	}
	return &ConnLimiter{
		clock:    clock,
		max:      max,
		window:   window,
		attempts: make(map[string][]time.Time),
	}
}

// Allow reports whether a connection attempt from addr is admitted, and
// records the attempt if so.
func (l *ConnLimiter) Allow(addr string) bool {
	if l.max <= 0 {
		return true
	}

	now := l.clock.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	active := l.attempts[addr][:0]
	for _, ts := range l.attempts[addr] {
		if ts.After(cutoff) {
			active = append(active, ts)
		}
	}

	if len(active) >= l.max {
		l.attempts[addr] = active
		return false
	}

	l.attempts[addr] = append(active, now)
	return true
}

// Sweep drops addresses with no attempts inside the current window and
// returns how many were removed.
func (l *ConnLimiter) Sweep() int {
	cutoff := l.clock.Now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for addr, attempts := range l.attempts {
		active := attempts[:0]
		for _, ts := range attempts {
			if ts.After(cutoff) {
				active = append(active, ts)
			}
		}
		if len(active) == 0 {
			delete(l.attempts, addr)
			removed++
			continue
		}
		l.attempts[addr] = active
	}
	return removed
}

// Run sweeps once per window until ctx is cancelled.
func (l *ConnLimiter) Run(ctx context.Context) {
	if l.window <= 0 {
		return
	}
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
