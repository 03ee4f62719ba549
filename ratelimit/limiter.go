// Package ratelimit provides per-target token buckets. Deliveries over the
// limit are rejected rather than delayed.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter holds one token bucket per target id.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	tokens   float64
	lastFill time.Time
	rate     float64 // tokens per second, also the burst size
}

// New creates a new rate limiter.
func New() *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow reports whether targetID may deliver now and consumes a token if
// so. A rate of 0 means unlimited. When the configured rate changes the
// bucket adopts it on the next call.
func (l *Limiter) Allow(targetID string, rate int) bool {
	if rate <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[targetID]
	if !ok {
		b = &bucket{tokens: float64(rate), lastFill: now, rate: float64(rate)}
		l.buckets[targetID] = b
	}
	b.rate = float64(rate)
	b.refill(now)

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Prune drops buckets for targets not in keep. Called after a registry
// reload so removed targets do not accumulate.
func (l *Limiter) Prune(keep map[string]struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id := range l.buckets {
		if _, ok := keep[id]; !ok {
			delete(l.buckets, id)
		}
	}
}

// Reset clears the state for one target.
func (l *Limiter) Reset(targetID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, targetID)
}

func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastFill).Seconds()
	b.tokens += elapsed * b.rate
	if b.tokens > b.rate {
		b.tokens = b.rate
	}
	b.lastFill = now
}
