// Package ratelimit throttles on-demand resolutions per caller.
// Buckets refill lazily on each Allow call; there is no background goroutine.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a caller has exhausted its bucket.
var ErrRateLimited = errors.New("rate limit exceeded")

// Config configures the limiter.
type Config struct {
	RequestsPerMinute int           // Tokens added per minute. 0 = unlimited.
	Burst             int           // Bucket capacity. 0 = RequestsPerMinute.
	IdleTTL           time.Duration // Buckets untouched this long are dropped. Default: 10m.
}

// Limiter keeps one token bucket per caller key.
// A caller that drains its bucket does not affect other callers.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	rate      float64 // tokens per second
	burst     float64
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	tokens   float64
	lastFill time.Time
}

// New creates a limiter. A nil *Limiter allows everything.
func New(cfg Config) *Limiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}
	if burst <= 0 {
		burst = 1
	}
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    float64(cfg.RequestsPerMinute) / 60.0,
		burst:   float64(burst),
		idleTTL: ttl,
		now:     time.Now,
	}
}

// Allow consumes one token for key or returns ErrRateLimited.
func (l *Limiter) Allow(key string) error {
	if l == nil || l.rate <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweepLocked(now)

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst, lastFill: now}
		l.buckets[key] = b
	}

	b.tokens = min(l.burst, b.tokens+now.Sub(b.lastFill).Seconds()*l.rate)
	b.lastFill = now

	if b.tokens < 1 {
		return ErrRateLimited
	}
	b.tokens--
	return nil
}

// RetryAfter reports how long key must wait for its next token.
func (l *Limiter) RetryAfter(key string) time.Duration {
	if l == nil || l.rate <= 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		return 0
	}
	tokens := b.tokens + l.now().Sub(b.lastFill).Seconds()*l.rate
	if tokens >= 1 {
		return 0
	}
	return time.Duration((1 - tokens) / l.rate * float64(time.Second))
}

// Len returns the number of tracked callers.
func (l *Limiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// sweepLocked drops idle buckets at most once per idleTTL.
func (l *Limiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.idleTTL {
		return
	}
	l.lastSweep = now
	for key, b := range l.buckets {
		if now.Sub(b.lastFill) >= l.idleTTL {
			delete(l.buckets, key)
		}
	}
}
