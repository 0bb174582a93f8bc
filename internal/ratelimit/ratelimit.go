// Package ratelimit implements per-client token-bucket admission control.
package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// Limiter is a token-bucket rate limiter keyed by client identity (IP or
// API key). Buckets are created lazily with a full token allowance and
// refill continuously at rate/60 tokens per second up to burst.
// All methods are safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	perMinute int
	burst     int

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Limiter admitting perMinute requests per minute per client,
// with bursts up to burst. A non-positive burst defaults to perMinute.
func New(perMinute, burst int) *Limiter {
	if burst <= 0 {
		burst = perMinute
	}
	return &Limiter{
		buckets:   make(map[string]*bucket),
		perMinute: perMinute,
		burst:     burst,
		now:       time.Now,
	}
}

// SetNowFunc overrides the clock. For tests.
func (l *Limiter) SetNowFunc(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Allow reports whether one request from clientID is admitted, consuming a
// token when it is. Refill and decrement happen as one atomic step so two
// concurrent callers can never both spend the same token. Never blocks.
func (l *Limiter) Allow(clientID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.refillLocked(clientID)
	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return true
	}
	return false
}

// RetryAfter returns how long clientID must wait until a token is available.
// Zero means a request would be admitted now.
func (l *Limiter) RetryAfter(clientID string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.refillLocked(clientID)
	if b.tokens >= 1.0 {
		return 0
	}
	needed := 1.0 - b.tokens
	secs := needed / (float64(l.perMinute) / 60.0)
	return time.Duration(secs * float64(time.Second))
}

// PruneIdle drops buckets not touched within maxAge and returns the number
// removed. Called periodically by the cleanup scheduler.
func (l *Limiter) PruneIdle(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-maxAge)
	pruned := 0
	for id, b := range l.buckets {
		if b.lastRefill.Before(cutoff) {
			delete(l.buckets, id)
			pruned++
		}
	}
	return pruned
}

// refillLocked fetches or creates the bucket for clientID and credits tokens
// for the time elapsed since the last refill. Caller must hold l.mu.
func (l *Limiter) refillLocked(clientID string) *bucket {
	now := l.now()

	b, ok := l.buckets[clientID]
	if !ok {
		b = &bucket{tokens: float64(l.burst), lastRefill: now}
		l.buckets[clientID] = b
		return b
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = min(float64(l.burst), b.tokens+elapsed*float64(l.perMinute)/60.0)
		b.lastRefill = now
	}
	return b
}
