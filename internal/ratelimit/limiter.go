// Package ratelimit implements per-client token bucket rate limiting for
// the HTTP API. Buckets refill on a fixed window and are pruned when idle.
package ratelimit

import (
	"sync"
	"time"

	"github.com/Ea2601/pi5supernode/internal/clock"
)

// Limiter manages rate limiting for multiple keys, typically client IPs.
type Limiter struct {
	buckets map[string]*bucket
	mu      sync.RWMutex
	stop    chan struct{}
	once    sync.Once
}

type bucket struct {
	tokens   int
	limit    int
	interval time.Duration
	lastFill time.Time
	mu       sync.Mutex
}

// NewLimiter creates a new rate limiter.
func NewLimiter() *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
}

// Allow reports whether a single request for the given key is allowed.
// limit is the maximum number of requests per interval window.
func (l *Limiter) Allow(key string, limit int, interval time.Duration) bool {
	return l.AllowN(key, limit, interval, 1)
}

// AllowN reports whether n requests for the given key are allowed.
func (l *Limiter) AllowN(key string, limit int, interval time.Duration, n int) bool {
	l.mu.Lock()
	b, exists := l.buckets[key]
	if !exists {
		b = &bucket{
			tokens:   limit,
			limit:    limit,
			interval: interval,
			lastFill: clock.Now(),
		}
		l.buckets[key] = b
	}
	l.mu.Unlock()

	return b.takeN(n)
}

func (b *bucket) takeN(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Window-based refill: after one full interval the bucket resets.
	now := clock.Now()
	if now.Sub(b.lastFill) >= b.interval {
		b.tokens = b.limit
		b.lastFill = now
	}

	if b.tokens < n {
		return false
	}

	b.tokens -= n
	return true
}

// Reset clears rate limit state for a specific key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// CleanupExpired removes buckets that have been idle longer than maxAge.
func (l *Limiter) CleanupExpired(maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := clock.Now()
	for key, b := range l.buckets {
		b.mu.Lock()
		idle := now.Sub(b.lastFill)
		b.mu.Unlock()
		if idle > maxAge {
			delete(l.buckets, key)
		}
	}
}

// StartCleanup starts a background goroutine that prunes idle buckets.
func (l *Limiter) StartCleanup(interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-l.stop:
				return
			case <-ticker.C:
				l.CleanupExpired(maxAge)
			}
		}
	}()
}

// Stop halts the cleanup goroutine if one was started.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}
