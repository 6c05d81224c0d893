// Package ratelimit throttles expensive endpoints such as test sends, which
// open connections to third-party mail servers.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	idleTTL         = 5 * time.Minute
	cleanupInterval = 3 * time.Minute
)

// Limiter is a keyed token bucket rate limiter. Keys are opaque caller
// identifiers; buckets idle for idleTTL are dropped.
type Limiter struct {
	callers map[string]*caller
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	stop    chan struct{}
	once    sync.Once
}

type caller struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a limiter allowing rps requests per second per key with
// the given burst. Call Close to stop its cleanup goroutine.
func NewLimiter(rps float64, burst int) *Limiter {
	l := &Limiter{
		callers: make(map[string]*caller),
		rps:     rate.Limit(rps),
		burst:   burst,
		stop:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Allow reports whether a request for key should be permitted.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	c, exists := l.callers[key]
	if !exists {
		c = &caller{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.callers[key] = c
	}
	c.lastSeen = time.Now()
	l.mu.Unlock()

	return c.limiter.Allow()
}

func (l *Limiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.evictIdle(time.Now())
		}
	}
}

func (l *Limiter) evictIdle(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, c := range l.callers {
		if now.Sub(c.lastSeen) >= idleTTL {
			delete(l.callers, key)
		}
	}
}
