package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter defines the interface for a rate limiter.
// This allows for different implementations (e.g., in-memory, distributed).
type Limiter interface {
	// Allow checks if a request is allowed for a given identifier (e.g., peer address).
	Allow(identifier string) bool
}

// NewInMemoryRateLimiter creates a new in-memory rate limiter.
// It creates a new limiter for each identifier with the given rate and burst size.
func NewInMemoryRateLimiter(r rate.Limit, b int) *InMemoryRateLimiter {
	return &InMemoryRateLimiter{
		rate:    r,
		burst:   b,
		clients: make(map[string]*client),
		now:     time.Now,
	}
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// InMemoryRateLimiter keeps one token bucket per identifier.
type InMemoryRateLimiter struct {
	rate    rate.Limit
	burst   int
	clients map[string]*client
	mu      sync.Mutex
	now     func() time.Time
}

func (l *InMemoryRateLimiter) Allow(identifier string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, exists := l.clients[identifier]
	if !exists {
		c = &client{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.clients[identifier] = c
	}
	c.lastSeen = now

	return c.limiter.AllowN(now, 1)
}

// Forget drops buckets idle for longer than idle and returns how many were dropped.
func (l *InMemoryRateLimiter) Forget(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	dropped := 0
	for id, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, id)
			dropped++
		}
	}
	return dropped
}

// Tracked returns the number of identifiers with a live bucket.
func (l *InMemoryRateLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
