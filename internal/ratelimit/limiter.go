package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// DirectKey is the limiter key used when no proxy is bound.
const DirectKey = "direct"

// Limiter paces searches separately for each egress address
type Limiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

// NewLimiter creates a new rate limiter
// searchesPerHour: searches allowed per hour per egress (e.g., 120)
// burst: max searches in a burst (e.g., 5)
// A non-positive searchesPerHour disables pacing.
func NewLimiter(searchesPerHour int, burst int) *Limiter {
	r := rate.Inf
	if searchesPerHour > 0 {
		// Convert searches per hour to searches per second
		r = rate.Limit(float64(searchesPerHour) / 3600.0)
	}
	if burst < 1 {
		burst = 1
	}

	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

// GetLimiter returns the rate limiter for a specific egress
func (l *Limiter) GetLimiter(key string) *rate.Limiter {
	if key == "" {
		key = DirectKey
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = limiter
	}

	return limiter
}

// Allow checks if a search is allowed right now for the given egress
func (l *Limiter) Allow(key string) bool {
	return l.GetLimiter(key).Allow()
}

// Wait blocks until a search is allowed for the given egress or ctx is done
func (l *Limiter) Wait(ctx context.Context, key string) error {
	return l.GetLimiter(key).Wait(ctx)
}

// Tokens returns the current number of available tokens for an egress
func (l *Limiter) Tokens(key string) float64 {
	return l.GetLimiter(key).Tokens()
}
