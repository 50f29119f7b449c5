package interceptors

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/ratelimit"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned by limiters that reject instead of waiting
var ErrRateLimited = errors.New("rate limited")

// TokenBucketLimiter rejects calls once a key's token bucket is empty
type TokenBucketLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rps      float64
	burst    int
}

// NewTokenBucketLimiter creates a limiter allowing rps calls per second per
// key with the given burst
func NewTokenBucketLimiter(rps float64, burst int) *TokenBucketLimiter {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucketLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

// getLimiter gets or creates the bucket for a key
func (l *TokenBucketLimiter) getLimiter(key string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[key]
	l.mu.RUnlock()
	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists = l.limiters[key]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[key] = limiter
	return limiter
}

// Allow implements RateLimiter
func (l *TokenBucketLimiter) Allow(ctx context.Context, key string) error {
	if !l.getLimiter(key).Allow() {
		return ErrRateLimited
	}
	return nil
}

// PacedLimiter spaces calls evenly per key, blocking until the next slot
type PacedLimiter struct {
	limiters sync.Map // map[string]ratelimit.Limiter
	mu       sync.Mutex
	rps      int
	per      time.Duration
}

// NewPacedLimiter creates a limiter allowing rate calls per period per key
func NewPacedLimiter(rate int, per time.Duration) *PacedLimiter {
	if per <= 0 {
		per = time.Second
	}
	return &PacedLimiter{rps: rate, per: per}
}

// getLimiter gets or creates the pacer for a key
func (l *PacedLimiter) getLimiter(key string) ratelimit.Limiter {
	if limiter, ok := l.limiters.Load(key); ok {
		return limiter.(ratelimit.Limiter)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring lock
	if limiter, ok := l.limiters.Load(key); ok {
		return limiter.(ratelimit.Limiter)
	}

	limiter := ratelimit.New(l.rps, ratelimit.Per(l.per))
	l.limiters.Store(key, limiter)
	return limiter
}

// Allow implements RateLimiter. It waits for the key's next slot and fails
// only when ctx is already done.
func (l *PacedLimiter) Allow(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.getLimiter(key).Take()
	return nil
}
