package common

import (
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter spaces out events without blocking the caller. The scheduler
// uses it to pace dispatches in stealth mode from its single coordinating
// goroutine.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewIntervalLimiter creates a RateLimiter allowing one event per interval.
// A non-positive interval yields an unlimited limiter.
func NewIntervalLimiter(interval time.Duration) *RateLimiter {
	if interval <= 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Reserve consumes a token if one is available now and returns zero.
// Otherwise it consumes nothing and returns how long the caller should wait
// before asking again.
func (rl *RateLimiter) Reserve() time.Duration {
	r := rl.limiter.Reserve()
	if !r.OK() {
		return time.Second
	}
	delay := r.Delay()
	if delay > 0 {
		r.Cancel()
	}
	return delay
}
