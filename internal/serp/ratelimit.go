package serp

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter is a process-wide token bucket for outbound provider calls.
// A nil limiter never blocks.
type RateLimiter struct {
	lim *rate.Limiter
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{lim: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return r.lim.Wait(ctx)
}

// Allow takes a token without blocking.
func (r *RateLimiter) Allow() bool {
	if r == nil {
		return true
	}
	return r.lim.Allow()
}

// Update applies new limits, e.g. after a runtime configuration change.
func (r *RateLimiter) Update(rps float64, burst int) {
	if r == nil {
		return
	}
	if burst < 1 {
		burst = 1
	}
	r.lim.SetLimit(rate.Limit(rps))
	r.lim.SetBurst(burst)
}

func (r *RateLimiter) Limit() (float64, int) {
	if r == nil {
		return 0, 0
	}
	return float64(r.lim.Limit()), r.lim.Burst()
}
