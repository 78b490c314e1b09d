package common

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces request weight against a venue's per-minute budget.
type RateLimiter struct {
	limiter *rate.Limiter
	limit   int
}

// NewRateLimiter allows limit weight per interval (e.g. 1200 per minute for spot).
func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 1200
	}
	if interval <= 0 {
		interval = time.Minute
	}
	perSecond := float64(limit) / interval.Seconds()
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(perSecond), limit/10+1),
		limit:   limit,
	}
}

// Wait blocks until weight units are available or ctx ends.
func (rl *RateLimiter) Wait(ctx context.Context, weight int) error {
	if rl == nil {
		return nil
	}
	if weight > rl.limiter.Burst() {
		weight = rl.limiter.Burst()
	}
	return rl.limiter.WaitN(ctx, weight)
}

// Limit returns the configured weight budget.
func (rl *RateLimiter) Limit() int {
	return rl.limit
}
