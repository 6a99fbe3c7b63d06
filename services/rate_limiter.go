package services

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RateLimiter implements a sliding one-minute window limiter
type RateLimiter struct {
	mu                sync.Mutex
	requestsPerMinute int
	lastRequests      []time.Time
	now               func() time.Time
}

// NewRateLimiter creates a new rate limiter; rpm <= 0 disables limiting
func NewRateLimiter(rpm int) *RateLimiter {
	return &RateLimiter{
		requestsPerMinute: rpm,
		now:               time.Now,
	}
}

// Wait blocks until a request can be made within rate limits. The lock is not
// held while sleeping.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r.requestsPerMinute <= 0 {
		return nil
	}

	for {
		r.mu.Lock()
		now := r.now()
		windowStart := now.Add(-time.Minute)

		// Remove old requests outside the window
		valid := r.lastRequests[:0]
		for _, t := range r.lastRequests {
			if t.After(windowStart) {
				valid = append(valid, t)
			}
		}
		r.lastRequests = valid

		if len(r.lastRequests) < r.requestsPerMinute {
			r.lastRequests = append(r.lastRequests, now)
			r.mu.Unlock()
			return nil
		}

		waitDuration := r.lastRequests[0].Add(time.Minute).Sub(now)
		r.mu.Unlock()

		slog.Info("Rate limit reached, waiting...",
			"waitSeconds", waitDuration.Seconds(),
			"rpm", r.requestsPerMinute,
		)

		select {
		case <-time.After(waitDuration):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
