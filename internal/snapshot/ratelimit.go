package snapshot

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// GitHub rate limit headers
const (
	headerRateRemaining = "X-RateLimit-Remaining"
	headerRateReset     = "X-RateLimit-Reset"
)

// Throttling defaults: about 4300 requests an hour, keeping a reserve of the
// authenticated 5000/hour quota
const (
	DefaultRequestsPerSecond = 1.2
	minRemaining             = 100
)

// rateLimiter throttles proactively with a token bucket and waits for the
// reset time once the quota reported by GitHub runs low
type rateLimiter struct {
	bucket *rate.Limiter

	mu        sync.Mutex
	remaining int
	resetTime time.Time
}

func newRateLimiter(rps float64) *rateLimiter {
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}
	return &rateLimiter{
		bucket:    rate.NewLimiter(rate.Limit(rps), max(1, int(rps))),
		remaining: -1,
	}
}

func (r *rateLimiter) Wait(ctx context.Context) error {
	if err := r.bucket.Wait(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	remaining, reset := r.remaining, r.resetTime
	r.mu.Unlock()

	if remaining >= 0 && remaining < minRemaining && time.Now().Before(reset) {
		timer := time.NewTimer(time.Until(reset))
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// update records the quota headers of a response
func (r *rateLimiter) update(resp *http.Response) {
	if resp == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, err := strconv.Atoi(resp.Header.Get(headerRateRemaining)); err == nil {
		r.remaining = v
	}
	if v, err := strconv.ParseInt(resp.Header.Get(headerRateReset), 10, 64); err == nil {
		r.resetTime = time.Unix(v, 0)
	}
}
