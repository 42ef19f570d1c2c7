package admission

import (
	"context"
	"time"

	"github.com/quietline/quietline/internal/logging"
)

// RateResult is the outcome of a rate limit check.
type RateResult struct {
	Allowed           bool
	Limit             int
	Remaining         int
	RetryAfterSeconds int
}

// RateLimiter admits at most MaxRequests calls per identity within any
// rolling Window. No persistence across restarts; the goal is abuse damping,
// not accounting.
type RateLimiter struct {
	store  WindowStore
	window time.Duration
	max    int
	logger *logging.Logger
	now    func() time.Time
}

// NewRateLimiter creates a sliding-window rate limiter over the given store.
func NewRateLimiter(store WindowStore, window time.Duration, maxRequests int, logger *logging.Logger) *RateLimiter {
	return &RateLimiter{
		store:  store,
		window: window,
		max:    maxRequests,
		logger: logger,
		now:    time.Now,
	}
}

// Check prunes the identity's window and either admits the request,
// recording its timestamp, or rejects it with a retry-after hint derived
// from the oldest remaining entry.
func (rl *RateLimiter) Check(ctx context.Context, identity string) RateResult {
	now := rl.now()

	count, oldest, err := rl.store.Prune(ctx, identity, now.Add(-rl.window))
	if err != nil {
		// A broken counter store must not take the service down with it.
		rl.logger.WithContext(ctx).WithError(err).Warn("rate limit store unavailable, admitting")
		return RateResult{Allowed: true, Limit: rl.max, Remaining: rl.max}
	}

	if count >= rl.max {
		wait := oldest.Add(rl.window).Sub(now)
		retryAfter := int((wait + time.Second - 1) / time.Second)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return RateResult{
			Allowed:           false,
			Limit:             rl.max,
			Remaining:         0,
			RetryAfterSeconds: retryAfter,
		}
	}

	if err := rl.store.Append(ctx, identity, now); err != nil {
		rl.logger.WithContext(ctx).WithError(err).Warn("failed to record request timestamp")
	}

	return RateResult{
		Allowed:   true,
		Limit:     rl.max,
		Remaining: rl.max - count - 1,
	}
}

// StartSweep periodically drops identities whose windows have gone fully
// stale, bounding memory growth from one-off clients.
func (rl *RateLimiter) StartSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := rl.store.Sweep(ctx, rl.now().Add(-rl.window)); err != nil {
					rl.logger.WithError(err).Warn("rate limit sweep failed")
				}
			}
		}
	}()
}
