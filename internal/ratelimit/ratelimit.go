// internal/ratelimit/ratelimit.go
package ratelimit

import (
	"context"
	"time"

	"sprint-assistant/internal/common/config"
	"sprint-assistant/internal/common/errors"
	"sprint-assistant/internal/common/logger"
	"sprint-assistant/internal/common/metrics"
)

// Store performs the atomic refill-and-consume for one bucket key. The
// returned remaining count reflects the bucket after the attempt.
type Store interface {
	Take(ctx context.Context, userID, resource string, capacity, refillRate float64) (allowed bool, remaining float64, err error)
}

// Decision is the outcome of a limit check.
type Decision struct {
	Allowed    bool
	Remaining  float64
	RetryAfter time.Duration
}

// Limiter applies per-(user, resource) token buckets. Checks never queue or
// block: a request either gets a token now or is rejected.
type Limiter struct {
	store  Store
	limits map[string]config.BucketConfig
	logger logger.Logger
}

func NewLimiter(store Store, limits map[string]config.BucketConfig, log logger.Logger) *Limiter {
	return &Limiter{
		store:  store,
		limits: limits,
		logger: log,
	}
}

// Allow consumes one token from the bucket for (userID, resource). Unknown
// resources reject outright; store failures fail open with a logged error so
// the limiter backend cannot take the whole service down.
func (l *Limiter) Allow(ctx context.Context, userID, resource string) (Decision, error) {
	shape, ok := l.limits[resource]
	if !ok {
		return Decision{}, errors.NewConfigInvalidError("unknown rate limit resource: " + resource)
	}

	allowed, remaining, err := l.store.Take(ctx, userID, resource, shape.Capacity, shape.RefillPerSec)
	if err != nil {
		l.logger.Error("Rate limit store failure, failing open", map[string]interface{}{
			"userId":   userID,
			"resource": resource,
			"error":    err.Error(),
		})
		return Decision{Allowed: true, Remaining: 0}, nil
	}

	if !allowed {
		retryAfter := retryAfterHint(remaining, shape.RefillPerSec)
		metrics.RateLimitRejections.WithLabelValues(resource).Inc()
		l.logger.Warn("Rate limit exceeded", map[string]interface{}{
			"userId":         userID,
			"resource":       resource,
			"remaining":      remaining,
			"retryAfterSecs": retryAfter.Seconds(),
		})
		return Decision{Allowed: false, Remaining: remaining, RetryAfter: retryAfter}, nil
	}

	return Decision{Allowed: true, Remaining: remaining}, nil
}

// retryAfterHint estimates how long until one full token is available.
func retryAfterHint(remaining, refillRate float64) time.Duration {
	if refillRate <= 0 {
		return time.Minute
	}
	missing := 1 - remaining
	if missing < 0 {
		missing = 0
	}
	return time.Duration(missing / refillRate * float64(time.Second))
}
