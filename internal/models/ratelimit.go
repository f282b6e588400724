// internal/models/ratelimit.go
package models

import "time"

// RateLimitBucket is the persisted token bucket state for one
// (user, resource) pair. Refill is lazy: tokens are topped up from elapsed
// time at check time, there is no background filler.
type RateLimitBucket struct {
	UserID       string    `json:"user_id"`
	Resource     string    `json:"resource"`
	Tokens       float64   `json:"tokens"`
	Capacity     float64   `json:"capacity"`
	RefillRate   float64   `json:"refill_rate"` // tokens per second
	LastRefillAt time.Time `json:"last_refill_at"`
}

// Refilled returns the token count after applying lazy refill at now,
// clamped to [0, capacity]. A clock that stepped backwards counts as zero
// elapsed time.
func (b RateLimitBucket) Refilled(now time.Time) float64 {
	elapsed := now.Sub(b.LastRefillAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	tokens := b.Tokens + elapsed*b.RefillRate
	if tokens > b.Capacity {
		tokens = b.Capacity
	}
	if tokens < 0 {
		tokens = 0
	}
	return tokens
}
