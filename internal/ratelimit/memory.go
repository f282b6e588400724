// internal/ratelimit/memory.go
package ratelimit

import (
	"context"
	"sync"
	"time"

	"sprint-assistant/internal/models"
)

// MemoryStore keeps buckets in a mutex-guarded map. Used in memory mode and
// tests; the same lazy-refill math as the Postgres store.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*models.RateLimitBucket

	// Now is injectable so tests can step time without sleeping.
	Now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]*models.RateLimitBucket),
		Now:     time.Now,
	}
}

func (s *MemoryStore) Take(ctx context.Context, userID, resource string, capacity, refillRate float64) (bool, float64, error) {
	if err := ctx.Err(); err != nil {
		return false, 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	key := userID + "|" + resource

	bucket, ok := s.buckets[key]
	if !ok {
		bucket = &models.RateLimitBucket{
			UserID:       userID,
			Resource:     resource,
			Tokens:       capacity,
			Capacity:     capacity,
			RefillRate:   refillRate,
			LastRefillAt: now,
		}
		s.buckets[key] = bucket
	}

	// Shape changes from config take effect on the next check.
	bucket.Capacity = capacity
	bucket.RefillRate = refillRate

	tokens := bucket.Refilled(now)
	bucket.LastRefillAt = now

	if tokens >= 1 {
		bucket.Tokens = tokens - 1
		return true, bucket.Tokens, nil
	}

	bucket.Tokens = tokens
	return false, bucket.Tokens, nil
}

// Snapshot returns a copy of the bucket for inspection in tests.
func (s *MemoryStore) Snapshot(userID, resource string) (models.RateLimitBucket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.buckets[userID+"|"+resource]
	if !ok {
		return models.RateLimitBucket{}, false
	}
	return *bucket, true
}
