// internal/search/cache.go
package search

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/redis/go-redis/v9"

	"sprint-assistant/internal/common/database"
	"sprint-assistant/internal/common/errors"
	"sprint-assistant/internal/common/logger"
	"sprint-assistant/internal/common/metrics"
)

// CachedEmbedder memoizes vectors in Redis, keyed by tenant and the hash of
// the normalized input. Embeddings are deterministic per input, so a cached
// vector is as good as a fresh one. Cache trouble degrades to computing,
// it never fails a request.
type CachedEmbedder struct {
	inner  Embedder
	redis  *database.RedisClient
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedEmbedder(inner Embedder, redis *database.RedisClient, ttl time.Duration, log logger.Logger) *CachedEmbedder {
	return &CachedEmbedder{
		inner:  inner,
		redis:  redis,
		ttl:    ttl,
		logger: log.WithFields(map[string]interface{}{"component": "embedding-cache"}),
	}
}

var _ Embedder = (*CachedEmbedder)(nil)

func (c *CachedEmbedder) Dimensions() int {
	return c.inner.Dimensions()
}

func (c *CachedEmbedder) Embed(ctx context.Context, tenantID, text string) ([]float32, error) {
	if tenantID == "" {
		return nil, errors.NewTenantIsolationViolationError("embedding requested without tenant id")
	}

	key := cacheKey(tenantID, text)

	cached, err := c.redis.Get(ctx, key)
	switch {
	case err == nil:
		var vector []float32
		if jsonErr := json.Unmarshal([]byte(cached), &vector); jsonErr == nil && len(vector) > 0 {
			metrics.EmbeddingCacheHits.WithLabelValues("hit").Inc()
			return vector, nil
		}
		metrics.EmbeddingCacheHits.WithLabelValues("miss").Inc()
		c.logger.Warn("discarding undecodable cached vector", map[string]interface{}{"key": key})
	case stderrors.Is(err, redis.Nil):
		metrics.EmbeddingCacheHits.WithLabelValues("miss").Inc()
	default:
		metrics.EmbeddingCacheHits.WithLabelValues("error").Inc()
		c.logger.Warn("embedding cache read failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}

	vector, err := c.inner.Embed(ctx, tenantID, text)
	if err != nil {
		return nil, err
	}

	if payload, jsonErr := json.Marshal(vector); jsonErr == nil {
		if setErr := c.redis.Set(ctx, key, payload, c.ttl); setErr != nil {
			c.logger.Warn("embedding cache write failed", map[string]interface{}{
				"key":   key,
				"error": setErr.Error(),
			})
		}
	}

	return vector, nil
}
