// internal/ratelimit/postgres.go
package ratelimit

import (
	"context"

	"sprint-assistant/internal/common/database"
	"sprint-assistant/internal/common/errors"
)

// PostgresStore persists buckets in a single table. Refill and consume run
// in one row-locked statement so concurrent checks on the same key
// serialize at the database.
type PostgresStore struct {
	db *database.PostgresClient
}

func NewPostgresStore(db *database.PostgresClient) *PostgresStore {
	return &PostgresStore{db: db}
}

const createBucketsTable = `
CREATE TABLE IF NOT EXISTS rate_limit_buckets (
    user_id        TEXT             NOT NULL,
    resource       TEXT             NOT NULL,
    tokens         DOUBLE PRECISION NOT NULL,
    capacity       DOUBLE PRECISION NOT NULL,
    refill_rate    DOUBLE PRECISION NOT NULL,
    last_refill_at TIMESTAMPTZ      NOT NULL,
    PRIMARY KEY (user_id, resource)
)`

// EnsureSchema creates the bucket table if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createBucketsTable); err != nil {
		return errors.NewDatabaseError("ensure rate_limit_buckets", err)
	}
	return nil
}

const seedBucket = `
INSERT INTO rate_limit_buckets (user_id, resource, tokens, capacity, refill_rate, last_refill_at)
VALUES ($1, $2, $3, $3, $4, NOW())
ON CONFLICT (user_id, resource) DO NOTHING`

// takeToken refills from elapsed wall time, clamps to capacity, then
// consumes one token when a whole one is available. GREATEST(0, elapsed)
// guards against clock steps backward.
const takeToken = `
WITH refilled AS (
    SELECT user_id, resource,
           LEAST($3::double precision,
                 tokens + GREATEST(0, EXTRACT(EPOCH FROM (NOW() - last_refill_at))) * $4) AS tokens
    FROM rate_limit_buckets
    WHERE user_id = $1 AND resource = $2
    FOR UPDATE
)
UPDATE rate_limit_buckets AS b
SET tokens         = CASE WHEN r.tokens >= 1 THEN r.tokens - 1 ELSE r.tokens END,
    capacity       = $3,
    refill_rate    = $4,
    last_refill_at = NOW()
FROM refilled AS r
WHERE b.user_id = r.user_id AND b.resource = r.resource
RETURNING r.tokens >= 1 AS allowed,
          CASE WHEN r.tokens >= 1 THEN r.tokens - 1 ELSE r.tokens END AS remaining`

func (s *PostgresStore) Take(ctx context.Context, userID, resource string, capacity, refillRate float64) (bool, float64, error) {
	if _, err := s.db.Exec(ctx, seedBucket, userID, resource, capacity, refillRate); err != nil {
		return false, 0, errors.NewDatabaseError("seed rate limit bucket", err)
	}

	var allowed bool
	var remaining float64
	row := s.db.QueryRow(ctx, takeToken, userID, resource, capacity, refillRate)
	if err := row.Scan(&allowed, &remaining); err != nil {
		return false, 0, errors.NewDatabaseError("take rate limit token", err)
	}

	return allowed, remaining, nil
}
