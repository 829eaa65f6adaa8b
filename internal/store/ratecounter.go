package store

import (
	"context"
	"fmt"
	"time"
)

// IncrementRateCounter bumps the shared hit counter for a rate-limit
// bucket and returns the new count. The UPSERT makes the
// increment-and-expire atomic across concurrent instances; expired
// buckets are purged opportunistically on the way in.
//
// Implements ratelimit.CounterStore.
func (s *Store) IncrementRateCounter(ctx context.Context, bucket string, expiresAt time.Time) (int64, error) {
	// Opportunistic purge; losing this to an error is harmless.
	_, _ = s.db.ExecContext(ctx,
		"DELETE FROM rate_counters WHERE expires_at <= ?", s.now().UnixMilli())

	var hits int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO rate_counters (bucket, hits, expires_at)
		VALUES (?, 1, ?)
		ON CONFLICT(bucket) DO UPDATE SET hits = hits + 1
		RETURNING hits
	`, bucket, expiresAt.UnixMilli()).Scan(&hits)
	if err != nil {
		return 0, fmt.Errorf("increment rate counter: %w", err)
	}
	return hits, nil
}
