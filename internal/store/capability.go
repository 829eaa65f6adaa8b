package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// capabilityCooldown is how long a missing-column observation is
// trusted before key-based lookup is optimistically retried, and also
// the minimum interval between self-repair attempts.
const capabilityCooldown = 30 * time.Second

// capabilityState caches whether the idempotency_key column is usable.
//
// The cache exists so a legacy database does not cost one failed query
// per checkout: after the first missing-column error, key lookups short
// circuit to the reference fallback until the cooldown elapses. It is
// process-local by design; each instance discovers (and may repair) the
// schema on its own, and the repair DDL is race-idempotent.
type capabilityState struct {
	mu sync.Mutex

	keyColumnMissing bool
	observedAt       time.Time
	repairTriedAt    time.Time
}

func newCapabilityState() *capabilityState {
	return &capabilityState{}
}

// keyLookupUsable reports whether a key-based query should be issued at
// all. True when the column is believed present, or when the cooldown
// has elapsed and it is time to re-check.
func (c *capabilityState) keyLookupUsable(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.keyColumnMissing {
		return true
	}
	return now.Sub(c.observedAt) >= capabilityCooldown
}

// markKeyColumnMissing records a missing-column observation.
func (c *capabilityState) markKeyColumnMissing(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keyColumnMissing = true
	c.observedAt = now
}

// markKeyColumnPresent clears the missing flag after a successful query
// or repair.
func (c *capabilityState) markKeyColumnPresent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keyColumnMissing = false
	c.observedAt = time.Time{}
	c.repairTriedAt = time.Time{}
}

// repairDue reports whether a self-repair attempt is allowed now, and
// claims the slot when it is. At most one attempt per cooldown window.
func (c *capabilityState) repairDue(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.repairTriedAt.IsZero() && now.Sub(c.repairTriedAt) < capabilityCooldown {
		return false
	}
	c.repairTriedAt = now
	return true
}

// IdempotencyKeySupported reports whether checkout writes are currently
// persisting the idempotency key. Surfaced by the health endpoint and
// echoed on checkout responses as idempotency_persisted.
func (s *Store) IdempotencyKeySupported() bool {
	s.caps.mu.Lock()
	defer s.caps.mu.Unlock()
	return !s.caps.keyColumnMissing
}

// noteKeyColumnMissing records the observation and, when auto-repair is
// enabled and due, tries to close the gap. Returns true when the column
// is usable again (repair succeeded or a concurrent instance won).
func (s *Store) noteKeyColumnMissing(ctx context.Context) bool {
	now := s.now()
	s.caps.markKeyColumnMissing(now)

	if !s.autoRepair || !s.caps.repairDue(now) {
		return false
	}
	if err := s.RepairIdempotencySchema(ctx); err != nil {
		return false
	}
	return true
}

// RepairIdempotencySchema brings a legacy checkouts table up to the
// current generation: adds the idempotency_key column and its partial
// unique index, plus the reference index. Existence-checked before any
// DDL and tolerant of concurrent instances applying the same repair;
// every statement is a no-op or an ignorable duplicate on a database
// that is already current.
//
// Also invoked directly by the migrate command.
func (s *Store) RepairIdempotencySchema(ctx context.Context) error {
	has, err := s.hasCheckoutColumn(ctx, colIdempotencyKey)
	if err != nil {
		return fmt.Errorf("repair idempotency schema: %w", err)
	}

	if !has {
		_, err := s.db.ExecContext(ctx, "ALTER TABLE checkouts ADD COLUMN idempotency_key TEXT")
		if err != nil && !isDuplicateColumn(err) {
			return fmt.Errorf("repair idempotency schema: add column: %w", err)
		}
	}

	// IF NOT EXISTS makes both index statements safe to race.
	_, err = s.db.ExecContext(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_checkouts_idempotency_key
		ON checkouts(idempotency_key) WHERE idempotency_key IS NOT NULL
	`)
	if err != nil {
		return fmt.Errorf("repair idempotency schema: unique index: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_checkouts_reference ON checkouts(reference)
	`)
	if err != nil {
		return fmt.Errorf("repair idempotency schema: reference index: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("repair idempotency schema: set user_version: %w", err)
	}

	s.caps.markKeyColumnPresent()
	return nil
}
