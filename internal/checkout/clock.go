package checkout

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies the orchestrator's notion of now: expiry comparison,
// auto-key time buckets, and record timestamps all read it. Implemented
// by SystemClock (production) and testutil.FixedClock (tests).
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// IDGenerator mints checkout record ids. Implemented by
// UUIDv7Generator (production) and testutil.FixedIDGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 ids, which keeps the
// checkout log roughly insertion-ordered even under concurrent writers.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
