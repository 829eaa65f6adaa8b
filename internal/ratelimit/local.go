package ratelimit

import (
	"sync"
	"time"
)

// localWindow is the per-process fallback counter. It only sees this
// replica's traffic, so the effective limit degrades to max-per-replica
// while the shared store is down. That bias is deliberate: a payment
// endpoint that refuses real customers because a counter store died is
// worse than one briefly over its aggregate limit.
type localWindow struct {
	mu      sync.Mutex
	buckets map[string]*localBucket
}

type localBucket struct {
	hits      int64
	expiresAt time.Time
}

func newLocalWindow() *localWindow {
	return &localWindow{buckets: make(map[string]*localBucket)}
}

func (w *localWindow) increment(bucket string, expiresAt, now time.Time) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	for key, b := range w.buckets {
		if !b.expiresAt.After(now) {
			delete(w.buckets, key)
		}
	}

	b := w.buckets[bucket]
	if b == nil {
		b = &localBucket{expiresAt: expiresAt}
		w.buckets[bucket] = b
	}
	b.hits++
	return b.hits
}
