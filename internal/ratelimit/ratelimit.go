// Package ratelimit throttles the checkout endpoint with fixed-window
// counters. Counters live in a shared store so the limit holds across
// replicas; if that store is unreachable the limiter fails open to a
// per-process in-memory window rather than blocking checkouts.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// CounterStore is the shared counter backend. Implemented by
// *store.Store over the rate_counters table.
type CounterStore interface {
	// IncrementRateCounter atomically bumps the named bucket and
	// returns the new count. expiresAt lets the backend purge stale
	// windows.
	IncrementRateCounter(ctx context.Context, bucket string, expiresAt time.Time) (int64, error)
}

// Limiter enforces a per-client fixed-window request limit.
type Limiter struct {
	counters CounterStore
	window   time.Duration
	max      int64
	now      func() time.Time
	logger   *slog.Logger
	local    *localWindow
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger sets the logger used when the shared store degrades.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// New creates a Limiter allowing max requests per window per client.
func New(counters CounterStore, window time.Duration, max int64, opts ...Option) *Limiter {
	l := &Limiter{
		counters: counters,
		window:   window,
		max:      max,
		now:      time.Now,
		logger:   slog.Default(),
		local:    newLocalWindow(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether one more request from clientKey fits inside the
// current window for the named scope. A shared-counter failure never
// denies the request: the decision falls back to the local window.
func (l *Limiter) Allow(ctx context.Context, scope, clientKey string) bool {
	now := l.now()
	windowStart := now.Truncate(l.window)
	bucket := fmt.Sprintf("%s|%s|%d", scope, clientKey, windowStart.Unix())
	expiresAt := windowStart.Add(2 * l.window)

	hits, err := l.counters.IncrementRateCounter(ctx, bucket, expiresAt)
	if err != nil {
		l.logger.Warn("rate counter store unavailable, failing open to local window",
			"scope", scope, "error", err)
		hits = l.local.increment(bucket, expiresAt, now)
	}
	return hits <= l.max
}
