// Package ratelimit implements the admission gate's fixed-window request
// limiter over the shared kv store, so limits hold across process restarts
// and across relayer instances sharing one store.
package ratelimit

import (
	"context"
	"time"

	"github.com/express402/relayer/internal/kvstore"
)

// Limiter enforces max_requests_per_minute per client_id using a
// kv-store-backed fixed window: the first request in a window sets the
// window's TTL, and every request increments the same counter.
type Limiter struct {
	store  kvstore.Store
	max    int64
	window time.Duration
}

// NewLimiter creates a rate limiter allowing up to max requests per window.
func NewLimiter(store kvstore.Store, max int64, window time.Duration) *Limiter {
	return &Limiter{store: store, max: max, window: window}
}

// Allow increments clientID's window counter and reports whether the
// request stays within the limit. The counter is incremented even on
// rejection, matching a fixed window (not a token bucket).
func (l *Limiter) Allow(ctx context.Context, clientID string) (bool, error) {
	key := kvstore.RateLimitKey(clientID)

	count, err := l.store.Incr(ctx, key, 1)
	if err != nil {
		return false, err
	}

	if count == 1 {
		if err := l.store.Expire(ctx, key, l.window); err != nil {
			return false, err
		}
	}

	return count <= l.max, nil
}
