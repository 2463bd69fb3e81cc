// Package kvstore defines the linearizable-per-key storage abstraction the
// admission gate, priority queue, and lifecycle manager build their
// invariants on. Every primitive here maps onto a single Redis command so
// the production backend never needs client-side transactions.
package kvstore

import (
	"context"
	"time"
)

// Store is the storage primitive consumed by C1, C2, C4, and C5. All
// operations on a single key are linearizable; operations across keys carry
// no ordering guarantee.
type Store interface {
	// Get retrieves the raw value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value for key with the given ttl. ttl <= 0 means no
	// expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetIfAbsent stores value for key only if key does not already exist,
	// returning true iff the write happened. This is the replay set's only
	// primitive.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Incr atomically adds by to the integer stored at key (treating a
	// missing key as 0) and returns the new value. Used for the
	// fixed-window rate limiter.
	Incr(ctx context.Context, key string, by int64) (int64, error)

	// Del removes key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	// Expire resets the TTL on an existing key without reading or
	// rewriting its value. Used to refresh the rate-limit window.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// LPush pushes v onto the head of list.
	LPush(ctx context.Context, list string, v []byte) error

	// RPop pops a value from the tail of list, or ErrNotFound if empty.
	RPop(ctx context.Context, list string) ([]byte, error)

	// LLen returns the length of list.
	LLen(ctx context.Context, list string) (int64, error)

	// Close releases any underlying connection resources.
	Close() error
}

// ErrNotFound is returned by Get and RPop when the key/list has no value.
var ErrNotFound = storeNotFoundError{}

type storeNotFoundError struct{}

func (storeNotFoundError) Error() string { return "kvstore: not found" }

// Key namespaces, exactly as named in the persisted state layout.
func RateLimitKey(clientID string) string    { return "rate_limit:" + clientID }
func NonceSeenKey(from, nonce string) string { return "nonce_seen:" + from + ":" + nonce }
func PrepaidKey(clientID string) string      { return "prepaid:" + clientID }
func RollbackKey(jobID string) string        { return "rollback:" + jobID }
func JobKey(jobID string) string             { return "job:" + jobID }
func JobStatusKey(jobID string) string       { return "job_status:" + jobID }
func QueueKey(priority string) string        { return "queue:" + priority }
func WalletMetaKey(address string) string    { return "wallet_meta:" + address }
