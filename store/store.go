// Package store defines the shared history store contract for the rate
// limiter.
//
// The Store interface abstracts the external key-value store that holds
// serialized request histories. The primary implementation is RedisStore
// (in store/redis), which supports standalone Redis, Redis Cluster, and
// Redis Sentinel via redis.UniversalClient.
//
// A MemoryStore (in store/memory) is provided for testing and
// single-process deployments that don't need distributed state.
package store

import (
	"context"
	"time"
)

// Store abstracts the backend holding serialized request histories.
// Implementations must be safe for concurrent use. The history bytes are
// opaque to the store; the evaluator is the only reader and writer.
type Store interface {
	// Get returns the value for key, or ("", *ErrKeyNotFound) if the key
	// does not exist or has expired.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value with a TTL (0 = no expiry), overwriting any
	// previous value unconditionally.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// Del deletes one or more keys.
	Del(ctx context.Context, keys ...string) error

	// Close releases any resources held by the store.
	Close() error
}

// ErrKeyNotFound is returned by Get when the key doesn't exist.
type ErrKeyNotFound struct {
	Key string
}

func (e *ErrKeyNotFound) Error() string {
	return "store: key not found: " + e.Key
}
