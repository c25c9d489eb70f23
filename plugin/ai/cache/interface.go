// Package cache provides the TTL cache that holds live conversation sessions.
package cache

import (
	"context"
	"time"
)

// Cache defines the byte-oriented TTL cache used by the session store.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns: value, whether it exists
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores a value in cache.
	// ttl: expiration time, <= 0 means the default TTL
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Touch renews the TTL of an existing entry without changing its value.
	// Returns false when the key is absent or already expired.
	Touch(ctx context.Context, key string, ttl time.Duration) bool

	// Keys lists the live keys with the given prefix.
	Keys(ctx context.Context, prefix string) []string

	// Invalidate invalidates cache entries.
	// pattern: supports a trailing wildcard (session:*)
	Invalidate(ctx context.Context, pattern string) error
}
