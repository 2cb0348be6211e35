// Package cache defines the port for byte-value caching with TTLs.
package cache

import (
	"context"
	"time"
)

// Cache is a key-value cache holding serialized entries, used to keep
// parsed sequence specs off the filesystem read path.
type Cache interface {
	// Get returns the entry for key. The bool reports presence; a
	// missing key is not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key. Entries expire after ttl; a zero
	// ttl means the backend's default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
