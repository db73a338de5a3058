package cache

import (
	"context"
)

// Store defines the interface for upstream response caching
// This allows us to swap between Redis, in-memory, or no caching at all.
type Store interface {
	// Get returns the cached value and whether it was present
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value with the store's TTL
	Set(ctx context.Context, key string, value []byte) error

	// Enabled reports whether values are actually kept
	Enabled() bool

	// Ping checks the backing store is reachable
	Ping(ctx context.Context) error

	// Close releases the underlying connection
	Close() error
}

// NopStore never caches anything. Used when REDIS_URL is unset.
type NopStore struct{}

func (NopStore) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (NopStore) Set(context.Context, string, []byte) error         { return nil }
func (NopStore) Enabled() bool                                     { return false }
func (NopStore) Ping(context.Context) error                        { return nil }
func (NopStore) Close() error                                      { return nil }
