package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for a missing or expired key
var ErrNotFound = errors.New("key not found")

// Store is a small key-value store for session snapshots.
// Implementations: memory (testing), badger (default), redis (shared hosts)
type Store interface {
	// Put writes value under key. A ttl of 0 never expires.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value or ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error

	// Keys lists live keys with the given prefix
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close cleanly shuts down the store
	Close() error
}

// GCer is implemented by stores that need periodic space reclamation
type GCer interface {
	RunGC(discardRatio float64) error
}
