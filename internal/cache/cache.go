// SPDX-License-Identifier: MIT

// Package cache provides the fast ephemeral store for session state and
// offline action queues, keyed by session id with per-key TTLs.
package cache

import (
	"context"
	"time"
)

// Store is the fast-cache abstraction consumed by the session coordinator.
// Infrastructure failures are returned as errors and must stay
// distinguishable from plain misses.
type Store interface {
	// Get retrieves a raw value. The bool reports whether the key existed.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores a raw value with the given TTL, replacing any prior value.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Expire replaces the TTL of an existing key. The bool reports whether
	// the key existed.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// PushList appends values to the tail of the list at key and refreshes
	// the list's TTL.
	PushList(ctx context.Context, key string, ttl time.Duration, values ...[]byte) error
	// DrainList atomically reads the whole list at key and deletes it.
	// Concurrent pushes land either wholly before or wholly after the
	// drain boundary.
	DrainList(ctx context.Context, key string) ([][]byte, error)
	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error
	// Stats returns cache statistics.
	Stats() Stats
	Close() error
}

// Stats holds cache performance counters.
type Stats struct {
	Hits   int64
	Misses int64
	Sets   int64
}

// StateKey returns the cache key for a session's state document.
func StateKey(sessionID string) string {
	return "session:state:" + sessionID
}

// QueueKey returns the cache key for a session's offline action queue.
func QueueKey(sessionID string) string {
	return "session:queue:" + sessionID
}
