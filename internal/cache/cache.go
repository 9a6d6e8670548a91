// Package cache provides the request-level result cache in front of the
// corpus search layer. Two real backends are available, an in-process LRU
// and a remote redis store, plus a no-op backend for disabling caching.
// Hit, miss, eviction, item, and byte metrics are observed here at the
// cache boundary rather than inside the search tools.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

// Cache is the two-operation contract every backend implements. Get
// returns the stored value and whether it was present and unexpired.
// SetWithTTL stores a value that expires after ttl.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Key builds a namespaced cache key from the query arguments. Arguments
// are JSON-serialized so equal queries share an entry.
func Key(namespace string, args any) string {
	b, err := json.Marshal(args)
	if err != nil {
		// Unserializable args still need a stable-ish key.
		return fmt.Sprintf("cache:%s:%v", namespace, args)
	}
	return fmt.Sprintf("cache:%s:%s", namespace, b)
}

// Metrics counts cache activity. All fields are updated atomically.
type Metrics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	items     atomic.Int64
	bytes     atomic.Int64
}

// Stats is a point-in-time metrics snapshot.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Items     int64 `json:"items"`
	Bytes     int64 `json:"bytes"`
}

// Snapshot returns current counter values.
func (m *Metrics) Snapshot() Stats {
	return Stats{
		Hits:      m.hits.Load(),
		Misses:    m.misses.Load(),
		Evictions: m.evictions.Load(),
		Items:     m.items.Load(),
		Bytes:     m.bytes.Load(),
	}
}

// Noop disables caching: every Get is a miss and Set discards.
type Noop struct{}

// Get implements Cache.
func (Noop) Get(context.Context, string) ([]byte, bool) { return nil, false }

// SetWithTTL implements Cache.
func (Noop) SetWithTTL(context.Context, string, []byte, time.Duration) error { return nil }
