package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/golang/snappy"
)

// sweepInterval is how often the background job clears expired entries.
const sweepInterval = 10 * time.Second

// compressThreshold is the minimum value size, in bytes, worth running
// through snappy when compression is enabled.
const compressThreshold = 512

type memoryEntry struct {
	key        string
	value      []byte
	expiresAt  time.Time
	compressed bool
}

// Memory is an in-process LRU cache with per-entry TTL, optional snappy
// compression, and a background expiry sweeper. A single lock guards the
// LRU list and byte accounting.
type Memory struct {
	mu       sync.Mutex
	maxItems int
	compress bool
	ll       *list.List
	index    map[string]*list.Element
	metrics  Metrics

	done      chan struct{}
	closeOnce sync.Once
}

// NewMemory builds an in-memory cache holding at most maxItems entries
// and starts the expiry sweeper. Callers must Close it when done.
func NewMemory(maxItems int, compress bool) *Memory {
	if maxItems <= 0 {
		maxItems = 1024
	}
	m := &Memory{
		maxItems: maxItems,
		compress: compress,
		ll:       list.New(),
		index:    make(map[string]*list.Element),
		done:     make(chan struct{}),
	}
	go m.sweeper()
	return m
}

// Get implements Cache. Expired entries are removed on access and count
// as misses.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	el, ok := m.index[key]
	if !ok {
		m.mu.Unlock()
		m.metrics.misses.Add(1)
		return nil, false
	}
	ent := el.Value.(*memoryEntry)
	if time.Now().After(ent.expiresAt) {
		m.removeLocked(el)
		m.mu.Unlock()
		m.metrics.misses.Add(1)
		return nil, false
	}
	m.ll.MoveToFront(el)
	value := ent.value
	compressed := ent.compressed
	m.mu.Unlock()

	m.metrics.hits.Add(1)
	if compressed {
		out, err := snappy.Decode(nil, value)
		if err != nil {
			// Corrupt entry; treat as miss.
			return nil, false
		}
		return out, true
	}
	// Copy so callers cannot mutate the cached bytes.
	return append([]byte(nil), value...), true
}

// SetWithTTL implements Cache. Inserting over capacity evicts from the
// LRU tail.
func (m *Memory) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	stored := append([]byte(nil), value...)
	compressed := false
	if m.compress && len(stored) >= compressThreshold {
		stored = snappy.Encode(nil, stored)
		compressed = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.index[key]; ok {
		ent := el.Value.(*memoryEntry)
		m.metrics.bytes.Add(int64(len(stored) - len(ent.value)))
		ent.value = stored
		ent.compressed = compressed
		ent.expiresAt = time.Now().Add(ttl)
		m.ll.MoveToFront(el)
		return nil
	}

	el := m.ll.PushFront(&memoryEntry{
		key:        key,
		value:      stored,
		expiresAt:  time.Now().Add(ttl),
		compressed: compressed,
	})
	m.index[key] = el
	m.metrics.items.Add(1)
	m.metrics.bytes.Add(int64(len(stored)))

	for m.ll.Len() > m.maxItems {
		tail := m.ll.Back()
		if tail == nil {
			break
		}
		m.removeLocked(tail)
		m.metrics.evictions.Add(1)
	}
	return nil
}

// Stats returns the cache boundary metrics.
func (m *Memory) Stats() Stats { return m.metrics.Snapshot() }

// Close stops the sweeper.
func (m *Memory) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

func (m *Memory) removeLocked(el *list.Element) {
	ent := el.Value.(*memoryEntry)
	m.ll.Remove(el)
	delete(m.index, ent.key)
	m.metrics.items.Add(-1)
	m.metrics.bytes.Add(-int64(len(ent.value)))
}

func (m *Memory) sweeper() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweepExpired()
		case <-m.done:
			return
		}
	}
}

func (m *Memory) sweepExpired() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	var next *list.Element
	for el := m.ll.Front(); el != nil; el = next {
		next = el.Next()
		if now.After(el.Value.(*memoryEntry).expiresAt) {
			m.removeLocked(el)
		}
	}
}
