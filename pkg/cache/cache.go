// Package cache provides run-scoped, concurrency-safe caches for remote
// API objects. Every cache is an explicit value injected into the component
// that needs it; nothing in this package holds global state.
package cache

import "sync"

// Observer receives one callback per GetOrLoad lookup on a named cache.
// Implemented by telemetry.Metrics; nil disables observation.
type Observer interface {
	RecordCacheEvent(cache, event string)
}

// Map is a string-keyed cache with at-most-once population per key.
// A race where two goroutines load the same key is tolerated: both loaders
// compute the same remote object, and the second write is idempotent.
type Map[V any] struct {
	mu      sync.RWMutex
	entries map[string]V

	name     string
	observer Observer
}

// New creates an empty cache.
func New[V any]() *Map[V] {
	return &Map[V]{entries: make(map[string]V)}
}

// NewObserved creates an empty cache that reports its hits and misses to
// obs under the given name.
func NewObserved[V any](name string, obs Observer) *Map[V] {
	c := New[V]()
	c.name = name
	c.observer = obs
	return c
}

// Get returns the cached value for key, if present.
func (c *Map[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// Put stores a value under key, overwriting any existing entry.
func (c *Map[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
}

// GetOrLoad returns the cached value for key, calling load to populate it
// on a miss. The load function runs outside the lock, so concurrent callers
// may both load; the cache stays consistent either way. Load errors are not
// cached: a failed fetch is retried on the next call.
func (c *Map[V]) GetOrLoad(key string, load func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		c.record("hit")
		return v, nil
	}
	c.record("miss")

	v, err := load()
	if err != nil {
		var zero V
		return zero, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok {
		return existing, nil
	}
	c.entries[key] = v
	return v, nil
}

func (c *Map[V]) record(event string) {
	if c.observer != nil {
		c.observer.RecordCacheEvent(c.name, event)
	}
}

// Len returns the number of cached entries.
func (c *Map[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Keys returns the cached keys in no particular order.
func (c *Map[V]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}
