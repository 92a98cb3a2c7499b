// Package apicache provides the bounded in-memory cache shared by the
// external API clients. Lookups for the same key are collapsed so only one
// request is ever in flight per key.
package apicache

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// DefaultMaxEntries bounds a client cache. Eviction is oldest-insert-first.
const DefaultMaxEntries = 10000

// Cache is a process-lifetime cache keyed by normalized inputs. Nil and
// negative results are cached too: a miss on the external service is still
// an answer.
type Cache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]V
	order   []K // insertion order for eviction
	max     int

	group singleflight.Group
}

// New creates a cache bounded to maxEntries. maxEntries <= 0 uses the
// default bound.
func New[K comparable, V any](maxEntries int) *Cache[K, V] {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache[K, V]{
		entries: make(map[K]V),
		max:     maxEntries,
	}
}

// Get returns the cached value for key.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// Set stores value under key, evicting the oldest entry when full.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists {
		for len(c.entries) >= c.max && len(c.order) > 0 {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = value
}

// GetOrFill returns the cached value for key, or runs fill once and caches
// its result. Concurrent callers for the same key share a single fill;
// the others block until it finishes. fill errors are not cached.
func (c *Cache[K, V]) GetOrFill(key K, fill func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	res, err, _ := c.group.Do(fmt.Sprintf("%v", key), func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := fill()
		if err != nil {
			return v, err
		}
		c.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
