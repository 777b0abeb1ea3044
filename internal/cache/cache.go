// Package cache provides process-lifetime memoization for registry lookups.
package cache

import (
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache memoizes values by string key for the lifetime of the process.
// Concurrent lookups for the same key share one in-flight computation.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]V
	group   singleflight.Group
}

// New creates an empty cache.
func New[V any]() *Cache[V] {
	return &Cache[V]{entries: make(map[string]V)}
}

// Get returns the cached value for key.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// Set stores a value under key.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
}

// Len reports the number of cached entries.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Do returns the cached value for key, or computes it via fn. Two concurrent
// callers with the same key share a single call to fn. The computed value is
// cached only when fn asks for it via its store return, so error outcomes can
// be cached or discarded per the caller's policy.
func (c *Cache[V]) Do(key string, fn func() (V, bool)) V {
	if v, ok := c.Get(key); ok {
		return v
	}
	v, _, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, store := fn()
		if store {
			c.Set(key, v)
		}
		return v, nil
	})
	return v.(V)
}

// Key joins parts into a canonical cache key.
func Key(parts ...string) string {
	return strings.Join(parts, "@")
}
