// Package cache provides caches that are created for a single pipeline run
// and injected into the stages that need them.
//
// Nothing in this package is process-global: a run owns its caches, keys are
// stable strings or values chosen by the caller, and every cache supports
// explicit invalidation.
package cache

import (
	"sync"
	"sync/atomic"
)

// Stats reports cache effectiveness.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// Memory is a concurrency-safe in-process cache without expiry.
//
// A nil *Memory is valid and caches nothing, so stages can accept an
// optional cache without nil checks at every call site.
type Memory[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]V
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewMemory creates an empty cache.
func NewMemory[K comparable, V any]() *Memory[K, V] {
	return &Memory[K, V]{entries: make(map[K]V)}
}

// Get returns the cached value for key.
func (c *Memory[K, V]) Get(key K) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}

	c.mu.RLock()
	v, ok := c.entries[key]
	c.mu.RUnlock()

	if ok {
		c.hits.Add(1)
		return v, true
	}
	c.misses.Add(1)
	return zero, false
}

// Set stores value under key.
func (c *Memory[K, V]) Set(key K, value V) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
}

// GetOrCompute returns the cached value or computes, stores and returns it.
// Errors from compute are returned and nothing is cached.
func (c *Memory[K, V]) GetOrCompute(key K, compute func(K) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := compute(key)
	if err != nil {
		return v, err
	}
	c.Set(key, v)
	return v, nil
}

// Invalidate drops a single key.
func (c *Memory[K, V]) Invalidate(key K) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear drops every entry and resets the counters.
func (c *Memory[K, V]) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]V)
	c.hits.Store(0)
	c.misses.Store(0)
}

// Len returns the number of cached entries.
func (c *Memory[K, V]) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns hit/miss counters.
func (c *Memory[K, V]) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.Len(),
	}
}
