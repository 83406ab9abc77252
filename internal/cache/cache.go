// Package cache provides a process-wide TTL cache fronting the document
// store and the hybrid search engine. Values are stored and returned by
// reference — callers must treat cached values as read-only.
//
// Invalidation is per-key: store mutations call Delete (or DeletePrefix
// for derived keys such as search result sets) rather than flushing the
// whole cache. Flush remains available for bulk pruning.
package cache

import (
	"strings"
	"sync"
	"time"
)

// Cache is a TTL key/value map with periodic expiry sweeps.
// The zero value is not usable; construct with New.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	ttl     time.Duration
	done    chan struct{}
	stop    sync.Once
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// New creates a cache whose entries live for ttl. A background sweeper
// removes expired entries every sweepInterval; callers must Stop the
// cache when done with it. Non-positive durations fall back to
// 5 minutes / 1 minute.
func New[V any](ttl, sweepInterval time.Duration) *Cache[V] {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	c := &Cache[V]{
		entries: make(map[string]entry[V]),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go c.sweep(sweepInterval)
	return c
}

// Get returns the cached value for key and whether it was present and
// unexpired. Expired entries are treated as absent (the sweeper removes
// them lazily).
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key with the cache's TTL, replacing any
// existing entry.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// Delete removes a single key. Missing keys are a no-op.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// DeletePrefix removes every key with the given prefix and returns the
// number removed. Used to invalidate derived keys — e.g. all search
// result sets for a conversation — without flushing unrelated entries.
func (c *Cache[V]) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Flush removes all entries and returns the number removed.
func (c *Cache[V]) Flush() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]entry[V])
	return n
}

// Len returns the number of entries, including not-yet-swept expired ones.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stop terminates the background sweeper. Safe to call more than once.
func (c *Cache[V]) Stop() {
	c.stop.Do(func() { close(c.done) })
}

func (c *Cache[V]) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for k, e := range c.entries {
				if now.After(e.expiresAt) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
