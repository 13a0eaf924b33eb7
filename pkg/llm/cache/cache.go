// Package cache persists completion responses keyed by a canonical request
// fingerprint. The stored value is whatever the adapter would have returned
// to a fresh caller: a raw canonical completion when no schema was requested,
// or the already-parsed structured object when one was. Callers distinguish
// the two by whether they asked for a schema.
//
// The cache makes no freshness, eviction, or concurrency promises beyond
// last-write-wins: a later Set for the same fingerprint overwrites the
// previous entry. A cache failure is indistinguishable from a miss and never
// blocks the primary call.
package cache

import "sync"

// Cache is a persistent fingerprint-to-response store. The requestID argument
// on both methods is accepted for observability only and must not influence
// identity or hit/miss outcome.
type Cache interface {
	// Get returns the cached value for the fingerprint, or ok=false on miss.
	Get(fingerprint, requestID string) (value []byte, ok bool)

	// Set stores the value under the fingerprint, replacing any previous
	// entry.
	Set(fingerprint string, value []byte, requestID string)
}

// MemoryCache is an in-process Cache. It backs tests and cache-enabled runs
// that do not want persistence across processes.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string][]byte),
	}
}

// Get returns the cached value for the fingerprint.
func (c *MemoryCache) Get(fingerprint, _ string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	value, ok := c.entries[fingerprint]
	if !ok {
		return nil, false
	}
	// Return a copy so callers cannot mutate the stored entry.
	out := make([]byte, len(value))
	copy(out, value)
	return out, true
}

// Set stores the value under the fingerprint.
func (c *MemoryCache) Set(fingerprint string, value []byte, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	c.entries[fingerprint] = stored
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
