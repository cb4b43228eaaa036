package webapi

import "sync"

// Cache is an in-memory store of WebResponses keyed by normalized request
// path. Entries are never evicted: staleness is judged at read time from the
// entry's expiry, and growth is bounded only by the variety of paths the
// owning client fetches. Caches are constructor-injected, never global, so
// independent clients and tests stay isolated.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*WebResponse
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*WebResponse)}
}

// Get returns the entry stored under key, if any.
func (c *Cache) Get(key string) (*WebResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return entry, ok
}

// Put stores an entry under key, replacing any previous one.
func (c *Cache) Put(key string, r *WebResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = r
}

// Len reports the number of stored entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*WebResponse)
}
