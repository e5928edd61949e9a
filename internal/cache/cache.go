// Package cache provides a small in-memory TTL cache for tool results.
//
// Investigations repeatedly ask for the same cluster state within a few
// seconds (the model often re-reads a pod it just listed). Caching read-only
// tool results for a short TTL avoids redundant apiserver and Prometheus
// round trips without risking stale conclusions.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Entries   int
}

type item struct {
	value     string
	expiresAt time.Time
	storedAt  time.Time
}

// Cache is a fixed-capacity TTL cache. When full, the oldest entry is
// evicted. Safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	items      map[string]item
	maxEntries int
	hits       int64
	misses     int64
	evictions  int64

	now func() time.Time
}

// New creates a cache holding at most maxEntries values (default 1024).
func New(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &Cache{
		items:      make(map[string]item),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns the cached value for key if present and unexpired.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok || c.now().After(it.expiresAt) {
		if ok {
			delete(c.items, key)
		}
		c.misses++
		return "", false
	}
	c.hits++
	return it.value, true
}

// Set stores value under key for ttl. A non-positive ttl stores nothing.
func (c *Cache) Set(key, value string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if _, exists := c.items[key]; !exists && len(c.items) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.items[key] = item{value: value, expiresAt: now.Add(ttl), storedAt: now}
}

// Delete removes key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]item)
}

// GetStats returns a snapshot of hit/miss counters.
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Entries:   len(c.items),
	}
}

// evictOldestLocked drops expired entries, then the oldest entry if still
// at capacity. Caller holds c.mu.
func (c *Cache) evictOldestLocked() {
	now := c.now()
	for k, it := range c.items {
		if now.After(it.expiresAt) {
			delete(c.items, k)
			c.evictions++
		}
	}
	if len(c.items) < c.maxEntries {
		return
	}
	var oldestKey string
	var oldest time.Time
	for k, it := range c.items {
		if oldestKey == "" || it.storedAt.Before(oldest) {
			oldestKey, oldest = k, it.storedAt
		}
	}
	if oldestKey != "" {
		delete(c.items, oldestKey)
		c.evictions++
	}
}

// Key builds a stable cache key from a tool name and its arguments.
// Arguments are serialized with sorted keys so logically equal calls
// collide.
func Key(tool string, args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(tool))
	for _, k := range keys {
		v, err := json.Marshal(args[k])
		if err != nil {
			v = []byte(fmt.Sprintf("%v", args[k]))
		}
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write(v)
	}
	return tool + ":" + hex.EncodeToString(h.Sum(nil))
}
