package server

import (
	"sync"
	"sync/atomic"
	"time"
)

// LayerCache is a concurrent-safe LRU cache for rendered layer payloads
// with TTL expiration. Entries are keyed by run and layer name, so one
// server can hold layers for several runs at once.
type LayerCache struct {
	mu         sync.Mutex
	entries    map[string]*layerEntry
	order      []string // LRU order: front=oldest, back=newest
	maxEntries int
	ttl        time.Duration
	hits       atomic.Int64
	misses     atomic.Int64
}

type layerEntry struct {
	data      []byte
	createdAt time.Time
}

// CacheStats contains layer cache performance statistics.
type CacheStats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// NewLayerCache creates a LayerCache with the given capacity and TTL.
func NewLayerCache(maxEntries int, ttl time.Duration) *LayerCache {
	return &LayerCache{
		entries:    make(map[string]*layerEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

func layerKey(runID, layer string) string {
	return runID + "/" + layer
}

// Get retrieves a cached layer. Returns nil on miss or expiration.
func (c *LayerCache) Get(runID, layer string) []byte {
	key := layerKey(runID, layer)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil
	}

	// Check TTL.
	if time.Since(entry.createdAt) > c.ttl {
		delete(c.entries, key)
		c.removeFromOrder(key)
		c.misses.Add(1)
		return nil
	}

	// Move to back (most recently used).
	c.removeFromOrder(key)
	c.order = append(c.order, key)
	c.hits.Add(1)
	return entry.data
}

// Put stores a layer, evicting the oldest entry if at capacity.
func (c *LayerCache) Put(runID, layer string, data []byte) {
	key := layerKey(runID, layer)

	c.mu.Lock()
	defer c.mu.Unlock()

	// If key already exists, update in place and move to back.
	if _, ok := c.entries[key]; ok {
		c.entries[key] = &layerEntry{data: data, createdAt: time.Now()}
		c.removeFromOrder(key)
		c.order = append(c.order, key)
		return
	}

	// Evict from front if at capacity.
	for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = &layerEntry{data: data, createdAt: time.Now()}
	c.order = append(c.order, key)
}

// Stats returns cache performance statistics.
func (c *LayerCache) Stats() CacheStats {
	c.mu.Lock()
	entries := len(c.entries)
	maxEntries := c.maxEntries
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return CacheStats{
		Entries:    entries,
		MaxEntries: maxEntries,
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate,
	}
}

// removeFromOrder removes a key from the LRU order slice.
func (c *LayerCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
