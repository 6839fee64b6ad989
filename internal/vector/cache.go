package vector

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CacheStats tracks hit rates and lookup latency per cache.
type CacheStats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Evictions     int64   `json:"evictions"`
	Entries       int     `json:"entries"`
	AvgResponseMs float64 `json:"avg_response_ms"`
}

// Cache wraps an expirable LRU with hit/miss accounting. The underlying LRU
// drops the least-recently-used entry on insert-when-full and expires
// entries past their TTL lazily.
type Cache[V any] struct {
	name string
	lru  *expirable.LRU[string, V]

	mu        sync.Mutex
	hits      int64
	misses    int64
	evictions int64
	totalNs   int64
	lookups   int64
}

func NewCache[V any](name string, capacity int, ttl time.Duration) *Cache[V] {
	c := &Cache[V]{name: name}
	c.lru = expirable.NewLRU[string, V](capacity, func(string, V) {
		c.mu.Lock()
		c.evictions++
		c.mu.Unlock()
	}, ttl)
	return c
}

func (c *Cache[V]) Get(key string) (V, bool) {
	start := time.Now()
	v, ok := c.lru.Get(key)

	c.mu.Lock()
	c.lookups++
	c.totalNs += time.Since(start).Nanoseconds()
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()
	return v, ok
}

func (c *Cache[V]) Put(key string, v V) {
	c.lru.Add(key, v)
}

func (c *Cache[V]) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Entries:   c.lru.Len(),
	}
	if c.lookups > 0 {
		s.AvgResponseMs = float64(c.totalNs) / float64(c.lookups) / 1e6
	}
	return s
}

// Caches bundles the three recognition-path caches with their spec'd
// capacities and TTLs.
type Caches struct {
	// Image keyed by perceptual hash of the 64x64-resized frame.
	Image *Cache[*Match]
	// Embedding keyed by 4-decimal quantized embedding bytes.
	Embedding *Cache[*Match]
	// Result keyed by frame id, caching full per-frame outcomes.
	Result *Cache[[]Match]
}

func NewCaches() *Caches {
	return &Caches{
		Image:     NewCache[*Match]("processed_image", 100, 30*time.Minute),
		Embedding: NewCache[*Match]("embedding", 1000, 2*time.Hour),
		Result:    NewCache[[]Match]("recognition_result", 500, time.Hour),
	}
}

func (c *Caches) Stats() map[string]CacheStats {
	return map[string]CacheStats{
		"processed_image":    c.Image.Stats(),
		"embedding":          c.Embedding.Stats(),
		"recognition_result": c.Result.Stats(),
	}
}
