package viewer

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"gridcat/internal/domain"
)

// DefaultCacheCapacity bounds the number of cached page windows.
const DefaultCacheCapacity = 64

// PageCache is a bounded LRU of fetched page windows keyed by the full
// PageRequest value. It is purely a latency optimization: any entry may be
// dropped at any time and a miss is always satisfiable by re-fetching.
type PageCache struct {
	lru *lru.Cache[domain.PageRequest, *domain.PageResult]
}

// NewPageCache creates a cache holding up to capacity pages.
func NewPageCache(capacity int) *PageCache {
	if capacity < 1 {
		capacity = DefaultCacheCapacity
	}
	// lru.New only errors on a non-positive size, which is guarded above.
	c, _ := lru.New[domain.PageRequest, *domain.PageResult](capacity)
	return &PageCache{lru: c}
}

func (c *PageCache) Get(req domain.PageRequest) (*domain.PageResult, bool) {
	return c.lru.Get(req)
}

func (c *PageCache) Put(req domain.PageRequest, res *domain.PageResult) {
	c.lru.Add(req, res)
}

// InvalidateSource drops every cached page of one source. Called on
// refresh, close and detected mutation.
func (c *PageCache) InvalidateSource(sourceID string) {
	for _, key := range c.lru.Keys() {
		if key.Source == sourceID {
			c.lru.Remove(key)
		}
	}
}

func (c *PageCache) Len() int {
	return c.lru.Len()
}

func (c *PageCache) Purge() {
	c.lru.Purge()
}
