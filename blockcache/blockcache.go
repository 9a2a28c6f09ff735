// Package blockcache implements the process-wide block-header cache used
// only to validate the last-processed level on startup (spec.md §2.1).
//
// It is written once per level and never invalidated during a run, so a
// small fixed-capacity LRU is a better fit than an unbounded map; we use
// the teacher's own github.com/ethereum/go-ethereum/common/lru.BasicLRU,
// the exact type common/lru/basiclru_test.go exercises.
package blockcache

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common/lru"

	"github.com/chainforge/indexengine/model"
)

const defaultCapacity = 1024

// BlockFetcher fetches a single block header by level, satisfied by
// datasource.Datasource.GetBlock.
type BlockFetcher func(ctx context.Context, level int64) (model.BlockHeader, error)

// Cache is the process-wide block-header cache. The zero value is not
// usable; construct with New. Safe for concurrent use, though in
// practice only the startup continuity check (spec.md §4.1) reads or
// writes it.
type Cache struct {
	mu    sync.Mutex
	cache *lru.BasicLRU[int64, model.BlockHeader]
}

// New returns a Cache with room for capacity block headers. A capacity
// of 0 uses a sane default.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	c := lru.NewBasicLRU[int64, model.BlockHeader](capacity)
	return &Cache{cache: &c}
}

// Get returns the cached header for level if present, fetching and
// caching it via fetch otherwise. Concurrent calls for the same level
// may both miss and both fetch; the cache just keeps whichever is added
// last, which is acceptable for a validate-on-startup cache.
func (c *Cache) Get(ctx context.Context, level int64, fetch BlockFetcher) (model.BlockHeader, error) {
	c.mu.Lock()
	if hdr, ok := c.cache.Get(level); ok {
		c.mu.Unlock()
		return hdr, nil
	}
	c.mu.Unlock()

	hdr, err := fetch(ctx, level)
	if err != nil {
		return model.BlockHeader{}, err
	}

	c.mu.Lock()
	c.cache.Add(level, hdr)
	c.mu.Unlock()
	return hdr, nil
}
