// Package memcache holds decoded images in memory, split into two
// independently budgeted shards: full-resolution views and thumbnails.
// Eviction is least-recently-used per shard.
package memcache

import (
	"container/list"
	"sync"

	"github.com/lumenview/lumen/internal/core/domain"
)

// Cache is safe for concurrent use.
type Cache struct {
	mu     sync.Mutex
	views  *shard
	thumbs *shard
}

type shard struct {
	budget int64
	used   int64
	order  *list.List // front is most recently used
	items  map[domain.CacheKey]*list.Element
}

type entry struct {
	key  domain.CacheKey
	dec  *domain.Decoded
	size int64
}

// New builds a cache with the given byte budgets. A budget of zero or
// less means the shard is unbounded.
func New(viewBudget, thumbBudget int64) *Cache {
	return &Cache{
		views:  newShard(viewBudget),
		thumbs: newShard(thumbBudget),
	}
}

func newShard(budget int64) *shard {
	return &shard{
		budget: budget,
		order:  list.New(),
		items:  make(map[domain.CacheKey]*list.Element),
	}
}

func (c *Cache) shardFor(mode domain.Mode) *shard {
	if mode == domain.ModeFull {
		return c.views
	}
	return c.thumbs
}

// Get returns the cached decode for key and refreshes its recency.
func (c *Cache) Get(key domain.CacheKey) (*domain.Decoded, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.shardFor(key.Mode)
	el, ok := s.items[key]
	if !ok {
		return nil, false
	}
	s.order.MoveToFront(el)
	return el.Value.(*entry).dec, true
}

// Put stores a decode, evicting least-recently-used entries until the
// shard fits its budget. An item larger than the whole budget is not
// cached at all.
func (c *Cache) Put(key domain.CacheKey, dec *domain.Decoded) {
	if dec == nil {
		return
	}
	size := int64(len(dec.Data))

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.shardFor(key.Mode)
	if s.budget > 0 && size > s.budget {
		s.remove(key)
		return
	}
	s.remove(key)
	el := s.order.PushFront(&entry{key: key, dec: dec, size: size})
	s.items[key] = el
	s.used += size

	for s.budget > 0 && s.used > s.budget {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		s.remove(oldest.Value.(*entry).key)
	}
}

// Drop removes a single key.
func (c *Cache) Drop(key domain.CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shardFor(key.Mode).remove(key)
}

// InvalidatePath removes every cached decode for path, across both shards
// and all target sizes.
func (c *Cache) InvalidatePath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.views.removePath(path)
	c.thumbs.removePath(path)
}

// Len reports the total number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.views.items) + len(c.thumbs.items)
}

// Bytes reports the bytes held per shard.
func (c *Cache) Bytes() (views, thumbs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.views.used, c.thumbs.used
}

func (s *shard) remove(key domain.CacheKey) {
	el, ok := s.items[key]
	if !ok {
		return
	}
	s.order.Remove(el)
	delete(s.items, key)
	s.used -= el.Value.(*entry).size
}

func (s *shard) removePath(path string) {
	for key := range s.items {
		if key.Path == path {
			s.remove(key)
		}
	}
}
