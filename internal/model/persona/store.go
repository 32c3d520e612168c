package persona

import (
	"container/list"
	"context"
	"sync"
)

// Entry is one memoized classification. Defaulted entries keep the reason so a
// cache hit reports the same outcome as the original call.
type Entry struct {
	Persona   Persona `json:"persona"`
	Defaulted bool    `json:"defaulted,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

// Cache memoizes resolved personas by normalized key.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, e Entry) error
	Close() error
}

// MemoryCache implements Cache with an in-process LRU. A size <= 0 disables eviction.
type MemoryCache struct {
	mu    sync.Mutex
	size  int
	order *list.List
	items map[string]*list.Element
}

type cacheEntry struct {
	key   string
	entry Entry
}

// NewMemoryCache returns an empty cache holding at most size entries.
func NewMemoryCache(size int) *MemoryCache {
	return &MemoryCache{
		size:  size,
		order: list.New(),
		items: make(map[string]*list.Element),
	}
}

// Get returns the cached entry and marks it most recently used.
func (c *MemoryCache) Get(_ context.Context, key string) (Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return Entry{}, false, nil
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry).entry, true, nil
}

// Set stores e under key, replacing any previous entry and evicting the least
// recently used one when the cache is full.
func (c *MemoryCache) Set(_ context.Context, key string, e Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		elem.Value = &cacheEntry{key: key, entry: e}
		c.order.MoveToFront(elem)
		return nil
	}

	c.items[key] = c.order.PushFront(&cacheEntry{key: key, entry: e})
	if c.size > 0 && c.order.Len() > c.size {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
	return nil
}

// Len reports the number of cached personas.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Close releases nothing; it exists so MemoryCache satisfies Cache.
func (c *MemoryCache) Close() error {
	return nil
}
