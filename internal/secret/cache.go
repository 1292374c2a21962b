package secret

import (
	"container/list"
	"sync"
	"time"
)

// cache is a TTL + LRU cache of resolved secrets, keyed by reference.
// Eviction order is createdAt (oldest first) once maxSize is exceeded, as
// required by the Secret Manager's cache contract.
type cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	order   *list.List // front = oldest
	entries map[string]*list.Element
}

type cacheEntry struct {
	key       string
	result    Result
	createdAt time.Time
}

func newCache(ttl time.Duration, maxSize int) *cache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &cache{
		ttl:     ttl,
		maxSize: maxSize,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

func (c *cache) get(key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return Result{}, false
	}
	entry := el.Value.(*cacheEntry)
	if c.ttl > 0 && time.Since(entry.createdAt) > c.ttl {
		c.order.Remove(el)
		delete(c.entries, key)
		return Result{}, false
	}
	return entry.result, true
}

// touch refreshes the stored result (e.g. access count) without resetting
// createdAt/TTL or LRU order — only a fresh Resolve does that.
func (c *cache) touch(key string, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).result = result
	}
}

func (c *cache) put(key string, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}

	entry := &cacheEntry{key: key, result: result, createdAt: time.Now()}
	el := c.order.PushBack(entry)
	c.entries[key] = el

	for c.order.Len() > c.maxSize {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}
