package store

import (
	"context"
	"sync"

	"github.com/couchcryptid/flood-forecast-etl/internal/domain"
	"github.com/couchcryptid/flood-forecast-etl/internal/observability"
)

// CachedRepository wraps a Repository with an in-memory LRU cache for Get.
// Save writes through and refreshes the cached entry. A Get that raced a Save
// for the same id does not fill the cache, so a stale read is never cached.
type CachedRepository struct {
	Repository
	cache   *lruCache
	metrics *observability.Metrics

	mu    sync.Mutex
	loads map[string]*load
}

// load tracks the in-flight cache misses for one id.
type load struct {
	gen  uint64 // bumped by every Save of the id
	refs int
}

// NewCachedRepository creates a cache decorator around inner.
func NewCachedRepository(inner Repository, maxEntries int, metrics *observability.Metrics) *CachedRepository {
	return &CachedRepository{
		Repository: inner,
		cache:      newLRUCache(maxEntries),
		metrics:    metrics,
		loads:      make(map[string]*load),
	}
}

func (c *CachedRepository) Save(ctx context.Context, p domain.Prediction) (int64, error) {
	storedID, err := c.Repository.Save(ctx, p)

	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.loads[p.PredictionID]; ok {
		l.gen++
	}
	if err != nil {
		c.cache.delete(p.PredictionID)
		return 0, err
	}
	c.cache.put(p.PredictionID, p)
	return storedID, nil
}

func (c *CachedRepository) Get(ctx context.Context, id string) (domain.Prediction, error) {
	if p, ok := c.cache.get(id); ok {
		c.metrics.StoreCache.WithLabelValues("hit").Inc()
		return p, nil
	}
	c.metrics.StoreCache.WithLabelValues("miss").Inc()

	c.mu.Lock()
	l, ok := c.loads[id]
	if !ok {
		l = &load{}
		c.loads[id] = l
	}
	l.refs++
	gen := l.gen
	c.mu.Unlock()

	p, err := c.Repository.Get(ctx, id)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil && l.gen == gen {
		c.cache.put(id, p)
	}
	if l.refs--; l.refs == 0 {
		delete(c.loads, id)
	}
	return p, err
}

// lruCache is a simple thread-safe LRU cache of predictions by id.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value domain.Prediction
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (domain.Prediction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return domain.Prediction{}, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value domain.Prediction) {
	if c.maxEntries <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.remove(e)
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
