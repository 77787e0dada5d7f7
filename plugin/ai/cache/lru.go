// Package cache provides a small in-process LRU cache with TTL expiry.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRU is a size-bounded cache that evicts the least recently used entry.
// Entries also expire after their TTL. Safe for concurrent use.
type LRU[V any] struct {
	capacity int
	ttl      time.Duration
	mu       sync.Mutex

	items map[string]*list.Element
	order *list.List // front is most recently used
	now   func() time.Time
}

type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// New creates an LRU holding at most capacity entries, each valid for ttl.
func New[V any](capacity int, ttl time.Duration) *LRU[V] {
	if capacity <= 0 {
		capacity = 1000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &LRU[V]{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get returns the cached value and marks it as recently used.
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*entry[V])
	if c.now().After(e.expiresAt) {
		c.remove(el)
		return zero, false
	}
	c.order.MoveToFront(el)
	return e.value, true
}

// Set stores value under key, evicting the oldest entry when full.
func (c *LRU[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[V])
		e.value = value
		e.expiresAt = c.now().Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}

	for len(c.items) >= c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.remove(oldest)
	}

	c.items[key] = c.order.PushFront(&entry[V]{
		key:       key,
		value:     value,
		expiresAt: c.now().Add(c.ttl),
	})
}

// Len returns the number of entries, including expired ones not yet collected.
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Purge removes all entries.
func (c *LRU[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
}

// Must be called with lock held.
func (c *LRU[V]) remove(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*entry[V]).key)
}
