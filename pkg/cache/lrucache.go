package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

// lruCacheItem is the internal structure stored in the linked list.
type lruCacheItem[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// InMemoryLRUCache is a generic, thread-safe, in-memory cache with a fixed size,
// a Least Recently Used (LRU) eviction policy and an optional per-entry TTL.
type InMemoryLRUCache[K comparable, V any] struct {
	maxSize int
	ttl     time.Duration
	now     func() time.Time

	mu    sync.Mutex
	ll    *list.List          // Used to track the order of items (recency).
	cache map[K]*list.Element // Used for fast key lookups.
}

// NewInMemoryLRUCache creates a new size-limited, in-memory LRU cache.
// - maxSize: The maximum number of items to store in the cache. Must be > 0.
// - ttl: How long an entry stays valid after it is added. Zero disables expiry.
func NewInMemoryLRUCache[K comparable, V any](maxSize int, ttl time.Duration) (*InMemoryLRUCache[K, V], error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("maxSize must be greater than 0")
	}
	if ttl < 0 {
		return nil, fmt.Errorf("ttl cannot be negative")
	}
	return &InMemoryLRUCache[K, V]{
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
		ll:      list.New(),
		cache:   make(map[K]*list.Element),
	}, nil
}

// Get returns the value stored under key. A hit moves the item to the front of
// the recency list; an expired item is removed and reported as a miss.
func (c *InMemoryLRUCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.cache[key]
	if !ok {
		return zero, false
	}
	item := elem.Value.(*lruCacheItem[K, V])
	if c.expired(item) {
		c.ll.Remove(elem)
		delete(c.cache, key)
		return zero, false
	}
	c.ll.MoveToFront(elem)
	return item.value, true
}

// Add stores value under key, replacing any previous value, and evicts the
// least recently used item if the cache is over capacity.
func (c *InMemoryLRUCache[K, V]) Add(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = c.now().Add(c.ttl)
	}

	if elem, ok := c.cache[key]; ok {
		item := elem.Value.(*lruCacheItem[K, V])
		item.value = value
		item.expiresAt = expiresAt
		c.ll.MoveToFront(elem)
		return
	}

	element := c.ll.PushFront(&lruCacheItem[K, V]{key: key, value: value, expiresAt: expiresAt})
	c.cache[key] = element

	if c.ll.Len() > c.maxSize {
		c.evict()
	}
}

// Len reports the number of items held, including expired ones not yet removed.
func (c *InMemoryLRUCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// evict removes the least recently used item from the cache.
// This method is unexported and must be called within a locked mutex.
func (c *InMemoryLRUCache[K, V]) evict() {
	elementToRemove := c.ll.Back()
	if elementToRemove != nil {
		itemToRemove := c.ll.Remove(elementToRemove).(*lruCacheItem[K, V])
		delete(c.cache, itemToRemove.key)
	}
}

func (c *InMemoryLRUCache[K, V]) expired(item *lruCacheItem[K, V]) bool {
	return !item.expiresAt.IsZero() && !c.now().Before(item.expiresAt)
}

// MemoryLedger is an AckLedger held in process memory. Its contents are lost
// when the bridge restarts.
type MemoryLedger struct {
	entries *InMemoryLRUCache[string, string]
}

// NewMemoryLedger creates a ledger holding at most maxSize acknowledgments for ttl.
func NewMemoryLedger(maxSize int, ttl time.Duration) (*MemoryLedger, error) {
	entries, err := NewInMemoryLRUCache[string, string](maxSize, ttl)
	if err != nil {
		return nil, err
	}
	return &MemoryLedger{entries: entries}, nil
}

func (l *MemoryLedger) Record(_ context.Context, key, digest string) error {
	l.entries.Add(key, digest)
	return nil
}

func (l *MemoryLedger) Lookup(_ context.Context, key string) (string, bool, error) {
	digest, ok := l.entries.Get(key)
	return digest, ok, nil
}

// Close is a no-op for the in-memory ledger but satisfies the AckLedger interface.
func (l *MemoryLedger) Close() error {
	return nil
}
