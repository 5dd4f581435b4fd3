package cluster

import (
	"container/list"
	"sync"
	"time"
)

// dedupCache is a bounded LRU of recently-seen message ids, used to
// drop FORWARDED_PUBLISH frames this node has already processed
// (loop suppression, §4.8).
//
// Grounded on other_examples' peer-state patterns for bounded
// membership caches; container/list is the stdlib idiom for an LRU's
// backing structure (no pack example ships a generic LRU type).
type dedupCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	order   *list.List
	index   map[[16]byte]*list.Element
}

type dedupEntry struct {
	id   [16]byte
	seen time.Time
}

func newDedupCache(ttl time.Duration, maxSize int) *dedupCache {
	return &dedupCache{
		ttl: ttl, maxSize: maxSize,
		order: list.New(), index: make(map[[16]byte]*list.Element),
	}
}

// SeenOrAdd returns true if id was already recorded (not expired), and
// otherwise records it and returns false.
func (c *dedupCache) SeenOrAdd(id [16]byte, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictExpired(now)

	if el, ok := c.index[id]; ok {
		entry := el.Value.(*dedupEntry)
		if now.Sub(entry.seen) <= c.ttl {
			c.order.MoveToFront(el)
			return true
		}
		c.order.Remove(el)
		delete(c.index, id)
	}

	el := c.order.PushFront(&dedupEntry{id: id, seen: now})
	c.index[id] = el

	for c.order.Len() > c.maxSize {
		back := c.order.Back()
		if back == nil {
			break
		}
		c.order.Remove(back)
		delete(c.index, back.Value.(*dedupEntry).id)
	}
	return false
}

func (c *dedupCache) evictExpired(now time.Time) {
	for {
		back := c.order.Back()
		if back == nil {
			return
		}
		entry := back.Value.(*dedupEntry)
		if now.Sub(entry.seen) <= c.ttl {
			return
		}
		c.order.Remove(back)
		delete(c.index, entry.id)
	}
}

// Len reports the number of live (possibly expired but not yet swept)
// entries; exposed for tests.
func (c *dedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
