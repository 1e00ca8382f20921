package bus

import (
	"container/list"
	"sync"
	"time"
)

// DedupeCache is a bounded, time-expiring set of (conversation, message)
// keys. Seen is an atomic check-and-insert so two concurrent duplicates
// cannot both pass. Entries expire after the TTL; when the set grows past
// its capacity the oldest entries are evicted first.
type DedupeCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	entries map[string]*list.Element
	order   *list.List // front = oldest
	now     func() time.Time
}

type dedupeEntry struct {
	key     string
	expires time.Time
}

// NewDedupeCache creates a cache with the given retention window and
// capacity. max <= 0 means unbounded.
func NewDedupeCache(ttl time.Duration, max int) *DedupeCache {
	return &DedupeCache{
		ttl:     ttl,
		max:     max,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Seen reports whether the (conversationID, messageID) pair was already
// recorded within the retention window, recording it if not. Events with a
// missing conversation or message id cannot be deduplicated safely and are
// always reported as not seen, without being recorded.
func (c *DedupeCache) Seen(conversationID, messageID string) bool {
	if conversationID == "" || messageID == "" {
		return false
	}
	key := conversationID + "|" + messageID

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.evictExpired(now)

	if el, ok := c.entries[key]; ok {
		if el.Value.(*dedupeEntry).expires.After(now) {
			return true
		}
		c.order.Remove(el)
		delete(c.entries, key)
	}

	c.entries[key] = c.order.PushBack(&dedupeEntry{key: key, expires: now.Add(c.ttl)})
	for c.max > 0 && c.order.Len() > c.max {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*dedupeEntry).key)
	}
	return false
}

// Len returns the current number of tracked keys.
func (c *DedupeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *DedupeCache) evictExpired(now time.Time) {
	for el := c.order.Front(); el != nil; {
		entry := el.Value.(*dedupeEntry)
		if entry.expires.After(now) {
			break
		}
		next := el.Next()
		c.order.Remove(el)
		delete(c.entries, entry.key)
		el = next
	}
}
