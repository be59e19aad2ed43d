// Package dedup suppresses repeated notifications inside a time window.
package dedup

import (
	"sync"
	"time"
)

// Key identifies one logical change event.
type Key struct {
	HookID     string
	ItemID     string
	RevisionID string
}

const none = "none"

// NewKey fills absent hook and revision ids with a sentinel.
func NewKey(hookID, itemID, revisionID string) Key {
	if hookID == "" {
		hookID = none
	}
	if revisionID == "" {
		revisionID = none
	}
	return Key{HookID: hookID, ItemID: itemID, RevisionID: revisionID}
}

func (k Key) String() string {
	return k.HookID + ":" + k.ItemID + ":" + k.RevisionID
}

// Cache maps keys to their expiry instant. Expired entries are evicted on
// every call, so the map never outgrows the traffic of one window.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[Key]time.Time
}

func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Cache{ttl: ttl, now: time.Now, entries: make(map[Key]time.Time)}
}

// WithClock replaces the time source.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Seen reports whether k was recorded within the window. When it was not,
// k is recorded and false is returned; the check and insert are atomic.
func (c *Cache) Seen(k Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.evictLocked(now)
	if _, ok := c.entries[k]; ok {
		return true
	}
	c.entries[k] = now.Add(c.ttl)
	return false
}

// Forget drops k so the next notification for it is admitted.
func (c *Cache) Forget(k Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, k)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(c.now())
	return len(c.entries)
}

func (c *Cache) evictLocked(now time.Time) {
	for k, exp := range c.entries {
		if !now.Before(exp) {
			delete(c.entries, k)
		}
	}
}
