package notify

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Cache is the client-local notification list for one user: seeded from a
// bounded bulk fetch, then kept current by individual change-feed events.
// Newest first. The unread count is maintained by exact increments and
// decrements, not recomputed per read; a bulk reseed recomputes it.
type Cache struct {
	mu     sync.Mutex
	items  []Notification
	unread int
	limit  int
}

const DefaultCacheLimit = 50

func NewCache(limit int) *Cache {
	if limit <= 0 {
		limit = DefaultCacheLimit
	}
	return &Cache{limit: limit}
}

// Seed replaces the cache contents from a bulk fetch and recomputes the
// unread count from the fresh list.
func (c *Cache) Seed(list []Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	items := make([]Notification, len(list))
	copy(items, list)
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if len(items) > c.limit {
		items = items[:c.limit]
	}

	c.items = items
	c.unread = 0
	for _, n := range c.items {
		if !n.IsRead {
			c.unread++
		}
	}
}

// ApplyInsert prepends an incoming notification. The feed delivers events
// in commit order per user, so the new row is assumed newer than anything
// cached.
func (c *Cache) ApplyInsert(n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, existing := range c.items {
		if existing.ID == n.ID {
			return
		}
	}

	c.items = append([]Notification{n}, c.items...)
	if len(c.items) > c.limit {
		dropped := c.items[len(c.items)-1]
		c.items = c.items[:len(c.items)-1]
		if !dropped.IsRead {
			c.unread--
		}
	}
	if !n.IsRead {
		c.unread++
	}
}

// ApplyUpdate merges a server-confirmed row into the cache.
func (c *Cache) ApplyUpdate(n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, existing := range c.items {
		if existing.ID != n.ID {
			continue
		}
		if !existing.IsRead && n.IsRead {
			c.unread--
		} else if existing.IsRead && !n.IsRead {
			c.unread++
		}
		c.items[i] = n
		return
	}
}

// ApplyDelete removes a row deleted on the server.
func (c *Cache) ApplyDelete(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, existing := range c.items {
		if existing.ID != id {
			continue
		}
		if !existing.IsRead {
			c.unread--
		}
		c.items = append(c.items[:i], c.items[i+1:]...)
		return
	}
}

// MarkRead marks a single cached notification read, decrementing the unread
// count by exactly one if it was unread. Returns false when the id is not
// cached or already read.
func (c *Cache) MarkRead(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, existing := range c.items {
		if existing.ID != id {
			continue
		}
		if existing.IsRead {
			return false
		}
		c.items[i].IsRead = true
		c.unread--
		return true
	}
	return false
}

// MarkAllRead marks every cached notification read and resets the count.
func (c *Cache) MarkAllRead() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.items {
		c.items[i].IsRead = true
	}
	c.unread = 0
}

// Unread returns the maintained unread count.
func (c *Cache) Unread() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread
}

// List returns a snapshot of the cached notifications, newest first.
func (c *Cache) List() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Notification, len(c.items))
	copy(out, c.items)
	return out
}
