package notify

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func note(at time.Time, read bool) Notification {
	return Notification{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		Type:      TypeSystem,
		Title:     "Info",
		IsRead:    read,
		CreatedAt: at,
	}
}

func countUnread(list []Notification) int {
	n := 0
	for _, item := range list {
		if !item.IsRead {
			n++
		}
	}
	return n
}

func TestCacheSeed(t *testing.T) {
	base := time.Now()
	c := NewCache(3)
	c.Seed([]Notification{
		note(base.Add(1*time.Minute), false),
		note(base.Add(3*time.Minute), true),
		note(base.Add(2*time.Minute), false),
		note(base.Add(4*time.Minute), false),
	})

	list := c.List()
	if len(list) != 3 {
		t.Fatalf("len = %d, want limit 3", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i].CreatedAt.After(list[i-1].CreatedAt) {
			t.Errorf("list not newest first at %d", i)
		}
	}
	if c.Unread() != countUnread(list) {
		t.Errorf("unread = %d, list has %d", c.Unread(), countUnread(list))
	}
}

func TestCacheInsert(t *testing.T) {
	base := time.Now()
	c := NewCache(10)
	c.Seed([]Notification{note(base, true)})

	fresh := note(base.Add(time.Minute), false)
	c.ApplyInsert(fresh)

	if c.Unread() != 1 {
		t.Errorf("unread = %d, want 1", c.Unread())
	}
	list := c.List()
	if len(list) != 2 || list[0].ID != fresh.ID {
		t.Errorf("fresh notification not at the head")
	}

	// Redelivery of the same event must not double count.
	c.ApplyInsert(fresh)
	if c.Unread() != 1 {
		t.Errorf("unread after duplicate insert = %d, want 1", c.Unread())
	}
	if len(c.List()) != 2 {
		t.Errorf("duplicate insert grew the list")
	}
}

func TestCacheInsertEviction(t *testing.T) {
	base := time.Now()
	c := NewCache(2)
	old := note(base, false)
	c.Seed([]Notification{old, note(base.Add(time.Minute), false)})

	c.ApplyInsert(note(base.Add(2*time.Minute), false))

	list := c.List()
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	for _, n := range list {
		if n.ID == old.ID {
			t.Errorf("oldest entry not evicted")
		}
	}
	// The evicted entry was unread; the count must track the eviction.
	if c.Unread() != countUnread(list) {
		t.Errorf("unread = %d, list has %d", c.Unread(), countUnread(list))
	}
}

func TestCacheUpdate(t *testing.T) {
	base := time.Now()
	n := note(base, false)
	c := NewCache(10)
	c.Seed([]Notification{n})

	n.IsRead = true
	c.ApplyUpdate(n)
	if c.Unread() != 0 {
		t.Errorf("unread = %d after read update, want 0", c.Unread())
	}

	n.IsRead = false
	c.ApplyUpdate(n)
	if c.Unread() != 1 {
		t.Errorf("unread = %d after unread update, want 1", c.Unread())
	}

	// Updates for rows outside the cache window are ignored.
	c.ApplyUpdate(note(base, false))
	if c.Unread() != 1 || len(c.List()) != 1 {
		t.Errorf("foreign update changed the cache")
	}
}

func TestCacheDelete(t *testing.T) {
	base := time.Now()
	unreadNote := note(base, false)
	readNote := note(base.Add(time.Minute), true)
	c := NewCache(10)
	c.Seed([]Notification{unreadNote, readNote})

	c.ApplyDelete(readNote.ID)
	if c.Unread() != 1 {
		t.Errorf("unread = %d after deleting a read row, want 1", c.Unread())
	}

	c.ApplyDelete(unreadNote.ID)
	if c.Unread() != 0 {
		t.Errorf("unread = %d after deleting the unread row, want 0", c.Unread())
	}
	if len(c.List()) != 0 {
		t.Errorf("list not empty after deleting everything")
	}
}

func TestCacheMarkRead(t *testing.T) {
	base := time.Now()
	n := note(base, false)
	c := NewCache(10)
	c.Seed([]Notification{n, note(base.Add(time.Minute), false)})

	if !c.MarkRead(n.ID) {
		t.Fatalf("MarkRead returned false for an unread cached row")
	}
	if c.Unread() != 1 {
		t.Errorf("unread = %d, want exactly one decrement", c.Unread())
	}

	// Marking again must not decrement twice.
	if c.MarkRead(n.ID) {
		t.Errorf("MarkRead succeeded twice for the same row")
	}
	if c.Unread() != 1 {
		t.Errorf("unread = %d after double mark, want 1", c.Unread())
	}

	if c.MarkRead(uuid.New()) {
		t.Errorf("MarkRead succeeded for an unknown id")
	}
}

func TestCacheMarkAllRead(t *testing.T) {
	base := time.Now()
	c := NewCache(10)
	c.Seed([]Notification{
		note(base, false),
		note(base.Add(time.Minute), false),
		note(base.Add(2*time.Minute), true),
	})

	c.MarkAllRead()
	if c.Unread() != 0 {
		t.Errorf("unread = %d, want 0", c.Unread())
	}
	for _, n := range c.List() {
		if !n.IsRead {
			t.Errorf("row %s still unread", n.ID)
		}
	}
}

// The maintained count must equal a recount of the visible list after any
// interleaving of operations.
func TestCacheUnreadStaysExact(t *testing.T) {
	base := time.Now()
	c := NewCache(5)

	var known []Notification
	for i := 0; i < 12; i++ {
		n := note(base.Add(time.Duration(i)*time.Minute), i%3 == 0)
		known = append(known, n)
		c.ApplyInsert(n)

		if i%4 == 1 {
			c.MarkRead(known[i-1].ID)
		}
		if i == 7 {
			c.ApplyDelete(known[i].ID)
		}

		if got, want := c.Unread(), countUnread(c.List()); got != want {
			t.Fatalf("step %d: unread = %d, recount = %d", i, got, want)
		}
	}
}

func TestTypeMappingsExhaustive(t *testing.T) {
	all := []Type{
		TypeAppointmentConfirmed, TypeAppointmentCancelled, TypePaymentSuccess,
		TypeNewAppointment, TypeTeleconsultation, TypeQueueUpdate,
		TypeReminder, TypeUrgent, TypeSystem,
	}
	for _, typ := range all {
		if !typ.Valid() {
			t.Errorf("%s not valid", typ)
		}
		if typ.Label() == "Notification" {
			t.Errorf("%s has no label", typ)
		}
	}
	if Type("bogus").Valid() {
		t.Errorf("bogus type reported valid")
	}
}
