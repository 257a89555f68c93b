// Package directory caches the contact and group lists shown next to the
// conversations.
package directory

import (
	"slices"

	"github.com/matheus3301/chatsync/internal/chat"
)

// Cache holds the latest directory fetch plus local unread adjustments.
// Fetches replace a list wholesale; a local zeroing lasts until the next
// fetch overwrites it.
//
// Like the conversation store, a Cache belongs to the engine loop and is not
// safe for concurrent use.
type Cache struct {
	contacts []chat.Contact
	groups   []chat.GroupInfo
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{}
}

// ReplaceContacts installs a fresh contact list.
func (c *Cache) ReplaceContacts(contacts []chat.Contact) {
	c.contacts = slices.Clone(contacts)
}

// ReplaceGroups installs a fresh group list.
func (c *Cache) ReplaceGroups(groups []chat.GroupInfo) {
	c.groups = make([]chat.GroupInfo, len(groups))
	for i, g := range groups {
		g.MemberIDs = slices.Clone(g.MemberIDs)
		c.groups[i] = g
	}
}

// Contacts returns a copy of the contact list.
func (c *Cache) Contacts() []chat.Contact {
	return slices.Clone(c.contacts)
}

// Groups returns a copy of the group list.
func (c *Cache) Groups() []chat.GroupInfo {
	out := make([]chat.GroupInfo, len(c.groups))
	for i, g := range c.groups {
		g.MemberIDs = slices.Clone(g.MemberIDs)
		out[i] = g
	}
	return out
}

// Contact looks up a contact by username.
func (c *Cache) Contact(username string) (chat.Contact, bool) {
	if i := c.contactIndex(username); i >= 0 {
		return c.contacts[i], true
	}
	return chat.Contact{}, false
}

// Group looks up a group by id.
func (c *Cache) Group(id string) (chat.GroupInfo, bool) {
	if i := c.groupIndex(id); i >= 0 {
		g := c.groups[i]
		g.MemberIDs = slices.Clone(g.MemberIDs)
		return g, true
	}
	return chat.GroupInfo{}, false
}

// ZeroContact clears the unread count of a contact. It reports whether the
// count changed.
func (c *Cache) ZeroContact(username string) bool {
	i := c.contactIndex(username)
	if i < 0 || c.contacts[i].UnreadCount == 0 {
		return false
	}
	c.contacts[i].UnreadCount = 0
	return true
}

// ZeroGroup clears the unread count of a group.
func (c *Cache) ZeroGroup(id string) bool {
	i := c.groupIndex(id)
	if i < 0 || c.groups[i].UnreadCount == 0 {
		return false
	}
	c.groups[i].UnreadCount = 0
	return true
}

// IncrementGroup bumps the unread count of a known group.
func (c *Cache) IncrementGroup(id string) bool {
	i := c.groupIndex(id)
	if i < 0 {
		return false
	}
	c.groups[i].UnreadCount++
	return true
}

// Clear drops both lists.
func (c *Cache) Clear() {
	c.contacts = nil
	c.groups = nil
}

func (c *Cache) contactIndex(username string) int {
	return slices.IndexFunc(c.contacts, func(ct chat.Contact) bool { return ct.Username == username })
}

func (c *Cache) groupIndex(id string) int {
	return slices.IndexFunc(c.groups, func(g chat.GroupInfo) bool { return g.ID == id })
}
