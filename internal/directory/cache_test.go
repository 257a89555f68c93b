package directory

import (
	"testing"

	"github.com/matheus3301/chatsync/internal/chat"
)

func TestZeroThenRefreshWins(t *testing.T) {
	c := New()
	c.ReplaceContacts([]chat.Contact{{Username: "bob", UnreadCount: 4}, {Username: "carol", UnreadCount: 1}})

	if !c.ZeroContact("bob") {
		t.Fatal("ZeroContact returned false")
	}
	if got, _ := c.Contact("bob"); got.UnreadCount != 0 {
		t.Errorf("UnreadCount = %d, want 0", got.UnreadCount)
	}
	if c.ZeroContact("bob") {
		t.Error("zeroing an already-zero count reported a change")
	}
	if got, _ := c.Contact("carol"); got.UnreadCount != 1 {
		t.Errorf("carol UnreadCount = %d, want 1", got.UnreadCount)
	}

	// The next authoritative fetch wins.
	c.ReplaceContacts([]chat.Contact{{Username: "bob", UnreadCount: 2}})
	if got, _ := c.Contact("bob"); got.UnreadCount != 2 {
		t.Errorf("UnreadCount after refresh = %d, want 2", got.UnreadCount)
	}
	if _, ok := c.Contact("carol"); ok {
		t.Error("carol survived a wholesale replace")
	}
}

func TestGroupUnread(t *testing.T) {
	c := New()
	c.ReplaceGroups([]chat.GroupInfo{{ID: "1", Name: "team"}, {ID: "2", Name: "family", UnreadCount: 3}})

	tests := []struct {
		name string
		op   func() bool
		id   string
		want int
	}{
		{"increment", func() bool { return c.IncrementGroup("1") }, "1", 1},
		{"increment again", func() bool { return c.IncrementGroup("1") }, "1", 2},
		{"zero", func() bool { return c.ZeroGroup("2") }, "2", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.op() {
				t.Fatal("op returned false")
			}
			g, ok := c.Group(tt.id)
			if !ok {
				t.Fatalf("group %s missing", tt.id)
			}
			if g.UnreadCount != tt.want {
				t.Errorf("UnreadCount = %d, want %d", g.UnreadCount, tt.want)
			}
		})
	}

	if c.IncrementGroup("404") {
		t.Error("IncrementGroup on unknown group returned true")
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	c := New()
	c.ReplaceGroups([]chat.GroupInfo{{ID: "1", MemberIDs: []string{"a", "b"}}})

	groups := c.Groups()
	groups[0].MemberIDs[0] = "mutated"
	groups[0].UnreadCount = 99

	g, _ := c.Group("1")
	if g.MemberIDs[0] != "a" || g.UnreadCount != 0 {
		t.Errorf("cache mutated through accessor: %+v", g)
	}
}
