package room

import (
	"testing"
	"time"
)

func TestRegistry_ConnLifecycle(t *testing.T) {
	g := NewRegistry()

	c := newFakeConn("c1")
	g.AddConn(c)
	if got := len(g.Connections()); got != 1 {
		t.Fatalf("connections=%d, want 1", got)
	}

	g.SetClient(&ClientInfo{Conn: c, PeerID: "p1", RoomID: "r1", Role: RoleGuest})
	if _, ok := g.Client("c1"); !ok {
		t.Fatalf("expected client info for c1")
	}

	g.RemoveConn("c1")
	if _, ok := g.Client("c1"); ok {
		t.Fatalf("expected client info released with connection")
	}
	if got := len(g.Connections()); got != 0 {
		t.Fatalf("connections=%d, want 0", got)
	}
}

func TestRegistry_ClientByPeer(t *testing.T) {
	g := NewRegistry()

	c1 := newFakeConn("c1")
	c2 := newFakeConn("c2")
	g.AddConn(c1)
	g.AddConn(c2)
	g.SetClient(&ClientInfo{Conn: c1, PeerID: "alice", RoomID: "r1", Role: RoleHost})
	g.SetClient(&ClientInfo{Conn: c2, PeerID: "bob", RoomID: "r1", Role: RoleGuest})

	info, ok := g.ClientByPeer("alice")
	if !ok || info.Conn.ID() != "c1" {
		t.Fatalf("ClientByPeer(alice)=%+v ok=%v", info, ok)
	}
	if _, ok := g.ClientByPeer("nobody"); ok {
		t.Fatalf("expected no match for unknown peer")
	}
}

func TestRegistry_EnsureRoomKeepsOriginalCapacity(t *testing.T) {
	g := NewRegistry()

	r1 := g.EnsureRoom("r1", 4, time.Unix(0, 0))
	if r1.Capacity() != 4 {
		t.Fatalf("capacity=%d, want 4", r1.Capacity())
	}

	// A later join with a different capacity gets the existing room.
	r1b := g.EnsureRoom("r1", 9, time.Unix(1, 0))
	if r1b != r1 {
		t.Fatalf("expected same room instance")
	}
	if r1b.Capacity() != 4 {
		t.Fatalf("capacity=%d, want original 4", r1b.Capacity())
	}
}

func TestRegistry_DeleteRoomIfEmpty(t *testing.T) {
	g := NewRegistry()

	r := g.EnsureRoom("r1", 4, time.Unix(0, 0))
	c := newFakeConn("c1")
	if err := r.AddGuest(c); err != nil {
		t.Fatalf("AddGuest: %v", err)
	}

	if g.DeleteRoomIfEmpty("r1") {
		t.Fatalf("room with a guest must not be deleted")
	}

	r.Remove(c)
	if !g.DeleteRoomIfEmpty("r1") {
		t.Fatalf("expected empty room deleted")
	}
	if _, ok := g.Room("r1"); ok {
		t.Fatalf("room should be gone")
	}
	if g.DeleteRoomIfEmpty("r1") {
		t.Fatalf("deleting a missing room is a no-op")
	}
}

func TestRegistry_Summaries(t *testing.T) {
	g := NewRegistry()

	h := newFakeConn("h")
	g.AddConn(h)
	r := g.EnsureRoom("r1", 10, time.Unix(42, 0))
	if _, err := r.AddHost(h, "alice"); err != nil {
		t.Fatalf("AddHost: %v", err)
	}
	g.SetClient(&ClientInfo{Conn: h, PeerID: "alice", RoomID: "r1", Role: RoleHost, ClientType: "cli"})

	sums := g.Summaries()
	if len(sums) != 1 {
		t.Fatalf("len(Summaries)=%d, want 1", len(sums))
	}
	s := sums[0]
	if s.RoomID != "r1" || !s.HasHost || s.HostType != "cli" || s.GuestCount != 0 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if !s.CreatedAt.Equal(time.Unix(42, 0)) {
		t.Fatalf("CreatedAt=%v", s.CreatedAt)
	}
}
