package room

import (
	"errors"
	"testing"
	"time"
)

// fakeConn is a minimal in-memory Conn for membership tests.
type fakeConn struct {
	id     string
	alive  bool
	closed bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id, alive: true} }

func (c *fakeConn) ID() string             { return c.id }
func (c *fakeConn) Send(data []byte) error { return nil }
func (c *fakeConn) Alive() bool            { return c.alive }
func (c *fakeConn) Close(code int, reason string) {
	c.closed = true
	c.alive = false
}

func TestAddHost_SingleHostInvariant(t *testing.T) {
	r := New("r1", 10, time.Unix(0, 0))

	h1 := newFakeConn("c1")
	if _, err := r.AddHost(h1, "alice"); err != nil {
		t.Fatalf("AddHost h1: %v", err)
	}

	h2 := newFakeConn("c2")
	if _, err := r.AddHost(h2, "bob"); !errors.Is(err, ErrHostSlotTaken) {
		t.Fatalf("AddHost h2: err=%v, want ErrHostSlotTaken", err)
	}
	if r.Host() != Conn(h1) {
		t.Fatalf("expected original host to keep the slot")
	}
}

func TestAddHost_SamePeerReplaces(t *testing.T) {
	r := New("r1", 10, time.Unix(0, 0))

	h1 := newFakeConn("c1")
	if _, err := r.AddHost(h1, "alice"); err != nil {
		t.Fatalf("AddHost h1: %v", err)
	}

	h2 := newFakeConn("c2")
	displaced, err := r.AddHost(h2, "alice")
	if err != nil {
		t.Fatalf("AddHost h2: %v", err)
	}
	if displaced != Conn(h1) {
		t.Fatalf("expected h1 to be displaced")
	}
	if r.Host() != Conn(h2) || r.HostPeerID() != "alice" {
		t.Fatalf("expected h2 to hold the slot")
	}
}

func TestAddHost_DeadHostSilentlyReplaced(t *testing.T) {
	r := New("r1", 10, time.Unix(0, 0))

	h1 := newFakeConn("c1")
	if _, err := r.AddHost(h1, "alice"); err != nil {
		t.Fatalf("AddHost h1: %v", err)
	}
	h1.alive = false

	h2 := newFakeConn("c2")
	displaced, err := r.AddHost(h2, "bob")
	if err != nil {
		t.Fatalf("AddHost over dead host: %v", err)
	}
	if displaced != Conn(h1) {
		t.Fatalf("expected dead host returned for cleanup")
	}
	if r.Host() != Conn(h2) {
		t.Fatalf("expected h2 to hold the slot")
	}
}

func TestAddHost_SameConnRefreshesPeerID(t *testing.T) {
	r := New("r1", 10, time.Unix(0, 0))

	h := newFakeConn("c1")
	if _, err := r.AddHost(h, "alice"); err != nil {
		t.Fatalf("AddHost: %v", err)
	}
	displaced, err := r.AddHost(h, "alice-2")
	if err != nil || displaced != nil {
		t.Fatalf("re-add same conn: displaced=%v err=%v", displaced, err)
	}
	if r.HostPeerID() != "alice-2" {
		t.Fatalf("HostPeerID=%q, want alice-2", r.HostPeerID())
	}
}

func TestAddGuest_CapacityEnforced(t *testing.T) {
	r := New("r1", 2, time.Unix(0, 0))

	if err := r.AddGuest(newFakeConn("g1")); err != nil {
		t.Fatalf("AddGuest g1: %v", err)
	}
	if err := r.AddGuest(newFakeConn("g2")); err != nil {
		t.Fatalf("AddGuest g2: %v", err)
	}
	if err := r.AddGuest(newFakeConn("g3")); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("AddGuest g3: err=%v, want ErrRoomFull", err)
	}
	if r.GuestCount() != 2 {
		t.Fatalf("GuestCount=%d, want 2 (rejected join must not mutate)", r.GuestCount())
	}
}

func TestAddGuest_HostSlotSeparateFromCapacity(t *testing.T) {
	r := New("r1", 1, time.Unix(0, 0))
	if _, err := r.AddHost(newFakeConn("h"), "hp"); err != nil {
		t.Fatalf("AddHost: %v", err)
	}
	if err := r.AddGuest(newFakeConn("g1")); err != nil {
		t.Fatalf("AddGuest g1 with host present: %v", err)
	}
	if err := r.AddGuest(newFakeConn("g2")); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("AddGuest g2: err=%v, want ErrRoomFull", err)
	}
}

func TestHasGuest(t *testing.T) {
	r := New("r1", 2, time.Unix(0, 0))
	g := newFakeConn("g1")
	if r.HasGuest(g.ID()) {
		t.Fatal("HasGuest true before add")
	}
	if err := r.AddGuest(g); err != nil {
		t.Fatalf("AddGuest: %v", err)
	}
	if !r.HasGuest(g.ID()) {
		t.Fatal("HasGuest false after add")
	}
	r.Remove(g)
	if r.HasGuest(g.ID()) {
		t.Fatal("HasGuest true after remove")
	}
}

func TestAddGuest_Idempotent(t *testing.T) {
	r := New("r1", 1, time.Unix(0, 0))
	g := newFakeConn("g1")
	if err := r.AddGuest(g); err != nil {
		t.Fatalf("AddGuest: %v", err)
	}
	if err := r.AddGuest(g); err != nil {
		t.Fatalf("re-AddGuest same conn: %v", err)
	}
	if r.GuestCount() != 1 {
		t.Fatalf("GuestCount=%d, want 1", r.GuestCount())
	}
}

func TestRemoveAndEmpty(t *testing.T) {
	r := New("r1", 10, time.Unix(0, 0))

	h := newFakeConn("h")
	g := newFakeConn("g")
	if _, err := r.AddHost(h, "alice"); err != nil {
		t.Fatalf("AddHost: %v", err)
	}
	if err := r.AddGuest(g); err != nil {
		t.Fatalf("AddGuest: %v", err)
	}
	if r.Empty() {
		t.Fatalf("room should not be empty")
	}

	r.Remove(h)
	if r.Host() != nil {
		t.Fatalf("expected host slot cleared")
	}
	if r.Empty() {
		t.Fatalf("room still has a guest")
	}

	r.Remove(g)
	if !r.Empty() {
		t.Fatalf("expected empty room")
	}

	// Removing an absent connection is a no-op.
	r.Remove(newFakeConn("stranger"))
}

func TestMembersIncludesHostAndGuests(t *testing.T) {
	r := New("r1", 10, time.Unix(0, 0))
	h := newFakeConn("h")
	g1 := newFakeConn("g1")
	g2 := newFakeConn("g2")
	r.AddHost(h, "alice")
	r.AddGuest(g1)
	r.AddGuest(g2)

	members := r.Members()
	if len(members) != 3 {
		t.Fatalf("len(Members)=%d, want 3", len(members))
	}
	seen := map[string]bool{}
	for _, c := range members {
		seen[c.ID()] = true
	}
	for _, id := range []string{"h", "g1", "g2"} {
		if !seen[id] {
			t.Fatalf("member %q missing", id)
		}
	}
}
