// Package room owns per-room membership and the connection registry that
// backs message routing.
//
// Types in this package deliberately carry no locks: the router serializes
// every mutation and read behind a single exclusion discipline so that
// multi-step join/evict/broadcast sequences are atomic.
package room

import "time"

// Conn is the narrow view of a transport connection the routing core needs.
// The transport layer owns the underlying socket; the core only holds this
// handle plus derived metadata.
type Conn interface {
	// ID is the connection id generated at accept time. It is the key for
	// all registry state; two handles to the same session compare equal by
	// id, never by pointer.
	ID() string

	// Send enqueues one outbound text payload. It must not block; a full
	// outbound queue is reported as an error.
	Send(data []byte) error

	// Close terminates the connection with a close code and reason. Safe to
	// call multiple times.
	Close(code int, reason string)

	// Alive reports whether the transport link is still usable.
	Alive() bool
}

// Role identifies the privilege of a room member.
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// ClientInfo is the per-connection session metadata recorded on a completed
// join. Values are replaced wholesale, never mutated in place.
type ClientInfo struct {
	Conn          Conn
	PeerID        string
	RoomID        string
	Role          Role
	ClientType    string
	Authenticated bool
}

// Room groups at most one host and a capacity-bounded set of guests under a
// room id.
type Room struct {
	id        string
	createdAt time.Time
	capacity  int

	host       Conn
	hostPeerID string
	guests     map[string]Conn // keyed by connection id
}

func New(id string, capacity int, now time.Time) *Room {
	if capacity < 1 {
		capacity = 1
	}
	return &Room{
		id:        id,
		createdAt: now,
		capacity:  capacity,
		guests:    make(map[string]Conn),
	}
}

func (r *Room) ID() string           { return r.id }
func (r *Room) CreatedAt() time.Time { return r.createdAt }
func (r *Room) Capacity() int        { return r.capacity }
func (r *Room) GuestCount() int      { return len(r.guests) }
func (r *Room) Host() Conn           { return r.host }
func (r *Room) HostPeerID() string   { return r.hostPeerID }

// AddHost installs c as the room's host. If the slot is held by a live
// connection under a different peer id the join fails with ErrHostSlotTaken.
// A matching peer id, or a dead incumbent, is displaced: the previous host
// connection is returned so the caller can close it and release its state.
// Re-adding the same connection just refreshes the recorded peer id.
func (r *Room) AddHost(c Conn, peerID string) (displaced Conn, err error) {
	if r.host != nil && r.host.ID() != c.ID() {
		if r.host.Alive() && r.hostPeerID != peerID {
			return nil, ErrHostSlotTaken
		}
		displaced = r.host
	}
	r.host = c
	r.hostPeerID = peerID
	return displaced, nil
}

// AddGuest adds c to the guest set. Capacity bounds guests only; the host
// slot is separate.
func (r *Room) AddGuest(c Conn) error {
	if _, ok := r.guests[c.ID()]; ok {
		return nil
	}
	if len(r.guests) >= r.capacity {
		return ErrRoomFull
	}
	r.guests[c.ID()] = c
	return nil
}

// HasGuest reports whether the connection id is already in the guest set.
func (r *Room) HasGuest(connID string) bool {
	_, ok := r.guests[connID]
	return ok
}

// Remove drops c from the room whichever role it holds. No-op if absent.
func (r *Room) Remove(c Conn) {
	if r.host != nil && r.host.ID() == c.ID() {
		r.host = nil
		r.hostPeerID = ""
		return
	}
	delete(r.guests, c.ID())
}

// Empty reports whether neither host nor guests remain; the registry deletes
// empty rooms.
func (r *Room) Empty() bool {
	return r.host == nil && len(r.guests) == 0
}

// Members returns the combined host+guest set in unspecified order.
func (r *Room) Members() []Conn {
	out := make([]Conn, 0, len(r.guests)+1)
	if r.host != nil {
		out = append(out, r.host)
	}
	for _, c := range r.guests {
		out = append(out, c)
	}
	return out
}
