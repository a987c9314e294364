package room

import "time"

// Registry is the canonical store mapping live connections to their session
// state and room ids to rooms. Like Room, it carries no lock of its own: the
// router owns it and serializes access.
type Registry struct {
	conns   map[string]Conn
	clients map[string]*ClientInfo
	rooms   map[string]*Room
}

func NewRegistry() *Registry {
	return &Registry{
		conns:   make(map[string]Conn),
		clients: make(map[string]*ClientInfo),
		rooms:   make(map[string]*Room),
	}
}

// AddConn records a connection the moment the transport accepts it, before
// any join has happened.
func (g *Registry) AddConn(c Conn) {
	g.conns[c.ID()] = c
}

// RemoveConn forgets a connection and any session state attached to it.
func (g *Registry) RemoveConn(connID string) {
	delete(g.clients, connID)
	delete(g.conns, connID)
}

// Connections returns all registered connections, joined or not.
func (g *Registry) Connections() []Conn {
	out := make([]Conn, 0, len(g.conns))
	for _, c := range g.conns {
		out = append(out, c)
	}
	return out
}

func (g *Registry) Client(connID string) (*ClientInfo, bool) {
	info, ok := g.clients[connID]
	return info, ok
}

// ClientByPeer finds the live session holding peerID, if any. Peer ids are
// unique system-wide, so at most one entry matches.
func (g *Registry) ClientByPeer(peerID string) (*ClientInfo, bool) {
	for _, info := range g.clients {
		if info.PeerID == peerID {
			return info, true
		}
	}
	return nil, false
}

// SetClient upserts the session metadata for info.Conn.
func (g *Registry) SetClient(info *ClientInfo) {
	g.clients[info.Conn.ID()] = info
}

func (g *Registry) RemoveClient(connID string) {
	delete(g.clients, connID)
}

func (g *Registry) Room(roomID string) (*Room, bool) {
	r, ok := g.rooms[roomID]
	return r, ok
}

// EnsureRoom fetches roomID, creating it lazily with the given capacity on
// first join. The capacity only applies at creation; an existing room keeps
// the capacity it was created with.
func (g *Registry) EnsureRoom(roomID string, capacity int, now time.Time) *Room {
	if r, ok := g.rooms[roomID]; ok {
		return r
	}
	r := New(roomID, capacity, now)
	g.rooms[roomID] = r
	return r
}

// DeleteRoomIfEmpty removes roomID once its membership has drained.
func (g *Registry) DeleteRoomIfEmpty(roomID string) bool {
	r, ok := g.rooms[roomID]
	if !ok || !r.Empty() {
		return false
	}
	delete(g.rooms, roomID)
	return true
}

// Counts reports live connection, joined client and room totals.
func (g *Registry) Counts() (conns, clients, rooms int) {
	return len(g.conns), len(g.clients), len(g.rooms)
}

// Summary is a read-only view of one room for the HTTP listing surface.
type Summary struct {
	RoomID     string    `json:"roomId"`
	HasHost    bool      `json:"hasHost"`
	HostType   string    `json:"hostType,omitempty"`
	GuestCount int       `json:"guestCount"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Summaries snapshots all active rooms.
func (g *Registry) Summaries() []Summary {
	out := make([]Summary, 0, len(g.rooms))
	for _, r := range g.rooms {
		s := Summary{
			RoomID:     r.ID(),
			HasHost:    r.Host() != nil,
			GuestCount: r.GuestCount(),
			CreatedAt:  r.CreatedAt(),
		}
		if h := r.Host(); h != nil {
			if info, ok := g.clients[h.ID()]; ok {
				s.HostType = info.ClientType
			}
		}
		out = append(out, s)
	}
	return out
}
