package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rtcmesh/signal-relay/internal/metrics"
	"github.com/rtcmesh/signal-relay/internal/ratelimit"
	"github.com/rtcmesh/signal-relay/internal/room"
)

// closeReasonReplaced is sent when a connection loses its slot to a newer
// connection claiming the same peer id (or the same host slot).
const closeReasonReplaced = "replaced"

// Router interprets inbound messages and drives all registry and room
// mutations. A single mutex serializes every handler, so each multi-step
// join/evict/broadcast sequence runs to completion before the next event is
// processed; sends never block under the lock because Conn.Send only
// enqueues.
type Router struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	clock   ratelimit.Clock

	// roomCapacity is the global ceiling on guests per room. A join may
	// request a lower capacity at room creation but never a higher one.
	roomCapacity int

	mu  sync.Mutex
	reg *room.Registry
}

func NewRouter(reg *room.Registry, logger *slog.Logger, m *metrics.Metrics, clock ratelimit.Clock, roomCapacity int) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = ratelimit.RealClock{}
	}
	if roomCapacity < 1 {
		roomCapacity = 1
	}
	return &Router{
		log:          logger,
		metrics:      m,
		clock:        clock,
		roomCapacity: roomCapacity,
		reg:          reg,
	}
}

// authState is implemented by transport connections that know whether the
// peer presented a valid credential at admission.
type authState interface {
	Authenticated() bool
}

// AddConnection records a connection as soon as the transport accepts it,
// before any join, so the heartbeat can see it.
func (rt *Router) AddConnection(c room.Conn) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.reg.AddConn(c)
}

// HandleMessage processes one inbound text message from c.
func (rt *Router) HandleMessage(c room.Conn, data []byte) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	env, err := parseEnvelope(data)
	if err != nil {
		var perr *protocolError
		if !errors.As(err, &perr) {
			perr = errf("parse", "invalid message")
		}
		rt.sendError(c, perr)
		return
	}

	switch env.Type {
	case TypeRegister:
		// Historical quirk kept for compatibility: the legacy field value is
		// "quest", not "host".
		role := room.RoleGuest
		if strings.EqualFold(env.ClientType, "quest") {
			role = room.RoleHost
		}
		rt.join(c, env, role)
	case TypeJoinRoom:
		role := room.RoleGuest
		if strings.EqualFold(env.Role, "host") {
			role = room.RoleHost
		}
		rt.join(c, env, role)
	default:
		// offer/answer/ice-candidate plus any unrecognized type: relay within
		// the sender's room.
		rt.route(c, env)
	}
}

func (rt *Router) join(c room.Conn, env *Envelope, role room.Role) {
	peerID := env.PeerID
	if peerID == "" {
		peerID = uuid.NewString()
	}

	var victim *room.ClientInfo
	if prev, ok := rt.reg.ClientByPeer(peerID); ok && prev.Conn.ID() != c.ID() {
		victim = prev
	}

	// A refused join must leave everything untouched: the joiner's current
	// membership, the colliding peer's connection, the target room. Check
	// admission first, mutate only after it passes.
	if perr := rt.admitErr(c, env.Type, env.RoomID, peerID, role, victim); perr != nil {
		rt.metrics.Inc(metrics.JoinRejected)
		rt.sendError(c, perr)
		return
	}

	// Evict any other connection holding this peer id. The transport close
	// event that follows finds no registered state and is a no-op.
	if victim != nil {
		rt.dropClient(victim, closeReasonReplaced)
	}

	// A re-join replaces the previous membership rather than stacking.
	if prev, ok := rt.reg.Client(c.ID()); ok {
		if r, ok := rt.reg.Room(prev.RoomID); ok {
			r.Remove(c)
			rt.reg.DeleteRoomIfEmpty(prev.RoomID)
		}
		rt.reg.RemoveClient(c.ID())
	}

	capacity := rt.roomCapacity
	if env.MaxConnections > 0 && env.MaxConnections < capacity {
		capacity = env.MaxConnections
	}
	r := rt.reg.EnsureRoom(env.RoomID, capacity, rt.clock.Now())

	switch role {
	case room.RoleHost:
		displaced, err := r.AddHost(c, peerID)
		if err != nil {
			rt.metrics.Inc(metrics.JoinRejected)
			rt.sendError(c, errf(env.Type, "host slot taken"))
			return
		}
		if displaced != nil {
			rt.closeReplaced(displaced)
			rt.reg.RemoveClient(displaced.ID())
		}
	default:
		if err := r.AddGuest(c); err != nil {
			rt.metrics.Inc(metrics.JoinRejected)
			rt.sendError(c, errf(env.Type, "room full"))
			return
		}
	}

	authenticated := false
	if a, ok := c.(authState); ok {
		authenticated = a.Authenticated()
	}
	rt.reg.SetClient(&room.ClientInfo{
		Conn:          c,
		PeerID:        peerID,
		RoomID:        env.RoomID,
		Role:          role,
		ClientType:    sanitizeText(env.ClientType),
		Authenticated: authenticated,
	})

	rt.send(c, joinedRoomMsg{
		Type:   TypeJoinedRoom,
		RoomID: env.RoomID,
		PeerID: peerID,
		Role:   string(role),
		IsHost: role == room.RoleHost,
	})
	rt.broadcast(r, c.ID(), mustMarshal(peerEventMsg{
		Type:   TypePeerJoined,
		PeerID: peerID,
		Role:   string(role),
	}))
	if role == room.RoleGuest {
		if host := r.Host(); host != nil && host.Alive() {
			rt.send(host, clientReadyMsg{Type: TypeClientReady, PeerID: peerID})
		}
	}

	rt.log.Info("peer joined room",
		"room_id", env.RoomID,
		"peer_id", peerID,
		"role", role,
		"conn_id", c.ID(),
	)
}

// admitErr reports why joining roomID would be refused, without mutating any
// state. victim is the other connection currently holding peerID, if any;
// the check accounts for the slots its eviction would free.
func (rt *Router) admitErr(c room.Conn, typ, roomID, peerID string, role room.Role, victim *room.ClientInfo) *protocolError {
	r, ok := rt.reg.Room(roomID)
	if !ok {
		// A fresh room always admits its first member.
		return nil
	}

	switch role {
	case room.RoleHost:
		// Mirrors Room.AddHost: refresh by the same connection, replacement
		// under the same peer id, and displacing a dead host all succeed.
		h := r.Host()
		if h == nil || h.ID() == c.ID() || !h.Alive() || r.HostPeerID() == peerID {
			return nil
		}
		if victim != nil && victim.Conn.ID() == h.ID() {
			return nil
		}
		return errf(typ, "host slot taken")
	default:
		if r.HasGuest(c.ID()) {
			return nil
		}
		occupied := r.GuestCount()
		if victim != nil && victim.RoomID == roomID && victim.Role == room.RoleGuest {
			occupied--
		}
		if occupied >= r.Capacity() {
			return errf(typ, "room full")
		}
		return nil
	}
}

func (rt *Router) route(c room.Conn, env *Envelope) {
	info, ok := rt.reg.Client(c.ID())
	if !ok {
		rt.sendError(c, errf(env.Type, "join a room first"))
		return
	}
	r, ok := rt.reg.Room(info.RoomID)
	if !ok {
		rt.sendError(c, errf(env.Type, "room not found"))
		return
	}

	payload, err := env.Stamped(info.PeerID)
	if err != nil {
		rt.sendError(c, errf(env.Type, "message not relayable"))
		return
	}

	if env.TargetPeerID != "" && routable(env.Type) {
		target, ok := rt.reg.ClientByPeer(env.TargetPeerID)
		if !ok || target.RoomID != info.RoomID || !target.Conn.Alive() {
			rt.sendError(c, errf(env.Type, "target peer not found"))
			return
		}
		if err := target.Conn.Send(payload); err != nil {
			rt.metrics.Inc(metrics.DeliveryFailures)
			rt.log.Warn("targeted delivery failed", "target_peer_id", env.TargetPeerID, "err", err)
		}
		return
	}

	rt.broadcast(r, c.ID(), payload)
}

func routable(typ string) bool {
	switch typ {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		return true
	}
	return false
}

// HandleDisconnect releases all state derived from c. The registry entry is
// removed even if room cleanup fails for any reason.
func (rt *Router) HandleDisconnect(c room.Conn, reason string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	defer rt.reg.RemoveConn(c.ID())

	info, ok := rt.reg.Client(c.ID())
	if !ok {
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			rt.log.Error("panic during disconnect cleanup", "conn_id", c.ID(), "recover", rec)
		}
	}()

	if r, ok := rt.reg.Room(info.RoomID); ok {
		r.Remove(c)
		rt.broadcast(r, c.ID(), mustMarshal(peerEventMsg{
			Type:   TypePeerLeft,
			PeerID: info.PeerID,
			Role:   string(info.Role),
		}))
		if info.Role == room.RoleHost {
			rt.broadcast(r, c.ID(), mustMarshal(hostDisconnectedMsg{Type: TypeHostDisconnected}))
		}
		rt.reg.DeleteRoomIfEmpty(info.RoomID)
	}

	rt.log.Info("peer disconnected",
		"room_id", info.RoomID,
		"peer_id", info.PeerID,
		"role", info.Role,
		"reason", reason,
	)
}

// dropClient force-closes a registered client and strips it from its room.
func (rt *Router) dropClient(info *room.ClientInfo, reason string) {
	if r, ok := rt.reg.Room(info.RoomID); ok {
		r.Remove(info.Conn)
		rt.reg.DeleteRoomIfEmpty(info.RoomID)
	}
	rt.reg.RemoveClient(info.Conn.ID())
	rt.closeReplaced(info.Conn)
}

func (rt *Router) closeReplaced(c room.Conn) {
	rt.metrics.Inc(metrics.ConnReplaced)
	c.Close(websocket.CloseNormalClosure, closeReasonReplaced)
}

// broadcast delivers payload to every live room member except excludeID.
// Per-recipient failures are counted, never propagated.
func (rt *Router) broadcast(r *room.Room, excludeID string, payload []byte) {
	for _, m := range r.Members() {
		if m.ID() == excludeID || !m.Alive() {
			continue
		}
		if err := m.Send(payload); err != nil {
			rt.metrics.Inc(metrics.DeliveryFailures)
			rt.log.Warn("broadcast delivery failed", "room_id", r.ID(), "conn_id", m.ID(), "err", err)
		}
	}
}

func (rt *Router) send(c room.Conn, msg any) {
	if err := c.Send(mustMarshal(msg)); err != nil {
		rt.metrics.Inc(metrics.DeliveryFailures)
		rt.log.Warn("send failed", "conn_id", c.ID(), "err", err)
	}
}

func (rt *Router) sendError(c room.Conn, perr *protocolError) {
	rt.send(c, errorMsg{Type: TypeError, Error: perr.Message, Context: perr.Context})
}

// Connections snapshots all registered connections for the heartbeat.
func (rt *Router) Connections() []room.Conn {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.reg.Connections()
}

// Rooms snapshots the active room list for the HTTP surface.
func (rt *Router) Rooms() []room.Summary {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.reg.Summaries()
}

// Stats reports live connection, joined client and room counts.
func (rt *Router) Stats() (conns, clients, rooms int) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.reg.Counts()
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// All outbound message shapes are marshalable by construction.
		panic(err)
	}
	return data
}
