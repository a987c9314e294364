package signaling

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rtcmesh/signal-relay/internal/auth"
	"github.com/rtcmesh/signal-relay/internal/config"
	"github.com/rtcmesh/signal-relay/internal/metrics"
	"github.com/rtcmesh/signal-relay/internal/ratelimit"
	"github.com/rtcmesh/signal-relay/internal/token"
)

const (
	sendQueueLen = 256

	writeTimeout = 10 * time.Second
	closeTimeout = 5 * time.Second
)

// wsConn is one accepted WebSocket connection. It satisfies room.Conn for
// the router and the heartbeat supervisor's probe interface.
type wsConn struct {
	id         string
	remoteAddr string
	ws         *websocket.Conn
	log        *slog.Logger

	send chan []byte
	done chan struct{}

	closeOnce    sync.Once
	closed       atomic.Bool
	awaitingPong atomic.Bool

	authenticated bool
}

func newWSConn(ws *websocket.Conn, remoteAddr string, logger *slog.Logger, authenticated bool) *wsConn {
	c := &wsConn{
		id:            uuid.NewString(),
		remoteAddr:    remoteAddr,
		ws:            ws,
		log:           logger,
		send:          make(chan []byte, sendQueueLen),
		done:          make(chan struct{}),
		authenticated: authenticated,
	}
	ws.SetPongHandler(func(string) error {
		c.awaitingPong.Store(false)
		return nil
	})
	return c
}

func (c *wsConn) ID() string          { return c.id }
func (c *wsConn) Alive() bool         { return !c.closed.Load() }
func (c *wsConn) Authenticated() bool { return c.authenticated }

func (c *wsConn) Send(data []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close shuts the connection down exactly once: best-effort close frame,
// then tear down the underlying socket. The read pump unblocks on the
// socket close and drives Router.HandleDisconnect.
func (c *wsConn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout))
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *wsConn) AwaitingPong() bool { return c.awaitingPong.Load() }
func (c *wsConn) MarkAwaitingPong() { c.awaitingPong.Store(true) }

func (c *wsConn) Ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// writePump owns all data writes to the socket. gorilla/websocket permits
// one concurrent writer, so everything funnels through the send channel.
func (c *wsConn) writePump() {
	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug("write failed", "conn_id", c.id, "err", err)
				c.Close(websocket.CloseAbnormalClosure, "write failure")
				return
			}
		case <-c.done:
			return
		}
	}
}

// ServerConfig wires the transport to the rest of the relay.
type ServerConfig struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Router  *Router

	// Tokens and JWT back the two auth modes; only the one selected by
	// AuthMode is consulted.
	Tokens       *token.Store
	JWT          *auth.JWTVerifier
	AuthRequired bool
	AuthMode     config.AuthMode

	ConnLimiter       *ratelimit.ConnLimiter
	MaxMessageBytes   int64
	MessagesPerSecond int
	AllowedOrigins    []string

	Clock ratelimit.Clock
}

// Server accepts WebSocket connections and feeds their messages to the
// router. Admission runs rate limiting before the upgrade and credential
// checks after it, so a rejected credential still costs a handshake but a
// rate-limited peer costs only a plain HTTP response.
type Server struct {
	cfg      ServerConfig
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.RealClock{}
	}
	s := &Server{cfg: cfg, log: cfg.Logger}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin admits browser connections only from configured origins. An
// empty allowlist admits everything, matching non-browser clients that send
// no Origin header at all.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	addr := clientAddr(r)
	if s.cfg.ConnLimiter != nil && !s.cfg.ConnLimiter.Allow(addr) {
		s.cfg.Metrics.Inc(metrics.ConnRateLimited)
		s.log.Warn("connection rate limited", "addr", addr)
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	credential := r.URL.Query().Get("token")

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		s.log.Debug("upgrade failed", "addr", addr, "err", err)
		return
	}

	authenticated, err := s.authenticate(credential)
	if err != nil {
		s.cfg.Metrics.Inc(metrics.AuthFailure)
		s.log.Warn("authentication failed", "addr", addr, "err", err)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication required")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout))
		_ = ws.Close()
		return
	}

	c := newWSConn(ws, addr, s.log, authenticated)
	s.log.Info("connection accepted", "conn_id", c.ID(), "addr", addr)

	s.cfg.Router.AddConnection(c)
	go c.writePump()
	go s.readPump(c)
}

// authenticate reports whether the connection carries valid credentials.
// When auth is optional a missing or bad credential admits the connection
// unauthenticated; the flag is recorded on the session state at join time.
func (s *Server) authenticate(credential string) (bool, error) {
	ok, err := s.verify(credential)
	if err != nil {
		if !s.cfg.AuthRequired {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}

func (s *Server) verify(credential string) (bool, error) {
	if credential == "" {
		if s.cfg.AuthRequired {
			return false, auth.ErrMissingCredentials
		}
		return false, nil
	}
	switch s.cfg.AuthMode {
	case config.AuthModeJWT:
		if s.cfg.JWT == nil {
			return false, auth.ErrInvalidCredentials
		}
		if err := s.cfg.JWT.Verify(credential); err != nil {
			return false, err
		}
		return true, nil
	default:
		if s.cfg.Tokens == nil {
			return false, auth.ErrInvalidCredentials
		}
		if _, ok := s.cfg.Tokens.Validate(credential); !ok {
			return false, auth.ErrInvalidCredentials
		}
		return true, nil
	}
}

// readPump owns all reads. It applies the per-connection message budget
// and hands every frame to the router. Returning tears down session state.
func (s *Server) readPump(c *wsConn) {
	defer func() {
		c.Close(websocket.CloseAbnormalClosure, "read loop exited")
		s.cfg.Router.HandleDisconnect(c, "transport closed")
	}()

	if s.cfg.MaxMessageBytes > 0 {
		c.ws.SetReadLimit(s.cfg.MaxMessageBytes)
	}

	var bucket *ratelimit.TokenBucket
	if s.cfg.MessagesPerSecond > 0 {
		perSec := int64(s.cfg.MessagesPerSecond)
		bucket = ratelimit.NewTokenBucket(s.cfg.Clock, perSec, perSec)
	}

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("read failed", "conn_id", c.ID(), "err", err)
			}
			return
		}
		if bucket != nil && !bucket.Allow(1) {
			s.cfg.Metrics.Inc(metrics.MessageRateLimited)
			s.log.Warn("message rate exceeded", "conn_id", c.ID(), "addr", c.remoteAddr)
			c.Close(websocket.ClosePolicyViolation, "message rate exceeded")
			return
		}
		s.cfg.Router.HandleMessage(c, data)
	}
}

// clientAddr strips the ephemeral port so rate limiting keys on the host.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
