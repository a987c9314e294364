package signaling

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rtcmesh/signal-relay/internal/metrics"
	"github.com/rtcmesh/signal-relay/internal/room"
)

// livenessProbe is implemented by transport connections that support the
// ping/pong heartbeat.
type livenessProbe interface {
	AwaitingPong() bool
	MarkAwaitingPong()
	Ping() error
}

// connLister enumerates live connections; satisfied by Router.
type connLister interface {
	Connections() []room.Conn
}

// Supervisor terminates connections that stop answering liveness probes.
// Each tick closes connections still awaiting the previous pong and probes
// the rest, so a half-open connection holds its room slot for at most about
// two intervals.
type Supervisor struct {
	conns    connLister
	interval time.Duration
	log      *slog.Logger
	metrics  *metrics.Metrics
}

func NewSupervisor(conns connLister, interval time.Duration, logger *slog.Logger, m *metrics.Metrics) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		conns:    conns,
		interval: interval,
		log:      logger,
		metrics:  m,
	}
}

// Tick runs one heartbeat round. Closing an unresponsive connection fires
// the transport's close path, which routes into Router.HandleDisconnect.
func (s *Supervisor) Tick() {
	for _, c := range s.conns.Connections() {
		p, ok := c.(livenessProbe)
		if !ok || !c.Alive() {
			continue
		}
		if p.AwaitingPong() {
			s.metrics.Inc(metrics.HeartbeatTerminations)
			s.log.Info("terminating unresponsive connection", "conn_id", c.ID())
			c.Close(websocket.CloseGoingAway, "heartbeat timeout")
			continue
		}
		p.MarkAwaitingPong()
		if err := p.Ping(); err != nil {
			s.metrics.Inc(metrics.HeartbeatTerminations)
			c.Close(websocket.CloseGoingAway, "heartbeat failed")
		}
	}
}

// Run ticks on the configured interval until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}
