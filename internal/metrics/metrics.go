package metrics

import "sync"

// Counter names used across the relay. Kept as plain strings so components
// can increment ad-hoc counters without pre-registration.
const (
	AuthFailure           = "auth_failure"
	ConnRateLimited       = "conn_rate_limited"
	MessageRateLimited    = "message_rate_limited"
	ConnReplaced          = "conn_replaced"
	HeartbeatTerminations = "heartbeat_terminations"
	DeliveryFailures      = "delivery_failures"
	JoinRejected          = "join_rejected"
	TokensIssued          = "tokens_issued"
	TokensRejected        = "tokens_rejected"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// It exists to keep enforcement and routing logic observable and testable
// without pulling in a full metrics backend; the counters are exported via
// the Prometheus text handler in this package.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
