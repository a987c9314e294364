// Package token issues and validates the short-lived opaque credentials used
// for connection admission.
package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rtcmesh/signal-relay/internal/ratelimit"
)

// ErrTokenLimit is returned by Issue when the store is at capacity and a
// forced sweep could not free a slot.
var ErrTokenLimit = errors.New("token limit reached")

// tokenLen is the wire length of a token: 32 bytes of entropy, hex encoded.
const tokenLen = 64

const maxIDLen = 100

// Record is the metadata attached to an issued token. Callers must treat
// returned records as read-only; the store updates LastUsed itself.
type Record struct {
	ClientID   string
	ClientType string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastUsed   time.Time
}

// Stats is a point-in-time summary exposed on the health surface.
type Stats struct {
	Live int
	Max  int
	TTL  time.Duration
}

// Store holds issued tokens in memory. Nothing survives a restart; a client
// whose token disappears simply re-authenticates.
type Store struct {
	clock ratelimit.Clock
	log   *slog.Logger

	max int
	ttl time.Duration

	mu     sync.Mutex
	tokens map[string]*Record
}

func NewStore(clock ratelimit.Clock, logger *slog.Logger, max int, ttl time.Duration) *Store {
	if clock == nil {
		clock = ratelimit.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		clock:  clock,
		log:    logger,
		max:    max,
		ttl:    ttl,
		tokens: make(map[string]*Record),
	}
}

// Issue mints a token for the given client identifiers. Identifiers are
// sanitized before storage so they are safe to echo into logs. At capacity
// the store sweeps expired records first and fails with ErrTokenLimit only
// if that did not free a slot.
func (s *Store) Issue(clientID, clientType string) (string, error) {
	var buf [tokenLen / 2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	tok := hex.EncodeToString(buf[:])
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.max > 0 && len(s.tokens) >= s.max {
		s.sweepLocked(now)
		if len(s.tokens) >= s.max {
			return "", ErrTokenLimit
		}
	}

	s.tokens[tok] = &Record{
		ClientID:   SanitizeID(clientID),
		ClientType: SanitizeID(clientType),
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
		LastUsed:   now,
	}
	return tok, nil
}

// Validate looks up tok and reports whether it is live. Expired records are
// evicted as a side effect, so a second Validate of the same expired token
// behaves identically to the first. On success LastUsed is refreshed and a
// copy of the record is returned.
func (s *Store) Validate(tok string) (Record, bool) {
	if len(tok) != tokenLen {
		return Record{}, false
	}

	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tokens[tok]
	if !ok {
		return Record{}, false
	}
	if now.After(rec.ExpiresAt) {
		delete(s.tokens, tok)
		return Record{}, false
	}

	rec.LastUsed = now
	return *rec, true
}

// Revoke removes tok. It is a no-op for unknown tokens.
func (s *Store) Revoke(tok string) {
	s.mu.Lock()
	delete(s.tokens, tok)
	s.mu.Unlock()
}

// Sweep removes all expired records and returns how many were evicted.
func (s *Store) Sweep() int {
	now := s.clock.Now()
	s.mu.Lock()
	removed := s.sweepLocked(now)
	s.mu.Unlock()

	if removed > 0 {
		s.log.Info("swept expired tokens", "removed", removed)
	}
	return removed
}

func (s *Store) sweepLocked(now time.Time) int {
	removed := 0
	for tok, rec := range s.tokens {
		if now.After(rec.ExpiresAt) {
			delete(s.tokens, tok)
			removed++
		}
	}
	return removed
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	live := len(s.tokens)
	s.mu.Unlock()
	return Stats{Live: live, Max: s.max, TTL: s.ttl}
}

// Run sweeps on the given interval until ctx is cancelled.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// SanitizeID strips everything outside [A-Za-z0-9_-] and caps the length,
// bounding per-entry memory and preventing log/path injection.
func SanitizeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		if b.Len() >= maxIDLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}
