package signaling

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rtcmesh/signal-relay/internal/auth"
	"github.com/rtcmesh/signal-relay/internal/httpserver"
	"github.com/rtcmesh/signal-relay/internal/metrics"
	"github.com/rtcmesh/signal-relay/internal/room"
	"github.com/rtcmesh/signal-relay/internal/token"
)

// API serves the relay's JSON endpoints alongside the WebSocket route.
type API struct {
	server  *Server
	router  *Router
	tokens  *token.Store
	authKey auth.KeyVerifier
	metrics *metrics.Metrics
	started time.Time
}

func NewAPI(server *Server, router *Router, tokens *token.Store, authKey string, m *metrics.Metrics) *API {
	return &API{
		server:  server,
		router:  router,
		tokens:  tokens,
		authKey: auth.KeyVerifier{Expected: authKey},
		metrics: m,
		started: time.Now(),
	}
}

// RegisterRoutes mounts the signaling surface on the shared mux.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", a.server.HandleWS)
	mux.HandleFunc("POST /auth", a.handleAuth)
	mux.HandleFunc("GET /rooms", a.handleRooms)
	mux.HandleFunc("GET /health", a.handleHealth)
}

type authRequest struct {
	AuthKey    string `json:"authKey"`
	ClientID   string `json:"clientId"`
	ClientType string `json:"clientType"`
}

type authResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
}

// handleAuth exchanges the shared key for a connection token.
func (a *API) handleAuth(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpserver.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}

	if err := a.authKey.Verify(req.AuthKey); err != nil {
		a.metrics.Inc(metrics.TokensRejected)
		httpserver.WriteJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid key"})
		return
	}

	tok, err := a.tokens.Issue(req.ClientID, req.ClientType)
	if err != nil {
		if errors.Is(err, token.ErrTokenLimit) {
			a.metrics.Inc(metrics.TokensRejected)
			httpserver.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "token capacity reached"})
			return
		}
		httpserver.WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "token issuance failed"})
		return
	}

	a.metrics.Inc(metrics.TokensIssued)
	httpserver.WriteJSON(w, http.StatusOK, authResponse{
		Token:     tok,
		ExpiresIn: int64(a.tokens.Stats().TTL.Seconds()),
	})
}

func (a *API) handleRooms(w http.ResponseWriter, r *http.Request) {
	summaries := a.router.Rooms()
	if summaries == nil {
		summaries = []room.Summary{}
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"rooms": summaries,
		"count": len(summaries),
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	conns, clients, rooms := a.router.Stats()
	body := map[string]any{
		"status":        "ok",
		"uptimeSeconds": int64(time.Since(a.started).Seconds()),
		"connections":   conns,
		"clients":       clients,
		"rooms":         rooms,
	}
	if a.tokens != nil {
		ts := a.tokens.Stats()
		body["tokens"] = map[string]any{
			"live": ts.Live,
			"max":  ts.Max,
		}
	}
	httpserver.WriteJSON(w, http.StatusOK, body)
}
