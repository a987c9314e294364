package signaling

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Inbound message types.
const (
	// TypeRegister is the legacy alias for join-room kept for old clients:
	// clientType "quest" maps to the host role, anything else to guest.
	TypeRegister     = "register"
	TypeJoinRoom     = "join-room"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
)

// Outbound message types.
const (
	TypeJoinedRoom       = "joined-room"
	TypePeerJoined       = "peer-joined"
	TypePeerLeft         = "peer-left"
	TypeClientReady      = "client-ready"
	TypeHostDisconnected = "host-disconnected"
	TypeError            = "error"
)

const (
	maxTypeLen      = 50
	maxSDPLen       = 100000
	maxCandidateLen = 1000
)

var (
	roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)
	peerIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)
)

// protocolError is a validation or state failure reported back to the
// offending connection as an error message; the connection stays open.
type protocolError struct {
	Context string
	Message string
}

func (e *protocolError) Error() string { return e.Context + ": " + e.Message }

func errf(context, format string, args ...any) *protocolError {
	return &protocolError{Context: context, Message: fmt.Sprintf(format, args...)}
}

// Envelope is one parsed inbound message. Known fields are extracted and
// validated; the raw field set is retained so routable and unknown messages
// can be relayed verbatim (plus the server-stamped sourcePeerId) without the
// relay understanding them.
type Envelope struct {
	Type           string
	RoomID         string
	PeerID         string
	Role           string
	ClientType     string
	TargetPeerID   string
	SDP            string
	Candidate      string
	MaxConnections int

	raw map[string]json.RawMessage
}

// parseEnvelope performs the structural layer of validation: well-formed
// JSON object with a bounded-length string `type`. Semantic, per-type checks
// live in validate.
func parseEnvelope(data []byte) (*Envelope, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errf("parse", "message must be a JSON object")
	}

	env := &Envelope{raw: raw}
	typ, ok, err := rawString(raw, "type")
	if err != nil || !ok || typ == "" {
		return nil, errf("parse", "message type is required and must be a string")
	}
	if len(typ) > maxTypeLen {
		return nil, errf("parse", "message type too long (max %d chars)", maxTypeLen)
	}
	env.Type = typ

	for _, f := range []struct {
		key string
		dst *string
	}{
		{"roomId", &env.RoomID},
		{"peerId", &env.PeerID},
		{"role", &env.Role},
		{"clientType", &env.ClientType},
		{"targetPeerId", &env.TargetPeerID},
		{"sdp", &env.SDP},
		{"candidate", &env.Candidate},
	} {
		v, ok, err := rawString(raw, f.key)
		if err != nil {
			return nil, errf(typ, "field %q must be a string", f.key)
		}
		if ok {
			*f.dst = v
		}
	}

	if v, ok := raw["maxConnections"]; ok {
		if err := json.Unmarshal(v, &env.MaxConnections); err != nil {
			return nil, errf(typ, "field \"maxConnections\" must be a number")
		}
	}

	if err := env.validate(); err != nil {
		return nil, err
	}
	return env, nil
}

func (e *Envelope) validate() error {
	switch e.Type {
	case TypeRegister:
		if e.PeerID == "" || e.ClientType == "" || e.RoomID == "" {
			return errf(e.Type, "peerId, clientType and roomId are required")
		}
	case TypeJoinRoom:
		if e.RoomID == "" {
			return errf(e.Type, "roomId is required")
		}
		if e.Role == "" {
			return errf(e.Type, "role is required")
		}
	case TypeOffer, TypeAnswer:
		if e.SDP == "" {
			return errf(e.Type, "sdp is required")
		}
		if len(e.SDP) > maxSDPLen {
			return errf(e.Type, "sdp too large (max %d chars)", maxSDPLen)
		}
	case TypeICECandidate:
		if e.Candidate == "" {
			return errf(e.Type, "candidate is required")
		}
		if len(e.Candidate) > maxCandidateLen {
			return errf(e.Type, "candidate too long (max %d chars)", maxCandidateLen)
		}
	}

	if e.RoomID != "" && !roomIDPattern.MatchString(e.RoomID) {
		return errf(e.Type, "invalid room id format (alphanumeric, underscore, hyphen only, max 50 chars)")
	}
	if e.PeerID != "" && !peerIDPattern.MatchString(e.PeerID) {
		return errf(e.Type, "invalid peer id format")
	}
	if e.TargetPeerID != "" && !peerIDPattern.MatchString(e.TargetPeerID) {
		return errf(e.Type, "invalid target peer id format")
	}
	return nil
}

// Stamped returns the original field set with the server-stamped
// sourcePeerId, for verbatim relaying.
func (e *Envelope) Stamped(sourcePeerID string) ([]byte, error) {
	out := make(map[string]json.RawMessage, len(e.raw)+1)
	for k, v := range e.raw {
		out[k] = v
	}
	src, err := json.Marshal(sourcePeerID)
	if err != nil {
		return nil, err
	}
	out["sourcePeerId"] = src
	return json.Marshal(out)
}

func rawString(raw map[string]json.RawMessage, key string) (string, bool, error) {
	v, ok := raw[key]
	if !ok {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", true, err
	}
	return s, true, nil
}

// Outbound wire shapes.

type joinedRoomMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	PeerID string `json:"peerId"`
	Role   string `json:"role"`
	IsHost bool   `json:"isHost"`
}

type peerEventMsg struct {
	Type   string `json:"type"`
	PeerID string `json:"peerId"`
	Role   string `json:"role"`
}

type clientReadyMsg struct {
	Type   string `json:"type"`
	PeerID string `json:"peerId"`
}

type hostDisconnectedMsg struct {
	Type string `json:"type"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Context string `json:"context,omitempty"`
}

var (
	scriptTagPattern = regexp.MustCompile(`(?is)<script\b.*?</script>`)
	htmlTagPattern   = regexp.MustCompile(`<[^>]+>`)
)

// sanitizeText strips script blocks and HTML tags from caller-supplied text
// before it is stored or echoed, so a payload can never reflect markup into
// a later rendering surface.
func sanitizeText(s string) string {
	s = scriptTagPattern.ReplaceAllString(s, "")
	s = htmlTagPattern.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
