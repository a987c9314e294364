package signaling

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseEnvelope_ValidMessages(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   string
		typ  string
	}{
		{"join room", `{"type":"join-room","roomId":"room-1","role":"host"}`, TypeJoinRoom},
		{"register", `{"type":"register","roomId":"room-1","peerId":"p1","clientType":"quest"}`, TypeRegister},
		{"offer", `{"type":"offer","sdp":"v=0"}`, TypeOffer},
		{"answer with target", `{"type":"answer","sdp":"v=0","targetPeerId":"p2"}`, TypeAnswer},
		{"ice candidate", `{"type":"ice-candidate","candidate":"candidate:1 1 udp"}`, TypeICECandidate},
		{"unknown type relays", `{"type":"chat","text":"hi"}`, "chat"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env, err := parseEnvelope([]byte(tc.in))
			if err != nil {
				t.Fatalf("parseEnvelope: %v", err)
			}
			if env.Type != tc.typ {
				t.Errorf("Type = %q, want %q", env.Type, tc.typ)
			}
		})
	}
}

func TestParseEnvelope_Rejections(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   string
	}{
		{"not json", `not json`},
		{"json array", `[1,2,3]`},
		{"missing type", `{"roomId":"r"}`},
		{"non-string type", `{"type":5}`},
		{"type too long", `{"type":"` + strings.Repeat("x", maxTypeLen+1) + `"}`},
		{"join without room", `{"type":"join-room","role":"host"}`},
		{"join without role", `{"type":"join-room","roomId":"r"}`},
		{"register without peer", `{"type":"register","roomId":"r","clientType":"quest"}`},
		{"offer without sdp", `{"type":"offer"}`},
		{"ice without candidate", `{"type":"ice-candidate"}`},
		{"bad room id chars", `{"type":"join-room","roomId":"room one!","role":"host"}`},
		{"room id too long", `{"type":"join-room","roomId":"` + strings.Repeat("r", 51) + `","role":"host"}`},
		{"bad peer id", `{"type":"register","roomId":"r","peerId":"p one","clientType":"quest"}`},
		{"peer id too long", `{"type":"register","roomId":"r","peerId":"` + strings.Repeat("p", 101) + `","clientType":"quest"}`},
		{"bad target peer id", `{"type":"offer","sdp":"v=0","targetPeerId":"<bad>"}`},
		{"non-string room id", `{"type":"join-room","roomId":7,"role":"host"}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseEnvelope([]byte(tc.in)); err == nil {
				t.Fatalf("parseEnvelope(%s): want error", tc.in)
			}
		})
	}
}

func TestParseEnvelope_SizeCeilings(t *testing.T) {
	bigSDP := `{"type":"offer","sdp":"` + strings.Repeat("a", maxSDPLen+1) + `"}`
	if _, err := parseEnvelope([]byte(bigSDP)); err == nil {
		t.Error("oversized sdp accepted")
	}
	okSDP := `{"type":"offer","sdp":"` + strings.Repeat("a", maxSDPLen) + `"}`
	if _, err := parseEnvelope([]byte(okSDP)); err != nil {
		t.Errorf("sdp at limit rejected: %v", err)
	}

	bigCand := `{"type":"ice-candidate","candidate":"` + strings.Repeat("c", maxCandidateLen+1) + `"}`
	if _, err := parseEnvelope([]byte(bigCand)); err == nil {
		t.Error("oversized candidate accepted")
	}
}

func TestStamped_PreservesUnknownFieldsAndStampsSource(t *testing.T) {
	env, err := parseEnvelope([]byte(`{"type":"offer","sdp":"v=0","custom":{"nested":true},"sourcePeerId":"forged"}`))
	if err != nil {
		t.Fatalf("parseEnvelope: %v", err)
	}

	out, err := env.Stamped("real-peer")
	if err != nil {
		t.Fatalf("Stamped: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["sourcePeerId"] != "real-peer" {
		t.Errorf("sourcePeerId = %v, want overwritten with real-peer", got["sourcePeerId"])
	}
	if got["sdp"] != "v=0" {
		t.Errorf("sdp = %v", got["sdp"])
	}
	custom, ok := got["custom"].(map[string]any)
	if !ok || custom["nested"] != true {
		t.Errorf("custom field not preserved: %v", got["custom"])
	}
}

func TestSanitizeText(t *testing.T) {
	for _, tc := range []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"  padded  ", "padded"},
		{"<script>alert(1)</script>rest", "rest"},
		{"<SCRIPT>alert(1)</SCRIPT>rest", "rest"},
		{"<script\nsrc='x'>alert(1)</script>rest", "rest"},
		{"<b>bold</b>", "bold"},
		{"a <i>b</i> c", "a b c"},
		{"", ""},
	} {
		if got := sanitizeText(tc.in); got != tc.want {
			t.Errorf("sanitizeText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
