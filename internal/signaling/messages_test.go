package signaling

import (
	"errors"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestParseServerMessage(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want messageKind
	}{
		{"hello", "HELLO", kindRegistered},
		{"session ok", "SESSION_OK 1", kindSessionOK},
		{"session ok with meta", `SESSION_OK 1 {"res":"1920x1080","scale":1.5}`, kindSessionOK},
		{"peer absent", "ERROR peer 1 not found", kindError},
		{"server error", "ERROR internal failure", kindError},
		{"sdp", `{"sdp":{"type":"answer","sdp":"v=0"}}`, kindSDP},
		{"ice", `{"ice":{"candidate":"candidate:1","sdpMLineIndex":0}}`, kindICE},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := parseServerMessage([]byte(tc.in))
			if err != nil {
				t.Fatalf("parseServerMessage(%q): %v", tc.in, err)
			}
			if msg.kind != tc.want {
				t.Fatalf("kind: got %v, want %v", msg.kind, tc.want)
			}
		})
	}
}

func TestParseServerMessage_SessionMeta(t *testing.T) {
	msg, err := parseServerMessage([]byte(`SESSION_OK 3 {"res":"2560x1440","scale":2}`))
	if err != nil {
		t.Fatalf("parseServerMessage: %v", err)
	}
	if msg.peerID != "3" {
		t.Fatalf("peerID: got %q", msg.peerID)
	}
	if msg.meta == nil || msg.meta.Res != "2560x1440" || msg.meta.Scale != 2 {
		t.Fatalf("meta: got %+v", msg.meta)
	}
}

func TestParseServerMessage_PeerAbsentSentinel(t *testing.T) {
	msg, err := parseServerMessage([]byte("ERROR peer 1 not found"))
	if err != nil {
		t.Fatalf("parseServerMessage: %v", err)
	}
	if !errors.Is(msg.err, ErrPeerAbsent) {
		t.Fatalf("err: got %v, want ErrPeerAbsent", msg.err)
	}
	// The relay's detail text rides along with the sentinel.
	if !strings.Contains(msg.err.Error(), "peer 1 not found") {
		t.Fatalf("err: got %v, want relay detail preserved", msg.err)
	}
}

func TestParseServerMessage_ServerError(t *testing.T) {
	msg, err := parseServerMessage([]byte("ERROR relay overloaded"))
	if err != nil {
		t.Fatalf("parseServerMessage: %v", err)
	}
	var serverErr *ServerError
	if !errors.As(msg.err, &serverErr) {
		t.Fatalf("err: got %v, want *ServerError", msg.err)
	}
	if serverErr.Message != "relay overloaded" {
		t.Fatalf("Message: got %q", serverErr.Message)
	}
}

func TestParseServerMessage_Malformed(t *testing.T) {
	for _, in := range []string{
		"SESSION_OK",
		`SESSION_OK 1 {bad json`,
		`{"neither":"nor"}`,
		"GOODBYE",
		`{"sdp":{"type":"bogus","sdp":"v=0"}}`,
	} {
		if _, err := parseServerMessage([]byte(in)); err == nil {
			t.Fatalf("parseServerMessage(%q): expected error", in)
		}
	}
}

func TestFormatHello(t *testing.T) {
	got, err := formatHello("0", map[string]string{"conn_id": "abc"})
	if err != nil {
		t.Fatalf("formatHello: %v", err)
	}
	if got != `HELLO 0 {"conn_id":"abc"}` {
		t.Fatalf("formatHello: got %q", got)
	}
}

func TestFormatSDPAndICE(t *testing.T) {
	sdpData, err := formatSDP(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
	if err != nil {
		t.Fatalf("formatSDP: %v", err)
	}
	msg, err := parseServerMessage(sdpData)
	if err != nil || msg.kind != kindSDP {
		t.Fatalf("sdp round-trip: %v %v", msg.kind, err)
	}
	if msg.sdp.Type != webrtc.SDPTypeOffer || msg.sdp.SDP != "v=0" {
		t.Fatalf("sdp round-trip: got %+v", msg.sdp)
	}

	iceData, err := formatICE(webrtc.ICECandidateInit{Candidate: "candidate:1"})
	if err != nil {
		t.Fatalf("formatICE: %v", err)
	}
	msg, err = parseServerMessage(iceData)
	if err != nil || msg.kind != kindICE {
		t.Fatalf("ice round-trip: %v %v", msg.kind, err)
	}
	if msg.candidate.Candidate != "candidate:1" {
		t.Fatalf("ice round-trip: got %+v", msg.candidate)
	}
	if !strings.HasPrefix(formatSession("1"), "SESSION ") {
		t.Fatalf("formatSession: got %q", formatSession("1"))
	}
}
