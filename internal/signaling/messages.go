package signaling

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// The relay speaks a line-oriented dialect over one websocket:
//
//	client -> server:  HELLO <localID> <metaJSON>
//	                   SESSION <peerID>
//	                   {"sdp": {"type": ..., "sdp": ...}}
//	                   {"ice": {"candidate": ..., "sdpMLineIndex": ...}}
//	server -> client:  HELLO
//	                   SESSION_OK <peerID> [metaJSON]
//	                   ERROR <text>        ("ERROR peer <id> not found" is
//	                                        the transient no-peer condition)
//	                   the same JSON sdp/ice payloads
type messageKind int

const (
	kindRegistered messageKind = iota
	kindSessionOK
	kindError
	kindSDP
	kindICE
)

// SessionMeta is viewer metadata attached to a session-established event:
// the viewer's viewport resolution ("1920x1080") and DPI scale factor.
type SessionMeta struct {
	Res   string  `json:"res,omitempty"`
	Scale float64 `json:"scale,omitempty"`
}

type serverMessage struct {
	kind      messageKind
	peerID    string
	meta      *SessionMeta
	err       error
	sdp       *webrtc.SessionDescription
	candidate *webrtc.ICECandidateInit
}

type jsonPayload struct {
	SDP *struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	} `json:"sdp,omitempty"`
	ICE *webrtc.ICECandidateInit `json:"ice,omitempty"`
}

func parseServerMessage(data []byte) (serverMessage, error) {
	text := string(data)
	switch {
	case text == "HELLO":
		return serverMessage{kind: kindRegistered}, nil

	case strings.HasPrefix(text, "SESSION_OK"):
		fields := strings.SplitN(strings.TrimSpace(text), " ", 3)
		if len(fields) < 2 {
			return serverMessage{}, fmt.Errorf("malformed session message %q", text)
		}
		msg := serverMessage{kind: kindSessionOK, peerID: fields[1]}
		if len(fields) == 3 && fields[2] != "" {
			var meta SessionMeta
			if err := json.Unmarshal([]byte(fields[2]), &meta); err != nil {
				return serverMessage{}, fmt.Errorf("malformed session meta %q: %w", fields[2], err)
			}
			msg.meta = &meta
		}
		return msg, nil

	case strings.HasPrefix(text, "ERROR"):
		detail := strings.TrimSpace(strings.TrimPrefix(text, "ERROR"))
		if strings.HasPrefix(detail, "peer") && strings.HasSuffix(detail, "not found") {
			return serverMessage{kind: kindError, err: fmt.Errorf("%s: %w", detail, ErrPeerAbsent)}, nil
		}
		return serverMessage{kind: kindError, err: &ServerError{Message: detail}}, nil
	}

	var payload jsonPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return serverMessage{}, fmt.Errorf("unrecognized signaling message %q", text)
	}
	switch {
	case payload.SDP != nil:
		sdpType := webrtc.NewSDPType(payload.SDP.Type)
		if sdpType == webrtc.SDPTypeUnknown {
			return serverMessage{}, fmt.Errorf("unsupported sdp type %q", payload.SDP.Type)
		}
		return serverMessage{
			kind: kindSDP,
			sdp:  &webrtc.SessionDescription{Type: sdpType, SDP: payload.SDP.SDP},
		}, nil
	case payload.ICE != nil:
		return serverMessage{kind: kindICE, candidate: payload.ICE}, nil
	default:
		return serverMessage{}, fmt.Errorf("signaling payload carries neither sdp nor ice: %q", text)
	}
}

func formatHello(localID string, meta any) (string, error) {
	raw, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encoding hello meta: %w", err)
	}
	return fmt.Sprintf("HELLO %s %s", localID, raw), nil
}

func formatSession(peerID string) string {
	return fmt.Sprintf("SESSION %s", peerID)
}

func formatSDP(desc webrtc.SessionDescription) ([]byte, error) {
	payload := map[string]any{
		"sdp": map[string]string{
			"type": desc.Type.String(),
			"sdp":  desc.SDP,
		},
	}
	return json.Marshal(payload)
}

func formatICE(candidate webrtc.ICECandidateInit) ([]byte, error) {
	return json.Marshal(map[string]any{"ice": candidate})
}
