// Package rtcconfig parses and generates ICE server descriptor documents.
//
// The on-disk and on-wire format is the coturn-web document:
//
//	{
//	  "lifetimeDuration": "86400s",
//	  "iceServers": [{"urls": [...], "username": ..., "credential": ...}],
//	  "blockStatus": "NOT_BLOCKED",
//	  "iceTransportPolicy": "all"
//	}
//
// Parse normalizes every server URL into a gateway URI: stun://host:port
// for STUN entries, turn(s)://user:pass@host:port for TURN entries with the
// username and credential percent-encoded. The raw document is retained so
// it can be republished wholesale to newly-joining viewers.
package rtcconfig

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"

	"github.com/pion/webrtc/v4"
)

// ICEServer is one entry of a descriptor's iceServers list. URLs accepts
// both a JSON string and a JSON array of strings on decode.
type ICEServer struct {
	URLs       stringOrStringSlice `json:"urls"`
	Username   string              `json:"username,omitempty"`
	Credential string              `json:"credential,omitempty"`
}

type Document struct {
	LifetimeDuration   string      `json:"lifetimeDuration,omitempty"`
	ICEServers         []ICEServer `json:"iceServers"`
	BlockStatus        string      `json:"blockStatus,omitempty"`
	ICETransportPolicy string      `json:"iceTransportPolicy,omitempty"`
}

type stringOrStringSlice []string

func (s *stringOrStringSlice) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// RTCConfig is an immutable parsed descriptor. StunURIs and TurnURIs are the
// normalized endpoint URIs; Raw is the original document byte-for-byte.
type RTCConfig struct {
	StunURIs []string
	TurnURIs []string
	Raw      []byte
	Document Document
}

// Parse decodes a descriptor document and normalizes its server URLs.
func Parse(data []byte) (*RTCConfig, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if doc.ICEServers == nil {
		return nil, fmt.Errorf("%w: missing iceServers", ErrInvalidConfig)
	}

	cfg := &RTCConfig{Raw: data, Document: doc}
	for i, server := range doc.ICEServers {
		for _, url := range server.URLs {
			scheme, rest, ok := splitScheme(url)
			if !ok {
				continue
			}
			host, port, err := splitHostPort(rest)
			if err != nil {
				return nil, fmt.Errorf("%w: iceServers[%d] url %q: %v", ErrInvalidConfig, i, url, err)
			}
			switch scheme {
			case "stun":
				cfg.StunURIs = append(cfg.StunURIs, fmt.Sprintf("stun://%s", net.JoinHostPort(host, port)))
			case "turn", "turns":
				cfg.TurnURIs = append(cfg.TurnURIs, fmt.Sprintf("%s://%s:%s@%s",
					scheme,
					percentEncode(server.Username),
					percentEncode(server.Credential),
					net.JoinHostPort(host, port)))
			}
		}
	}
	return cfg, nil
}

// ICEServers converts the descriptor into pion's ICE server list.
func (c *RTCConfig) ICEServers() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(c.Document.ICEServers))
	for _, server := range c.Document.ICEServers {
		pc := webrtc.ICEServer{
			URLs:     append([]string(nil), server.URLs...),
			Username: server.Username,
		}
		if server.Credential != "" {
			pc.Credential = server.Credential
		}
		out = append(out, pc)
	}
	return out
}

func splitScheme(url string) (scheme, rest string, ok bool) {
	switch {
	case strings.HasPrefix(url, "stun:"):
		return "stun", url[len("stun:"):], true
	case strings.HasPrefix(url, "turns:"):
		return "turns", url[len("turns:"):], true
	case strings.HasPrefix(url, "turn:"):
		return "turn", url[len("turn:"):], true
	}
	return "", "", false
}

// splitHostPort parses the host:port portion of an ICE URL. The port token
// is truncated at the first '?' (TURN URLs carry a ?transport= query).
// Bracketed IPv6 literal hosts are handled by net.SplitHostPort.
func splitHostPort(hostport string) (host, port string, err error) {
	if i := strings.IndexByte(hostport, '?'); i >= 0 {
		hostport = hostport[:i]
	}
	host, port, err = net.SplitHostPort(hostport)
	if err != nil {
		return "", "", err
	}
	if host == "" || port == "" {
		return "", "", fmt.Errorf("missing host or port in %q", hostport)
	}
	return host, port, nil
}

const upperhex = "0123456789ABCDEF"

// percentEncode escapes every byte outside the RFC 3986 unreserved set.
// TURN usernames and credentials may legally contain '/', ':', '@' and '?',
// all of which would corrupt the composed URI if left raw.
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
			c == '-' || c == '.' || c == '_' || c == '~' {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&0xf])
	}
	return b.String()
}
