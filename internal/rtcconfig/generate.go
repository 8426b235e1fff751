package rtcconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/hostwire/streamgate/internal/turnrest"
)

// PublicStunURL is included in every generated descriptor so clients always
// have a reflection server even when the TURN host is unreachable.
const PublicStunURL = "stun:stun.l.google.com:19302"

const generatedLifetime = "86400s"

var defaultDocument = []byte(`{
  "lifetimeDuration": "86400s",
  "iceServers": [
    {
      "urls": [
        "stun:stun.l.google.com:19302"
      ]
    }
  ],
  "blockStatus": "NOT_BLOCKED",
  "iceTransportPolicy": "all"
}`)

// Default returns the fallback descriptor used when no credential source is
// available: a single public STUN server and no relay.
func Default() *RTCConfig {
	cfg, err := Parse(defaultDocument)
	if err != nil {
		panic(fmt.Sprintf("rtcconfig: default document does not parse: %v", err))
	}
	return cfg
}

// GenerateHMAC builds a descriptor whose TURN entry carries a time-limited
// credential from the generator. The generator composes the expiry-prefixed
// username; pass the plain user here. The resulting document has two
// entries: the STUN entry (public server plus stun:host:port) and the
// TURN(S) entry with ?transport=<protocol>.
func GenerateHMAC(g *turnrest.Generator, host string, port int, user, protocol string, tls bool) ([]byte, error) {
	if g == nil {
		return nil, errors.New("turnrest generator is required")
	}
	creds, err := g.Generate(user)
	if err != nil {
		return nil, err
	}
	return buildTurnDocument(host, port, creds.Username, creds.Credential, protocol, tls)
}

// GenerateStatic builds a descriptor from legacy long-lived TURN
// credentials.
func GenerateStatic(host string, port int, username, password, protocol string, tls bool) ([]byte, error) {
	return buildTurnDocument(host, port, username, password, protocol, tls)
}

func buildTurnDocument(host string, port int, username, credential, protocol string, tls bool) ([]byte, error) {
	if host == "" || port <= 0 {
		return nil, errors.New("turn host and port are required")
	}
	if protocol != "udp" && protocol != "tcp" {
		return nil, fmt.Errorf("unsupported turn transport %q", protocol)
	}
	scheme := "turn"
	if tls {
		scheme = "turns"
	}
	hostport := net.JoinHostPort(host, strconv.Itoa(port))
	doc := Document{
		LifetimeDuration: generatedLifetime,
		ICEServers: []ICEServer{
			{URLs: stringOrStringSlice{
				PublicStunURL,
				fmt.Sprintf("stun:%s", hostport),
			}},
			{
				URLs:       stringOrStringSlice{fmt.Sprintf("%s:%s?transport=%s", scheme, hostport, protocol)},
				Username:   username,
				Credential: credential,
			},
		},
		BlockStatus:        "NOT_BLOCKED",
		ICETransportPolicy: "all",
	}
	return json.MarshalIndent(doc, "", "  ")
}
