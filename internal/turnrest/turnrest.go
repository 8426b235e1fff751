package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

// This package implements coturn-compatible TURN REST credentials.
//
// See:
// - https://github.com/coturn/coturn/wiki/turnserver
// - https://datatracker.ietf.org/doc/html/draft-uberti-behave-turn-rest
//
// Algorithm (coturn-compatible):
//
//	username   = <unix_expiry_timestamp>:<user>
//	credential = base64(hmac_sha1(shared_secret, username))
//
// Expiry is computed using the server clock in UTC:
//
//	unix_expiry_timestamp = now_utc_unix + ttl_seconds
//
// The user portion must not contain ':' (coturn treats it as a field
// separator), so Credentials replaces each ':' with '-' before composing
// the username. Callers therefore pass the plain user; the composed,
// expiry-prefixed username is returned alongside the credential and is the
// value that must appear in the ICE server descriptor.
type Generator struct {
	sharedSecret []byte
	ttlSeconds   int64
	now          func() time.Time
}

// DefaultTTLSeconds matches the descriptor lifetime advertised by the
// gateway (24 hours).
const DefaultTTLSeconds int64 = 24 * 3600

type GeneratorConfig struct {
	SharedSecret string
	// TTLSeconds defaults to DefaultTTLSeconds when zero.
	TTLSeconds int64
	Now        func() time.Time
}

func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("shared secret is required")
	}
	if cfg.TTLSeconds < 0 {
		return nil, errors.New("TTLSeconds must be >= 0")
	}
	if cfg.TTLSeconds == 0 {
		cfg.TTLSeconds = DefaultTTLSeconds
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Generator{
		sharedSecret: []byte(cfg.SharedSecret),
		ttlSeconds:   cfg.TTLSeconds,
		now:          cfg.Now,
	}, nil
}

type Credentials struct {
	Username   string
	Credential string
	ExpiryUnix int64
}

func (g *Generator) Generate(user string) (Credentials, error) {
	if user == "" {
		return Credentials{}, errors.New("user is required")
	}
	user = strings.ReplaceAll(user, ":", "-")
	expiryUnix := g.now().UTC().Unix() + g.ttlSeconds
	username := fmt.Sprintf("%d:%s", expiryUnix, user)
	return Credentials{
		Username:   username,
		Credential: signUsername(g.sharedSecret, username),
		ExpiryUnix: expiryUnix,
	}, nil
}

func signUsername(sharedSecret []byte, username string) string {
	mac := hmac.New(sha1.New, sharedSecret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
