// Package monitor keeps the gateway's ICE server descriptor fresh. It runs
// one credential source — chosen once at startup — on its own schedule and
// delivers every refreshed descriptor through a single callback.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hostwire/streamgate/internal/rtcconfig"
	"github.com/hostwire/streamgate/internal/turnrest"
)

// Kind names the credential source selected at startup.
type Kind int

const (
	// KindDefault means no source was usable; the static default
	// descriptor is served and never refreshed.
	KindDefault Kind = iota
	KindStaticFile
	KindHMAC
	KindStatic
	KindREST
)

func (k Kind) String() string {
	switch k {
	case KindStaticFile:
		return "static-file"
	case KindHMAC:
		return "hmac"
	case KindStatic:
		return "static-credentials"
	case KindREST:
		return "rest"
	default:
		return "default"
	}
}

// Config carries the parameters of all credential sources. Which fields are
// consulted depends on the resolved Kind.
type Config struct {
	// Static-file source.
	FilePath string

	// HMAC and legacy static sources.
	TurnHost         string
	TurnPort         int
	TurnSharedSecret string
	TurnUsername     string
	TurnPassword     string
	TurnProtocol     string
	TurnTLS          bool

	// REST source. Username is also the user baked into HMAC-generated
	// credentials.
	RESTURI    string
	Username   string
	AuthHeader string

	// Period between refreshes for the polling sources.
	Period time.Duration
}

// Source is the resolved credential source: exactly one Kind, fixed for the
// lifetime of the process.
type Source struct {
	Kind Kind
	Config
}

// Resolve applies the startup precedence exactly once:
// static file > HMAC shared secret > legacy static credentials > REST.
// The three sources are mutually exclusive by construction; there are no
// per-source enabled flags to keep consistent.
func Resolve(cfg Config) Source {
	if cfg.FilePath != "" {
		if _, err := os.Stat(cfg.FilePath); err == nil {
			return Source{Kind: KindStaticFile, Config: cfg}
		}
	}
	if cfg.TurnSharedSecret != "" && cfg.TurnHost != "" && cfg.TurnPort > 0 {
		return Source{Kind: KindHMAC, Config: cfg}
	}
	if cfg.TurnUsername != "" && cfg.TurnPassword != "" && cfg.TurnHost != "" && cfg.TurnPort > 0 {
		return Source{Kind: KindStatic, Config: cfg}
	}
	if cfg.RESTURI != "" {
		return Source{Kind: KindREST, Config: cfg}
	}
	return Source{Kind: KindDefault, Config: cfg}
}

// InitialConfig performs the one-shot startup acquisition for the resolved
// source. A failing REST fetch falls back to the default descriptor so the
// gateway still comes up with a public STUN server; every other source
// failure is fatal at startup.
func (s Source) InitialConfig(ctx context.Context, log *slog.Logger) (*rtcconfig.RTCConfig, error) {
	switch s.Kind {
	case KindStaticFile:
		data, err := os.ReadFile(s.FilePath)
		if err != nil {
			return nil, fmt.Errorf("reading rtc config file %s: %w", s.FilePath, err)
		}
		return rtcconfig.Parse(data)
	case KindHMAC:
		gen, err := s.generator()
		if err != nil {
			return nil, err
		}
		data, err := rtcconfig.GenerateHMAC(gen, s.TurnHost, s.TurnPort, s.Username, s.TurnProtocol, s.TurnTLS)
		if err != nil {
			return nil, err
		}
		return rtcconfig.Parse(data)
	case KindStatic:
		data, err := rtcconfig.GenerateStatic(s.TurnHost, s.TurnPort, s.TurnUsername, s.TurnPassword, s.TurnProtocol, s.TurnTLS)
		if err != nil {
			return nil, err
		}
		return rtcconfig.Parse(data)
	case KindREST:
		cfg, err := rtcconfig.FetchREST(ctx, &http.Client{Timeout: 10 * time.Second}, s.RESTURI, s.Username, s.AuthHeader)
		if err != nil {
			log.Warn("initial rtc config fetch failed, using default descriptor", "err", err)
			return rtcconfig.Default(), nil
		}
		return cfg, nil
	default:
		return rtcconfig.Default(), nil
	}
}

func (s Source) generator() (*turnrest.Generator, error) {
	if s.TurnSharedSecret == "" {
		return nil, errors.New("turn shared secret is required for the hmac source")
	}
	return turnrest.NewGenerator(turnrest.GeneratorConfig{
		SharedSecret: s.TurnSharedSecret,
		TTLSeconds:   turnrest.DefaultTTLSeconds,
	})
}
