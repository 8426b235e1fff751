package monitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rtc.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

const validDoc = `{"iceServers":[{"urls":["stun:example.com:3478"]}]}`

func TestResolve_Precedence(t *testing.T) {
	filePath := writeTempConfig(t, validDoc)

	full := Config{
		FilePath:         filePath,
		TurnHost:         "relay.example.com",
		TurnPort:         3478,
		TurnSharedSecret: "secret",
		TurnUsername:     "legacy",
		TurnPassword:     "pw",
		TurnProtocol:     "udp",
		RESTURI:          "http://coturn-web.example.com/",
		Username:         "host1",
		AuthHeader:       "x-auth-user",
		Period:           time.Minute,
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   Kind
	}{
		{"file wins over everything", func(c *Config) {}, KindStaticFile},
		{"missing file falls through", func(c *Config) { c.FilePath = filepath.Join(t.TempDir(), "absent.json") }, KindHMAC},
		{"hmac wins over legacy and rest", func(c *Config) { c.FilePath = "" }, KindHMAC},
		{"legacy wins over rest", func(c *Config) { c.FilePath = ""; c.TurnSharedSecret = "" }, KindStatic},
		{"rest is last", func(c *Config) { c.FilePath = ""; c.TurnSharedSecret = ""; c.TurnUsername = "" }, KindREST},
		{"nothing configured", func(c *Config) { *c = Config{} }, KindDefault},
		{"hmac requires host and port", func(c *Config) {
			c.FilePath = ""
			c.TurnHost = ""
			c.TurnUsername = ""
		}, KindREST},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := full
			tc.mutate(&cfg)
			if got := Resolve(cfg).Kind; got != tc.want {
				t.Fatalf("Resolve: got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestInitialConfig_StaticFile(t *testing.T) {
	path := writeTempConfig(t, validDoc)
	src := Resolve(Config{FilePath: path})
	cfg, err := src.InitialConfig(context.Background(), discardLogger())
	if err != nil {
		t.Fatalf("InitialConfig: %v", err)
	}
	if len(cfg.StunURIs) != 1 {
		t.Fatalf("StunURIs: got %v", cfg.StunURIs)
	}
}

func TestInitialConfig_StaticFileMalformed(t *testing.T) {
	path := writeTempConfig(t, `{}`)
	src := Source{Kind: KindStaticFile, Config: Config{FilePath: path}}
	if _, err := src.InitialConfig(context.Background(), discardLogger()); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestInitialConfig_HMAC(t *testing.T) {
	src := Resolve(Config{
		TurnHost:         "relay.example.com",
		TurnPort:         3478,
		TurnSharedSecret: "secret",
		TurnProtocol:     "udp",
		Username:         "host1",
	})
	cfg, err := src.InitialConfig(context.Background(), discardLogger())
	if err != nil {
		t.Fatalf("InitialConfig: %v", err)
	}
	if len(cfg.TurnURIs) != 1 {
		t.Fatalf("TurnURIs: got %v", cfg.TurnURIs)
	}
}

func TestInitialConfig_LegacyStatic(t *testing.T) {
	src := Resolve(Config{
		TurnHost:     "relay.example.com",
		TurnPort:     3478,
		TurnUsername: "legacy",
		TurnPassword: "pw",
		TurnProtocol: "udp",
	})
	if src.Kind != KindStatic {
		t.Fatalf("Kind: got %v", src.Kind)
	}
	cfg, err := src.InitialConfig(context.Background(), discardLogger())
	if err != nil {
		t.Fatalf("InitialConfig: %v", err)
	}
	if len(cfg.TurnURIs) != 1 {
		t.Fatalf("TurnURIs: got %v", cfg.TurnURIs)
	}
}

func TestInitialConfig_RESTFallsBackToDefault(t *testing.T) {
	src := Resolve(Config{RESTURI: "http://127.0.0.1:1/"})
	cfg, err := src.InitialConfig(context.Background(), discardLogger())
	if err != nil {
		t.Fatalf("InitialConfig: %v", err)
	}
	if len(cfg.StunURIs) != 1 || len(cfg.TurnURIs) != 0 {
		t.Fatalf("expected default descriptor, got %v / %v", cfg.StunURIs, cfg.TurnURIs)
	}
}
