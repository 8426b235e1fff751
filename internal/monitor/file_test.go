package monitor

import (
	"os"
	"testing"
	"time"

	"github.com/hostwire/streamgate/internal/rtcconfig"
)

func TestFileMonitor_DeliversOnWrite(t *testing.T) {
	path := writeTempConfig(t, validDoc)
	delivered := make(chan *rtcconfig.RTCConfig, 4)

	src := Resolve(Config{FilePath: path})
	m := NewFileMonitor(src, func(cfg *rtcconfig.RTCConfig) { delivered <- cfg }, discardLogger())
	m.Start()
	defer m.Stop()

	updated := `{"iceServers":[{"urls":["turn:relay.example.com:3478?transport=udp"],"username":"u","credential":"p"}]}`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case cfg := <-delivered:
		if len(cfg.TurnURIs) != 1 {
			t.Fatalf("TurnURIs: got %v", cfg.TurnURIs)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("file monitor never delivered")
	}
}

func TestFileMonitor_MalformedWriteDeliversNothing(t *testing.T) {
	path := writeTempConfig(t, validDoc)
	delivered := make(chan *rtcconfig.RTCConfig, 4)

	src := Resolve(Config{FilePath: path})
	m := NewFileMonitor(src, func(cfg *rtcconfig.RTCConfig) { delivered <- cfg }, discardLogger())
	m.Start()
	defer m.Stop()

	if err := os.WriteFile(path, []byte(`{"not":"a descriptor"}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case <-delivered:
		t.Fatal("malformed document must not be delivered")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestFileMonitor_DisabledNeverFires(t *testing.T) {
	path := writeTempConfig(t, validDoc)
	delivered := make(chan *rtcconfig.RTCConfig, 4)

	src := Source{Kind: KindREST, Config: Config{FilePath: path}}
	m := NewFileMonitor(src, func(cfg *rtcconfig.RTCConfig) { delivered <- cfg }, discardLogger())
	m.Start()
	defer m.Stop()

	if err := os.WriteFile(path, []byte(validDoc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case <-delivered:
		t.Fatal("disabled monitor invoked its callback")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestSupervisor_StartsOnlyResolvedSource(t *testing.T) {
	path := writeTempConfig(t, validDoc)
	delivered := make(chan *rtcconfig.RTCConfig, 4)

	src := Resolve(Config{FilePath: path, Period: time.Minute})
	sup, err := NewSupervisor(src, func(cfg *rtcconfig.RTCConfig) { delivered <- cfg }, discardLogger())
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}
	if sup.Source().Kind != KindStaticFile {
		t.Fatalf("Source: got %v", sup.Source().Kind)
	}
	sup.Start()
	defer sup.Stop()

	if err := os.WriteFile(path, []byte(validDoc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	select {
	case <-delivered:
	case <-time.After(5 * time.Second):
		t.Fatal("file monitor under supervisor never delivered")
	}
}
