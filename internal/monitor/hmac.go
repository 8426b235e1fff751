package monitor

import (
	"log/slog"
	"time"

	"github.com/hostwire/streamgate/internal/rtcconfig"
	"github.com/hostwire/streamgate/internal/turnrest"
)

// HMACMonitor periodically regenerates the descriptor from the TURN shared
// secret so the time-limited relay credential never expires under a
// connected viewer.
type HMACMonitor struct {
	poller
	gen *turnrest.Generator
	src Source
}

// HMACOptions tune scheduling for tests. Zero values use production
// defaults.
type HMACOptions struct {
	Tick time.Duration
	Now  func() time.Time
}

func NewHMACMonitor(src Source, deliver Func, log *slog.Logger, opts HMACOptions) (*HMACMonitor, error) {
	m := &HMACMonitor{src: src}
	if src.Kind == KindHMAC {
		gen, err := src.generator()
		if err != nil {
			return nil, err
		}
		m.gen = gen
	}
	m.poller = poller{
		name:    "hmac",
		enabled: src.Kind == KindHMAC,
		period:  src.Period,
		tick:    opts.Tick,
		now:     opts.Now,
		fetch:   m.generate,
		deliver: deliver,
		log:     log,
	}
	return m, nil
}

func (m *HMACMonitor) generate() (*rtcconfig.RTCConfig, error) {
	data, err := rtcconfig.GenerateHMAC(m.gen, m.src.TurnHost, m.src.TurnPort, m.src.Username, m.src.TurnProtocol, m.src.TurnTLS)
	if err != nil {
		return nil, err
	}
	return rtcconfig.Parse(data)
}
