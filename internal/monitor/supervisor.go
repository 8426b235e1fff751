package monitor

import (
	"log/slog"
)

// Supervisor owns the three credential monitors. All three are constructed
// so the wiring lives in one place, but only the monitor matching the
// resolved source ever does work; the others stay idle. This keeps the
// selection logic in Resolve instead of scattered enabled checks.
type Supervisor struct {
	source   Source
	monitors []Monitor
	log      *slog.Logger
}

func NewSupervisor(src Source, deliver Func, log *slog.Logger) (*Supervisor, error) {
	hmacMon, err := NewHMACMonitor(src, deliver, log, HMACOptions{})
	if err != nil {
		return nil, err
	}
	return &Supervisor{
		source: src,
		monitors: []Monitor{
			hmacMon,
			NewRESTMonitor(src, deliver, log, RESTOptions{}),
			NewFileMonitor(src, deliver, log),
		},
		log: log,
	}, nil
}

// Source reports the resolved credential source.
func (s *Supervisor) Source() Source { return s.source }

func (s *Supervisor) Start() {
	s.log.Info("starting credential monitors", "active_source", s.source.Kind.String())
	for _, m := range s.monitors {
		m.Start()
	}
}

// Stop halts all monitors and waits for their goroutines to exit. Bounded
// by one poll tick for the pollers.
func (s *Supervisor) Stop() {
	for _, m := range s.monitors {
		m.Stop()
	}
}
