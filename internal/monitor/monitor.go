package monitor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hostwire/streamgate/internal/metrics"
	"github.com/hostwire/streamgate/internal/rtcconfig"
)

// Func receives every refreshed descriptor. It is invoked from the
// monitor's own goroutine; implementations must hand the value off to the
// owning loop (or guard shared state) rather than touch negotiation state
// directly.
type Func func(cfg *rtcconfig.RTCConfig)

// A Monitor supplies fresh descriptors until stopped. Start is
// non-blocking; Stop is observed at the next poll tick or watch event, so
// cancellation is bounded by one tick interval rather than immediate.
type Monitor interface {
	Start()
	Stop()
}

const defaultTick = 500 * time.Millisecond

// poller fires on wall-clock alignment: on each fine-grained tick it checks
// whether the current unix time is an exact multiple of the period, so that
// all gateway replicas refresh in the same second regardless of start time.
// A failed fetch is logged and skipped; the schedule is unaffected, which
// can leave a credential gap of up to one full period.
type poller struct {
	name    string
	enabled bool
	period  time.Duration
	tick    time.Duration
	now     func() time.Time
	fetch   func() (*rtcconfig.RTCConfig, error)
	deliver Func
	log     *slog.Logger

	mu        sync.Mutex
	stop      chan struct{}
	done      chan struct{}
	lastFired int64
}

func (p *poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled || p.stop != nil {
		return
	}
	if p.tick <= 0 {
		p.tick = defaultTick
	}
	if p.now == nil {
		p.now = time.Now
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.run(p.stop, p.done)
}

func (p *poller) Stop() {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.stop, p.done = nil, nil
	p.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (p *poller) run(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			p.log.Info("credential monitor stopped", "monitor", p.name)
			return
		case <-ticker.C:
			p.pollOnce()
		}
	}
}

func (p *poller) pollOnce() {
	unix := p.now().Unix()
	periodSeconds := int64(p.period / time.Second)
	if periodSeconds <= 0 || unix%periodSeconds != 0 || unix == p.lastFired {
		return
	}
	p.lastFired = unix
	cfg, err := p.fetch()
	if err != nil {
		metrics.CredentialSourceFailures.WithLabelValues(p.name).Inc()
		p.log.Warn("could not refresh rtc config in periodic monitor", "monitor", p.name, "err", err)
		return
	}
	p.deliver(cfg)
}
