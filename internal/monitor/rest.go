package monitor

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hostwire/streamgate/internal/rtcconfig"
)

// RESTMonitor periodically re-fetches the descriptor from the credential
// web service.
type RESTMonitor struct {
	poller
	client *http.Client
	src    Source
}

// RESTOptions tune scheduling and transport for tests. Zero values use
// production defaults.
type RESTOptions struct {
	Tick   time.Duration
	Now    func() time.Time
	Client *http.Client
}

func NewRESTMonitor(src Source, deliver Func, log *slog.Logger, opts RESTOptions) *RESTMonitor {
	m := &RESTMonitor{src: src, client: opts.Client}
	if m.client == nil {
		m.client = &http.Client{Timeout: 10 * time.Second}
	}
	m.poller = poller{
		name:    "rest",
		enabled: src.Kind == KindREST,
		period:  src.Period,
		tick:    opts.Tick,
		now:     opts.Now,
		fetch:   m.fetchOnce,
		deliver: deliver,
		log:     log,
	}
	return m
}

func (m *RESTMonitor) fetchOnce() (*rtcconfig.RTCConfig, error) {
	timeout := m.client.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return rtcconfig.FetchREST(ctx, m.client, m.src.RESTURI, m.src.Username, m.src.AuthHeader)
}
