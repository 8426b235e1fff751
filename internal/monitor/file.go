package monitor

import (
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/hostwire/streamgate/internal/metrics"
	"github.com/hostwire/streamgate/internal/rtcconfig"
)

// FileMonitor watches the descriptor file and re-parses it whenever a
// writer finishes updating it. Read or parse failures are logged; there is
// no retry until the next write event.
type FileMonitor struct {
	path    string
	enabled bool
	deliver Func
	log     *slog.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewFileMonitor(src Source, deliver Func, log *slog.Logger) *FileMonitor {
	return &FileMonitor{
		path:    src.FilePath,
		enabled: src.Kind == KindStaticFile,
		deliver: deliver,
		log:     log,
	}
}

func (m *FileMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled || m.stop != nil {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.log.Error("failed to create rtc config file watcher", "err", err)
		return
	}
	if err := watcher.Add(m.path); err != nil {
		m.log.Error("failed to watch rtc config file", "path", m.path, "err", err)
		_ = watcher.Close()
		return
	}

	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.run(watcher, m.stop, m.done)
}

func (m *FileMonitor) Stop() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (m *FileMonitor) run(watcher *fsnotify.Watcher, stop, done chan struct{}) {
	defer close(done)
	defer watcher.Close()
	for {
		select {
		case <-stop:
			m.log.Info("rtc config file monitor stopped", "path", m.path)
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			m.log.Info("rtc config file changed", "path", event.Name)
			m.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.log.Error("rtc config file watcher error", "err", err)
		}
	}
}

func (m *FileMonitor) reload() {
	data, err := os.ReadFile(m.path)
	if err != nil {
		metrics.CredentialSourceFailures.WithLabelValues("file").Inc()
		m.log.Warn("could not read rtc config file", "path", m.path, "err", err)
		return
	}
	cfg, err := rtcconfig.Parse(data)
	if err != nil {
		metrics.CredentialSourceFailures.WithLabelValues("file").Inc()
		m.log.Warn("could not parse rtc config file", "path", m.path, "err", err)
		return
	}
	m.deliver(cfg)
}
