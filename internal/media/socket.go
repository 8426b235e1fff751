package media

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// SocketPipeline drives a media pipeline over a unix socket with
// newline-delimited JSON. Commands flow out; SDP and ICE events produced by
// the pipeline flow back and are dispatched to the registered Events sink.
type SocketPipeline struct {
	name   string
	events Events
	log    *slog.Logger

	mu      sync.Mutex
	conn    net.Conn
	enc     *json.Encoder
	running bool
}

type socketMessage struct {
	Cmd   string          `json:"cmd,omitempty"`
	Event string          `json:"event,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Dial connects to the media process socket and starts the event reader.
func Dial(path, name string, events Events, log *slog.Logger) (*SocketPipeline, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("dialing media socket %s: %w", path, err)
	}
	return NewFromConn(conn, name, events, log), nil
}

// NewFromConn wraps an established connection. Used by Dial and by tests.
func NewFromConn(conn net.Conn, name string, events Events, log *slog.Logger) *SocketPipeline {
	p := &SocketPipeline{
		name:   name,
		events: events,
		log:    log.With("pipeline", name),
		conn:   conn,
		enc:    json.NewEncoder(conn),
	}
	go p.readEvents(conn)
	return p
}

func (p *SocketPipeline) Start(audioOnly bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("pipeline already started")
	}
	if err := p.sendLocked("start", map[string]bool{"audioOnly": audioOnly}); err != nil {
		return err
	}
	p.running = true
	return nil
}

func (p *SocketPipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil
	}
	p.running = false
	return p.sendLocked("stop", nil)
}

func (p *SocketPipeline) SetVideoBitrate(kbps int) { p.send("set_video_bitrate", kbps) }
func (p *SocketPipeline) SetAudioBitrate(bps int)  { p.send("set_audio_bitrate", bps) }
func (p *SocketPipeline) SetFramerate(fps int)     { p.send("set_framerate", fps) }

func (p *SocketPipeline) SendRemoteResolution(res string) { p.send("remote_resolution", res) }
func (p *SocketPipeline) AddTurnServer(uri string)        { p.send("add_turn_server", uri) }

func (p *SocketPipeline) SetICEServers(stun, turn []string) {
	p.send("set_ice_servers", map[string][]string{"stun": stun, "turn": turn})
}

func (p *SocketPipeline) SendCursorData(data json.RawMessage) { p.send("cursor_data", data) }

func (p *SocketPipeline) SendGPUStats(load, memoryTotal, memoryUsed float64) {
	p.send("gpu_stats", map[string]float64{
		"load":        load,
		"memoryTotal": memoryTotal,
		"memoryUsed":  memoryUsed,
	})
}

func (p *SocketPipeline) SendSystemStats(cpuPercent, memTotal, memUsed float64) {
	p.send("system_stats", map[string]float64{
		"cpuPercent": cpuPercent,
		"memTotal":   memTotal,
		"memUsed":    memUsed,
	})
}

func (p *SocketPipeline) SendPing(t time.Time) { p.send("ping", t.UnixMilli()) }

func (p *SocketPipeline) SendLatency(ms float64) { p.send("latency", ms) }

func (p *SocketPipeline) SetSDP(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sendLocked("set_sdp", map[string]string{"type": desc.Type.String(), "sdp": desc.SDP})
}

func (p *SocketPipeline) SetICE(candidate webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sendLocked("set_ice", candidate)
}

// Close tears down the socket. The pipeline process treats a closed control
// connection as an implicit stop.
func (p *SocketPipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	return p.conn.Close()
}

func (p *SocketPipeline) send(cmd string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.sendLocked(cmd, value); err != nil {
		p.log.Warn("pipeline command failed", "cmd", cmd, "err", err)
	}
}

func (p *SocketPipeline) sendLocked(cmd string, value any) error {
	msg := socketMessage{Cmd: cmd}
	if value != nil {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encoding %s command: %w", cmd, err)
		}
		msg.Value = raw
	}
	if err := p.enc.Encode(msg); err != nil {
		return fmt.Errorf("sending %s command: %w", cmd, err)
	}
	return nil
}

func (p *SocketPipeline) readEvents(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var msg socketMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			p.log.Warn("malformed pipeline event", "err", err)
			continue
		}
		p.dispatch(msg)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, net.ErrClosed) {
		p.log.Warn("pipeline event stream closed", "err", err)
	}
}

func (p *SocketPipeline) dispatch(msg socketMessage) {
	switch msg.Event {
	case "sdp":
		var payload struct {
			Type string `json:"type"`
			SDP  string `json:"sdp"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			p.log.Warn("malformed sdp event", "err", err)
			return
		}
		p.events.OnSDP(webrtc.SessionDescription{
			Type: webrtc.NewSDPType(payload.Type),
			SDP:  payload.SDP,
		})
	case "ice":
		var candidate webrtc.ICECandidateInit
		if err := json.Unmarshal(msg.Value, &candidate); err != nil {
			p.log.Warn("malformed ice event", "err", err)
			return
		}
		p.events.OnICE(candidate)
	default:
		p.log.Debug("unhandled pipeline event", "event", msg.Event)
	}
}
