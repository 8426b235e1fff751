// Package signaling implements the gateway side of one signaling session:
// a websocket connection to the relay over which SDP offers, ICE candidates
// and session life-cycle messages are exchanged with a single remote
// viewer. The process runs exactly two channels, one for video and one for
// audio; they share nothing but the codec.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/hostwire/streamgate/internal/metrics"
)

// State is the channel's session life-cycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateNegotiating
	StateActive
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateNegotiating:
		return "negotiating"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Sink receives channel events. All methods are called from the channel's
// read loop goroutine. There are no ambient callback globals; the sink is
// fixed at construction.
type Sink interface {
	// OnSession fires when the relay established a session with the
	// channel's configured remote peer. Meta may be nil.
	OnSession(peerID string, meta *SessionMeta)
	OnSDP(desc webrtc.SessionDescription)
	OnICE(candidate webrtc.ICECandidateInit)
	// OnError reports a terminal in-protocol error; the bound pipeline
	// must be stopped. The connection itself stays up.
	OnError(err error)
	// OnDisconnect fires when the transport drops, before Run returns.
	OnDisconnect()
}

const defaultRetryBackoff = 2 * time.Second

// ChannelConfig configures one signaling channel.
type ChannelConfig struct {
	// URL of the relay websocket endpoint.
	URL string
	// LocalID is this end's peer id; RemotePeerID names the viewer the
	// channel negotiates with.
	LocalID      string
	RemotePeerID string
	// RetryBackoff between session setup attempts while the peer is
	// absent. Defaults to 2s.
	RetryBackoff time.Duration
	// Header is attached to the websocket handshake (basic auth).
	Header http.Header
}

// Channel is one logical signaling connection identified by
// (LocalID, RemotePeerID).
type Channel struct {
	cfg    ChannelConfig
	sink   Sink
	log    *slog.Logger
	connID string

	writeMu sync.Mutex
	conn    *websocket.Conn

	stateMu sync.Mutex
	state   State
}

func NewChannel(cfg ChannelConfig, sink Sink, log *slog.Logger) *Channel {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	connID := uuid.NewString()
	return &Channel{
		cfg:    cfg,
		sink:   sink,
		log:    log.With("local_id", cfg.LocalID, "peer_id", cfg.RemotePeerID, "conn_id", connID),
		connID: connID,
		state:  StateDisconnected,
	}
}

func (c *Channel) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Channel) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// Connect dials the relay and registers the local peer id. The message
// loop is not started; call Run.
func (c *Channel) Connect(ctx context.Context) error {
	c.setState(StateConnecting)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		c.setState(StateDisconnected)
		if resp != nil {
			return fmt.Errorf("dialing signaling server %s: status %d: %w", c.cfg.URL, resp.StatusCode, err)
		}
		return fmt.Errorf("dialing signaling server %s: %w", c.cfg.URL, err)
	}
	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()

	hello, err := formatHello(c.cfg.LocalID, map[string]string{"conn_id": c.connID})
	if err != nil {
		_ = conn.Close()
		c.setState(StateDisconnected)
		return err
	}
	if err := c.writeText([]byte(hello)); err != nil {
		_ = conn.Close()
		c.setState(StateDisconnected)
		return fmt.Errorf("registering with signaling server: %w", err)
	}
	c.log.Info("connected to signaling server", "url", c.cfg.URL)
	return nil
}

// SetupCall asks the relay for a session with the configured remote peer.
func (c *Channel) SetupCall() error {
	return c.writeText([]byte(formatSession(c.cfg.RemotePeerID)))
}

// SendSDP forwards a local session description to the remote peer.
func (c *Channel) SendSDP(desc webrtc.SessionDescription) error {
	data, err := formatSDP(desc)
	if err != nil {
		return err
	}
	return c.writeText(data)
}

// SendICE forwards a local ICE candidate to the remote peer.
func (c *Channel) SendICE(candidate webrtc.ICECandidateInit) error {
	data, err := formatICE(candidate)
	if err != nil {
		return err
	}
	return c.writeText(data)
}

// Close tears down the websocket. Run returns shortly afterwards.
func (c *Channel) Close() error {
	c.writeMu.Lock()
	conn := c.conn
	c.conn = nil
	c.writeMu.Unlock()
	c.setState(StateDisconnected)
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Run processes messages until the transport drops or ctx is cancelled.
// While the remote peer is absent it retries session setup once per
// backoff window, indefinitely. Run always invokes the sink's OnDisconnect
// before returning; it returns nil for a clean close and the transport
// error otherwise.
func (c *Channel) Run(ctx context.Context) error {
	c.writeMu.Lock()
	conn := c.conn
	c.writeMu.Unlock()
	if conn == nil {
		return fmt.Errorf("channel is not connected")
	}

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()
	defer c.sink.OnDisconnect()
	defer c.setState(StateDisconnected)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Info("signaling connection closed")
				return nil
			}
			c.log.Warn("signaling connection lost", "err", err)
			return fmt.Errorf("signaling transport: %w", err)
		}
		metrics.SignalingMessages.WithLabelValues(c.cfg.LocalID, "in").Inc()
		c.handle(ctx, data)
	}
}

func (c *Channel) handle(ctx context.Context, data []byte) {
	msg, err := parseServerMessage(data)
	if err != nil {
		c.log.Warn("dropping malformed signaling message", "err", err)
		return
	}

	switch msg.kind {
	case kindRegistered:
		c.setState(StateConnected)
		c.log.Info("registered with signaling server")
		if err := c.SetupCall(); err != nil {
			c.log.Error("session setup failed", "err", err)
		}

	case kindSessionOK:
		if msg.peerID != c.cfg.RemotePeerID {
			c.log.Error("session established for unexpected peer", "got_peer_id", msg.peerID)
			return
		}
		c.setState(StateNegotiating)
		c.sink.OnSession(msg.peerID, msg.meta)

	case kindSDP:
		c.setState(StateActive)
		c.sink.OnSDP(*msg.sdp)

	case kindICE:
		c.sink.OnICE(*msg.candidate)

	case kindError:
		if errors.Is(msg.err, ErrPeerAbsent) {
			c.retrySetup(ctx)
			return
		}
		c.log.Error("signaling error", "err", msg.err)
		c.sink.OnError(msg.err)
	}
}

// retrySetup waits one backoff window and asks for the session again. The
// relay answers each attempt with at most one message, so the retry rate is
// bounded at one setup per window with no queued state.
func (c *Channel) retrySetup(ctx context.Context) {
	c.setState(StateReconnecting)
	select {
	case <-ctx.Done():
		return
	case <-time.After(c.cfg.RetryBackoff):
	}
	metrics.SignalingRetries.Inc()
	if err := c.SetupCall(); err != nil {
		c.log.Error("session setup retry failed", "err", err)
	}
}

func (c *Channel) writeText(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("channel is not connected")
	}
	metrics.SignalingMessages.WithLabelValues(c.cfg.LocalID, "out").Inc()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
