// Package session binds the two signaling channels to their media
// pipelines and restarts the whole negotiation cycle for as long as the
// gateway runs. One viewer disconnect tears down both pipelines and starts
// the next cycle from a clean slate, so no pipeline state leaks across
// sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/hostwire/streamgate/internal/media"
	"github.com/hostwire/streamgate/internal/metrics"
	"github.com/hostwire/streamgate/internal/rtcconfig"
	"github.com/hostwire/streamgate/internal/signaling"
)

// Role distinguishes the two channels owned by the supervisor.
type Role string

const (
	RoleVideo Role = "video"
	RoleAudio Role = "audio"
)

// SignalChannel is the supervisor's view of a signaling channel.
type SignalChannel interface {
	Connect(ctx context.Context) error
	Run(ctx context.Context) error
	Close() error
}

// ChannelFactory builds the channel for a role with the supervisor's sink
// wired in. Called once per role at construction.
type ChannelFactory func(role Role, sink signaling.Sink) SignalChannel

// Display applies viewer-driven resolution and DPI changes. Implementations
// talk to the host's display server; a nil Display disables dynamic resize.
type Display interface {
	Resize(res string) error
	SetDPI(dpi int) error
	SetCursorSize(px int) error
}

// ConfigPublisher re-emits the current raw descriptor so newly-joining
// viewers receive up-to-date STUN/TURN URIs.
type ConfigPublisher interface {
	PublishRTCConfig(raw []byte)
}

// Config for the supervisor.
type Config struct {
	VideoPeerID string
	AudioPeerID string

	// EnableResize applies session meta (viewport resolution, DPI scale)
	// to the display before the video pipeline starts, so the first frame
	// matches the viewer's viewport.
	EnableResize bool

	// MaxIterations bounds the restart loop; 0 means run forever. Used by
	// tests to make termination deterministic.
	MaxIterations int
}

type Supervisor struct {
	cfg       Config
	video     media.Pipeline
	audio     media.Pipeline
	videoCh   SignalChannel
	audioCh   SignalChannel
	display   Display
	publisher ConfigPublisher
	log       *slog.Logger

	mu    sync.Mutex
	state State
}

func New(cfg Config, video, audio media.Pipeline, channels ChannelFactory,
	display Display, publisher ConfigPublisher, log *slog.Logger) *Supervisor {
	s := &Supervisor{
		cfg:       cfg,
		video:     video,
		audio:     audio,
		display:   display,
		publisher: publisher,
		log:       log,
		state:     StateIdle,
	}
	s.videoCh = channels(RoleVideo, &binding{role: RoleVideo, pipeline: video, sup: s})
	s.audioCh = channels(RoleAudio, &binding{role: RoleAudio, pipeline: audio, sup: s})
	return s
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Run drives the negotiation cycle until ctx is cancelled or the iteration
// cap is reached. Each iteration connects both channels, runs the audio
// message loop concurrently, and blocks on the video loop; when the video
// loop exits — viewer disconnect, fatal signaling error, or shutdown —
// both pipelines are stopped exactly once and the cycle restarts.
//
// A panic inside the loop still stops both pipelines before the error is
// returned; the process is expected to exit non-zero in that case.
func (s *Supervisor) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("supervisor panic, stopping pipelines", "panic", r, "stack", string(debug.Stack()))
			s.teardown()
			err = fmt.Errorf("session supervisor panic: %v", r)
		}
	}()
	defer s.setState(StateIdle)

	for iteration := 0; s.cfg.MaxIterations == 0 || iteration < s.cfg.MaxIterations; iteration++ {
		if ctx.Err() != nil {
			return nil
		}
		s.setState(StateNegotiating)
		s.log.Info("starting negotiation cycle", "iteration", iteration)
		metrics.SessionCycles.Inc()

		if err := s.runOnce(ctx); err != nil {
			s.teardown()
			// Cancellation racing the per-iteration ctx check lands here
			// as a wrapped connect error; that is a clean shutdown.
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("negotiation cycle %d: %w", iteration, err)
		}
	}
	return nil
}

func (s *Supervisor) runOnce(ctx context.Context) error {
	if err := s.videoCh.Connect(ctx); err != nil {
		return fmt.Errorf("connecting video channel: %w", err)
	}
	if err := s.audioCh.Connect(ctx); err != nil {
		_ = s.videoCh.Close()
		return fmt.Errorf("connecting audio channel: %w", err)
	}

	audioDone := make(chan struct{})
	go func() {
		defer close(audioDone)
		if err := s.audioCh.Run(ctx); err != nil {
			s.log.Warn("audio signaling loop ended", "err", err)
		}
	}()

	// The video loop is the session's lifetime: when it exits the whole
	// cycle restarts, taking the audio session down with it.
	if err := s.videoCh.Run(ctx); err != nil {
		s.log.Warn("video signaling loop ended", "err", err)
	}

	s.setState(StateRestarting)
	s.stopPipelines()
	_ = s.audioCh.Close()
	<-audioDone
	return nil
}

// ApplyRTCConfig delivers a descriptor to both pipelines. The full
// STUN/TURN list replaces each pipeline's server set so the next offer
// carries it; live pipelines additionally receive each relay URI as an
// additive update, leaving existing ICE candidates alone. The raw document
// is republished wholesale for peers that have not connected yet. Called
// once at startup with the initial descriptor, then from monitor
// goroutines on every refresh.
func (s *Supervisor) ApplyRTCConfig(cfg *rtcconfig.RTCConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.video.SetICEServers(cfg.StunURIs, cfg.TurnURIs)
	s.audio.SetICEServers(cfg.StunURIs, cfg.TurnURIs)
	for _, uri := range cfg.TurnURIs {
		s.video.AddTurnServer(uri)
		s.audio.AddTurnServer(uri)
	}
	if s.publisher != nil {
		s.publisher.PublishRTCConfig(cfg.Raw)
	}
	metrics.CredentialRefreshes.Inc()
	s.log.Info("applied refreshed rtc config", "stun_uris", len(cfg.StunURIs), "turn_uris", len(cfg.TurnURIs))
}

// routeSession starts the pipeline owned by the session's peer id. An
// unknown peer id is a routing error: logged, no pipeline started.
func (s *Supervisor) routeSession(peerID string, meta *signaling.SessionMeta) {
	switch peerID {
	case s.cfg.VideoPeerID:
		if s.cfg.EnableResize && meta != nil {
			s.applySessionMeta(meta)
		}
		s.log.Info("starting video pipeline", "peer_id", peerID)
		if err := s.video.Start(false); err != nil {
			s.log.Error("failed to start video pipeline", "err", err)
			return
		}
		metrics.PipelineStarts.WithLabelValues(string(RoleVideo)).Inc()
		s.setState(StateActive)
	case s.cfg.AudioPeerID:
		s.log.Info("starting audio pipeline", "peer_id", peerID)
		if err := s.audio.Start(true); err != nil {
			s.log.Error("failed to start audio pipeline", "err", err)
			return
		}
		metrics.PipelineStarts.WithLabelValues(string(RoleAudio)).Inc()
	default:
		metrics.RoutingErrors.Inc()
		s.log.Error("session established for unknown peer id, no pipeline started", "peer_id", peerID)
	}
}

// applySessionMeta resizes the display to the viewer's viewport before the
// pipeline starts. Scale factors outside [0.75, 2.5] are rejected.
func (s *Supervisor) applySessionMeta(meta *signaling.SessionMeta) {
	if s.display == nil {
		return
	}
	if meta.Res != "" {
		if err := s.display.Resize(meta.Res); err != nil {
			s.log.Error("failed to resize display", "res", meta.Res, "err", err)
		}
	}
	if meta.Scale != 0 {
		if meta.Scale < 0.75 || meta.Scale > 2.5 {
			s.log.Error("requested scale ratio out of bounds", "scale", meta.Scale)
			return
		}
		dpi := int(96 * meta.Scale)
		if err := s.display.SetDPI(dpi); err != nil {
			s.log.Error("failed to set dpi", "dpi", dpi, "err", err)
		}
		if err := s.display.SetCursorSize(int(16 * meta.Scale)); err != nil {
			s.log.Error("failed to set cursor size", "err", err)
		}
	}
}

func (s *Supervisor) stopPipelines() {
	if err := s.video.Stop(); err != nil {
		s.log.Warn("stopping video pipeline", "err", err)
	}
	if err := s.audio.Stop(); err != nil {
		s.log.Warn("stopping audio pipeline", "err", err)
	}
}

func (s *Supervisor) teardown() {
	s.stopPipelines()
	_ = s.videoCh.Close()
	_ = s.audioCh.Close()
}

// binding is the per-channel signaling sink: inbound SDP/ICE flows into the
// bound pipeline, session events route through the supervisor, and channel
// failures stop the pipeline.
type binding struct {
	role     Role
	pipeline media.Pipeline
	sup      *Supervisor
}

func (b *binding) OnSession(peerID string, meta *signaling.SessionMeta) {
	b.sup.routeSession(peerID, meta)
}

func (b *binding) OnSDP(desc webrtc.SessionDescription) {
	if err := b.pipeline.SetSDP(desc); err != nil {
		b.sup.log.Error("failed to apply remote sdp", "role", b.role, "err", err)
	}
}

func (b *binding) OnICE(candidate webrtc.ICECandidateInit) {
	if err := b.pipeline.SetICE(candidate); err != nil {
		b.sup.log.Error("failed to apply remote ice candidate", "role", b.role, "err", err)
	}
}

func (b *binding) OnError(err error) {
	b.sup.log.Error("signaling error, stopping pipeline", "role", b.role, "err", err)
	if err := b.pipeline.Stop(); err != nil {
		b.sup.log.Warn("stopping pipeline after signaling error", "role", b.role, "err", err)
	}
}

func (b *binding) OnDisconnect() {
	if err := b.pipeline.Stop(); err != nil {
		b.sup.log.Warn("stopping pipeline after disconnect", "role", b.role, "err", err)
	}
}
