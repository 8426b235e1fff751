package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/hostwire/streamgate/internal/media"
	"github.com/hostwire/streamgate/internal/rtcconfig"
	"github.com/hostwire/streamgate/internal/signaling"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePipeline struct {
	mu          sync.Mutex
	starts      []bool // audioOnly flag per Start call
	stops       int
	iceStun     []string
	iceTurn     []string
	turnServers []string
	// server count seen at each Start call, to verify delivery order
	serversAtStart []int
	sdps           []webrtc.SessionDescription
	ices           []webrtc.ICECandidateInit
	startErr       error
}

func (p *fakePipeline) Start(audioOnly bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return p.startErr
	}
	p.starts = append(p.starts, audioOnly)
	p.serversAtStart = append(p.serversAtStart, len(p.iceStun)+len(p.iceTurn))
	return nil
}

func (p *fakePipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return nil
}

func (p *fakePipeline) SetVideoBitrate(int)             {}
func (p *fakePipeline) SetAudioBitrate(int)             {}
func (p *fakePipeline) SetFramerate(int)                {}
func (p *fakePipeline) SendRemoteResolution(string)     {}
func (p *fakePipeline) SendCursorData(json.RawMessage)  {}
func (p *fakePipeline) SendGPUStats(_, _, _ float64)    {}
func (p *fakePipeline) SendSystemStats(_, _, _ float64) {}
func (p *fakePipeline) SendPing(time.Time)              {}
func (p *fakePipeline) SendLatency(float64)             {}
func (p *fakePipeline) SetSDP(webrtc.SessionDescription) error {
	return nil
}
func (p *fakePipeline) SetICE(webrtc.ICECandidateInit) error { return nil }

func (p *fakePipeline) SetICEServers(stun, turn []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.iceStun = append([]string(nil), stun...)
	p.iceTurn = append([]string(nil), turn...)
}

func (p *fakePipeline) AddTurnServer(uri string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turnServers = append(p.turnServers, uri)
}

func (p *fakePipeline) snapshot() (starts []bool, stops int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.starts...), p.stops
}

var _ media.Pipeline = (*fakePipeline)(nil)

type fakeChannel struct {
	mu         sync.Mutex
	connects   int
	closes     int
	connectErr error
	runErr     error
	// runFn, when set, replaces the default immediate-return Run.
	runFn func(ctx context.Context) error
}

func (c *fakeChannel) Connect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	return c.connectErr
}

func (c *fakeChannel) Run(ctx context.Context) error {
	if c.runFn != nil {
		return c.runFn(ctx)
	}
	return c.runErr
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

type fakeDisplay struct {
	resizes     []string
	dpis        []int
	cursorSizes []int
}

func (d *fakeDisplay) Resize(res string) error { d.resizes = append(d.resizes, res); return nil }
func (d *fakeDisplay) SetDPI(dpi int) error    { d.dpis = append(d.dpis, dpi); return nil }
func (d *fakeDisplay) SetCursorSize(px int) error {
	d.cursorSizes = append(d.cursorSizes, px)
	return nil
}

type fakePublisher struct {
	mu   sync.Mutex
	raws [][]byte
}

func (p *fakePublisher) PublishRTCConfig(raw []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.raws = append(p.raws, raw)
}

func newTestSupervisor(cfg Config, video, audio *fakePipeline, videoCh, audioCh *fakeChannel, display Display, publisher ConfigPublisher) *Supervisor {
	factory := func(role Role, _ signaling.Sink) SignalChannel {
		if role == RoleVideo {
			return videoCh
		}
		return audioCh
	}
	return New(cfg, video, audio, factory, display, publisher, discardLogger())
}

func TestRunStopsPipelinesOncePerIteration(t *testing.T) {
	video, audio := &fakePipeline{}, &fakePipeline{}
	videoCh, audioCh := &fakeChannel{}, &fakeChannel{}
	sup := newTestSupervisor(Config{
		VideoPeerID:   "1",
		AudioPeerID:   "3",
		MaxIterations: 3,
	}, video, audio, videoCh, audioCh, nil, nil)

	if err := sup.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if videoCh.connects != 3 {
		t.Errorf("video connects=%d, want 3", videoCh.connects)
	}
	if audioCh.connects != 3 {
		t.Errorf("audio connects=%d, want 3", audioCh.connects)
	}
	if _, stops := video.snapshot(); stops != 3 {
		t.Errorf("video stops=%d, want 3", stops)
	}
	if _, stops := audio.snapshot(); stops != 3 {
		t.Errorf("audio stops=%d, want 3", stops)
	}
	if got := sup.State(); got != StateIdle {
		t.Errorf("state=%v, want %v", got, StateIdle)
	}
}

func TestRunFailsWhenVideoChannelCannotConnect(t *testing.T) {
	video, audio := &fakePipeline{}, &fakePipeline{}
	videoCh := &fakeChannel{connectErr: errors.New("dial refused")}
	audioCh := &fakeChannel{}
	sup := newTestSupervisor(Config{MaxIterations: 5}, video, audio, videoCh, audioCh, nil, nil)

	err := sup.Run(context.Background())
	if err == nil {
		t.Fatal("Run returned nil, want connect error")
	}
	if videoCh.connects != 1 {
		t.Errorf("video connects=%d, want 1 (no retry after fatal connect error)", videoCh.connects)
	}
	if audioCh.connects != 0 {
		t.Errorf("audio connects=%d, want 0", audioCh.connects)
	}
}

func TestRunRecoversFromPanicAndStopsPipelines(t *testing.T) {
	video, audio := &fakePipeline{}, &fakePipeline{}
	videoCh := &fakeChannel{runFn: func(context.Context) error { panic("boom") }}
	audioCh := &fakeChannel{runFn: func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}}
	sup := newTestSupervisor(Config{MaxIterations: 1}, video, audio, videoCh, audioCh, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- sup.Run(ctx) }()

	var err error
	select {
	case err = <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after panic")
	}
	cancel()
	if err == nil {
		t.Fatal("Run returned nil, want panic error")
	}
	if _, stops := video.snapshot(); stops == 0 {
		t.Error("video pipeline never stopped after panic")
	}
	if _, stops := audio.snapshot(); stops == 0 {
		t.Error("audio pipeline never stopped after panic")
	}
}

func TestRouteSessionStartsMatchingPipeline(t *testing.T) {
	tests := []struct {
		name            string
		peerID          string
		wantVideoStarts []bool
		wantAudioStarts []bool
	}{
		{name: "video peer", peerID: "1", wantVideoStarts: []bool{false}},
		{name: "audio peer", peerID: "3", wantAudioStarts: []bool{true}},
		{name: "unknown peer", peerID: "9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			video, audio := &fakePipeline{}, &fakePipeline{}
			sup := newTestSupervisor(Config{VideoPeerID: "1", AudioPeerID: "3"},
				video, audio, &fakeChannel{}, &fakeChannel{}, nil, nil)

			sup.routeSession(tt.peerID, nil)

			videoStarts, _ := video.snapshot()
			audioStarts, _ := audio.snapshot()
			if len(videoStarts) != len(tt.wantVideoStarts) {
				t.Errorf("video starts=%v, want %v", videoStarts, tt.wantVideoStarts)
			}
			for i := range tt.wantVideoStarts {
				if videoStarts[i] != tt.wantVideoStarts[i] {
					t.Errorf("video start[%d] audioOnly=%v, want %v", i, videoStarts[i], tt.wantVideoStarts[i])
				}
			}
			if len(audioStarts) != len(tt.wantAudioStarts) {
				t.Errorf("audio starts=%v, want %v", audioStarts, tt.wantAudioStarts)
			}
			for i := range tt.wantAudioStarts {
				if audioStarts[i] != tt.wantAudioStarts[i] {
					t.Errorf("audio start[%d] audioOnly=%v, want %v", i, audioStarts[i], tt.wantAudioStarts[i])
				}
			}
		})
	}
}

func TestRouteSessionAppliesMetaBeforeVideoStart(t *testing.T) {
	video, audio := &fakePipeline{}, &fakePipeline{}
	display := &fakeDisplay{}
	sup := newTestSupervisor(Config{VideoPeerID: "1", AudioPeerID: "3", EnableResize: true},
		video, audio, &fakeChannel{}, &fakeChannel{}, display, nil)

	sup.routeSession("1", &signaling.SessionMeta{Res: "1920x1080", Scale: 1.25})

	if len(display.resizes) != 1 || display.resizes[0] != "1920x1080" {
		t.Errorf("resizes=%v, want [1920x1080]", display.resizes)
	}
	if len(display.dpis) != 1 || display.dpis[0] != 120 {
		t.Errorf("dpis=%v, want [120]", display.dpis)
	}
	if len(display.cursorSizes) != 1 || display.cursorSizes[0] != 20 {
		t.Errorf("cursor sizes=%v, want [20]", display.cursorSizes)
	}
	if starts, _ := video.snapshot(); len(starts) != 1 {
		t.Errorf("video starts=%d, want 1", len(starts))
	}
}

func TestRouteSessionRejectsOutOfBoundsScale(t *testing.T) {
	for _, scale := range []float64{0.5, 3.0} {
		video, audio := &fakePipeline{}, &fakePipeline{}
		display := &fakeDisplay{}
		sup := newTestSupervisor(Config{VideoPeerID: "1", EnableResize: true},
			video, audio, &fakeChannel{}, &fakeChannel{}, display, nil)

		sup.routeSession("1", &signaling.SessionMeta{Scale: scale})

		if len(display.dpis) != 0 {
			t.Errorf("scale=%v: dpis=%v, want none", scale, display.dpis)
		}
		if starts, _ := video.snapshot(); len(starts) != 1 {
			t.Errorf("scale=%v: pipeline did not start", scale)
		}
	}
}

func TestRouteSessionSkipsResizeWhenDisabled(t *testing.T) {
	video, audio := &fakePipeline{}, &fakePipeline{}
	display := &fakeDisplay{}
	sup := newTestSupervisor(Config{VideoPeerID: "1"},
		video, audio, &fakeChannel{}, &fakeChannel{}, display, nil)

	sup.routeSession("1", &signaling.SessionMeta{Res: "800x600", Scale: 2})

	if len(display.resizes) != 0 || len(display.dpis) != 0 {
		t.Errorf("display touched with resize disabled: resizes=%v dpis=%v", display.resizes, display.dpis)
	}
}

func TestApplyRTCConfigUpdatesPipelinesAndPublisher(t *testing.T) {
	video, audio := &fakePipeline{}, &fakePipeline{}
	publisher := &fakePublisher{}
	sup := newTestSupervisor(Config{}, video, audio, &fakeChannel{}, &fakeChannel{}, nil, publisher)

	raw := []byte(`{"iceServers": [{"urls": ["turn:turn.example.com:3478?transport=udp"], "username": "u", "credential": "p"}]}`)
	cfg, err := rtcconfig.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	sup.ApplyRTCConfig(cfg)

	if len(video.turnServers) != 1 {
		t.Fatalf("video turn servers=%v, want 1", video.turnServers)
	}
	if video.turnServers[0] != audio.turnServers[0] {
		t.Errorf("pipelines got different uris: %q vs %q", video.turnServers[0], audio.turnServers[0])
	}
	if len(publisher.raws) != 1 || string(publisher.raws[0]) != string(raw) {
		t.Errorf("publisher raws=%q, want original document", publisher.raws)
	}
}

func TestApplyRTCConfigSeedsPipelinesBeforeFirstStart(t *testing.T) {
	video, audio := &fakePipeline{}, &fakePipeline{}
	sup := newTestSupervisor(Config{VideoPeerID: "1", AudioPeerID: "3"},
		video, audio, &fakeChannel{}, &fakeChannel{}, nil, nil)

	raw := []byte(`{"iceServers": [
		{"urls": ["stun:stun.example.com:19302"]},
		{"urls": ["turn:turn.example.com:3478?transport=udp"], "username": "u", "credential": "p"}
	]}`)
	cfg, err := rtcconfig.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	sup.ApplyRTCConfig(cfg)
	sup.routeSession("1", nil)
	sup.routeSession("3", nil)

	for name, p := range map[string]*fakePipeline{"video": video, "audio": audio} {
		p.mu.Lock()
		stun, turn, atStart := p.iceStun, p.iceTurn, append([]int(nil), p.serversAtStart...)
		p.mu.Unlock()
		if len(stun) != 1 || len(turn) != 1 {
			t.Errorf("%s servers: stun=%v turn=%v, want one each", name, stun, turn)
		}
		if len(atStart) != 1 || atStart[0] != 2 {
			t.Errorf("%s started holding %v servers, want [2] (servers must land before Start)", name, atStart)
		}
	}
}

func TestRunReturnsCleanlyWhenCancelledDuringConnect(t *testing.T) {
	video, audio := &fakePipeline{}, &fakePipeline{}
	videoCh := &fakeChannel{connectErr: fmt.Errorf("dialing signaling server: %w", context.Canceled)}
	audioCh := &fakeChannel{}
	sup := newTestSupervisor(Config{MaxIterations: 1}, video, audio, videoCh, audioCh, nil, nil)

	if err := sup.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v, want nil for cancellation mid-connect", err)
	}
	if got := sup.State(); got != StateIdle {
		t.Errorf("state=%v, want %v", got, StateIdle)
	}
}

func TestForwarderDropsEventsBeforeBind(t *testing.T) {
	f := NewForwarder(discardLogger())
	// Must not panic with no sender bound.
	f.OnSDP(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
	f.OnICE(webrtc.ICECandidateInit{Candidate: "candidate:1"})

	ch := &recordingSender{}
	f.Bind(ch)
	f.OnSDP(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
	f.OnICE(webrtc.ICECandidateInit{Candidate: "candidate:1"})

	if len(ch.sdps) != 1 {
		t.Errorf("sdps=%d, want 1 (pre-bind event must be dropped)", len(ch.sdps))
	}
	if len(ch.ices) != 1 {
		t.Errorf("ices=%d, want 1 (pre-bind event must be dropped)", len(ch.ices))
	}
}

type recordingSender struct {
	sdps []webrtc.SessionDescription
	ices []webrtc.ICECandidateInit
}

func (s *recordingSender) SendSDP(desc webrtc.SessionDescription) error {
	s.sdps = append(s.sdps, desc)
	return nil
}

func (s *recordingSender) SendICE(candidate webrtc.ICECandidateInit) error {
	s.ices = append(s.ices, candidate)
	return nil
}
