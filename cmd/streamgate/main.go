package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/hostwire/streamgate/internal/config"
	"github.com/hostwire/streamgate/internal/media"
	"github.com/hostwire/streamgate/internal/metrics"
	"github.com/hostwire/streamgate/internal/monitor"
	"github.com/hostwire/streamgate/internal/session"
	"github.com/hostwire/streamgate/internal/signaling"
	"github.com/hostwire/streamgate/internal/telemetry"
)

func main() {
	// Optional .env for local development; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("gateway exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.StartTime.SetToCurrentTime()

	logger.Info("starting streamgate",
		"signaling_url", cfg.SignalingURL,
		"video_peer_id", cfg.VideoPeerID,
		"audio_peer_id", cfg.AudioPeerID,
		"encoder", cfg.Encoder,
		"enable_resize", cfg.EnableResize,
		"mode", cfg.Mode,
	)

	src := monitor.Resolve(monitor.Config{
		FilePath:         cfg.RTCConfigFile,
		TurnHost:         cfg.TurnHost,
		TurnPort:         cfg.TurnPort,
		TurnSharedSecret: cfg.TurnSharedSecret,
		TurnUsername:     cfg.TurnUsername,
		TurnPassword:     cfg.TurnPassword,
		TurnProtocol:     cfg.TurnProtocol,
		TurnTLS:          cfg.TurnTLS,
		RESTURI:          cfg.CoturnWebURI,
		Username:         cfg.CoturnWebUsername,
		AuthHeader:       cfg.CoturnAuthHeader,
		Period:           cfg.RTCConfigPeriod,
	})
	logger.Info("resolved credential source", "source", src.Kind.String())

	initial, err := src.InitialConfig(ctx, logger)
	if err != nil {
		return fmt.Errorf("acquiring initial rtc config: %w", err)
	}
	logger.Info("initial rtc config acquired",
		"stun_uris", len(initial.StunURIs), "turn_uris", len(initial.TurnURIs))

	publisher := newDescriptorPublisher()
	publisher.PublishRTCConfig(initial.Raw)

	if cfg.MetricsAddr != "" {
		go func() {
			err := metrics.Serve(ctx, cfg.MetricsAddr, map[string]http.Handler{
				"/rtc-config": publisher,
			})
			if err != nil {
				logger.Error("metrics server failed", "err", err)
			}
		}()
	}

	videoForwarder := session.NewForwarder(logger.With("channel", "video"))
	audioForwarder := session.NewForwarder(logger.With("channel", "audio"))

	videoPipe, err := media.Dial(cfg.VideoSocketPath, "video", videoForwarder, logger)
	if err != nil {
		return fmt.Errorf("connecting video pipeline: %w", err)
	}
	defer videoPipe.Close()
	audioPipe, err := media.Dial(cfg.AudioSocketPath, "audio", audioForwarder, logger)
	if err != nil {
		return fmt.Errorf("connecting audio pipeline: %w", err)
	}
	defer audioPipe.Close()

	header := http.Header{}
	if cfg.BasicAuthUser != "" && cfg.BasicAuthPassword != "" {
		req := &http.Request{Header: header}
		req.SetBasicAuth(cfg.BasicAuthUser, cfg.BasicAuthPassword)
	}

	factory := func(role session.Role, sink signaling.Sink) session.SignalChannel {
		chCfg := signaling.ChannelConfig{
			URL:          cfg.SignalingURL,
			RetryBackoff: cfg.RetryBackoff,
			Header:       header,
		}
		switch role {
		case session.RoleVideo:
			chCfg.LocalID = cfg.VideoLocalID
			chCfg.RemotePeerID = cfg.VideoPeerID
		case session.RoleAudio:
			chCfg.LocalID = cfg.AudioLocalID
			chCfg.RemotePeerID = cfg.AudioPeerID
		}
		ch := signaling.NewChannel(chCfg, sink, logger)
		if role == session.RoleVideo {
			videoForwarder.Bind(ch)
		} else {
			audioForwarder.Bind(ch)
		}
		return ch
	}

	var display session.Display
	if cfg.EnableResize {
		display = newExecDisplay(logger)
	}

	sup := session.New(session.Config{
		VideoPeerID:  cfg.VideoPeerID,
		AudioPeerID:  cfg.AudioPeerID,
		EnableResize: cfg.EnableResize,
	}, videoPipe, audioPipe, factory, display, publisher, logger)

	// Seed both pipelines with the startup descriptor so the first offer
	// already carries the STUN/TURN servers; refreshes flow through the
	// same path via the monitors below.
	sup.ApplyRTCConfig(initial)

	monitors, err := monitor.NewSupervisor(src, sup.ApplyRTCConfig, logger)
	if err != nil {
		return fmt.Errorf("constructing credential monitors: %w", err)
	}
	monitors.Start()
	defer monitors.Stop()

	// Telemetry outlives individual sessions but not the supervisor.
	telemetryCtx, stopTelemetry := context.WithCancel(ctx)
	defer stopTelemetry()

	sysSampler, err := telemetry.NewProcSystemSampler()
	if err != nil {
		logger.Warn("system telemetry disabled", "err", err)
	} else {
		sysMon := telemetry.NewSystemMonitor(sysSampler, 0, logger, videoPipe)
		go sysMon.Run(telemetryCtx)
	}
	if telemetry.Enabled(cfg.Encoder) {
		gpuMon := telemetry.NewGPUMonitor(telemetry.NewNvidiaSMISampler(cfg.GPUIndex), 0, logger, videoPipe)
		go gpuMon.Run(telemetryCtx)
	}

	// Blocks until the context is cancelled (SIGINT/SIGTERM) or the
	// supervisor hits an unrecoverable error. Pipelines are stopped by the
	// supervisor at the end of each cycle; the deferred calls above then
	// halt telemetry, the credential monitors, and the pipeline sockets.
	if err := sup.Run(ctx); err != nil {
		return fmt.Errorf("session supervisor: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// descriptorPublisher caches the latest raw descriptor and serves it over
// HTTP so web frontends can hand it to newly-joining viewers.
type descriptorPublisher struct {
	mu  sync.RWMutex
	raw []byte
}

func newDescriptorPublisher() *descriptorPublisher {
	return &descriptorPublisher{}
}

func (p *descriptorPublisher) PublishRTCConfig(raw []byte) {
	p.mu.Lock()
	p.raw = append(p.raw[:0], raw...)
	p.mu.Unlock()
}

func (p *descriptorPublisher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.RLock()
	raw := append([]byte(nil), p.raw...)
	p.mu.RUnlock()
	if len(raw) == 0 || !json.Valid(raw) {
		http.Error(w, "no rtc config available", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}
