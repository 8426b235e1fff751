// Package config loads the gateway configuration from, in increasing
// precedence: built-in defaults, an optional overlay file (YAML or JSON),
// environment variables, and command-line flags.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envVarMode      = "STREAMGATE_MODE"
	envVarLogFormat = "STREAMGATE_LOG_FORMAT"
	envVarLogLevel  = "STREAMGATE_LOG_LEVEL"
	// envVarConfigFile points at the optional overlay file. Env-only: the
	// overlay must be resolved before flags are parsed.
	envVarConfigFile      = "STREAMGATE_CONFIG_FILE"
	envVarShutdownTimeout = "STREAMGATE_SHUTDOWN_TIMEOUT"

	// Signaling.
	envVarSignalingURL      = "STREAMGATE_SIGNALING_URL"
	envVarVideoLocalID      = "STREAMGATE_VIDEO_LOCAL_ID"
	envVarVideoPeerID       = "STREAMGATE_VIDEO_PEER_ID"
	envVarAudioLocalID      = "STREAMGATE_AUDIO_LOCAL_ID"
	envVarAudioPeerID       = "STREAMGATE_AUDIO_PEER_ID"
	envVarBasicAuthUser     = "STREAMGATE_BASIC_AUTH_USER"
	envVarBasicAuthPassword = "STREAMGATE_BASIC_AUTH_PASSWORD"
	envVarRetryBackoff      = "STREAMGATE_SESSION_RETRY_BACKOFF"

	// Credential sources.
	envVarRTCConfigFile     = "STREAMGATE_RTC_CONFIG_FILE"
	envVarRTCConfigPeriod   = "STREAMGATE_RTC_CONFIG_PERIOD"
	envVarTurnHost          = "STREAMGATE_TURN_HOST"
	envVarTurnPort          = "STREAMGATE_TURN_PORT"
	envVarTurnSharedSecret  = "STREAMGATE_TURN_SHARED_SECRET"
	envVarTurnUsername      = "STREAMGATE_TURN_USERNAME"
	envVarTurnPassword      = "STREAMGATE_TURN_PASSWORD"
	envVarTurnProtocol      = "STREAMGATE_TURN_PROTOCOL"
	envVarTurnTLS           = "STREAMGATE_TURN_TLS"
	envVarCoturnWebURI      = "STREAMGATE_COTURN_WEB_URI"
	envVarCoturnWebUsername = "STREAMGATE_COTURN_WEB_USERNAME"
	envVarCoturnAuthHeader  = "STREAMGATE_COTURN_AUTH_HEADER"

	// Media and display.
	envVarEncoder         = "STREAMGATE_ENCODER"
	envVarEnableResize    = "STREAMGATE_ENABLE_RESIZE"
	envVarVideoSocketPath = "STREAMGATE_VIDEO_SOCKET"
	envVarAudioSocketPath = "STREAMGATE_AUDIO_SOCKET"
	envVarGPUIndex        = "STREAMGATE_GPU_INDEX"

	envVarMetricsAddr = "STREAMGATE_METRICS_ADDR"

	DefaultSignalingURL     = "ws://127.0.0.1:8080/ws"
	DefaultVideoLocalID     = "0"
	DefaultVideoPeerID      = "1"
	DefaultAudioLocalID     = "2"
	DefaultAudioPeerID      = "3"
	DefaultRetryBackoff     = 2 * time.Second
	DefaultRTCConfigFile    = "/tmp/rtc.json"
	DefaultRTCConfigPeriod  = 60 * time.Second
	DefaultTurnPort         = 3478
	DefaultTurnProtocol     = "udp"
	DefaultCoturnAuthHeader = "x-auth-user"
	DefaultEncoder          = "x264enc"
	DefaultVideoSocketPath  = "/run/streamgate/video.sock"
	DefaultAudioSocketPath  = "/run/streamgate/audio.sock"
	DefaultMetricsAddr      = ":9090"
	DefaultShutdownTimeout  = 15 * time.Second

	DefaultMode Mode = ModeDev
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	Mode      Mode
	LogFormat LogFormat
	LogLevel  slog.Level

	ShutdownTimeout time.Duration

	// SignalingURL is the relay websocket endpoint shared by both channels.
	SignalingURL string
	// Channel identities. The local ids register this process with the
	// relay; the peer ids name the viewer endpoints each channel calls.
	VideoLocalID string
	VideoPeerID  string
	AudioLocalID string
	AudioPeerID  string
	// BasicAuthUser/Password are attached to the websocket handshake when
	// both are set.
	BasicAuthUser     string
	BasicAuthPassword string
	// RetryBackoff between session setup attempts while the viewer is
	// absent.
	RetryBackoff time.Duration

	// Credential source parameters. Which source is active is decided by
	// monitor.Resolve; see that package for the precedence rules.
	RTCConfigFile     string
	RTCConfigPeriod   time.Duration
	TurnHost          string
	TurnPort          int
	TurnSharedSecret  string
	TurnUsername      string
	TurnPassword      string
	TurnProtocol      string
	TurnTLS           bool
	CoturnWebURI      string
	CoturnWebUsername string
	CoturnAuthHeader  string

	// Media pipeline wiring.
	Encoder         string
	EnableResize    bool
	VideoSocketPath string
	AudioSocketPath string
	GPUIndex        int

	MetricsAddr string
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	overlay, err := loadOverlay(envOrDefault(lookup, envVarConfigFile, ""))
	if err != nil {
		return Config{}, err
	}

	envMode, _ := lookup(envVarMode)
	modeDefault := overlay.stringOr("mode", string(DefaultMode))
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = overlay.stringOr("logFormat", defaultLogFormatForMode(modeDefault))
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = overlay.stringOr("logLevel", defaultLogLevelForMode(modeDefault))
	}

	signalingURL := envOrDefault(lookup, envVarSignalingURL, overlay.stringOr("signalingUrl", DefaultSignalingURL))
	videoLocalID := envOrDefault(lookup, envVarVideoLocalID, overlay.stringOr("videoLocalId", DefaultVideoLocalID))
	videoPeerID := envOrDefault(lookup, envVarVideoPeerID, overlay.stringOr("videoPeerId", DefaultVideoPeerID))
	audioLocalID := envOrDefault(lookup, envVarAudioLocalID, overlay.stringOr("audioLocalId", DefaultAudioLocalID))
	audioPeerID := envOrDefault(lookup, envVarAudioPeerID, overlay.stringOr("audioPeerId", DefaultAudioPeerID))
	basicAuthUser := envOrDefault(lookup, envVarBasicAuthUser, overlay.stringOr("basicAuthUser", ""))
	basicAuthPassword := envOrDefault(lookup, envVarBasicAuthPassword, overlay.stringOr("basicAuthPassword", ""))

	retryBackoff, err := envDurationOrDefault(lookup, envVarRetryBackoff, overlay.durationOr("sessionRetryBackoff", DefaultRetryBackoff))
	if err != nil {
		return Config{}, err
	}
	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, overlay.durationOr("shutdownTimeout", DefaultShutdownTimeout))
	if err != nil {
		return Config{}, err
	}
	rtcConfigPeriod, err := envDurationOrDefault(lookup, envVarRTCConfigPeriod, overlay.durationOr("rtcConfigPeriod", DefaultRTCConfigPeriod))
	if err != nil {
		return Config{}, err
	}

	rtcConfigFile := envOrDefault(lookup, envVarRTCConfigFile, overlay.stringOr("rtcConfigFile", DefaultRTCConfigFile))
	turnHost := envOrDefault(lookup, envVarTurnHost, overlay.stringOr("turnHost", ""))
	turnPort, err := envIntOrDefault(lookup, envVarTurnPort, overlay.intOr("turnPort", DefaultTurnPort))
	if err != nil {
		return Config{}, err
	}
	turnSharedSecret := envOrDefault(lookup, envVarTurnSharedSecret, overlay.stringOr("turnSharedSecret", ""))
	turnUsername := envOrDefault(lookup, envVarTurnUsername, overlay.stringOr("turnUsername", ""))
	turnPassword := envOrDefault(lookup, envVarTurnPassword, overlay.stringOr("turnPassword", ""))
	turnProtocol := envOrDefault(lookup, envVarTurnProtocol, overlay.stringOr("turnProtocol", DefaultTurnProtocol))
	turnTLS, err := envBoolOrDefault(lookup, envVarTurnTLS, overlay.boolOr("turnTls", false))
	if err != nil {
		return Config{}, err
	}
	coturnWebURI := envOrDefault(lookup, envVarCoturnWebURI, overlay.stringOr("coturnWebUri", ""))
	coturnWebUsername := envOrDefault(lookup, envVarCoturnWebUsername, overlay.stringOr("coturnWebUsername", defaultCoturnWebUsername()))
	coturnAuthHeader := envOrDefault(lookup, envVarCoturnAuthHeader, overlay.stringOr("coturnAuthHeader", DefaultCoturnAuthHeader))

	encoder := envOrDefault(lookup, envVarEncoder, overlay.stringOr("encoder", DefaultEncoder))
	enableResize, err := envBoolOrDefault(lookup, envVarEnableResize, overlay.boolOr("enableResize", true))
	if err != nil {
		return Config{}, err
	}
	videoSocketPath := envOrDefault(lookup, envVarVideoSocketPath, overlay.stringOr("videoSocket", DefaultVideoSocketPath))
	audioSocketPath := envOrDefault(lookup, envVarAudioSocketPath, overlay.stringOr("audioSocket", DefaultAudioSocketPath))
	gpuIndex, err := envIntOrDefault(lookup, envVarGPUIndex, overlay.intOr("gpuIndex", 0))
	if err != nil {
		return Config{}, err
	}
	metricsAddr := envOrDefault(lookup, envVarMetricsAddr, overlay.stringOr("metricsAddr", DefaultMetricsAddr))

	fs := flag.NewFlagSet("streamgate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod (env "+envVarMode+")")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json (env "+envVarLogFormat+")")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error (env "+envVarLogLevel+")")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (env "+envVarShutdownTimeout+")")

	fs.StringVar(&signalingURL, "signaling-url", signalingURL, "Signaling relay websocket URL (env "+envVarSignalingURL+")")
	fs.StringVar(&videoLocalID, "video-local-id", videoLocalID, "Local peer id registered by the video channel (env "+envVarVideoLocalID+")")
	fs.StringVar(&videoPeerID, "video-peer-id", videoPeerID, "Remote peer id the video channel negotiates with (env "+envVarVideoPeerID+")")
	fs.StringVar(&audioLocalID, "audio-local-id", audioLocalID, "Local peer id registered by the audio channel (env "+envVarAudioLocalID+")")
	fs.StringVar(&audioPeerID, "audio-peer-id", audioPeerID, "Remote peer id the audio channel negotiates with (env "+envVarAudioPeerID+")")
	fs.StringVar(&basicAuthUser, "basic-auth-user", basicAuthUser, "Basic auth user for the signaling handshake (env "+envVarBasicAuthUser+")")
	fs.StringVar(&basicAuthPassword, "basic-auth-password", basicAuthPassword, "Basic auth password for the signaling handshake (env "+envVarBasicAuthPassword+")")
	fs.DurationVar(&retryBackoff, "session-retry-backoff", retryBackoff, "Backoff between session attempts while the viewer is absent (env "+envVarRetryBackoff+")")

	fs.StringVar(&rtcConfigFile, "rtc-config-file", rtcConfigFile, "Path to a JSON ICE descriptor file; watched when it exists (env "+envVarRTCConfigFile+")")
	fs.DurationVar(&rtcConfigPeriod, "rtc-config-period", rtcConfigPeriod, "Refresh period for HMAC and REST credential sources (env "+envVarRTCConfigPeriod+")")
	fs.StringVar(&turnHost, "turn-host", turnHost, "TURN server hostname for HMAC or static credentials (env "+envVarTurnHost+")")
	fs.IntVar(&turnPort, "turn-port", turnPort, "TURN server port (env "+envVarTurnPort+")")
	fs.StringVar(&turnSharedSecret, "turn-shared-secret", turnSharedSecret, "coturn TURN REST shared secret for HMAC credentials (env "+envVarTurnSharedSecret+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "Static long-term TURN username (env "+envVarTurnUsername+")")
	fs.StringVar(&turnPassword, "turn-password", turnPassword, "Static long-term TURN password (env "+envVarTurnPassword+")")
	fs.StringVar(&turnProtocol, "turn-protocol", turnProtocol, "TURN transport: udp or tcp (env "+envVarTurnProtocol+")")
	fs.BoolVar(&turnTLS, "turn-tls", turnTLS, "Use turns:// for generated TURN URIs (env "+envVarTurnTLS+")")
	fs.StringVar(&coturnWebURI, "coturn-web-uri", coturnWebURI, "Base URI of the coturn-web credential service (env "+envVarCoturnWebURI+")")
	fs.StringVar(&coturnWebUsername, "coturn-web-username", coturnWebUsername, "Username presented to the credential service and embedded in HMAC credentials (env "+envVarCoturnWebUsername+")")
	fs.StringVar(&coturnAuthHeader, "coturn-auth-header", coturnAuthHeader, "Header name carrying the username on credential service requests (env "+envVarCoturnAuthHeader+")")

	fs.StringVar(&encoder, "encoder", encoder, "Video encoder element name; GPU telemetry activates for nv* encoders (env "+envVarEncoder+")")
	fs.BoolVar(&enableResize, "enable-resize", enableResize, "Resize the display to the viewer's viewport before streaming (env "+envVarEnableResize+")")
	fs.StringVar(&videoSocketPath, "video-socket", videoSocketPath, "Unix socket of the video pipeline process (env "+envVarVideoSocketPath+")")
	fs.StringVar(&audioSocketPath, "audio-socket", audioSocketPath, "Unix socket of the audio pipeline process (env "+envVarAudioSocketPath+")")
	fs.IntVar(&gpuIndex, "gpu-index", gpuIndex, "GPU index for telemetry sampling (env "+envVarGPUIndex+")")
	fs.StringVar(&metricsAddr, "metrics-addr", metricsAddr, "Listen address for the Prometheus /metrics endpoint, empty disables (env "+envVarMetricsAddr+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	if !envLogFormatSet && !setFlags["log-format"] && !overlay.has("logFormat") {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !setFlags["log-level"] && !overlay.has("logLevel") {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	if u, err := url.Parse(signalingURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return Config{}, fmt.Errorf("invalid signaling URL %q (expected ws:// or wss://)", signalingURL)
	}
	if turnPort <= 0 || turnPort > 65535 {
		return Config{}, fmt.Errorf("turn port %d out of range (1-65535)", turnPort)
	}
	switch strings.ToLower(turnProtocol) {
	case "udp", "tcp":
		turnProtocol = strings.ToLower(turnProtocol)
	default:
		return Config{}, fmt.Errorf("invalid turn protocol %q (expected udp or tcp)", turnProtocol)
	}
	if videoPeerID == audioPeerID {
		return Config{}, fmt.Errorf("video and audio peer ids must differ (both %q)", videoPeerID)
	}

	return Config{
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,

		SignalingURL:      signalingURL,
		VideoLocalID:      videoLocalID,
		VideoPeerID:       videoPeerID,
		AudioLocalID:      audioLocalID,
		AudioPeerID:       audioPeerID,
		BasicAuthUser:     basicAuthUser,
		BasicAuthPassword: basicAuthPassword,
		RetryBackoff:      retryBackoff,

		RTCConfigFile:     rtcConfigFile,
		RTCConfigPeriod:   rtcConfigPeriod,
		TurnHost:          turnHost,
		TurnPort:          turnPort,
		TurnSharedSecret:  turnSharedSecret,
		TurnUsername:      turnUsername,
		TurnPassword:      turnPassword,
		TurnProtocol:      turnProtocol,
		TurnTLS:           turnTLS,
		CoturnWebURI:      coturnWebURI,
		CoturnWebUsername: coturnWebUsername,
		CoturnAuthHeader:  coturnAuthHeader,

		Encoder:         encoder,
		EnableResize:    enableResize,
		VideoSocketPath: videoSocketPath,
		AudioSocketPath: audioSocketPath,
		GPUIndex:        gpuIndex,
		MetricsAddr:     metricsAddr,
	}, nil
}

func defaultCoturnWebUsername() string {
	if hostname, err := os.Hostname(); err == nil {
		return hostname
	}
	return "streamgate"
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envBoolOrDefault(lookup func(string) (string, bool), key string, fallback bool) (bool, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}
