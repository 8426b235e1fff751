// Package metrics holds the gateway's Prometheus collectors. All collectors
// register against the default registry at init, so importing any package
// that touches them is enough to expose them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamgate_session_cycles_total",
		Help: "Negotiation cycles started by the session supervisor",
	})

	PipelineStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamgate_pipeline_starts_total",
		Help: "Media pipeline starts",
	}, []string{"role"}) // "video" | "audio"

	RoutingErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamgate_session_routing_errors_total",
		Help: "Session events for peer ids owned by neither channel",
	})

	CredentialRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamgate_credential_refreshes_total",
		Help: "Refreshed ICE descriptors applied to live pipelines",
	})

	CredentialSourceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamgate_credential_source_failures_total",
		Help: "Credential fetches or parses that failed",
	}, []string{"source"}) // "rest" | "file" | "hmac"

	SignalingMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamgate_signaling_messages_total",
		Help: "Signaling messages by channel and direction",
	}, []string{"channel", "direction"}) // direction: "in" | "out"

	SignalingRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamgate_signaling_session_retries_total",
		Help: "Session requests retried because the remote peer was absent",
	})

	SystemCPUPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamgate_system_cpu_percent",
		Help: "Host CPU utilization sampled by the telemetry monitor",
	})

	SystemMemUsedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamgate_system_memory_used_bytes",
		Help: "Host memory in use sampled by the telemetry monitor",
	})

	GPULoadPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamgate_gpu_load_percent",
		Help: "GPU utilization sampled by the telemetry monitor",
	})

	StartTime = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamgate_start_time_seconds",
		Help: "Gateway start time in Unix seconds",
	})
)
