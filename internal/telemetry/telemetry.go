// Package telemetry samples host CPU, memory and GPU load on a fixed
// interval and fans each sample out to the media pipelines (which relay it
// to the viewer) and to the Prometheus gauges.
package telemetry

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hostwire/streamgate/internal/metrics"
)

// SystemSample is one reading of host-wide resource usage.
type SystemSample struct {
	CPUPercent  float64
	MemoryTotal float64
	MemoryUsed  float64
}

// GPUSample is one reading of GPU load and memory.
type GPUSample struct {
	Load        float64
	MemoryTotal float64
	MemoryUsed  float64
}

// SystemSampler and GPUSampler read the host. Injectable so tests run
// without /proc or an NVML binding.
type (
	SystemSampler func() (SystemSample, error)
	GPUSampler    func() (GPUSample, error)
)

// SystemSink receives system samples and the per-tick ping that drives
// viewer latency measurement; satisfied by the media pipelines.
type SystemSink interface {
	SendSystemStats(cpuPercent, memTotal, memUsed float64)
	SendPing(t time.Time)
}

// GPUSink receives GPU samples.
type GPUSink interface {
	SendGPUStats(load, memoryTotal, memoryUsed float64)
}

const defaultInterval = 1 * time.Second

// SystemMonitor periodically samples CPU and memory.
type SystemMonitor struct {
	sample   SystemSampler
	sinks    []SystemSink
	interval time.Duration
	log      *slog.Logger
}

func NewSystemMonitor(sample SystemSampler, interval time.Duration, log *slog.Logger, sinks ...SystemSink) *SystemMonitor {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &SystemMonitor{sample: sample, sinks: sinks, interval: interval, log: log}
}

// Run samples until ctx is cancelled. Every tick pings the sinks before
// sampling, so latency measurement keeps running even when a sample
// fails; sample errors are logged and the schedule continues.
func (m *SystemMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.log.Info("system monitor stopped")
			return
		case now := <-ticker.C:
			for _, sink := range m.sinks {
				sink.SendPing(now)
			}
			s, err := m.sample()
			if err != nil {
				m.log.Warn("system sample failed", "err", err)
				continue
			}
			metrics.SystemCPUPercent.Set(s.CPUPercent)
			metrics.SystemMemUsedBytes.Set(s.MemoryUsed)
			for _, sink := range m.sinks {
				sink.SendSystemStats(s.CPUPercent, s.MemoryTotal, s.MemoryUsed)
			}
		}
	}
}

// GPUMonitor periodically samples GPU load. Only meaningful for NVENC
// encoders; see Enabled.
type GPUMonitor struct {
	sample   GPUSampler
	sinks    []GPUSink
	interval time.Duration
	log      *slog.Logger
}

// Enabled reports whether GPU sampling applies to the configured encoder.
// Only the NVIDIA encoders ("nvh264enc" and friends) expose the load
// counters the monitor reads.
func Enabled(encoder string) bool {
	return strings.HasPrefix(encoder, "nv")
}

func NewGPUMonitor(sample GPUSampler, interval time.Duration, log *slog.Logger, sinks ...GPUSink) *GPUMonitor {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &GPUMonitor{sample: sample, sinks: sinks, interval: interval, log: log}
}

func (m *GPUMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.log.Info("gpu monitor stopped")
			return
		case <-ticker.C:
			s, err := m.sample()
			if err != nil {
				m.log.Warn("gpu sample failed", "err", err)
				continue
			}
			metrics.GPULoadPercent.Set(s.Load)
			for _, sink := range m.sinks {
				sink.SendGPUStats(s.Load, s.MemoryTotal, s.MemoryUsed)
			}
		}
	}
}
