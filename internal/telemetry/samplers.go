package telemetry

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"
)

// NewProcSystemSampler reads CPU and memory usage from /proc. CPU percent
// is computed between consecutive calls, so the first sample reports 0.
func NewProcSystemSampler() (SystemSampler, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("opening procfs: %w", err)
	}

	var prevIdle, prevTotal float64
	return func() (SystemSample, error) {
		stat, err := fs.Stat()
		if err != nil {
			return SystemSample{}, fmt.Errorf("reading /proc/stat: %w", err)
		}
		c := stat.CPUTotal
		idle := c.Idle + c.Iowait
		total := idle + c.User + c.Nice + c.System + c.IRQ + c.SoftIRQ + c.Steal

		var cpuPercent float64
		if dt := total - prevTotal; dt > 0 && prevTotal > 0 {
			cpuPercent = 100 * (1 - (idle-prevIdle)/dt)
		}
		prevIdle, prevTotal = idle, total

		mem, err := fs.Meminfo()
		if err != nil {
			return SystemSample{}, fmt.Errorf("reading /proc/meminfo: %w", err)
		}
		var memTotal, memAvailable float64
		if mem.MemTotal != nil {
			memTotal = float64(*mem.MemTotal) * 1024
		}
		if mem.MemAvailable != nil {
			memAvailable = float64(*mem.MemAvailable) * 1024
		}
		return SystemSample{
			CPUPercent:  cpuPercent,
			MemoryTotal: memTotal,
			MemoryUsed:  memTotal - memAvailable,
		}, nil
	}, nil
}

// NewNvidiaSMISampler queries GPU load and memory through nvidia-smi. The
// gpuIndex selects the card when the host has more than one.
func NewNvidiaSMISampler(gpuIndex int) GPUSampler {
	return func() (GPUSample, error) {
		out, err := exec.Command("nvidia-smi",
			"--query-gpu=utilization.gpu,memory.total,memory.used",
			"--format=csv,noheader,nounits",
			"-i", strconv.Itoa(gpuIndex),
		).Output()
		if err != nil {
			return GPUSample{}, fmt.Errorf("running nvidia-smi: %w", err)
		}
		return parseNvidiaSMI(string(out))
	}
}

func parseNvidiaSMI(out string) (GPUSample, error) {
	fields := strings.Split(strings.TrimSpace(out), ",")
	if len(fields) != 3 {
		return GPUSample{}, fmt.Errorf("unexpected nvidia-smi output %q", out)
	}
	var vals [3]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return GPUSample{}, fmt.Errorf("unexpected nvidia-smi field %q: %w", f, err)
		}
		vals[i] = v
	}
	// memory.total and memory.used are reported in MiB.
	return GPUSample{
		Load:        vals[0],
		MemoryTotal: vals[1] * 1024 * 1024,
		MemoryUsed:  vals[2] * 1024 * 1024,
	}, nil
}
