package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Sample is one point reading of hardware utilization.
type Sample struct {
	At      time.Time
	UtilPct float64
	MemPct  float64
}

// DeviceInfo identifies the inference device.
type DeviceInfo struct {
	Name           string
	VRAMTotalMB    float64
	VRAMFreeMB     float64
	DriverVersion  string
	RuntimeVersion string
}

// Prober reads device identity and point samples. NvidiaSMI is the real
// implementation; tests substitute a fake.
type Prober interface {
	Device(ctx context.Context) (*DeviceInfo, error)
	Sample(ctx context.Context) (*Sample, error)
}

// Metrics is the aggregated GPU block of a results report.
type Metrics struct {
	Device         string  `json:"device"`
	VRAMTotalMB    float64 `json:"vram_total"`
	VRAMFreeMB     float64 `json:"vram_free"`
	AvgUtilPct     float64 `json:"avg_util_pct"`
	AvgMemPct      float64 `json:"avg_mem_pct"`
	DriverVersion  string  `json:"driver_version"`
	RuntimeVersion string  `json:"runtime_version"`
}

// NvidiaSMI probes the first GPU through the nvidia-smi binary.
type NvidiaSMI struct{}

func (NvidiaSMI) Device(ctx context.Context) (*DeviceInfo, error) {
	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=name,memory.total,memory.free,driver_version",
		"--format=csv,noheader,nounits", "-i", "0").Output()
	if err != nil {
		return nil, fmt.Errorf("nvidia-smi device query: %w", err)
	}
	fields := splitCSVLine(string(out))
	if len(fields) < 4 {
		return nil, fmt.Errorf("unexpected nvidia-smi output: %q", string(out))
	}
	total, _ := strconv.ParseFloat(fields[1], 64)
	free, _ := strconv.ParseFloat(fields[2], 64)
	info := &DeviceInfo{
		Name:          fields[0],
		VRAMTotalMB:   total,
		VRAMFreeMB:    free,
		DriverVersion: fields[3],
	}

	// CUDA runtime version only appears in the banner output.
	if banner, err := exec.CommandContext(ctx, "nvidia-smi").Output(); err == nil {
		if idx := strings.Index(string(banner), "CUDA Version:"); idx >= 0 {
			rest := strings.TrimSpace(string(banner)[idx+len("CUDA Version:"):])
			info.RuntimeVersion = strings.FieldsFunc(rest, func(r rune) bool {
				return r == ' ' || r == '|' || r == '\n'
			})[0]
		}
	}
	return info, nil
}

func (NvidiaSMI) Sample(ctx context.Context) (*Sample, error) {
	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=utilization.gpu,utilization.memory",
		"--format=csv,noheader,nounits", "-i", "0").Output()
	if err != nil {
		return nil, fmt.Errorf("nvidia-smi sample query: %w", err)
	}
	fields := splitCSVLine(string(out))
	if len(fields) < 2 {
		return nil, fmt.Errorf("unexpected nvidia-smi output: %q", string(out))
	}
	util, _ := strconv.ParseFloat(fields[0], 64)
	mem, _ := strconv.ParseFloat(fields[1], 64)
	return &Sample{At: time.Now(), UtilPct: util, MemPct: mem}, nil
}

func splitCSVLine(line string) []string {
	parts := strings.Split(strings.TrimSpace(line), ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// Sampler polls the prober on an independent timer for the duration of one
// file's processing. It never blocks inference: samples flow through a
// bounded channel drained only at Stop.
type Sampler struct {
	samples chan Sample
	cancel  context.CancelFunc
	done    chan struct{}
}

// StartSampler begins polling at the given interval.
func StartSampler(ctx context.Context, prober Prober, interval time.Duration) *Sampler {
	sctx, cancel := context.WithCancel(ctx)
	s := &Sampler{
		samples: make(chan Sample, 4096),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-sctx.Done():
				return
			case <-ticker.C:
				sample, err := prober.Sample(sctx)
				if err != nil {
					slog.Debug("telemetry sample failed", "err", err)
					continue
				}
				select {
				case s.samples <- *sample:
				default:
					// Bounded channel full; drop the sample.
				}
			}
		}
	}()
	return s
}

// Stop halts polling, drains the channel, and returns the collected samples.
func (s *Sampler) Stop() []Sample {
	s.cancel()
	<-s.done
	close(s.samples)

	var samples []Sample
	for sample := range s.samples {
		samples = append(samples, sample)
	}
	return samples
}

// WeightedAverage computes the time-weighted mean utilization and memory of
// a sample series. Each sample's value holds until the next sample; the last
// sample carries the preceding gap.
func WeightedAverage(samples []Sample) (utilPct, memPct float64) {
	switch len(samples) {
	case 0:
		return 0, 0
	case 1:
		return samples[0].UtilPct, samples[0].MemPct
	}

	var utilSum, memSum, total float64
	for i := 0; i < len(samples); i++ {
		var gap float64
		if i < len(samples)-1 {
			gap = samples[i+1].At.Sub(samples[i].At).Seconds()
		} else {
			gap = samples[i].At.Sub(samples[i-1].At).Seconds()
		}
		if gap <= 0 {
			continue
		}
		utilSum += samples[i].UtilPct * gap
		memSum += samples[i].MemPct * gap
		total += gap
	}
	if total == 0 {
		return samples[0].UtilPct, samples[0].MemPct
	}
	return utilSum / total, memSum / total
}
