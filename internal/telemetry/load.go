package telemetry

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// LoadSampler takes a cheap, on-demand CPU load sample so a slow
// reconnection probe can be correlated with host contention, mirroring
// the teacher's load_history.go tracker in miniature (no background
// tickers: samples are taken only when a probe is actually slow).
type LoadSampler struct {
	logf func(format string, args ...any)
}

// NewLoadSampler builds a sampler; logf defaults to a no-op.
func NewLoadSampler(logf func(format string, args ...any)) *LoadSampler {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &LoadSampler{logf: logf}
}

// OnSlowProbe is a scheduler.SlowProbeFunc: it samples instantaneous
// CPU utilization and logs it alongside the probe's tag and duration.
func (s *LoadSampler) OnSlowProbe(tag string, duration time.Duration) {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		s.logf("telemetry: slow probe tag=%s duration=%s (cpu sample unavailable: %v)", tag, duration, err)
		return
	}
	s.logf("telemetry: slow probe tag=%s duration=%s cpu=%.1f%%", tag, duration, percents[0])
}
