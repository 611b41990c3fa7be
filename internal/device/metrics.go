package device

import (
	"math/rand"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/AsifaBeedi/EdgeShiftAI/internal/protocol"
)

// MetricsProvider samples the host's resource usage for probe replies. Any
// field of the sample may be absent when the host cannot report it.
type MetricsProvider interface {
	Sample() protocol.Metrics
}

// SystemMetrics reads real CPU and memory usage via gopsutil. Battery is
// left absent: none of the supported hosts expose it portably, and the
// coordinator treats a missing field as "unsupported", not as zero.
type SystemMetrics struct{}

// Sample implements MetricsProvider. A failed reading leaves its field nil
// rather than reporting a fabricated value.
func (SystemMetrics) Sample() protocol.Metrics {
	var m protocol.Metrics

	if percents, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percents) > 0 {
		m.CPUPercent = &percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		m.MemoryPercent = &vm.UsedPercent
	}
	return m
}

// SimulatedMetrics fabricates plausible readings for hosts where real
// sampling is unavailable or for demos without load. Values move randomly
// within fixed bands each sample. Safe for concurrent use: every connection
// handler samples through the same provider.
type SimulatedMetrics struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSimulatedMetrics seeds a simulated provider.
func NewSimulatedMetrics(seed int64) *SimulatedMetrics {
	return &SimulatedMetrics{rnd: rand.New(rand.NewSource(seed))}
}

// Sample implements MetricsProvider.
func (s *SimulatedMetrics) Sample() protocol.Metrics {
	s.mu.Lock()
	cpuPct := 10 + s.rnd.Float64()*80
	memPct := 20 + s.rnd.Float64()*60
	battery := 30 + s.rnd.Float64()*70
	s.mu.Unlock()
	return protocol.Metrics{
		CPUPercent:     &cpuPct,
		MemoryPercent:  &memPct,
		BatteryPercent: &battery,
	}
}

// FallbackMetrics tries a primary provider and substitutes simulated
// readings for any field the primary could not sample. Mirrors the
// behavior of edge hosts where only some sensors exist.
type FallbackMetrics struct {
	Primary  MetricsProvider
	Fallback MetricsProvider
}

// Sample implements MetricsProvider.
func (f FallbackMetrics) Sample() protocol.Metrics {
	m := f.Primary.Sample()
	if m.CPUPercent != nil && m.MemoryPercent != nil && m.BatteryPercent != nil {
		return m
	}
	fb := f.Fallback.Sample()
	if m.CPUPercent == nil {
		m.CPUPercent = fb.CPUPercent
	}
	if m.MemoryPercent == nil {
		m.MemoryPercent = fb.MemoryPercent
	}
	if m.BatteryPercent == nil {
		m.BatteryPercent = fb.BatteryPercent
	}
	return m
}
