// Package heartbeat runs the background liveness loop: every period it
// probes each Active peer in the registry, refreshing metrics and latency on
// success and demoting peers after consecutive failures.
package heartbeat

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/AsifaBeedi/EdgeShiftAI/internal/registry"
	"github.com/AsifaBeedi/EdgeShiftAI/internal/transport"
)

const (
	// DefaultPeriod is how often the loop sweeps the Active set.
	DefaultPeriod = 5 * time.Second
	// DefaultProbeTimeout bounds each individual probe.
	DefaultProbeTimeout = 2 * time.Second
	// DefaultWorkers caps concurrent probes per sweep so a large peer set
	// cannot fan out into unbounded connections.
	DefaultWorkers = 4
)

// Monitor periodically probes Active peers and updates the registry.
//
// Concurrency:
//   - Each sweep probes peers through a bounded worker pool.
//   - Registry updates happen once per peer per sweep and are atomic; a
//     cancelled loop never leaves a record half-written.
//   - Stop blocks until in-flight probes have drained.
type Monitor struct {
	reg          *registry.Registry
	prober       transport.Prober
	period       time.Duration
	probeTimeout time.Duration
	workers      int

	// onDemote, if set, is called after a peer transitions to
	// Disconnected. Used to drop pooled connections for that peer.
	onDemote func(addr string)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithPeriod overrides the sweep period.
func WithPeriod(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.period = d
		}
	}
}

// WithProbeTimeout overrides the per-probe deadline.
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.probeTimeout = d
		}
	}
}

// WithWorkers overrides the concurrent-probe cap.
func WithWorkers(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithOnDemote registers a callback invoked (in its own goroutine) whenever
// a sweep demotes a peer to Disconnected.
func WithOnDemote(fn func(addr string)) Option {
	return func(m *Monitor) { m.onDemote = fn }
}

// New creates a monitor over the given registry and prober.
func New(reg *registry.Registry, prober transport.Prober, opts ...Option) *Monitor {
	m := &Monitor{
		reg:          reg,
		prober:       prober,
		period:       DefaultPeriod,
		probeTimeout: DefaultProbeTimeout,
		workers:      DefaultWorkers,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the background loop. The first sweep runs immediately so a
// freshly discovered peer set does not wait a full period for metrics.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		log.Printf("heartbeat: started, period %v", m.period)

		ticker := time.NewTicker(m.period)
		defer ticker.Stop()

		m.sweep(ctx)
		for {
			select {
			case <-ticker.C:
				m.sweep(ctx)
			case <-ctx.Done():
				log.Println("heartbeat: stopped")
				return
			}
		}
	}()
}

// Stop cancels the loop and waits for in-flight probes to drain.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Sweep probes every currently Active peer once. Exposed so callers can
// force a refresh outside the ticker cadence.
func (m *Monitor) Sweep(ctx context.Context) { m.sweep(ctx) }

func (m *Monitor) sweep(ctx context.Context) {
	peers := m.reg.ListActive()
	if len(peers) == 0 {
		return
	}

	sem := make(chan struct{}, m.workers)
	var wg sync.WaitGroup
	for _, p := range peers {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return
		}
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			defer func() { <-sem }()
			m.probeOne(ctx, addr)
		}(p.Address)
	}
	wg.Wait()
}

func (m *Monitor) probeOne(ctx context.Context, addr string) {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	result, rtt, err := m.prober.Probe(probeCtx, addr)
	if err != nil {
		status := m.reg.MarkProbeFailure(addr)
		log.Printf("heartbeat: probe %s failed (%v), status now %s", addr, err, status)
		if status == registry.StatusDisconnected && m.onDemote != nil {
			go m.onDemote(addr)
		}
		return
	}
	m.reg.MarkProbeSuccess(addr, result.Metrics, rtt)
}
