// Package registry holds the coordinator's view of known peers: address,
// liveness status, last-seen time and last reported metrics. Discovery and
// heartbeat are the only writers; the task coordinator only reads.
package registry

import (
	"sync"
	"time"

	"github.com/AsifaBeedi/EdgeShiftAI/internal/protocol"
)

// Status is a peer's liveness classification.
type Status string

const (
	// StatusUnknown means the peer has never answered a probe.
	StatusUnknown Status = "unknown"
	// StatusActive means the peer answered a probe within the liveness window.
	StatusActive Status = "active"
	// StatusDisconnected means the peer failed enough consecutive probes to
	// be considered down until it answers again.
	StatusDisconnected Status = "disconnected"
)

// DefaultFailureThreshold is how many consecutive probe or task failures
// demote an Active peer to Disconnected.
const DefaultFailureThreshold = 3

// DefaultLivenessWindow bounds how stale an Active record may be before
// ListActive demotes it rather than hand it to the task coordinator.
const DefaultLivenessWindow = 15 * time.Second

// PeerInfo is one peer's last-observed state. The registry returns copies;
// callers never share the internal record.
type PeerInfo struct {
	Address          string           `json:"address"`
	Status           Status           `json:"status"`
	LastSeen         time.Time        `json:"last_seen"`
	LastMetrics      protocol.Metrics `json:"last_metrics"`
	LastRTT          time.Duration    `json:"last_rtt"`
	ConsecutiveFails int              `json:"consecutive_fails"`
}

// Registry is the address-keyed peer table. All methods are safe for
// concurrent use; per-address updates are serialized under one lock and
// status changes are checked transitions, never blind overwrites.
type Registry struct {
	mu               sync.RWMutex
	peers            map[string]*PeerInfo
	failureThreshold int
	livenessWindow   time.Duration
	now              func() time.Time // injectable for tests
}

// Option configures a Registry.
type Option func(*Registry)

// WithFailureThreshold overrides the consecutive-failure demotion threshold.
func WithFailureThreshold(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.failureThreshold = n
		}
	}
}

// WithLivenessWindow overrides the staleness bound applied by ListActive.
func WithLivenessWindow(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.livenessWindow = d
		}
	}
}

// WithClock substitutes the time source. Test-only.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		peers:            make(map[string]*PeerInfo),
		failureThreshold: DefaultFailureThreshold,
		livenessWindow:   DefaultLivenessWindow,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MarkProbeSuccess records a successful probe of addr: refreshes lastSeen,
// metrics and round-trip latency, clears the failure counter, and promotes
// Unknown or Disconnected peers to Active. One success is enough to restore
// a Disconnected peer.
func (r *Registry) MarkProbeSuccess(addr string, metrics protocol.Metrics, rtt time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.getOrCreateLocked(addr)
	p.Status = StatusActive
	p.LastSeen = r.now()
	p.LastMetrics = metrics
	p.LastRTT = rtt
	p.ConsecutiveFails = 0
}

// MarkTaskSuccess refreshes lastSeen after addr completed a task. A task
// completion is as strong a liveness signal as a probe, so it also clears
// the failure counter, but it carries no metrics sample.
func (r *Registry) MarkTaskSuccess(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[addr]
	if !ok {
		return
	}
	p.LastSeen = r.now()
	p.ConsecutiveFails = 0
	if p.Status != StatusActive {
		p.Status = StatusActive
	}
}

// MarkProbeFailure records a failed probe or task against addr and returns
// the peer's status after the update. An Active peer is demoted once its
// consecutive failures reach the threshold; Unknown peers go straight to
// Disconnected since there is no liveness to preserve.
func (r *Registry) MarkProbeFailure(addr string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.getOrCreateLocked(addr)
	p.ConsecutiveFails++
	switch p.Status {
	case StatusActive:
		if p.ConsecutiveFails >= r.failureThreshold {
			p.Status = StatusDisconnected
		}
	case StatusUnknown:
		p.Status = StatusDisconnected
	}
	return p.Status
}

// Demote forces addr to Disconnected regardless of its failure count. Used
// when repeated dispatch failures are themselves a liveness signal.
func (r *Registry) Demote(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[addr]
	if !ok {
		return
	}
	if p.Status != StatusDisconnected {
		p.Status = StatusDisconnected
	}
	if p.ConsecutiveFails < r.failureThreshold {
		p.ConsecutiveFails = r.failureThreshold
	}
}

// Get returns a copy of the record for addr, or ok=false if unknown.
func (r *Registry) Get(addr string) (PeerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.peers[addr]
	if !ok {
		return PeerInfo{}, false
	}
	return *p, true
}

// ListActive returns a snapshot of every Active peer. An Active record whose
// lastSeen has fallen outside the liveness window is demoted here, before the
// task coordinator can ever read it as live.
func (r *Registry) ListActive() []PeerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.livenessWindow)
	out := make([]PeerInfo, 0, len(r.peers))
	for _, p := range r.peers {
		if p.Status != StatusActive {
			continue
		}
		if p.LastSeen.Before(cutoff) {
			p.Status = StatusDisconnected
			continue
		}
		out = append(out, *p)
	}
	return out
}

// All returns a snapshot of every known peer, any status.
func (r *Registry) All() []PeerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PeerInfo, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, *p)
	}
	return out
}

// FailureThreshold exposes the configured demotion threshold.
func (r *Registry) FailureThreshold() int { return r.failureThreshold }

func (r *Registry) getOrCreateLocked(addr string) *PeerInfo {
	p, ok := r.peers[addr]
	if !ok {
		p = &PeerInfo{Address: addr, Status: StatusUnknown}
		r.peers[addr] = p
	}
	return p
}
