// Package discovery classifies a configured list of candidate peer addresses
// as Active or Unreachable by probing each one through the lockstep
// transport. It runs on demand (startup, manual refresh) and is idempotent
// on peers that are already Active.
package discovery

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/AsifaBeedi/EdgeShiftAI/internal/protocol"
	"github.com/AsifaBeedi/EdgeShiftAI/internal/registry"
	"github.com/AsifaBeedi/EdgeShiftAI/internal/transport"
)

// DefaultProbeTimeout bounds each candidate probe.
const DefaultProbeTimeout = 2 * time.Second

// Classification is the discovery-level verdict for one candidate. It is
// coarser than registry.Status: a candidate either answered the probe or it
// did not.
type Classification string

const (
	// ClassActive means the candidate answered the probe in time.
	ClassActive Classification = "active"
	// ClassUnreachable means the probe failed; Reason carries the error kind.
	ClassUnreachable Classification = "unreachable"
)

// Result is one candidate's classification from a discovery run.
type Result struct {
	Address string         `json:"address"`
	Status  Classification `json:"status"`
	RTT     time.Duration  `json:"rtt,omitempty"`
	Reason  string         `json:"reason,omitempty"`
}

// Report is the outcome of one discovery run, one row per candidate in the
// order the candidates were given.
type Report struct {
	Results []Result  `json:"results"`
	Ran     time.Time `json:"ran"`
}

// ActiveCount returns how many candidates classified Active.
func (r Report) ActiveCount() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == ClassActive {
			n++
		}
	}
	return n
}

// Discoverer probes candidates and writes classifications into the registry.
type Discoverer struct {
	reg          *registry.Registry
	prober       transport.Prober
	probeTimeout time.Duration
}

// New creates a discoverer over the given registry and prober.
func New(reg *registry.Registry, prober transport.Prober, probeTimeout time.Duration) *Discoverer {
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}
	return &Discoverer{reg: reg, prober: prober, probeTimeout: probeTimeout}
}

// Discover probes every candidate concurrently and returns the per-address
// report. A candidate that is already Active is re-probed all the same; on
// success nothing changes, on failure it is marked failed like any other
// probe miss, so a stale Active record cannot survive a refresh. Candidates
// are fully independent: one hanging or failing never delays the others.
func (d *Discoverer) Discover(ctx context.Context, candidates []string) Report {
	report := Report{
		Results: make([]Result, len(candidates)),
		Ran:     time.Now(),
	}

	var wg sync.WaitGroup
	for i, addr := range candidates {
		wg.Add(1)
		go func(i int, addr string) {
			defer wg.Done()
			report.Results[i] = d.probeOne(ctx, addr)
		}(i, addr)
	}
	wg.Wait()

	log.Printf("discovery: %d/%d candidates active", report.ActiveCount(), len(candidates))
	return report
}

func (d *Discoverer) probeOne(ctx context.Context, addr string) Result {
	probeCtx, cancel := context.WithTimeout(ctx, d.probeTimeout)
	defer cancel()

	result, rtt, err := d.prober.Probe(probeCtx, addr)
	if err != nil {
		d.reg.MarkProbeFailure(addr)
		reason := protocol.KindUnreachable.String()
		if kind, ok := protocol.KindOf(err); ok {
			reason = kind.String()
		}
		log.Printf("discovery: probe %s failed: %v", addr, err)
		return Result{Address: addr, Status: ClassUnreachable, Reason: reason}
	}

	d.reg.MarkProbeSuccess(addr, result.Metrics, rtt)
	return Result{Address: addr, Status: ClassActive, RTT: rtt}
}
