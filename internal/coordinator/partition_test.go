package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AsifaBeedi/EdgeShiftAI/internal/model"
	"github.com/AsifaBeedi/EdgeShiftAI/internal/protocol"
	"github.com/AsifaBeedi/EdgeShiftAI/internal/registry"
)

// TestFixedCountStrategy verifies strip planning.
func TestFixedCountStrategy(t *testing.T) {
	payload := testTensor(10, 4)

	plan, err := FixedCountStrategy{Count: 3}.Plan(payload)
	require.NoError(t, err)
	require.Len(t, plan, 3)
	total := 0
	for _, p := range plan {
		total += p.Height
	}
	assert.Equal(t, 10, total)

	_, err = FixedCountStrategy{Count: 0}.Plan(payload)
	assert.Error(t, err)

	_, err = FixedCountStrategy{Count: 2}.Plan(model.Tensor{Height: 2, Width: 2, Channels: 1})
	assert.Error(t, err)
}

// TestReplicateStrategy verifies whole-payload replication.
func TestReplicateStrategy(t *testing.T) {
	payload := testTensor(4, 4)

	plan, err := ReplicateStrategy{Copies: 3}.Plan(payload)
	require.NoError(t, err)
	require.Len(t, plan, 3)
	for _, p := range plan {
		assert.Equal(t, payload.Height, p.Height)
		assert.Equal(t, len(payload.Data), len(p.Data))
	}

	_, err = ReplicateStrategy{}.Plan(payload)
	assert.Error(t, err)
}

// TestConcatStripsOrdersByPartition verifies concatenation follows
// partition order no matter the map iteration order.
func TestConcatStripsOrdersByPartition(t *testing.T) {
	results := map[int][]model.Prediction{
		2: {{Label: "third", Score: 0.3}},
		0: {{Label: "first", Score: 0.1}},
		1: {{Label: "second", Score: 0.2}},
	}

	combined := ConcatStrips{}.Combine(results)
	require.Len(t, combined, 3)
	assert.Equal(t, "first", combined[0].Label)
	assert.Equal(t, "second", combined[1].Label)
	assert.Equal(t, "third", combined[2].Label)
}

// TestMergeScoresSumsAcrossPartitions verifies redundant classifications
// merge by label and sort by total score.
func TestMergeScoresSumsAcrossPartitions(t *testing.T) {
	results := map[int][]model.Prediction{
		0: {{Label: "cat", Score: 0.6}, {Label: "dog", Score: 0.4}},
		1: {{Label: "dog", Score: 0.7}, {Label: "cat", Score: 0.3}},
	}

	combined := MergeScores{}.Combine(results)
	require.Len(t, combined, 2)
	assert.Equal(t, "dog", combined[0].Label)
	assert.InDelta(t, 1.1, combined[0].Score, 1e-9)
	assert.Equal(t, "cat", combined[1].Label)
	assert.InDelta(t, 0.9, combined[1].Score, 1e-9)

	truncated := MergeScores{TopK: 1}.Combine(results)
	assert.Len(t, truncated, 1)
}

func peerWith(addr string, cpu, mem, battery *float64, rtt time.Duration) registry.PeerInfo {
	return registry.PeerInfo{
		Address: addr,
		Status:  registry.StatusActive,
		LastMetrics: protocol.Metrics{
			CPUPercent:     cpu,
			MemoryPercent:  mem,
			BatteryPercent: battery,
		},
		LastRTT: rtt,
	}
}

// TestRankPeersByCPUAndLatency verifies the assignment order: ascending
// CPU, RTT as tie-break, metrics-less peers last.
func TestRankPeersByCPUAndLatency(t *testing.T) {
	peers := []registry.PeerInfo{
		peerWith("peer:busy", floatPtr(80), nil, nil, time.Millisecond),
		peerWith("peer:idle", floatPtr(10), nil, nil, 50*time.Millisecond),
		peerWith("peer:idle-near", floatPtr(10), nil, nil, 2*time.Millisecond),
		peerWith("peer:mute", nil, nil, nil, time.Millisecond),
	}

	ranked := rankPeers(peers)
	require.Len(t, ranked, 4)
	assert.Equal(t, "peer:idle-near", ranked[0].Address, "lowest CPU, lowest RTT first")
	assert.Equal(t, "peer:idle", ranked[1].Address)
	assert.Equal(t, "peer:busy", ranked[2].Address)
	assert.Equal(t, "peer:mute", ranked[3].Address, "no metrics ranks last")

	// rankPeers must not mutate its input.
	assert.Equal(t, "peer:busy", peers[0].Address)
}

// TestCapabilityScore pins the weighting: half CPU headroom, 0.4 memory
// headroom, small battery bonus, absent fields contribute nothing.
func TestCapabilityScore(t *testing.T) {
	full := peerWith("p", floatPtr(20), floatPtr(50), floatPtr(90), 0)
	assert.InDelta(t, 0.5*80+0.4*50+0.1*15, CapabilityScore(full), 1e-9)

	cpuOnly := peerWith("p", floatPtr(40), nil, nil, 0)
	assert.InDelta(t, 0.5*60, CapabilityScore(cpuOnly), 1e-9)

	lowBattery := peerWith("p", floatPtr(0), floatPtr(0), floatPtr(10), 0)
	assert.InDelta(t, 0.5*100+0.4*100, CapabilityScore(lowBattery), 1e-9, "battery at 10%% earns no bonus")

	assert.Zero(t, CapabilityScore(peerWith("p", nil, nil, nil, 0)))
}

// TestCPURankKeyFallback verifies a peer without a CPU reading ranks by
// inverted capability when memory is known.
func TestCPURankKeyFallback(t *testing.T) {
	memOnly := peerWith("p", nil, floatPtr(30), nil, 0)
	assert.InDelta(t, 100-0.4*70, cpuRankKey(memOnly), 1e-9)

	nothing := peerWith("p", nil, nil, nil, 0)
	assert.Equal(t, 100.0, cpuRankKey(nothing))

	withCPU := peerWith("p", floatPtr(33), floatPtr(90), nil, 0)
	assert.Equal(t, 33.0, cpuRankKey(withCPU))
}
