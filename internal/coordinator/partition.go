package coordinator

import (
	"fmt"
	"sort"

	"github.com/AsifaBeedi/EdgeShiftAI/internal/model"
	"github.com/AsifaBeedi/EdgeShiftAI/internal/registry"
)

// PartitionStrategy declares how a job's payload splits into independent,
// self-contained partitions. The ordered list it returns is the job's
// partition plan; each element ships to its assignee as-is.
type PartitionStrategy interface {
	Name() string
	Plan(payload model.Tensor) ([]model.Tensor, error)
}

// FixedCountStrategy splits the payload into Count horizontal strips. Suited
// to detection-style workloads where each strip is classified independently
// and the per-strip results are concatenated.
type FixedCountStrategy struct {
	Count int
}

func (s FixedCountStrategy) Name() string { return fmt.Sprintf("fixed_count(%d)", s.Count) }

func (s FixedCountStrategy) Plan(payload model.Tensor) ([]model.Tensor, error) {
	if s.Count < 1 {
		return nil, fmt.Errorf("fixed_count strategy needs count >= 1, got %d", s.Count)
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return payload.SplitRows(s.Count), nil
}

// ReplicateStrategy sends the whole payload to Copies assignees. Suited to
// whole-image classification, where redundant results from different peers
// are merged by score.
type ReplicateStrategy struct {
	Copies int
}

func (s ReplicateStrategy) Name() string { return fmt.Sprintf("replicate(%d)", s.Copies) }

func (s ReplicateStrategy) Plan(payload model.Tensor) ([]model.Tensor, error) {
	if s.Copies < 1 {
		return nil, fmt.Errorf("replicate strategy needs copies >= 1, got %d", s.Copies)
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	out := make([]model.Tensor, s.Copies)
	for i := range out {
		out[i] = payload
	}
	return out, nil
}

// CombinePolicy declares how succeeded partition results recombine into the
// job's final prediction list. It is a parameter of the job, not hard-coded
// in the coordinator, and must be commutative over partitions: results
// arrive keyed by partition index in no particular order.
type CombinePolicy interface {
	Name() string
	Combine(results map[int][]model.Prediction) []model.Prediction
}

// ConcatStrips concatenates per-partition results in partition order. The
// natural pairing for FixedCountStrategy.
type ConcatStrips struct{}

func (ConcatStrips) Name() string { return "concat_strips" }

func (ConcatStrips) Combine(results map[int][]model.Prediction) []model.Prediction {
	indexes := make([]int, 0, len(results))
	for idx := range results {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	var out []model.Prediction
	for _, idx := range indexes {
		out = append(out, results[idx]...)
	}
	return out
}

// MergeScores sums scores per label across partitions and re-sorts by
// descending total. The natural pairing for ReplicateStrategy, where every
// partition classified the same payload.
type MergeScores struct {
	// TopK truncates the merged list; <= 0 keeps every label.
	TopK int
}

func (MergeScores) Name() string { return "merge_scores" }

func (m MergeScores) Combine(results map[int][]model.Prediction) []model.Prediction {
	totals := make(map[string]float64)
	for _, preds := range results {
		for _, p := range preds {
			totals[p.Label] += p.Score
		}
	}

	out := make([]model.Prediction, 0, len(totals))
	for label, score := range totals {
		out = append(out, model.Prediction{Label: label, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Label < out[j].Label
	})
	if m.TopK > 0 && len(out) > m.TopK {
		out = out[:m.TopK]
	}
	return out
}

// CapabilityScore rates a peer's headroom from its last reported metrics:
// half weight on free CPU, most of the rest on free memory, a small bonus
// for battery level. Higher is better. Absent fields contribute zero.
func CapabilityScore(p registry.PeerInfo) float64 {
	var score float64
	if p.LastMetrics.CPUPercent != nil {
		score += 0.5 * (100 - *p.LastMetrics.CPUPercent)
	}
	if p.LastMetrics.MemoryPercent != nil {
		score += 0.4 * (100 - *p.LastMetrics.MemoryPercent)
	}
	if p.LastMetrics.BatteryPercent != nil {
		switch b := *p.LastMetrics.BatteryPercent; {
		case b > 80:
			score += 0.1 * 15
		case b > 50:
			score += 0.1 * 10
		case b > 20:
			score += 0.1 * 5
		}
	}
	return score
}

// rankPeers orders candidate peers best-first for assignment: ascending
// reported CPU load, round-trip latency as the tie-break. A peer with no
// CPU reading ranks by inverted capability score when it at least reported
// memory, and dead last otherwise.
func rankPeers(peers []registry.PeerInfo) []registry.PeerInfo {
	ranked := append([]registry.PeerInfo(nil), peers...)
	sort.SliceStable(ranked, func(i, j int) bool {
		ki, kj := cpuRankKey(ranked[i]), cpuRankKey(ranked[j])
		if ki != kj {
			return ki < kj
		}
		return ranked[i].LastRTT < ranked[j].LastRTT
	})
	return ranked
}

func cpuRankKey(p registry.PeerInfo) float64 {
	if p.LastMetrics.CPUPercent != nil {
		return *p.LastMetrics.CPUPercent
	}
	if p.LastMetrics.MemoryPercent != nil {
		return 100 - CapabilityScore(p)
	}
	return 100
}
