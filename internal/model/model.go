// Package model defines the inference contract the distribution layer builds
// on. The real engine (TFLite or similar) lives outside this repo; the
// coordinator and peers only ever see the Interface defined here.
package model

import (
	"context"
	"fmt"
	"sort"
)

// Tensor is a dense float32 image tensor in HWC layout. It is the unit of
// work shipped to peers: a partition strategy slices one tensor into strips,
// each of which is itself a valid Tensor.
type Tensor struct {
	Height   int       `json:"height"`
	Width    int       `json:"width"`
	Channels int       `json:"channels"`
	Data     []float32 `json:"data"`
}

// Len returns the expected element count for the tensor's shape.
func (t Tensor) Len() int { return t.Height * t.Width * t.Channels }

// Validate checks that the data length matches the declared shape.
func (t Tensor) Validate() error {
	if t.Height <= 0 || t.Width <= 0 || t.Channels <= 0 {
		return fmt.Errorf("invalid tensor shape %dx%dx%d", t.Height, t.Width, t.Channels)
	}
	if len(t.Data) != t.Len() {
		return fmt.Errorf("tensor data has %d elements, shape %dx%dx%d wants %d",
			len(t.Data), t.Height, t.Width, t.Channels, t.Len())
	}
	return nil
}

// SplitRows slices the tensor into n horizontal strips. The last strip
// absorbs the remainder rows. n is clamped to the row count so every strip
// is non-empty.
func (t Tensor) SplitRows(n int) []Tensor {
	if n < 1 {
		n = 1
	}
	if n > t.Height {
		n = t.Height
	}
	rowLen := t.Width * t.Channels
	base := t.Height / n
	extra := t.Height % n

	strips := make([]Tensor, 0, n)
	row := 0
	for i := 0; i < n; i++ {
		h := base
		if i < extra {
			h++
		}
		start := row * rowLen
		end := (row + h) * rowLen
		strips = append(strips, Tensor{
			Height:   h,
			Width:    t.Width,
			Channels: t.Channels,
			Data:     t.Data[start:end],
		})
		row += h
	}
	return strips
}

// Prediction is one labeled score from a classifier, highest score first in
// any ordered result list.
type Prediction struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Interface is the opaque inference engine consumed by the peer runtime and
// by local-execution fallback on the coordinator.
type Interface interface {
	// Infer classifies the tensor and returns predictions ordered by
	// descending score. Implementations must respect ctx cancellation.
	Infer(ctx context.Context, t Tensor) ([]Prediction, error)
}

// StubClassifier is a deterministic stand-in engine used for local execution
// and tests. It scores each configured label from a mean-intensity hash of
// the input, so identical tensors always classify identically.
type StubClassifier struct {
	Labels []string
	TopK   int
}

// NewStubClassifier builds a stub over the given label set. topK <= 0 means
// return every label.
func NewStubClassifier(labels []string, topK int) *StubClassifier {
	return &StubClassifier{Labels: labels, TopK: topK}
}

// Infer implements Interface.
func (s *StubClassifier) Infer(ctx context.Context, t Tensor) ([]Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if len(s.Labels) == 0 {
		return nil, fmt.Errorf("classifier has no labels configured")
	}

	var sum float64
	for _, v := range t.Data {
		sum += float64(v)
	}
	mean := sum / float64(len(t.Data))

	preds := make([]Prediction, len(s.Labels))
	for i, label := range s.Labels {
		// Spread scores deterministically around the mean so ordering is
		// stable across runs and processes.
		score := mean * float64(i+1)
		score -= float64(int(score)) // keep the fractional part
		if score < 0 {
			score = -score
		}
		preds[i] = Prediction{Label: label, Score: score}
	}
	sort.Slice(preds, func(i, j int) bool { return preds[i].Score > preds[j].Score })

	if s.TopK > 0 && len(preds) > s.TopK {
		preds = preds[:s.TopK]
	}
	return preds, nil
}
