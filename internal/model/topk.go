package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// TopK returns up to k labels ordered by descending score, ties in label
// order. Scores are reported as percentages, scaled in float32 so 0.7
// reads as 70 rather than 69.99999880.
func TopK(scores []float32, labels []string, k int) ([]Prediction, error) {
	if len(scores) != len(labels) {
		return nil, fmt.Errorf("%w: %d scores for %d labels", ErrOutputMismatch, len(scores), len(labels))
	}
	if k > len(scores) {
		k = len(scores)
	}
	if k <= 0 {
		return []Prediction{}, nil
	}

	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})

	out := make([]Prediction, k)
	for i := 0; i < k; i++ {
		out[i] = Prediction{
			Label: labels[idx[i]],
			Score: float64(scores[idx[i]] * 100),
		}
	}
	return out, nil
}

// PlantName is the label prefix before the first underscore.
func PlantName(label string) string {
	plant, _, _ := strings.Cut(label, "_")
	return plant
}

// Analyze turns a raw score vector into the view served to clients.
func Analyze(scores []float32, labels []string) (*Analysis, error) {
	top, err := TopK(scores, labels, 3)
	if err != nil {
		return nil, err
	}
	if len(top) == 0 {
		return nil, fmt.Errorf("%w: empty score vector", ErrOutputMismatch)
	}
	return &Analysis{
		Predicted:  top[0].Label,
		Confidence: top[0].Score,
		Plant:      PlantName(top[0].Label),
		Top3:       top,
		Timestamp:  time.Now().Unix(),
	}, nil
}
