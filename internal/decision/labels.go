package decision

import (
	"errors"
	"fmt"
	"math"
)

// Label is a named visual attribute scored by the classifier.
type Label string

// Labels is the fixed, ordered label set of a classifier.
// Order matches the classifier output; membership is what rules care about.
type Labels []Label

var (
	// ErrEmptyLabels is returned when a label set has no labels.
	ErrEmptyLabels = errors.New("decision: label set is empty")

	// ErrDuplicateLabel is returned when a label appears twice in a label set.
	ErrDuplicateLabel = errors.New("decision: duplicate label")

	// ErrVectorLength is returned when a confidence vector does not match the label set size.
	ErrVectorLength = errors.New("decision: confidence vector length does not match label set")

	// ErrScoreRange is returned when a confidence is NaN or outside [0,1].
	ErrScoreRange = errors.New("decision: confidence outside [0,1]")
)

// NewLabels builds a validated label set from names, preserving order.
func NewLabels(names ...string) (Labels, error) {
	if len(names) == 0 {
		return nil, ErrEmptyLabels
	}

	seen := make(map[string]struct{}, len(names))
	labels := make(Labels, 0, len(names))
	for _, name := range names {
		if name == "" {
			return nil, fmt.Errorf("decision: empty label name at position %d", len(labels))
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateLabel, name)
		}
		seen[name] = struct{}{}
		labels = append(labels, Label(name))
	}
	return labels, nil
}

// Contains reports whether l belongs to the set.
func (ls Labels) Contains(l Label) bool {
	return ls.Index(l) >= 0
}

// Index returns the position of l in the set, or -1.
func (ls Labels) Index(l Label) int {
	for i, label := range ls {
		if label == l {
			return i
		}
	}
	return -1
}

// ConfidenceVector holds one score per label, index-aligned with a Labels set.
// It is immutable once built.
type ConfidenceVector struct {
	scores []float64
}

// NewConfidenceVector validates scores against labels and copies them.
func NewConfidenceVector(labels Labels, scores []float64) (ConfidenceVector, error) {
	if len(scores) != len(labels) {
		return ConfidenceVector{}, fmt.Errorf("%w: got %d scores for %d labels",
			ErrVectorLength, len(scores), len(labels))
	}

	owned := make([]float64, len(scores))
	for i, s := range scores {
		if math.IsNaN(s) || s < 0 || s > 1 {
			return ConfidenceVector{}, fmt.Errorf("%w: %s=%v", ErrScoreRange, labels[i], s)
		}
		owned[i] = s
	}
	return ConfidenceVector{scores: owned}, nil
}

// Len returns the number of scores.
func (v ConfidenceVector) Len() int { return len(v.scores) }

// At returns the score at index i.
func (v ConfidenceVector) At(i int) float64 { return v.scores[i] }

// Scores returns a copy of the scores.
func (v ConfidenceVector) Scores() []float64 {
	out := make([]float64, len(v.scores))
	copy(out, v.scores)
	return out
}
