package decision

import "fmt"

// Threshold is the confidence at or above which a label is considered present.
const Threshold = 0.5

// PredicateSet maps every label of a set to its thresholded value.
type PredicateSet map[Label]bool

// Predicates thresholds vec against labels. The result is total over labels.
func Predicates(vec ConfidenceVector, labels Labels) (PredicateSet, error) {
	if vec.Len() != len(labels) {
		return nil, fmt.Errorf("%w: got %d scores for %d labels",
			ErrVectorLength, vec.Len(), len(labels))
	}

	ps := make(PredicateSet, len(labels))
	for i, label := range labels {
		ps[label] = vec.At(i) >= Threshold
	}
	return ps, nil
}

// Holds reports whether the set contains the test (label, value).
func (ps PredicateSet) Holds(t Test) bool {
	v, ok := ps[t.Label]
	return ok && v == t.Value
}
