package boundary

import (
	"sort"

	"github.com/e7canasta/photocheck/internal/decision"
	"github.com/e7canasta/photocheck/internal/frame"
)

// Result is the successful answer to a predict request.
type Result struct {
	Labels decision.Labels
	Vector decision.ConfidenceVector

	// Original is the frame as it entered the boundary, before resizing to the
	// model box. Ownership passes to the caller.
	Original *frame.Frame
}

// Score is one labeled confidence.
type Score struct {
	Label      decision.Label
	Confidence float64
}

// Ranked returns the labeled scores by descending confidence. Ties keep label order.
func (r Result) Ranked() []Score {
	scores := make([]Score, r.Vector.Len())
	for i := range scores {
		scores[i] = Score{Label: r.Labels[i], Confidence: r.Vector.At(i)}
	}
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Confidence > scores[j].Confidence
	})
	return scores
}
