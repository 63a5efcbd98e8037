package emitter

import (
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/photocheck/internal/decision"
	"github.com/e7canasta/photocheck/internal/frame"
)

// Event is the JSON message published for every delivered decision.
// Image pixels are never published, only their dimensions.
type Event struct {
	ID               string    `json:"id"`
	InstanceID       string    `json:"instance_id"`
	TraceID          string    `json:"trace_id,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	ReasonCode       string    `json:"reason_code"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	DecisionValue    string    `json:"decision_value"`
	Order            int       `json:"order"`
	MatchedCondition string    `json:"matched_condition"`
	Image            ImageInfo `json:"image"`
}

// ImageInfo describes the frame a decision was made on.
type ImageInfo struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// NewEvent builds the event for d, made on img at time at.
func NewEvent(instanceID string, d decision.Decision, img *frame.Frame, at time.Time) Event {
	ev := Event{
		ID:               uuid.NewString(),
		InstanceID:       instanceID,
		Timestamp:        at.UTC(),
		ReasonCode:       d.ReasonCode,
		Title:            d.Title,
		Description:      d.Description,
		DecisionValue:    string(d.Value),
		Order:            d.Order,
		MatchedCondition: d.MatchedCondition(),
	}
	if img != nil {
		ev.TraceID = img.TraceID
		ev.Image = ImageInfo{Width: img.Width, Height: img.Height}
	}
	return ev
}
