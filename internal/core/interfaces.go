package core

import (
	"github.com/e7canasta/photocheck/internal/emitter"
	"github.com/e7canasta/photocheck/internal/source"
)

// SourceFactory opens a fresh video source for one capture session.
// Sources are single-use: a stopped source is never restarted.
type SourceFactory func() (source.Live, error)

// Publisher delivers decision events to downstream consumers
type Publisher interface {
	PublishDecision(ev emitter.Event) error
}
