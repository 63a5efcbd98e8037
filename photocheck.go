package photocheck

import (
	"context"
	"log/slog"

	"github.com/e7canasta/photocheck/internal/config"
	"github.com/e7canasta/photocheck/internal/core"
	"github.com/e7canasta/photocheck/internal/decision"
	"github.com/e7canasta/photocheck/internal/emitter"
	"github.com/e7canasta/photocheck/internal/loop"
)

// Re-exported types. See the internal packages for full documentation.
type (
	Config    = config.Config
	Status    = core.Status
	Event     = emitter.Event
	Publisher = core.Publisher
	Callbacks = core.Callbacks
	Decision  = decision.Decision
	Table     = decision.Table

	// Prediction carries a decision and the full sampled frame it was made on.
	Prediction = loop.Prediction
)

var (
	// ErrActive is returned by StartCapture while a capture is running.
	ErrActive = core.ErrActive

	// ErrStarting is returned while a capture is still being set up.
	ErrStarting = core.ErrStarting
)

// Service is the public capture API.
//
// Thread-safe: all methods are safe for concurrent use.
type Service interface {
	// StartCapture opens the video source, loads the classifier and starts
	// the loop. It returns after the model has loaded; on failure the service
	// stays stopped and Status().LastError carries the reason.
	StartCapture(ctx context.Context) error

	// StopCapture stops the loop, releases the classifier and closes the
	// source. Results still in flight are discarded. No-op when inactive.
	StopCapture() error

	// NotifySourceReady signals that the source can draw frames again. It is
	// a no-op while a cycle is running and reports whether one was started.
	NotifySourceReady() bool

	// Status returns a snapshot of the capture state and counters.
	Status() Status

	// Shutdown stops any capture, bounded by ctx.
	Shutdown(ctx context.Context) error
}

var _ Service = (*core.Service)(nil)

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// New builds a Service from cfg. pub receives every decision as an event and
// may be nil. cb receives decisions with their frame pixels and cycle errors.
func New(cfg *Config, pub Publisher, cb Callbacks, logger *slog.Logger) (Service, error) {
	svc, err := core.NewFromConfig(cfg, pub, cb, logger)
	if err != nil {
		return nil, err
	}
	return svc, nil
}

// DefaultTable returns the built-in delivery photo rule table.
func DefaultTable() *Table {
	return decision.DefaultTable()
}
