package boundary

import "errors"

// Failure kinds. Apart from the caller's own context errors, every error a
// Boundary returns is a *Failure whose Kind is one of these.
var (
	// ErrInit means the classifier failed to load. Predictions stay blocked
	// until a later Init succeeds.
	ErrInit = errors.New("boundary: init failed")

	// ErrInference means a predict call failed inside the boundary. The
	// boundary remains usable.
	ErrInference = errors.New("boundary: inference failed")

	// ErrNotInitialized means Predict was called before a successful Init.
	ErrNotInitialized = errors.New("boundary: classifier not initialized")

	// ErrBusy means a request was sent while another one was still outstanding.
	// The outstanding request is not affected.
	ErrBusy = errors.New("boundary: request already in flight")

	// ErrClosed means the boundary has been torn down.
	ErrClosed = errors.New("boundary: closed")
)

// Failure is the typed failure message a boundary resolves a call with.
type Failure struct {
	Kind   error
	Reason string
}

func (f *Failure) Error() string {
	if f.Reason == "" {
		return f.Kind.Error()
	}
	return f.Kind.Error() + ": " + f.Reason
}

// Unwrap exposes Kind to errors.Is.
func (f *Failure) Unwrap() error { return f.Kind }

func fail(kind error, reason string) *Failure {
	return &Failure{Kind: kind, Reason: reason}
}
