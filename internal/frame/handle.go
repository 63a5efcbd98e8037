package frame

import (
	"errors"
	"sync/atomic"
)

// ErrMoved is returned when a handle is used after its frame was transferred
// or released.
var ErrMoved = errors.New("frame: handle used after move")

// Handle owns a frame and can give that ownership away exactly once.
//
// Transfer and Take invalidate the handle they are called on; every later
// access returns ErrMoved. This is how a frame crosses into the inference
// boundary without copying and without the producer keeping a usable reference.
type Handle struct {
	f atomic.Pointer[Frame]
}

// NewHandle wraps f. The caller gives up its own reference to f.
func NewHandle(f *Frame) *Handle {
	h := &Handle{}
	h.f.Store(f)
	return h
}

// Transfer moves the frame into a new handle and invalidates h.
func (h *Handle) Transfer() (*Handle, error) {
	f := h.f.Swap(nil)
	if f == nil {
		return nil, ErrMoved
	}
	return NewHandle(f), nil
}

// Take consumes the handle and returns the frame.
func (h *Handle) Take() (*Frame, error) {
	f := h.f.Swap(nil)
	if f == nil {
		return nil, ErrMoved
	}
	return f, nil
}

// Peek returns the frame without giving up ownership.
// The result must not be retained past the next Transfer, Take or Release.
func (h *Handle) Peek() (*Frame, error) {
	f := h.f.Load()
	if f == nil {
		return nil, ErrMoved
	}
	return f, nil
}

// Valid reports whether the handle still owns a frame.
func (h *Handle) Valid() bool {
	return h.f.Load() != nil
}

// Release drops the frame. Releasing an already moved handle is a no-op.
func (h *Handle) Release() {
	if f := h.f.Swap(nil); f != nil {
		f.Data = nil
	}
}
