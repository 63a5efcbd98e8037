package source

import (
	"image"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/photocheck/internal/frame"
	"github.com/e7canasta/photocheck/internal/sampler"
)

// MailboxStats is a snapshot of mailbox counters.
type MailboxStats struct {
	Published uint64
	Drops     uint64
}

// Mailbox holds the most recent frame of a source.
//
// Published frames are shared by reference: the producer must not modify a
// frame after Publish, and readers must not modify what Latest returns.
type Mailbox struct {
	mu     sync.Mutex
	frame  *frame.Frame
	seen   bool
	closed bool

	ready     chan struct{}
	readyOnce sync.Once

	published atomic.Uint64
	drops     atomic.Uint64
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{ready: make(chan struct{})}
}

// Publish replaces the current frame. It never blocks.
func (m *Mailbox) Publish(f *frame.Frame) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.frame != nil && !m.seen {
		m.drops.Add(1)
	}
	m.frame = f
	m.seen = false
	m.mu.Unlock()

	m.published.Add(1)
	m.readyOnce.Do(func() { close(m.ready) })
}

// Latest returns the current frame without removing it.
func (m *Mailbox) Latest() (*frame.Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frame == nil || m.closed {
		return nil, false
	}
	m.seen = true
	return m.frame, true
}

func (m *Mailbox) peek() (*frame.Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frame == nil || m.closed {
		return nil, false
	}
	return m.frame, true
}

// Ready is closed once the first frame has been published.
func (m *Mailbox) Ready() <-chan struct{} {
	return m.ready
}

// Close drops the current frame and rejects further publishes.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.frame = nil
}

// Closed reports whether Close was called.
func (m *Mailbox) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Stats returns a snapshot of the mailbox counters.
func (m *Mailbox) Stats() MailboxStats {
	return MailboxStats{
		Published: m.published.Load(),
		Drops:     m.drops.Load(),
	}
}

// feed implements sampler.Source on top of a mailbox.
type feed struct {
	box     *Mailbox
	playing atomic.Bool
}

func (f *feed) Ready() bool {
	if !f.playing.Load() {
		return false
	}
	_, ok := f.box.peek()
	return ok
}

func (f *feed) Size() (int, int) {
	fr, ok := f.box.peek()
	if !ok {
		return 0, 0
	}
	return fr.Width, fr.Height
}

func (f *feed) Capture() (image.Image, error) {
	if f.box.Closed() {
		return nil, sampler.ErrSourceClosed
	}
	fr, ok := f.box.Latest()
	if !ok {
		return nil, sampler.ErrNotReady
	}
	if err := fr.Validate(); err != nil {
		return nil, err
	}
	return fr.Image(), nil
}
