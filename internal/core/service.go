package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/photocheck/internal/boundary"
	"github.com/e7canasta/photocheck/internal/classifier"
	"github.com/e7canasta/photocheck/internal/decision"
	"github.com/e7canasta/photocheck/internal/emitter"
	"github.com/e7canasta/photocheck/internal/loop"
	"github.com/e7canasta/photocheck/internal/sampler"
	"github.com/e7canasta/photocheck/internal/source"
)

var (
	// ErrActive is returned by StartCapture while a capture session is running.
	ErrActive = errors.New("core: capture already active")

	// ErrStarting is returned while a capture session is still being set up.
	ErrStarting = errors.New("core: capture is starting")
)

// DefaultRecheck is how often the watcher looks for a source that became
// ready again after a not-ready cycle.
const DefaultRecheck = 250 * time.Millisecond

// Callbacks receive loop results in-process. Both are optional and run on
// the loop goroutine, so they must not block or call StopCapture.
type Callbacks struct {
	// OnDecision receives every decision together with the sampled frame,
	// pixels included.
	OnDecision func(loop.Prediction)

	// OnError receives cycle failures and the end of a session caused by a
	// closed source.
	OnError func(error)
}

// Options configures a Service.
type Options struct {
	InstanceID string

	ModelPath string
	Width     int
	Height    int
	Delay     time.Duration
	Table     *decision.Table

	Loader  classifier.Loader
	Sources SourceFactory

	// Publisher is optional.
	Publisher Publisher

	Callbacks

	// Recheck zero means DefaultRecheck.
	Recheck time.Duration

	Logger *slog.Logger
}

// Status is the caller-visible state of the service.
type Status struct {
	Active       bool           `json:"active"`
	Starting     bool           `json:"starting"`
	LastError    string         `json:"last_error,omitempty"`
	State        string         `json:"state"`
	Cycles       uint64         `json:"cycles"`
	Decisions    uint64         `json:"decisions"`
	Failures     uint64         `json:"failures"`
	LastDecision *emitter.Event `json:"last_decision,omitempty"`
}

// session is one StartCapture..StopCapture lifetime.
type session struct {
	src    source.Live
	ctl    *loop.Controller
	cancel context.CancelFunc
	done   chan struct{}
}

// Service wires a video source, the inference boundary and the loop
// controller into a start/stop capture API.
type Service struct {
	opts    Options
	logger  *slog.Logger
	started time.Time

	mu           sync.RWMutex
	sess         *session
	starting     bool
	lastErr      string
	lastDecision *emitter.Event

	// totals of sessions that already ended
	cycles    uint64
	decisions uint64
	failures  uint64
}

// New validates opts and returns an inactive service.
func New(opts Options) (*Service, error) {
	if opts.InstanceID == "" {
		return nil, fmt.Errorf("core: instance id is required")
	}
	if opts.ModelPath == "" {
		return nil, fmt.Errorf("core: model path is required")
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("core: invalid model box %dx%d", opts.Width, opts.Height)
	}
	if opts.Table == nil {
		return nil, fmt.Errorf("core: rule table is required")
	}
	if opts.Loader == nil {
		return nil, fmt.Errorf("core: classifier loader is required")
	}
	if opts.Sources == nil {
		return nil, fmt.Errorf("core: source factory is required")
	}
	if opts.Recheck <= 0 {
		opts.Recheck = DefaultRecheck
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Service{
		opts:    opts,
		logger:  opts.Logger.With("component", "core"),
		started: time.Now(),
	}, nil
}

// StartCapture opens the source, loads the model and starts the loop. It
// returns once the model is loaded; a failed load leaves the service stopped
// with LastError set.
func (s *Service) StartCapture(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.starting:
		s.mu.Unlock()
		return ErrStarting
	case s.sess != nil:
		s.mu.Unlock()
		return ErrActive
	}
	s.starting = true
	s.lastErr = ""
	s.mu.Unlock()

	s.logger.Info("core: starting capture", "model", s.opts.ModelPath)

	sess, err := s.open(ctx)
	if err != nil {
		s.mu.Lock()
		s.starting = false
		s.lastErr = err.Error()
		s.mu.Unlock()
		s.logger.Error("core: capture failed to start", "error", err)
		return err
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	sess.cancel = cancel

	s.mu.Lock()
	s.starting = false
	s.sess = sess
	s.mu.Unlock()

	go s.watch(watchCtx, sess)

	s.logger.Info("core: capture started",
		"model_width", s.opts.Width,
		"model_height", s.opts.Height,
		"delay", s.opts.Delay,
	)
	return nil
}

func (s *Service) open(ctx context.Context) (*session, error) {
	src, err := s.opts.Sources()
	if err != nil {
		return nil, fmt.Errorf("core: open source: %w", err)
	}
	if err := src.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("core: start source: %w", err)
	}

	b, err := boundary.New(boundary.Config{
		Loader: s.opts.Loader,
		Labels: s.opts.Table.Labels(),
		Logger: s.opts.Logger,
	})
	if err != nil {
		src.Stop()
		return nil, err
	}
	if err := b.Init(ctx, s.opts.ModelPath); err != nil {
		b.Close()
		src.Stop()
		return nil, err
	}

	ctl, err := loop.New(loop.Config{
		Source:     src,
		Predictor:  b,
		Table:      s.opts.Table,
		Width:      s.opts.Width,
		Height:     s.opts.Height,
		Delay:      s.opts.Delay,
		OnDecision: s.onDecision,
		OnError:    s.onError,
		Logger:     s.opts.Logger,
	})
	if err != nil {
		b.Close()
		src.Stop()
		return nil, err
	}

	return &session{src: src, ctl: ctl, done: make(chan struct{})}, nil
}

// watch triggers the first cycle when the source delivers its first frame and
// re-triggers after not-ready cycles once the source recovers. A closed source
// or a loop that stopped on its own ends the session.
func (s *Service) watch(ctx context.Context, sess *session) {
	defer close(sess.done)

	ticker := time.NewTicker(s.opts.Recheck)
	defer ticker.Stop()

	ready := sess.src.Mailbox().Ready()
	var seen uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ready:
			ready = nil
			seen = sess.ctl.Stats().NotReady
			sess.ctl.Trigger()
			continue
		case <-ticker.C:
		}

		if sess.src.Mailbox().Closed() {
			s.onError(sampler.ErrSourceClosed)
			s.logger.Warn("core: video source closed, ending capture")
			go s.end(sess)
			return
		}
		if sess.ctl.State() == loop.Stopped {
			s.logger.Warn("core: loop stopped, ending capture")
			go s.end(sess)
			return
		}
		if ready != nil {
			continue
		}
		if n := sess.ctl.Stats().NotReady; n != seen && sess.src.Ready() {
			seen = n
			sess.ctl.Trigger()
		}
	}
}

// StopCapture stops the loop, which tears down the boundary, and then the
// source. It is a no-op when no capture is active.
func (s *Service) StopCapture() error {
	s.mu.RLock()
	starting, sess := s.starting, s.sess
	s.mu.RUnlock()

	if starting {
		return ErrStarting
	}
	if sess == nil {
		return nil
	}
	return s.end(sess)
}

func (s *Service) end(sess *session) error {
	s.mu.Lock()
	if s.sess != sess {
		s.mu.Unlock()
		return nil
	}
	s.sess = nil
	s.mu.Unlock()

	sess.cancel()
	<-sess.done
	err := sess.ctl.Stop()
	sess.ctl.Wait()
	if serr := sess.src.Stop(); serr != nil && err == nil {
		err = serr
	}

	st := sess.ctl.Stats()
	s.mu.Lock()
	s.cycles += st.Cycles
	s.decisions += st.Decisions
	s.failures += st.Failures
	s.mu.Unlock()

	s.logger.Info("core: capture stopped",
		"cycles", st.Cycles,
		"decisions", st.Decisions,
		"failures", st.Failures,
	)
	return err
}

// NotifySourceReady forwards an external readiness signal to the loop. It
// reports whether a cycle was started.
func (s *Service) NotifySourceReady() bool {
	s.mu.RLock()
	sess := s.sess
	s.mu.RUnlock()

	if sess == nil {
		return false
	}
	return sess.ctl.Trigger()
}

// Status returns a snapshot of the service state. Counters accumulate over
// all capture sessions.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Active:       s.sess != nil,
		Starting:     s.starting,
		LastError:    s.lastErr,
		State:        loop.Stopped.String(),
		Cycles:       s.cycles,
		Decisions:    s.decisions,
		Failures:     s.failures,
		LastDecision: s.lastDecision,
	}
	if s.sess != nil {
		ls := s.sess.ctl.Stats()
		st.State = s.sess.ctl.State().String()
		st.Cycles += ls.Cycles
		st.Decisions += ls.Decisions
		st.Failures += ls.Failures
	}
	return st
}

// Shutdown stops any active capture, bounded by ctx. A capture that is still
// starting is stopped once its start completes.
func (s *Service) Shutdown(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		for {
			err := s.StopCapture()
			if !errors.Is(err, ErrStarting) {
				errCh <- err
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return fmt.Errorf("core: shutdown: %w", ctx.Err())
	}
}

// Uptime returns how long the service has existed.
func (s *Service) Uptime() time.Duration {
	return time.Since(s.started)
}

func (s *Service) onDecision(p loop.Prediction) {
	ev := emitter.NewEvent(s.opts.InstanceID, p.Decision, p.Image, time.Now())

	s.mu.Lock()
	s.lastDecision = &ev
	s.mu.Unlock()

	s.logger.Info("core: decision",
		"reason_code", ev.ReasonCode,
		"decision_value", ev.DecisionValue,
		"matched_condition", ev.MatchedCondition,
		"trace_id", ev.TraceID,
	)

	if s.opts.OnDecision != nil {
		s.opts.OnDecision(p)
	}

	if s.opts.Publisher == nil {
		return
	}
	if err := s.opts.Publisher.PublishDecision(ev); err != nil {
		s.logger.Warn("core: publish decision failed", "error", err)
	}
}

func (s *Service) onError(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()

	if s.opts.OnError != nil {
		s.opts.OnError(err)
	}
}
