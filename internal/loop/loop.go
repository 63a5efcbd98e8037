// Package loop drives the sample, predict and decide cycle.
//
// At most one cycle runs at a time. A cycle that delivers a decision re-arms
// the controller after a fixed delay; a cycle that finds the source not ready,
// or fails to capture, does not, and waits for an external Trigger.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/photocheck/internal/boundary"
	"github.com/e7canasta/photocheck/internal/decision"
	"github.com/e7canasta/photocheck/internal/frame"
	"github.com/e7canasta/photocheck/internal/sampler"
)

// DefaultDelay is the pause between a delivered decision and the next cycle.
const DefaultDelay = 30 * time.Millisecond

// State of the controller.
type State int32

const (
	Idle State = iota
	Sampling
	Predicting
	Deciding
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sampling:
		return "sampling"
	case Predicting:
		return "predicting"
	case Deciding:
		return "deciding"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Predictor is the inference boundary as seen by the controller.
type Predictor interface {
	Predict(ctx context.Context, h *frame.Handle, width, height int) (boundary.Result, error)
	SourceNotReady(reason string)
	Close() error
}

// Prediction is delivered once per completed cycle.
type Prediction struct {
	Decision decision.Decision

	// Image is the sampled frame the decision was made on.
	Image *frame.Frame
}

// Config configures a Controller.
type Config struct {
	Source    sampler.Source
	Predictor Predictor
	Table     *decision.Table

	// Width and Height are the classifier input box.
	Width  int
	Height int

	// Delay between a delivered decision and the next cycle. Zero means DefaultDelay.
	Delay time.Duration

	// OnDecision and OnError are never called once Stop has returned. Stop
	// waits for a callback in progress, so callbacks must not call Stop.
	OnDecision func(Prediction)
	OnError    func(error)

	Logger *slog.Logger
}

// Stats is a snapshot of controller counters.
type Stats struct {
	Cycles    uint64
	Decisions uint64
	Failures  uint64
	NotReady  uint64
	Ignored   uint64
}

// Controller runs cycles on demand and re-arms itself after each decision.
type Controller struct {
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// running is the re-entrancy guard: true from cycle start until the cycle
	// has delivered its outcome.
	running atomic.Bool
	stopped atomic.Bool

	mu    sync.Mutex
	state State
	timer *time.Timer

	wg sync.WaitGroup

	// delivery serializes callbacks against Stop.
	delivery sync.Mutex

	cycles    atomic.Uint64
	decisions atomic.Uint64
	failures  atomic.Uint64
	notReady  atomic.Uint64
	ignored   atomic.Uint64
}

// New validates cfg and returns an idle controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("loop: source is required")
	}
	if cfg.Predictor == nil {
		return nil, fmt.Errorf("loop: predictor is required")
	}
	if cfg.Table == nil {
		return nil, fmt.Errorf("loop: rule table is required")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("loop: invalid model box %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.OnDecision == nil {
		cfg.OnDecision = func(Prediction) {}
	}
	if cfg.OnError == nil {
		cfg.OnError = func(error) {}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "loop"),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Trigger starts a cycle unless one is already running or the controller is
// stopped. It reports whether a cycle was started.
func (c *Controller) Trigger() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	return c.startLocked()
}

func (c *Controller) fire() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.timer = nil
	c.startLocked()
}

func (c *Controller) startLocked() bool {
	if c.stopped.Load() {
		return false
	}
	if !c.running.CompareAndSwap(false, true) {
		c.ignored.Add(1)
		return false
	}

	c.wg.Add(1)
	go c.cycle()
	return true
}

// Stop enters the terminal state, tears down the predictor and discards any
// result still in flight. It does not wait for the running cycle.
func (c *Controller) Stop() error {
	if !c.stopped.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.state = Stopped
	c.mu.Unlock()

	c.cancel()

	// Wait out a callback already past its stopped check.
	c.delivery.Lock()
	c.delivery.Unlock()
	if err := c.cfg.Predictor.Close(); err != nil {
		return fmt.Errorf("loop: close predictor: %w", err)
	}

	c.logger.Info("loop: stopped",
		"cycles", c.cycles.Load(),
		"decisions", c.decisions.Load(),
		"failures", c.failures.Load(),
	)
	return nil
}

// Wait blocks until the running cycle, if any, has returned.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns a snapshot of the controller counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Cycles:    c.cycles.Load(),
		Decisions: c.decisions.Load(),
		Failures:  c.failures.Load(),
		NotReady:  c.notReady.Load(),
		Ignored:   c.ignored.Load(),
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	if c.state != Stopped {
		c.state = s
	}
	c.mu.Unlock()
}

func (c *Controller) cycle() {
	defer c.wg.Done()

	c.cycles.Add(1)
	rearm := c.runCycle()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Stopped {
		c.state = Idle
	}
	c.running.Store(false)
	if rearm && !c.stopped.Load() {
		c.timer = time.AfterFunc(c.cfg.Delay, c.fire)
	}
}

// runCycle performs one sample, predict, decide round and reports whether the
// controller should re-arm itself.
func (c *Controller) runCycle() bool {
	c.setState(Sampling)

	h, err := sampler.Sample(c.cfg.Source, c.cfg.Width, c.cfg.Height)
	switch {
	case errors.Is(err, sampler.ErrNotReady):
		c.notReady.Add(1)
		c.cfg.Predictor.SourceNotReady("video source cannot draw a frame yet")
		c.logger.Debug("loop: source not ready, waiting for trigger")
		return false
	case err != nil:
		c.failures.Add(1)
		c.logger.Warn("loop: capture failed", "error", err)
		c.deliver(func() { c.cfg.OnError(err) })
		if errors.Is(err, sampler.ErrSourceClosed) {
			c.Stop()
		}
		return false
	}

	if c.stopped.Load() {
		h.Release()
		return false
	}

	c.setState(Predicting)
	res, err := c.cfg.Predictor.Predict(c.ctx, h, c.cfg.Width, c.cfg.Height)
	if c.stopped.Load() {
		if err == nil {
			c.logger.Debug("loop: discarding prediction after stop", "trace_id", res.Original.TraceID)
		}
		return false
	}
	if err != nil {
		c.failures.Add(1)
		c.logger.Warn("loop: predict failed", "error", err)
		return c.deliver(func() { c.cfg.OnError(err) }) && errors.Is(err, boundary.ErrInference)
	}

	c.setState(Deciding)
	d, err := decision.Decide(res.Vector, res.Labels, c.cfg.Table)
	if err != nil {
		c.failures.Add(1)
		c.logger.Error("loop: decide failed", "error", err)
		c.deliver(func() { c.cfg.OnError(err) })
		return false
	}

	return c.deliver(func() {
		c.decisions.Add(1)
		c.logger.Debug("loop: decision",
			"trace_id", res.Original.TraceID,
			"reason_code", d.ReasonCode,
			"order", d.Order,
			"matched_condition", d.MatchedCondition(),
		)
		c.cfg.OnDecision(Prediction{Decision: d, Image: res.Original})
	})
}

// deliver runs fn unless the controller is stopped. Stop cannot return while
// fn runs.
func (c *Controller) deliver(fn func()) bool {
	c.delivery.Lock()
	defer c.delivery.Unlock()

	if c.stopped.Load() {
		return false
	}
	fn()
	return true
}
