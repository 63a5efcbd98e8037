// Package boundary runs the classifier in an isolated, single-goroutine
// execution context reachable only through request messages.
//
// A Boundary accepts one outstanding request at a time. Predict takes
// ownership of the frame handle it is given; the caller's handle is invalid
// once Predict has accepted it. Requests sent while another is outstanding are
// rejected with ErrBusy and leave the outstanding request untouched.
//
// Failures inside the execution context, including panics raised by the
// classifier, are converted into *Failure values and never stop the context.
package boundary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/disintegration/imaging"

	"github.com/e7canasta/photocheck/internal/classifier"
	"github.com/e7canasta/photocheck/internal/decision"
	"github.com/e7canasta/photocheck/internal/frame"
)

// Config configures a Boundary.
type Config struct {
	Loader classifier.Loader
	Labels decision.Labels
	Logger *slog.Logger
}

// Stats is a snapshot of boundary counters.
type Stats struct {
	Predictions uint64
	Failures    uint64
	Rejected    uint64
}

// Boundary owns a classifier model inside its own goroutine.
type Boundary struct {
	loader classifier.Loader
	labels decision.Labels
	logger *slog.Logger

	requests chan request
	notices  chan string
	done     chan struct{}
	exited   chan struct{}

	// ctx is cancelled on Close and bounds classifier calls.
	ctx    context.Context
	cancel context.CancelFunc

	inflight  atomic.Bool
	closed    atomic.Bool
	loaded    atomic.Bool
	closeOnce sync.Once

	predictions atomic.Uint64
	failures    atomic.Uint64
	rejected    atomic.Uint64

	// Owned by the run goroutine.
	model   classifier.Model
	initErr string
}

type requestKind int

const (
	kindInit requestKind = iota
	kindPredict
)

type request struct {
	kind      requestKind
	modelPath string
	frame     *frame.Handle
	width     int
	height    int
	reply     chan reply
}

type reply struct {
	result Result
	err    error
}

// New starts a boundary. No model is loaded until Init.
func New(cfg Config) (*Boundary, error) {
	if cfg.Loader == nil {
		return nil, fmt.Errorf("boundary: loader is required")
	}
	if len(cfg.Labels) == 0 {
		return nil, decision.ErrEmptyLabels
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Boundary{
		loader:   cfg.Loader,
		labels:   append(decision.Labels(nil), cfg.Labels...),
		logger:   cfg.Logger.With("component", "boundary"),
		requests: make(chan request),
		notices:  make(chan string, 8),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	go b.run()
	return b, nil
}

// Init loads the classifier from modelPath and waits until it is ready.
// A boundary loads at most one model in its lifetime; Init may be retried
// after a failure.
func (b *Boundary) Init(ctx context.Context, modelPath string) error {
	if b.closed.Load() {
		return fail(ErrClosed, "")
	}
	if !b.inflight.CompareAndSwap(false, true) {
		b.rejected.Add(1)
		return fail(ErrBusy, "init rejected")
	}

	_, err := b.roundTrip(ctx, request{kind: kindInit, modelPath: modelPath})
	return err
}

// Predict moves h into the boundary and classifies it at width x height.
//
// If the call is rejected with ErrBusy, or the boundary was already closed,
// h stays with the caller. Otherwise h is consumed, and on success its frame
// comes back as Result.Original.
func (b *Boundary) Predict(ctx context.Context, h *frame.Handle, width, height int) (Result, error) {
	if b.closed.Load() {
		return Result{}, fail(ErrClosed, "")
	}
	if !b.inflight.CompareAndSwap(false, true) {
		b.rejected.Add(1)
		return Result{}, fail(ErrBusy, "predict rejected")
	}

	moved, err := h.Transfer()
	if err != nil {
		b.inflight.Store(false)
		return Result{}, fail(ErrInference, err.Error())
	}

	return b.roundTrip(ctx, request{kind: kindPredict, frame: moved, width: width, height: height})
}

// SourceNotReady tells the boundary that a cycle was skipped because the
// source could not draw a frame. It is informational and never blocks.
func (b *Boundary) SourceNotReady(reason string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.notices <- reason:
	default:
	}
}

// Close tears down the execution context. Outstanding calls return ErrClosed
// immediately; a classifier call already running is cancelled and its result
// discarded. The model is closed once the context has exited (see Done).
func (b *Boundary) Close() error {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.cancel()
		close(b.done)
	})
	return nil
}

// Done is closed after the execution context has exited and released the model.
func (b *Boundary) Done() <-chan struct{} {
	return b.exited
}

// Ready reports whether a model is loaded.
func (b *Boundary) Ready() bool {
	return b.loaded.Load() && !b.closed.Load()
}

// Stats returns a snapshot of the boundary counters.
func (b *Boundary) Stats() Stats {
	return Stats{
		Predictions: b.predictions.Load(),
		Failures:    b.failures.Load(),
		Rejected:    b.rejected.Load(),
	}
}

func (b *Boundary) roundTrip(ctx context.Context, req request) (Result, error) {
	req.reply = make(chan reply, 1)

	select {
	case b.requests <- req:
	case <-ctx.Done():
		b.abandon(req)
		return Result{}, ctx.Err()
	case <-b.done:
		b.abandon(req)
		return Result{}, fail(ErrClosed, "")
	}

	// From here the execution context owns the request and clears the
	// in-flight flag when it is done with it.
	select {
	case rep := <-req.reply:
		if b.closed.Load() {
			return Result{}, fail(ErrClosed, "")
		}
		return rep.result, rep.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-b.done:
		return Result{}, fail(ErrClosed, "")
	}
}

func (b *Boundary) abandon(req request) {
	if req.frame != nil {
		req.frame.Release()
	}
	b.inflight.Store(false)
}

func (b *Boundary) run() {
	defer close(b.exited)
	defer b.teardown()

	for {
		select {
		case <-b.done:
			return
		case reason := <-b.notices:
			b.logger.Debug("boundary: source not ready", "reason", reason)
		case req := <-b.requests:
			var rep reply
			switch req.kind {
			case kindInit:
				rep.err = b.handleInit(req.modelPath)
			case kindPredict:
				rep.result, rep.err = b.handlePredict(req)
			}
			if rep.err != nil {
				b.failures.Add(1)
			}

			b.inflight.Store(false)
			req.reply <- rep
		}
	}
}

func (b *Boundary) teardown() {
	if b.model == nil {
		return
	}
	b.loaded.Store(false)
	if err := b.model.Close(); err != nil {
		b.logger.Warn("boundary: classifier close failed", "error", err)
	}
	b.model = nil
	b.logger.Info("boundary: classifier released")
}

func (b *Boundary) handleInit(modelPath string) error {
	if b.model != nil {
		return fail(ErrInit, "classifier already loaded")
	}

	model, err := b.load(modelPath)
	if err != nil {
		b.initErr = err.Error()
		b.logger.Error("boundary: classifier load failed", "model", modelPath, "error", err)
		return fail(ErrInit, err.Error())
	}

	b.model = model
	b.initErr = ""
	b.loaded.Store(true)
	b.logger.Info("boundary: classifier loaded", "model", modelPath, "labels", len(b.labels))
	return nil
}

func (b *Boundary) load(modelPath string) (model classifier.Model, err error) {
	defer func() {
		if r := recover(); r != nil {
			model, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()

	model, err = b.loader.Load(b.ctx, modelPath)
	if err == nil && model == nil {
		err = errors.New("loader returned no model")
	}
	return model, err
}

func (b *Boundary) handlePredict(req request) (Result, error) {
	defer req.frame.Release()

	if b.model == nil {
		reason := "init has not completed"
		if b.initErr != "" {
			reason = "last init failed: " + b.initErr
		}
		return Result{}, fail(ErrNotInitialized, reason)
	}
	if req.width <= 0 || req.height <= 0 {
		return Result{}, fail(ErrInference, fmt.Sprintf("invalid target size %dx%d", req.width, req.height))
	}

	f, err := req.frame.Take()
	if err != nil {
		return Result{}, fail(ErrInference, err.Error())
	}

	res, err := b.predict(f, req.width, req.height)
	if err != nil {
		b.logger.Warn("boundary: predict failed", "trace_id", f.TraceID, "error", err)
		return Result{}, err
	}

	b.predictions.Add(1)
	if b.logger.Enabled(b.ctx, slog.LevelDebug) {
		ranked := res.Ranked()
		b.logger.Debug("boundary: prediction",
			"trace_id", f.TraceID,
			"top_label", ranked[0].Label,
			"top_confidence", ranked[0].Confidence,
		)
	}
	return res, nil
}

// predict resizes f to the model box, runs it as a one-element int32 batch and
// squeezes the batch dimension. f is returned untouched as the original.
func (b *Boundary) predict(f *frame.Frame, width, height int) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = Result{}, fail(ErrInference, fmt.Sprintf("panic: %v", r))
		}
	}()

	if err := f.Validate(); err != nil {
		return Result{}, fail(ErrInference, err.Error())
	}

	input := classifier.FromImage(imaging.Resize(f.Image(), width, height, imaging.CatmullRom))
	defer input.Release()

	batch, err := b.model.Classify(b.ctx, input)
	if err != nil {
		return Result{}, fail(ErrInference, err.Error())
	}

	scores, err := squeeze(batch)
	if err != nil {
		return Result{}, fail(ErrInference, err.Error())
	}

	vec, err := decision.NewConfidenceVector(b.labels, scores)
	if err != nil {
		return Result{}, fail(ErrInference, err.Error())
	}

	return Result{Labels: b.labels, Vector: vec, Original: f}, nil
}

func squeeze(batch [][]float64) ([]float64, error) {
	if len(batch) != 1 {
		return nil, fmt.Errorf("classifier returned batch of %d, want 1", len(batch))
	}
	return batch[0], nil
}
