package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/photocheck/internal/boundary"
	"github.com/e7canasta/photocheck/internal/classifier"
	"github.com/e7canasta/photocheck/internal/decision"
	"github.com/e7canasta/photocheck/internal/emitter"
	"github.com/e7canasta/photocheck/internal/loop"
	"github.com/e7canasta/photocheck/internal/sampler"
	"github.com/e7canasta/photocheck/internal/source"
)

// tooDark scores the default label set with only too_dark above threshold.
var tooDark = []float64{0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.9, 0.1, 0.1}

type recorder struct {
	mu     sync.Mutex
	events []emitter.Event
	err    error
}

func (r *recorder) PublishDecision(ev emitter.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// sources hands out synthetic sources and remembers them.
type sources struct {
	mu     sync.Mutex
	opened []source.Live
}

func (s *sources) factory() (source.Live, error) {
	src, err := source.NewSynthetic(source.SyntheticConfig{Width: 32, Height: 24, FPS: 100})
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.opened = append(s.opened, src)
	s.mu.Unlock()
	return src, nil
}

func (s *sources) last() source.Live {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened[len(s.opened)-1]
}

func constantLoader(scores []float64) classifier.Loader {
	return classifier.LoaderFunc(func(context.Context, string) (classifier.Model, error) {
		return classifier.Func(func(context.Context, classifier.Tensor) ([][]float64, error) {
			return [][]float64{scores}, nil
		}), nil
	})
}

// collected records what the in-process callbacks saw.
type collected struct {
	mu          sync.Mutex
	predictions []loop.Prediction
	errs        []error
}

func (c *collected) callbacks() Callbacks {
	return Callbacks{
		OnDecision: func(p loop.Prediction) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.predictions = append(c.predictions, p)
		},
		OnError: func(err error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.errs = append(c.errs, err)
		},
	}
}

func (c *collected) snapshot() ([]loop.Prediction, []error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]loop.Prediction(nil), c.predictions...), append([]error(nil), c.errs...)
}

func newService(t *testing.T, loader classifier.Loader, pub Publisher) (*Service, *sources) {
	t.Helper()
	return newServiceWith(t, loader, pub, Callbacks{})
}

func newServiceWith(t *testing.T, loader classifier.Loader, pub Publisher, cb Callbacks) (*Service, *sources) {
	t.Helper()
	srcs := &sources{}
	svc, err := New(Options{
		InstanceID: "porch-01",
		ModelPath:  "model.bin",
		Width:      16,
		Height:     16,
		Delay:      5 * time.Millisecond,
		Table:      decision.DefaultTable(),
		Loader:     loader,
		Sources:    srcs.factory,
		Publisher:  pub,
		Callbacks:  cb,
		Recheck:    10 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { svc.StopCapture() })
	return svc, srcs
}

// TestStartCapture_DeliversDecisions verifies the full path: the first frame
// triggers the loop, decisions are published and counters survive a stop.
func TestStartCapture_DeliversDecisions(t *testing.T) {
	pub := &recorder{}
	svc, _ := newService(t, constantLoader(tooDark), pub)

	require.NoError(t, svc.StartCapture(context.Background()))
	assert.True(t, svc.Status().Active)

	require.Eventually(t, func() bool { return pub.count() >= 3 }, 2*time.Second, 5*time.Millisecond)

	st := svc.Status()
	require.NotNil(t, st.LastDecision)
	assert.Equal(t, "too_dark", st.LastDecision.ReasonCode)
	assert.Equal(t, "porch-01", st.LastDecision.InstanceID)
	assert.Equal(t, "too_dark==true", st.LastDecision.MatchedCondition)
	// 32x24 sampled into the 16x16 box keeps its aspect.
	assert.Equal(t, emitter.ImageInfo{Width: 16, Height: 12}, st.LastDecision.Image)

	require.NoError(t, svc.StopCapture())

	st = svc.Status()
	assert.False(t, st.Active)
	assert.Equal(t, "stopped", st.State)
	assert.GreaterOrEqual(t, st.Decisions, uint64(3))
	assert.Empty(t, st.LastError)

	// No decisions after stop.
	n := pub.count()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, pub.count())
}

// TestStartCapture_InitFailure verifies a failed model load leaves the service
// stopped with the error reported, and a later start can succeed.
func TestStartCapture_InitFailure(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	loader := classifier.LoaderFunc(func(ctx context.Context, path string) (classifier.Model, error) {
		if fail.Load() {
			return nil, errors.New("model file is corrupt")
		}
		return constantLoader(tooDark).Load(ctx, path)
	})
	svc, srcs := newService(t, loader, nil)

	err := svc.StartCapture(context.Background())
	require.ErrorIs(t, err, boundary.ErrInit)

	st := svc.Status()
	assert.False(t, st.Active)
	assert.False(t, st.Starting)
	assert.Contains(t, st.LastError, "model file is corrupt")
	assert.True(t, srcs.last().Mailbox().Closed(), "source must be stopped after a failed start")

	fail.Store(false)
	require.NoError(t, svc.StartCapture(context.Background()))
	assert.True(t, svc.Status().Active)
	assert.Empty(t, svc.Status().LastError)
	require.Eventually(t, func() bool { return svc.Status().Decisions > 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestStartCapture_AlreadyActive(t *testing.T) {
	svc, _ := newService(t, constantLoader(tooDark), nil)

	require.NoError(t, svc.StartCapture(context.Background()))
	assert.ErrorIs(t, svc.StartCapture(context.Background()), ErrActive)
}

func TestStopCapture_Inactive(t *testing.T) {
	svc, _ := newService(t, constantLoader(tooDark), nil)

	assert.NoError(t, svc.StopCapture())
	assert.False(t, svc.NotifySourceReady())
	assert.Equal(t, "stopped", svc.Status().State)
}

// TestSourceClosed_EndsCapture verifies a source that shuts down on its own
// ends the session and reports why.
func TestSourceClosed_EndsCapture(t *testing.T) {
	svc, srcs := newService(t, constantLoader(tooDark), nil)

	require.NoError(t, svc.StartCapture(context.Background()))
	require.Eventually(t, func() bool { return svc.Status().Decisions > 0 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, srcs.last().Stop())

	require.Eventually(t, func() bool { return !svc.Status().Active }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, svc.Status().LastError, "source closed")
}

// TestCallbacks_DecisionCarriesPixels verifies in-process consumers get the
// sampled frame with its pixel data, which the published event leaves out.
func TestCallbacks_DecisionCarriesPixels(t *testing.T) {
	got := &collected{}
	pub := &recorder{}
	svc, _ := newServiceWith(t, constantLoader(tooDark), pub, got.callbacks())

	require.NoError(t, svc.StartCapture(context.Background()))
	require.Eventually(t, func() bool {
		preds, _ := got.snapshot()
		return len(preds) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, svc.StopCapture())

	preds, errs := got.snapshot()
	assert.Empty(t, errs)
	for _, p := range preds {
		assert.Equal(t, "too_dark", p.Decision.ReasonCode)
		require.NotNil(t, p.Image)
		assert.Equal(t, 16, p.Image.Width)
		assert.Equal(t, 12, p.Image.Height)
		assert.Len(t, p.Image.Data, p.Image.Width*p.Image.Height*3)
	}
	assert.Equal(t, len(preds), pub.count())
}

// TestCallbacks_InferenceFailureReachesOnError verifies a failing model is
// reported to OnError and no decision is delivered.
func TestCallbacks_InferenceFailureReachesOnError(t *testing.T) {
	loader := classifier.LoaderFunc(func(context.Context, string) (classifier.Model, error) {
		return classifier.Func(func(context.Context, classifier.Tensor) ([][]float64, error) {
			return nil, errors.New("tensor shape mismatch")
		}), nil
	})
	got := &collected{}
	svc, _ := newServiceWith(t, loader, nil, got.callbacks())

	require.NoError(t, svc.StartCapture(context.Background()))
	require.Eventually(t, func() bool {
		_, errs := got.snapshot()
		return len(errs) > 0
	}, 2*time.Second, 5*time.Millisecond)

	preds, errs := got.snapshot()
	assert.Empty(t, preds)
	assert.ErrorIs(t, errs[0], boundary.ErrInference)
	assert.Contains(t, errs[0].Error(), "tensor shape mismatch")
	assert.Contains(t, svc.Status().LastError, "tensor shape mismatch")
}

// TestCallbacks_SourceClosedReachesOnError verifies the end of a session
// caused by the source is reported to OnError.
func TestCallbacks_SourceClosedReachesOnError(t *testing.T) {
	got := &collected{}
	svc, srcs := newServiceWith(t, constantLoader(tooDark), nil, got.callbacks())

	require.NoError(t, svc.StartCapture(context.Background()))
	require.Eventually(t, func() bool { return svc.Status().Decisions > 0 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, srcs.last().Stop())
	require.Eventually(t, func() bool { return !svc.Status().Active }, 2*time.Second, 5*time.Millisecond)

	_, errs := got.snapshot()
	require.NotEmpty(t, errs)
	assert.ErrorIs(t, errs[len(errs)-1], sampler.ErrSourceClosed)
}

// TestPublishFailure_DoesNotStopLoop verifies publication errors are logged only.
func TestPublishFailure_DoesNotStopLoop(t *testing.T) {
	pub := &recorder{err: errors.New("broker down")}
	svc, _ := newService(t, constantLoader(tooDark), pub)

	require.NoError(t, svc.StartCapture(context.Background()))
	require.Eventually(t, func() bool { return pub.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, svc.Status().Active)
}

func TestShutdown(t *testing.T) {
	svc, _ := newService(t, constantLoader(tooDark), nil)
	require.NoError(t, svc.StartCapture(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))
	assert.False(t, svc.Status().Active)
}

func TestNew_Validation(t *testing.T) {
	valid := Options{
		InstanceID: "a",
		ModelPath:  "m",
		Width:      1,
		Height:     1,
		Table:      decision.DefaultTable(),
		Loader:     constantLoader(tooDark),
		Sources:    (&sources{}).factory,
	}

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"instance", func(o *Options) { o.InstanceID = "" }},
		{"model path", func(o *Options) { o.ModelPath = "" }},
		{"box", func(o *Options) { o.Width = 0 }},
		{"table", func(o *Options) { o.Table = nil }},
		{"loader", func(o *Options) { o.Loader = nil }},
		{"sources", func(o *Options) { o.Sources = nil }},
	}

	_, err := New(valid)
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := valid
			tt.mutate(&opts)
			_, err := New(opts)
			assert.Error(t, err)
		})
	}
}
