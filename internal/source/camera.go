package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/photocheck/internal/frame"
)

// TestInput selects GStreamer's videotestsrc as camera input.
const TestInput = "test"

// CameraConfig configures a Camera.
type CameraConfig struct {
	// Input is TestInput, a V4L2 device path such as /dev/video0, or a URI
	// (rtsp://, http://, file://) decoded with uridecodebin.
	Input string

	// Width, Height and FPS of the frames delivered to the mailbox.
	Width  int
	Height int
	FPS    int

	// MaxRestarts bounds consecutive pipeline restarts after errors. A session
	// that delivered frames resets the count. Once exhausted the camera closes
	// its mailbox and captures fail with sampler.ErrSourceClosed.
	MaxRestarts uint64
	RestartBase time.Duration
	RestartCap  time.Duration

	Logger *slog.Logger
}

// CameraStats is a snapshot of camera telemetry.
type CameraStats struct {
	Input     string
	Playing   bool
	Frames    uint64
	Drops     uint64
	Restarts  uint32
	Errors    map[string]uint64
	LastError string
}

type inputKind int

const (
	inputTest inputKind = iota
	inputDevice
	inputURI
)

func parseInput(input string) (inputKind, error) {
	switch {
	case input == TestInput:
		return inputTest, nil
	case strings.HasPrefix(input, "/dev/"):
		return inputDevice, nil
	case strings.Contains(input, "://"):
		return inputURI, nil
	default:
		return 0, fmt.Errorf("source: unsupported camera input %q", input)
	}
}

// Camera captures frames through a GStreamer pipeline:
//
//	src → videoconvert → videoscale → videorate → capsfilter(RGB) → appsink
//
// The appsink keeps only the newest buffer and every sample is published to
// the mailbox. Pipeline errors restart the pipeline with Fibonacci backoff.
type Camera struct {
	feed

	cfg    CameraConfig
	kind   inputKind
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// runSession runs one pipeline and reports whether it delivered frames
	// before it ended.
	runSession func(ctx context.Context) (healthy bool, err error)

	frames    atomic.Uint64
	restarts  atomic.Uint32
	errCounts [ErrCategoryUnknown + 1]atomic.Uint64
	lastErr   atomic.Value // string
}

// NewCamera validates cfg and returns a stopped camera.
func NewCamera(cfg CameraConfig) (*Camera, error) {
	kind, err := parseInput(cfg.Input)
	if err != nil {
		return nil, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("source: invalid camera size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 15
	}
	if cfg.MaxRestarts == 0 {
		cfg.MaxRestarts = 5
	}
	if cfg.RestartBase <= 0 {
		cfg.RestartBase = time.Second
	}
	if cfg.RestartCap <= 0 {
		cfg.RestartCap = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Camera{
		feed:   feed{box: NewMailbox()},
		cfg:    cfg,
		kind:   kind,
		logger: cfg.Logger.With("source", "camera", "input", cfg.Input),
	}
	c.runSession = c.session
	c.lastErr.Store("")
	return c, nil
}

// Start launches the pipeline supervisor and returns immediately. Readiness
// is signalled through Mailbox().Ready().
func (c *Camera) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return fmt.Errorf("source: camera already running")
	}
	if c.box.Closed() {
		return fmt.Errorf("source: camera was stopped")
	}

	gst.Init(nil)

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.supervise(ctx)

	c.logger.Info("source: camera starting",
		"width", c.cfg.Width,
		"height", c.cfg.Height,
		"fps", c.cfg.FPS,
	)
	return nil
}

// Stop tears the pipeline down and closes the mailbox.
func (c *Camera) Stop() error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		c.wg.Wait()
	}
	c.playing.Store(false)
	c.box.Close()

	c.logger.Info("source: camera stopped",
		"frames", c.frames.Load(),
		"restarts", c.restarts.Load(),
	)
	return nil
}

// Mailbox exposes the latest-frame slot.
func (c *Camera) Mailbox() *Mailbox { return c.box }

// Stats returns a snapshot of camera telemetry.
func (c *Camera) Stats() CameraStats {
	errs := make(map[string]uint64, len(c.errCounts))
	for i := range c.errCounts {
		if n := c.errCounts[i].Load(); n > 0 {
			errs[ErrorCategory(i).String()] = n
		}
	}
	return CameraStats{
		Input:     c.cfg.Input,
		Playing:   c.playing.Load(),
		Frames:    c.frames.Load(),
		Drops:     c.box.Stats().Drops,
		Restarts:  c.restarts.Load(),
		Errors:    errs,
		LastError: c.lastErr.Load().(string),
	}
}

// healthyExit ends a restart round after a session that delivered frames, so
// the next failure starts with a fresh restart budget and backoff.
type healthyExit struct{ err error }

func (e *healthyExit) Error() string { return e.err.Error() }
func (e *healthyExit) Unwrap() error { return e.err }

func (c *Camera) supervise(ctx context.Context) {
	defer c.wg.Done()
	defer c.playing.Store(false)

	for {
		err := c.restartRound(ctx)

		var he *healthyExit
		if errors.As(err, &he) {
			c.logger.Info("source: camera session was healthy, restart budget reset")
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.RestartBase):
			}
			continue
		}

		if err != nil && ctx.Err() == nil {
			c.logger.Error("source: camera giving up", "error", err)
			c.box.Close()
		}
		return
	}
}

// restartRound runs sessions until one ends cleanly, one fails after having
// delivered frames, or MaxRestarts consecutive failures are spent.
func (c *Camera) restartRound(ctx context.Context) error {
	b := retry.WithMaxRetries(c.cfg.MaxRestarts,
		retry.WithCappedDuration(c.cfg.RestartCap, retry.NewFibonacci(c.cfg.RestartBase)))

	return retry.Do(ctx, b, func(ctx context.Context) error {
		healthy, err := c.runSession(ctx)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		c.lastErr.Store(err.Error())
		c.restarts.Add(1)
		c.logger.Warn("source: camera pipeline failed, restarting",
			"error", err,
			"healthy", healthy,
			"restarts", c.restarts.Load(),
			"max_restarts", c.cfg.MaxRestarts,
		)
		if healthy {
			return &healthyExit{err: err}
		}
		return retry.RetryableError(err)
	})
}

// session runs one pipeline until it fails or ctx is cancelled.
func (c *Camera) session(ctx context.Context) (bool, error) {
	pipeline, sink, err := c.build()
	if err != nil {
		return false, err
	}
	defer func() {
		c.playing.Store(false)
		if err := pipeline.SetState(gst.StateNull); err != nil {
			c.logger.Warn("source: failed to set pipeline to NULL", "error", err)
		}
	}()

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: c.onSample,
	})

	before := c.frames.Load()
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return false, fmt.Errorf("failed to start pipeline: %w", err)
	}
	err = c.monitor(ctx, pipeline)
	return c.frames.Load() > before, err
}

func (c *Camera) build() (*gst.Pipeline, *app.Sink, error) {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	var src *gst.Element
	switch c.kind {
	case inputTest:
		src, err = element("videotestsrc", map[string]any{"is-live": true})
	case inputDevice:
		src, err = element("v4l2src", map[string]any{"device": c.cfg.Input})
	case inputURI:
		src, err = element("uridecodebin", map[string]any{"uri": c.cfg.Input})
	}
	if err != nil {
		return nil, nil, err
	}

	convert, err := element("videoconvert", nil)
	if err != nil {
		return nil, nil, err
	}
	scale, err := element("videoscale", nil)
	if err != nil {
		return nil, nil, err
	}
	rate, err := element("videorate", map[string]any{"drop-only": true})
	if err != nil {
		return nil, nil, err
	}
	caps, err := element("capsfilter", map[string]any{
		"caps": gst.NewCapsFromString(buildCaps(c.cfg.Width, c.cfg.Height, c.cfg.FPS)),
	})
	if err != nil {
		return nil, nil, err
	}

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)

	if err := pipeline.AddMany(src, convert, scale, rate, caps, sink.Element); err != nil {
		return nil, nil, fmt.Errorf("failed to add elements: %w", err)
	}

	if c.kind == inputURI {
		// uridecodebin exposes its pads once the stream has been typed.
		if err := gst.ElementLinkMany(convert, scale, rate, caps, sink.Element); err != nil {
			return nil, nil, fmt.Errorf("failed to link pipeline: %w", err)
		}
		src.Connect("pad-added", func(self *gst.Element, pad *gst.Pad) {
			c.onPadAdded(pad, convert)
		})
	} else if err := gst.ElementLinkMany(src, convert, scale, rate, caps, sink.Element); err != nil {
		return nil, nil, fmt.Errorf("failed to link pipeline: %w", err)
	}

	return pipeline, sink, nil
}

func element(factory string, props map[string]any) (*gst.Element, error) {
	el, err := gst.NewElement(factory)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", factory, err)
	}
	for name, value := range props {
		if err := el.SetProperty(name, value); err != nil {
			return nil, fmt.Errorf("failed to set %s.%s: %w", factory, name, err)
		}
	}
	return el, nil
}

func (c *Camera) onPadAdded(pad *gst.Pad, convert *gst.Element) {
	sinkPad := convert.GetStaticPad("sink")
	if sinkPad == nil || sinkPad.IsLinked() {
		return
	}
	if ret := pad.Link(sinkPad); ret != gst.PadLinkOK {
		// Audio pads of the same stream end up here.
		c.logger.Debug("source: pad not linked", "pad", pad.GetName(), "ret", ret)
		return
	}
	c.logger.Debug("source: decoder pad linked", "pad", pad.GetName())
}

func (c *Camera) onSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	f, err := packRGB(mapInfo.Bytes(), c.cfg.Width, c.cfg.Height)
	buffer.Unmap()
	if err != nil {
		c.logger.Debug("source: skipping sample", "error", err)
		return gst.FlowOK
	}

	c.frames.Add(1)
	c.box.Publish(f)
	return gst.FlowOK
}

func (c *Camera) monitor(ctx context.Context, pipeline *gst.Pipeline) error {
	bus := pipeline.GetPipelineBus()
	started := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			c.logger.Info("source: end of stream", "uptime", time.Since(started))
			return fmt.Errorf("end of stream")

		case gst.MessageError:
			gerr := msg.ParseError()
			category := ClassifyError(gerr.Error(), gerr.DebugString())
			c.errCounts[category].Add(1)

			c.logger.Error("source: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", category.String(),
				"uptime", time.Since(started),
				"frames", c.frames.Load(),
			)
			return fmt.Errorf("pipeline error [%s]: %s", category, gerr.Error())

		case gst.MessageStateChanged:
			if msg.Source() != pipeline.GetName() {
				continue
			}
			_, state := msg.ParseStateChanged()
			if state == gst.StatePlaying {
				c.playing.Store(true)
				c.logger.Info("source: camera playing")
			}
		}
	}
}

// buildCaps returns the appsink caps: packed RGB at the configured size and rate.
func buildCaps(width, height, fps int) string {
	return fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/1", width, height, fps)
}

// packRGB copies a mapped RGB buffer into a frame, dropping row padding.
// GStreamer aligns RGB rows to 4 bytes, so the stride can exceed width*3.
func packRGB(data []byte, width, height int) (*frame.Frame, error) {
	row := width * frame.BytesPerPixel
	if height <= 0 || len(data) < row*height {
		return nil, fmt.Errorf("buffer of %d bytes too small for %dx%d RGB", len(data), width, height)
	}

	stride := len(data) / height
	f := frame.New(width, height)
	if stride == row {
		copy(f.Data, data[:row*height])
		return f, nil
	}
	for y := 0; y < height; y++ {
		copy(f.Data[y*row:(y+1)*row], data[y*stride:y*stride+row])
	}
	return f, nil
}
