package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/photocheck/internal/frame"
)

// SyntheticConfig configures a Synthetic source.
type SyntheticConfig struct {
	Width  int
	Height int
	FPS    int

	// Brightness scales the pattern, 0..1. Zero means 1.
	Brightness float64

	Logger *slog.Logger
}

// Synthetic generates a moving gradient pattern. It stands in for a camera in
// demos and tests.
type Synthetic struct {
	feed

	cfg    SyntheticConfig
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started time.Time
}

// NewSynthetic validates cfg and returns a stopped source.
func NewSynthetic(cfg SyntheticConfig) (*Synthetic, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("source: invalid synthetic size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 15
	}
	if cfg.Brightness <= 0 || cfg.Brightness > 1 {
		cfg.Brightness = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Synthetic{
		feed:   feed{box: NewMailbox()},
		cfg:    cfg,
		logger: cfg.Logger.With("source", "synthetic"),
	}, nil
}

// Start begins generating frames until ctx is cancelled or Stop is called.
func (s *Synthetic) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return fmt.Errorf("source: synthetic already running")
	}
	if s.box.Closed() {
		return fmt.Errorf("source: synthetic was stopped")
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.started = time.Now()
	s.playing.Store(true)

	s.logger.Info("source: synthetic starting",
		"width", s.cfg.Width,
		"height", s.cfg.Height,
		"fps", s.cfg.FPS,
	)

	s.wg.Add(1)
	go s.generate(ctx)
	return nil
}

// Stop ends generation and closes the mailbox. Later captures fail with
// sampler.ErrSourceClosed.
func (s *Synthetic) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	s.playing.Store(false)
	if cancel != nil {
		cancel()
		s.wg.Wait()
	}
	s.box.Close()

	s.logger.Info("source: synthetic stopped",
		"frames_published", s.box.Stats().Published,
		"duration", time.Since(s.started),
	)
	return nil
}

// Mailbox exposes the latest-frame slot.
func (s *Synthetic) Mailbox() *Mailbox { return s.box }

func (s *Synthetic) generate(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.FPS))
	defer ticker.Stop()

	var seq int
	s.box.Publish(s.render(seq))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq++
			s.box.Publish(s.render(seq))
		}
	}
}

// render draws a diagonal gradient with a vertical bar that moves one column per frame.
func (s *Synthetic) render(seq int) *frame.Frame {
	f := frame.New(s.cfg.Width, s.cfg.Height)
	bar := seq % s.cfg.Width
	scale := s.cfg.Brightness

	i := 0
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			r := byte(float64(x*255/f.Width) * scale)
			g := byte(float64(y*255/f.Height) * scale)
			b := byte(128 * scale)
			if x == bar {
				r, g, b = byte(255*scale), byte(255*scale), byte(255*scale)
			}
			f.Data[i], f.Data[i+1], f.Data[i+2] = r, g, b
			i += frame.BytesPerPixel
		}
	}
	return f
}
