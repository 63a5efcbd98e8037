// Package sampler takes downscaled snapshots of a live video source sized to
// fit a classifier's input box.
package sampler

import (
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/disintegration/imaging"

	"github.com/e7canasta/photocheck/internal/frame"
)

var (
	// ErrNotReady means the source cannot draw a frame yet. It is not a failure:
	// the caller skips the cycle and waits for the next readiness signal.
	ErrNotReady = errors.New("sampler: source not ready")

	// ErrCapture wraps any failure while grabbing a frame from the source.
	ErrCapture = errors.New("sampler: capture failed")

	// ErrSourceClosed is returned by sources that have been torn down.
	ErrSourceClosed = errors.New("sampler: source closed")
)

// Source is a live video source.
type Source interface {
	// Ready reports whether the source has enough data to draw a frame.
	Ready() bool

	// Size returns the native frame dimensions.
	Size() (width, height int)

	// Capture grabs the current frame.
	Capture() (image.Image, error)
}

// Sample grabs the current frame of src and downscales it to fit within
// targetWidth x targetHeight, preserving aspect ratio. The returned handle owns
// a fresh buffer; the sampler keeps no reference to it.
func Sample(src Source, targetWidth, targetHeight int) (h *frame.Handle, err error) {
	if targetWidth <= 0 || targetHeight <= 0 {
		return nil, fmt.Errorf("sampler: invalid target %dx%d", targetWidth, targetHeight)
	}
	if !src.Ready() {
		return nil, ErrNotReady
	}

	srcW, srcH := src.Size()
	if srcW <= 0 || srcH <= 0 {
		return nil, ErrNotReady
	}

	defer func() {
		if r := recover(); r != nil {
			h, err = nil, fmt.Errorf("%w: panic: %v", ErrCapture, r)
		}
	}()

	img, err := src.Capture()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCapture, err)
	}
	if img == nil {
		return nil, fmt.Errorf("%w: source returned no image", ErrCapture)
	}

	w, hgt := FitWithin(srcW, srcH, targetWidth, targetHeight)
	if b := img.Bounds(); b.Dx() != w || b.Dy() != hgt {
		img = imaging.Resize(img, w, hgt, imaging.Lanczos)
	}

	return frame.NewHandle(frame.FromImage(img, time.Now())), nil
}

// FitWithin returns the largest size with the source aspect ratio that fits
// inside the target box. The clamped side equals the target exactly; the other
// side is rounded to the nearest pixel and never drops below 1.
func FitWithin(srcW, srcH, targetW, targetH int) (w, h int) {
	videoAspect := float64(srcW) / float64(srcH)
	modelAspect := float64(targetW) / float64(targetH)

	if videoAspect > modelAspect {
		w = targetW
		h = int(math.Round(float64(targetW) / videoAspect))
	} else {
		h = targetH
		w = int(math.Round(float64(targetH) * videoAspect))
	}

	return max(w, 1), max(h, 1)
}
