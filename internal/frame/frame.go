// Package frame holds captured pixel buffers and the move-only handle used to
// pass them into the inference boundary.
package frame

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"time"

	"github.com/google/uuid"
)

// BytesPerPixel is the packed RGB layout used by every frame.
const BytesPerPixel = 3

// ErrInvalidFrame is returned when a frame's buffer does not match its dimensions.
var ErrInvalidFrame = errors.New("frame: buffer does not match dimensions")

// Frame is a packed RGB24 image, row-major, without padding.
//
// A frame is owned by exactly one component at a time. Once wrapped in a
// Handle and transferred, the producer must not touch Data again.
type Frame struct {
	// Data holds Width*Height*3 bytes.
	Data []byte

	Width  int
	Height int

	// Timestamp is the capture time at the source.
	Timestamp time.Time

	// TraceID follows the frame through sampling, inference and decision.
	TraceID string
}

// New allocates a zeroed frame.
func New(width, height int) *Frame {
	return &Frame{
		Data:      make([]byte, width*height*BytesPerPixel),
		Width:     width,
		Height:    height,
		Timestamp: time.Now(),
		TraceID:   uuid.NewString(),
	}
}

// FromImage copies img into a new frame stamped with ts and a fresh trace ID.
func FromImage(img image.Image, ts time.Time) *Frame {
	b := img.Bounds()
	f := &Frame{
		Data:      make([]byte, b.Dx()*b.Dy()*BytesPerPixel),
		Width:     b.Dx(),
		Height:    b.Dy(),
		Timestamp: ts,
		TraceID:   uuid.NewString(),
	}

	rgba, ok := img.(*image.NRGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) {
		rgba = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Rect, img, b.Min, draw.Src)
	}

	i := 0
	for y := 0; y < f.Height; y++ {
		row := rgba.Pix[y*rgba.Stride : y*rgba.Stride+f.Width*4]
		for x := 0; x < len(row); x += 4 {
			f.Data[i] = row[x]
			f.Data[i+1] = row[x+1]
			f.Data[i+2] = row[x+2]
			i += BytesPerPixel
		}
	}
	return f
}

// Validate checks that Data matches Width and Height.
func (f *Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidFrame, f.Width, f.Height)
	}
	if want := f.Width * f.Height * BytesPerPixel; len(f.Data) != want {
		return fmt.Errorf("%w: %dx%d needs %d bytes, have %d",
			ErrInvalidFrame, f.Width, f.Height, want, len(f.Data))
	}
	return nil
}

// Image returns an opaque NRGBA copy of the frame.
func (f *Frame) Image() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	i := 0
	for p := 0; p < len(img.Pix); p += 4 {
		img.Pix[p] = f.Data[i]
		img.Pix[p+1] = f.Data[i+1]
		img.Pix[p+2] = f.Data[i+2]
		img.Pix[p+3] = 0xff
		i += BytesPerPixel
	}
	return img
}

// Size returns the frame buffer size in bytes.
func (f *Frame) Size() int { return len(f.Data) }
