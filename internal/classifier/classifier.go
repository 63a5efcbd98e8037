// Package classifier defines the contract of the confidence classifier that
// runs behind the inference boundary, and its adapters.
//
// The classifier is opaque: a batched integer image tensor goes in, one
// confidence vector per batch element comes out. Models are created by a
// Loader and owned by whoever loaded them.
package classifier

import (
	"context"
	"image"
)

// Tensor is a dense int32 tensor in NHWC layout.
type Tensor struct {
	Shape []int   `msgpack:"shape"`
	Data  []int32 `msgpack:"data"`
}

// FromImage builds a single-element batch [1, H, W, 3] from img, casting each
// RGB channel to int32. Alpha is dropped.
func FromImage(img *image.NRGBA) Tensor {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	data := make([]int32, 0, w*h*3)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < len(row); x += 4 {
			data = append(data, int32(row[x]), int32(row[x+1]), int32(row[x+2]))
		}
	}
	return Tensor{Shape: []int{1, h, w, 3}, Data: data}
}

// Len returns the number of elements the shape describes.
func (t Tensor) Len() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Release drops the tensor's backing buffer.
func (t *Tensor) Release() {
	t.Data = nil
}

// Model is a loaded classifier.
type Model interface {
	// Classify returns one confidence vector per batch element of input.
	Classify(ctx context.Context, input Tensor) ([][]float64, error)

	// Close releases the model.
	Close() error
}

// Loader loads a model from a path.
type Loader interface {
	Load(ctx context.Context, modelPath string) (Model, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, modelPath string) (Model, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, modelPath string) (Model, error) {
	return f(ctx, modelPath)
}

// Func adapts an in-process function to Model. Close is a no-op.
type Func func(ctx context.Context, input Tensor) ([][]float64, error)

// Classify calls f.
func (f Func) Classify(ctx context.Context, input Tensor) ([][]float64, error) {
	return f(ctx, input)
}

// Close implements Model.
func (Func) Close() error { return nil }
