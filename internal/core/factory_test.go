package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/photocheck/internal/config"
	"github.com/e7canasta/photocheck/internal/source"
)

const doc = `
instance_id: porch-01
model:
  path: models/delivery.bin
classifier:
  command: photocheck-worker
`

func TestNewFromConfig(t *testing.T) {
	cfg, err := config.Parse([]byte(doc))
	require.NoError(t, err)

	svc, err := NewFromConfig(cfg, nil, Callbacks{}, nil)
	require.NoError(t, err)

	assert.Equal(t, "porch-01", svc.opts.InstanceID)
	assert.Equal(t, config.DefaultModelWidth, svc.opts.Width)
	assert.Equal(t, config.DefaultModelHeight, svc.opts.Height)
	assert.Equal(t, config.DefaultLoopDelay, svc.opts.Delay)
	assert.Equal(t, 10, svc.opts.Table.Len())
	assert.False(t, svc.Status().Active)
}

func TestSourcesFromConfig(t *testing.T) {
	tests := []struct {
		name string
		src  config.SourceConfig
		want any
	}{
		{"synthetic", config.SourceConfig{Type: config.SourceSynthetic, Width: 64, Height: 48, FPS: 5}, &source.Synthetic{}},
		{"camera", config.SourceConfig{Type: config.SourceCamera, Input: source.TestInput, Width: 64, Height: 48, FPS: 5}, &source.Camera{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory, err := SourcesFromConfig(tt.src, nil)
			require.NoError(t, err)

			src, err := factory()
			require.NoError(t, err)
			assert.IsType(t, tt.want, src)
			assert.False(t, src.Ready(), "a source that was never started is not ready")
		})
	}

	_, err := SourcesFromConfig(config.SourceConfig{Type: "webcam"}, nil)
	assert.Error(t, err)
}
