package classifier

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromImageCastsToInt32Batch(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, G: 1, B: 2, A: 10})
	img.SetNRGBA(2, 1, color.NRGBA{R: 7, G: 8, B: 9, A: 255})

	tensor := FromImage(img)

	assert.Equal(t, []int{1, 2, 3, 3}, tensor.Shape)
	require.Len(t, tensor.Data, tensor.Len())
	assert.Equal(t, []int32{255, 1, 2}, tensor.Data[:3])
	assert.Equal(t, []int32{7, 8, 9}, tensor.Data[len(tensor.Data)-3:])

	tensor.Release()
	assert.Nil(t, tensor.Data)
}

func TestCodecFraming(t *testing.T) {
	var buf bytes.Buffer
	in := request{Type: msgPredict, Input: &Tensor{Shape: []int{1, 1, 1, 3}, Data: []int32{1, 2, 3}}}
	require.NoError(t, WriteMessage(&buf, in))
	require.NoError(t, WriteMessage(&buf, request{Type: msgInit, ModelPath: "m.onnx"}))

	assert.Equal(t, byte(0), buf.Bytes()[0], "length prefix is big-endian")

	var got request
	require.NoError(t, ReadMessage(&buf, &got))
	assert.Equal(t, msgPredict, got.Type)
	assert.Equal(t, []int32{1, 2, 3}, got.Input.Data)

	require.NoError(t, ReadMessage(&buf, &got))
	assert.Equal(t, "m.onnx", got.ModelPath)

	assert.ErrorIs(t, ReadMessage(&buf, &got), io.EOF)
}

func TestCodecRejectsOversizedFrame(t *testing.T) {
	r := bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff})
	var resp response
	assert.ErrorIs(t, ReadMessage(r, &resp), ErrMessageTooLarge)
}

// fakeWorker answers requests on the far side of a pair of pipes.
func fakeWorker(t *testing.T, handle func(req request) (response, bool)) *Session {
	t.Helper()

	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	t.Cleanup(func() {
		reqW.Close()
		respW.Close()
	})

	go func() {
		for {
			var req request
			if err := ReadMessage(reqR, &req); err != nil {
				return
			}
			resp, ok := handle(req)
			if !ok {
				continue
			}
			if err := WriteMessage(respW, resp); err != nil {
				return
			}
		}
	}()

	return NewSession(reqW, respR)
}

func TestSessionRoundTrip(t *testing.T) {
	s := fakeWorker(t, func(req request) (response, bool) {
		switch req.Type {
		case msgInit:
			return response{Type: msgReady}, true
		default:
			return response{Type: msgPrediction, Scores: [][]float64{{float64(len(req.Input.Data)) / 100}}}, true
		}
	})
	ctx := context.Background()

	require.NoError(t, s.Init(ctx, "model.onnx"))

	scores, err := s.Classify(ctx, Tensor{Shape: []int{1, 1, 2, 3}, Data: make([]int32, 6)})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0.06}}, scores)
}

// TestSessionRejectedRequestKeepsSession verifies a worker-side error does not
// poison the stream.
func TestSessionRejectedRequestKeepsSession(t *testing.T) {
	calls := 0
	s := fakeWorker(t, func(req request) (response, bool) {
		calls++
		if calls == 1 {
			return response{Type: msgError, Reason: "tensor shape mismatch"}, true
		}
		return response{Type: msgPrediction, Scores: [][]float64{{0.5}}}, true
	})

	_, err := s.Classify(context.Background(), Tensor{})
	require.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "tensor shape mismatch")
	assert.False(t, s.Broken())

	_, err = s.Classify(context.Background(), Tensor{})
	assert.NoError(t, err)
}

func TestSessionBreaksOnCancelAndProtocolViolation(t *testing.T) {
	t.Run("cancelled call", func(t *testing.T) {
		s := fakeWorker(t, func(request) (response, bool) { return response{}, false })

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := s.Classify(ctx, Tensor{})
		require.ErrorIs(t, err, ErrSessionBroken)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		_, err = s.Classify(context.Background(), Tensor{})
		assert.ErrorIs(t, err, ErrSessionBroken)
	})

	t.Run("unexpected response", func(t *testing.T) {
		s := fakeWorker(t, func(request) (response, bool) { return response{Type: msgReady}, true })

		_, err := s.Classify(context.Background(), Tensor{})
		require.ErrorIs(t, err, ErrSessionBroken)
		assert.True(t, s.Broken())
	})
}

func TestWorkerLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"2024-01-01 [ERROR] cuda failed":   slog.LevelError,
		"2024-01-01 [CRITICAL] oom":        slog.LevelError,
		"2024-01-01 [WARNING] slow warmup": slog.LevelWarn,
		"2024-01-01 [INFO] loaded":         slog.LevelDebug,
		"plain line":                       slog.LevelDebug,
	}
	for line, want := range tests {
		assert.Equal(t, want, workerLogLevel(line), line)
	}
}

const helperEnv = "PHOTOCHECK_HELPER_WORKER"

// TestHelperProcess is not a real test. It is the worker binary that the
// process tests spawn.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	defer os.Exit(0)

	fmt.Fprintln(os.Stderr, "2024-01-01 [INFO] worker started")

	in := bufio.NewReader(os.Stdin)
	for {
		var req request
		if err := ReadMessage(in, &req); err != nil {
			return
		}

		var resp response
		switch req.Type {
		case msgInit:
			resp = response{Type: msgReady}
			if strings.HasSuffix(req.ModelPath, "missing.onnx") {
				resp = response{Type: msgError, Reason: "no such model"}
			}
		case msgPredict:
			resp = response{Type: msgPrediction, Scores: [][]float64{{0.9, 0.1}}}
		default:
			resp = response{Type: msgError, Reason: "unknown request " + req.Type}
		}
		if err := WriteMessage(os.Stdout, resp); err != nil {
			return
		}
	}
}

func helperProcess(t *testing.T) *Process {
	t.Helper()
	p, err := NewProcess(ProcessConfig{
		Command:     os.Args[0],
		Args:        []string{"-test.run=TestHelperProcess", "--"},
		Env:         []string{helperEnv + "=1"},
		RetryBase:   10 * time.Millisecond,
		StopTimeout: time.Second,
	})
	require.NoError(t, err)
	return p
}

func TestProcessLoadAndClassify(t *testing.T) {
	p := helperProcess(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m, err := p.Load(ctx, "models/delivery.onnx")
	require.NoError(t, err)
	defer m.Close()

	scores, err := m.Classify(ctx, Tensor{Shape: []int{1, 1, 1, 3}, Data: []int32{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0.9, 0.1}}, scores)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

func TestProcessLoadRejectedModelIsNotRetried(t *testing.T) {
	p := helperProcess(t)
	p.cfg.SpawnRetries = 3

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := p.Load(ctx, "models/missing.onnx")
	require.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "no such model")
}

func TestProcessLoadMissingBinary(t *testing.T) {
	p, err := NewProcess(ProcessConfig{Command: "/nonexistent/photocheck-worker", SpawnRetries: 5})
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Load(context.Background(), "model.onnx")
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist), "err = %v", err)
	assert.Less(t, time.Since(start), 400*time.Millisecond, "missing binary must not be retried")

	_, err = NewProcess(ProcessConfig{})
	assert.Error(t, err)
}

func TestAdapters(t *testing.T) {
	var loaded string
	loader := LoaderFunc(func(_ context.Context, path string) (Model, error) {
		loaded = path
		return Func(func(context.Context, Tensor) ([][]float64, error) {
			return [][]float64{{1}}, nil
		}), nil
	})

	m, err := loader.Load(context.Background(), "x.onnx")
	require.NoError(t, err)
	assert.Equal(t, "x.onnx", loaded)

	out, err := m.Classify(context.Background(), Tensor{})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1}}, out)
	assert.NoError(t, m.Close())
}
