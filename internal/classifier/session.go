package classifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// Message types of the worker protocol.
const (
	msgInit       = "init"
	msgPredict    = "predict"
	msgReady      = "ready"
	msgPrediction = "prediction"
	msgError      = "error"
)

type request struct {
	Type      string  `msgpack:"type"`
	ModelPath string  `msgpack:"model_path,omitempty"`
	Input     *Tensor `msgpack:"input,omitempty"`
}

type response struct {
	Type   string      `msgpack:"type"`
	Scores [][]float64 `msgpack:"scores,omitempty"`
	Reason string      `msgpack:"reason,omitempty"`
}

var (
	// ErrRejected is returned when the worker answers a request with an error message.
	ErrRejected = errors.New("classifier: worker rejected request")

	// ErrSessionBroken is returned once the byte stream can no longer be trusted:
	// after an I/O error, a protocol violation, or a cancelled call.
	ErrSessionBroken = errors.New("classifier: worker session broken")
)

// Session speaks the framed request/response protocol with a classifier
// worker over a pair of streams. Calls are serialized.
type Session struct {
	w io.Writer
	r io.Reader

	mu     sync.Mutex
	broken atomic.Bool
}

// NewSession returns a session writing requests to w and reading responses from r.
func NewSession(w io.Writer, r io.Reader) *Session {
	return &Session{w: w, r: r}
}

// Init asks the worker to load modelPath and waits for it to report ready.
func (s *Session) Init(ctx context.Context, modelPath string) error {
	_, err := s.call(ctx, request{Type: msgInit, ModelPath: modelPath}, msgReady)
	return err
}

// Classify implements Model.
func (s *Session) Classify(ctx context.Context, input Tensor) ([][]float64, error) {
	resp, err := s.call(ctx, request{Type: msgPredict, Input: &input}, msgPrediction)
	if err != nil {
		return nil, err
	}
	return resp.Scores, nil
}

// Broken reports whether the session stopped accepting calls.
func (s *Session) Broken() bool {
	return s.broken.Load()
}

func (s *Session) call(ctx context.Context, req request, want string) (response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.broken.Load() {
		return response{}, ErrSessionBroken
	}

	type result struct {
		resp response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		if err := WriteMessage(s.w, req); err != nil {
			done <- result{err: err}
			return
		}
		var resp response
		err := ReadMessage(s.r, &resp)
		done <- result{resp: resp, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			s.broken.Store(true)
			return response{}, fmt.Errorf("%w: %s: %w", ErrSessionBroken, req.Type, res.err)
		}
		switch res.resp.Type {
		case want:
			return res.resp, nil
		case msgError:
			return response{}, fmt.Errorf("%w: %s: %s", ErrRejected, req.Type, res.resp.Reason)
		default:
			s.broken.Store(true)
			return response{}, fmt.Errorf("%w: %s answered with %q", ErrSessionBroken, req.Type, res.resp.Type)
		}
	case <-ctx.Done():
		// The response may still arrive later and would be read as the answer
		// to the next request.
		s.broken.Store(true)
		return response{}, fmt.Errorf("%w: %s: %w", ErrSessionBroken, req.Type, ctx.Err())
	}
}
