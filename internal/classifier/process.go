package classifier

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// ProcessConfig configures a classifier worker subprocess.
type ProcessConfig struct {
	// Command is the worker executable. It is started with Args followed by
	// --model <path>.
	Command string
	Args    []string
	Env     []string

	// SpawnRetries bounds how often a failed spawn or handshake is retried.
	SpawnRetries uint64
	RetryBase    time.Duration

	// StopTimeout is how long Close waits for a graceful exit before killing.
	StopTimeout time.Duration

	Logger *slog.Logger
}

// Process loads models into a worker subprocess that speaks the framed
// msgpack protocol over stdin/stdout and logs to stderr.
type Process struct {
	cfg ProcessConfig
}

// NewProcess validates cfg and fills defaults.
func NewProcess(cfg ProcessConfig) (*Process, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("classifier: worker command is required")
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Process{cfg: cfg}, nil
}

// Load spawns a worker and waits for it to load modelPath. Spawn failures and
// broken handshakes are retried with Fibonacci backoff; a worker that rejects
// the model is not.
func (p *Process) Load(ctx context.Context, modelPath string) (Model, error) {
	var model *processModel

	b := retry.WithMaxRetries(p.cfg.SpawnRetries, retry.NewFibonacci(p.cfg.RetryBase))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		m, err := p.spawn(modelPath)
		if err != nil {
			if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
				return err
			}
			return retry.RetryableError(err)
		}

		if err := m.Init(ctx, modelPath); err != nil {
			m.Close()
			if errors.Is(err, ErrRejected) || ctx.Err() != nil {
				return err
			}
			p.cfg.Logger.Warn("classifier: worker handshake failed, retrying",
				"model", modelPath,
				"error", err,
			)
			return retry.RetryableError(err)
		}

		model = m
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("classifier: load %s: %w", modelPath, err)
	}
	return model, nil
}

type processModel struct {
	*Session

	cmd         *exec.Cmd
	stdin       io.WriteCloser
	stopTimeout time.Duration
	logger      *slog.Logger

	exited    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

func (p *Process) spawn(modelPath string) (*processModel, error) {
	args := append(append([]string(nil), p.cfg.Args...), "--model", modelPath)
	cmd := exec.Command(p.cfg.Command, args...)
	if len(p.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), p.cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker process: %w", err)
	}

	logger := p.cfg.Logger.With("pid", cmd.Process.Pid)
	logger.Info("classifier: worker process spawned", "command", p.cfg.Command)

	m := &processModel{
		Session:     NewSession(stdin, bufio.NewReader(stdout)),
		cmd:         cmd,
		stdin:       stdin,
		stopTimeout: p.cfg.StopTimeout,
		logger:      logger,
		exited:      make(chan struct{}),
	}

	m.wg.Add(2)
	go m.logStderr(stderr)
	go m.waitProcess()

	return m, nil
}

// Close closes stdin so the worker can exit on its own, then kills it if it
// is still running after the stop timeout.
func (m *processModel) Close() error {
	m.closeOnce.Do(func() {
		m.stdin.Close()

		select {
		case <-m.exited:
		case <-time.After(m.stopTimeout):
			m.logger.Warn("classifier: worker stop timeout, killing process")
			if err := m.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				m.closeErr = fmt.Errorf("classifier: kill worker: %w", err)
			}
		}
		m.wg.Wait()
	})
	return m.closeErr
}

func (m *processModel) waitProcess() {
	defer m.wg.Done()
	defer close(m.exited)

	if err := m.cmd.Wait(); err != nil {
		m.logger.Warn("classifier: worker process exited", "error", err)
		return
	}
	m.logger.Info("classifier: worker process exited cleanly")
}

// logStderr forwards worker log lines, mapping "[LEVEL]" markers to slog levels.
func (m *processModel) logStderr(r io.Reader) {
	defer m.wg.Done()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		m.logger.Log(context.Background(), workerLogLevel(line), "classifier: worker log", "log", line)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		m.logger.Debug("classifier: worker stderr closed", "error", err)
	}
}

func workerLogLevel(line string) slog.Level {
	switch {
	case strings.Contains(line, "[ERROR]"), strings.Contains(line, "[CRITICAL]"):
		return slog.LevelError
	case strings.Contains(line, "[WARNING]"), strings.Contains(line, "[WARN]"):
		return slog.LevelWarn
	default:
		return slog.LevelDebug
	}
}
