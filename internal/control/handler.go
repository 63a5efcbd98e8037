// Package control accepts capture commands over the MQTT control topic.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Command names
const (
	CmdStartCapture = "start_capture"
	CmdStopCapture  = "stop_capture"
	CmdGetStatus    = "get_status"
	CmdSourceReady  = "source_ready"
)

// Command represents a control plane command
type Command struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string `json:"command_ack"`
	Status     string `json:"status"` // "success", "error"
	Data       any    `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// Transport is the broker connection the handler listens and answers on
type Transport interface {
	Subscribe(topic string, fn func(payload []byte)) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte) error
}

// Callbacks contains the service operations commands map to. Nil callbacks
// answer with an error.
type Callbacks struct {
	OnStartCapture func(ctx context.Context) error
	OnStopCapture  func() error
	OnGetStatus    func() any
	OnSourceReady  func() bool
}

// Config configures a Handler
type Config struct {
	CommandTopic  string
	ResponseTopic string
	Logger        *slog.Logger
}

// Handler handles control plane commands
type Handler struct {
	cfg       Config
	transport Transport
	callbacks Callbacks
	logger    *slog.Logger

	commands chan Command
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// NewHandler creates a new control plane handler
func NewHandler(cfg Config, t Transport, callbacks Callbacks) (*Handler, error) {
	if cfg.CommandTopic == "" || cfg.ResponseTopic == "" {
		return nil, fmt.Errorf("control: command and response topics are required")
	}
	if t == nil {
		return nil, fmt.Errorf("control: transport is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		cfg:       cfg,
		transport: t,
		callbacks: callbacks,
		logger:    cfg.Logger.With("component", "control"),
		commands:  make(chan Command, 10),
	}, nil
}

// Start subscribes to the command topic and processes commands until ctx is
// cancelled or Stop is called
func (h *Handler) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return fmt.Errorf("control: handler already started")
	}

	h.logger.Info("control: subscribing to control plane", "topic", h.cfg.CommandTopic)
	if err := h.transport.Subscribe(h.cfg.CommandTopic, h.messageHandler); err != nil {
		return fmt.Errorf("control: subscribe: %w", err)
	}

	ctx, h.cancel = context.WithCancel(ctx)
	h.running = true

	h.wg.Add(1)
	go h.processCommands(ctx)

	h.logger.Info("control: handler started")
	return nil
}

// Stop unsubscribes and waits for the command in progress, if any
func (h *Handler) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = false
	h.cancel()
	h.mu.Unlock()

	err := h.transport.Unsubscribe(h.cfg.CommandTopic)
	h.wg.Wait()

	h.logger.Info("control: handler stopped")
	return err
}

// messageHandler is called when a control message is received
func (h *Handler) messageHandler(payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		h.logger.Error("control: failed to parse command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	h.logger.Info("control: command received", "command", cmd.Command)

	select {
	case h.commands <- cmd:
	default:
		h.logger.Warn("control: command queue full, dropping command", "command", cmd.Command)
		h.sendResponse(Response{
			CommandAck: cmd.Command,
			Status:     "error",
			Error:      "command queue full",
		})
	}
}

// processCommands executes queued commands one at a time
func (h *Handler) processCommands(ctx context.Context) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			h.sendResponse(h.handleCommand(ctx, cmd))
		}
	}
}

func (h *Handler) handleCommand(ctx context.Context, cmd Command) Response {
	resp := Response{CommandAck: cmd.Command, Status: "success"}

	var err error
	switch cmd.Command {
	case CmdStartCapture:
		if h.callbacks.OnStartCapture == nil {
			err = fmt.Errorf("%s not implemented", cmd.Command)
			break
		}
		err = h.callbacks.OnStartCapture(ctx)

	case CmdStopCapture:
		if h.callbacks.OnStopCapture == nil {
			err = fmt.Errorf("%s not implemented", cmd.Command)
			break
		}
		err = h.callbacks.OnStopCapture()

	case CmdGetStatus:
		if h.callbacks.OnGetStatus == nil {
			err = fmt.Errorf("%s not implemented", cmd.Command)
			break
		}
		resp.Data = h.callbacks.OnGetStatus()

	case CmdSourceReady:
		if h.callbacks.OnSourceReady == nil {
			err = fmt.Errorf("%s not implemented", cmd.Command)
			break
		}
		resp.Data = map[string]any{"triggered": h.callbacks.OnSourceReady()}

	default:
		err = fmt.Errorf("unknown command: %s", cmd.Command)
	}

	if err != nil {
		h.logger.Warn("control: command failed", "command", cmd.Command, "error", err)
		resp.Status = "error"
		resp.Error = err.Error()
		return resp
	}

	// Start and stop answer with the resulting status
	if resp.Data == nil && h.callbacks.OnGetStatus != nil {
		resp.Data = h.callbacks.OnGetStatus()
	}
	return resp
}

// sendResponse publishes a command response
func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(resp)
	if err != nil {
		h.logger.Error("control: failed to marshal response", "error", err)
		return
	}
	if err := h.transport.Publish(h.cfg.ResponseTopic, payload); err != nil {
		h.logger.Error("control: failed to send response", "error", err)
	}
}
