// Package emitter publishes decisions to downstream consumers over MQTT.
package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ErrNotConnected is returned when publishing without a broker connection.
var ErrNotConnected = errors.New("emitter: mqtt not connected")

// Config configures the MQTT emitter.
type Config struct {
	// Broker is host:port.
	Broker   string
	ClientID string

	DecisionsTopic string
	HealthTopic    string
	QoS            byte

	ConnectTimeout time.Duration
	PublishTimeout time.Duration

	Logger *slog.Logger
}

// Stats contains emitter statistics.
type Stats struct {
	Connected bool
	Published uint64
	Errors    uint64
}

// client is the part of mqtt.Client the emitter uses.
type client interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// MQTT publishes decision events and health payloads.
type MQTT struct {
	cfg    Config
	logger *slog.Logger
	client client

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
	subs      map[string]func([]byte)
}

// NewMQTT validates cfg and returns a disconnected emitter.
func NewMQTT(cfg Config) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("emitter: broker is required")
	}
	if cfg.DecisionsTopic == "" {
		return nil, fmt.Errorf("emitter: decisions topic is required")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("emitter: invalid qos %d", cfg.QoS)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &MQTT{cfg: cfg, logger: cfg.Logger.With("component", "emitter")}, nil
}

// Connect establishes the broker connection. The client reconnects on its own
// after a lost connection.
func (e *MQTT) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.Broker))
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		e.setConnected(true)
		e.logger.Info("emitter: mqtt connection established",
			"broker", e.cfg.Broker,
			"client_id", e.cfg.ClientID,
		)
		e.resubscribe()
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.setConnected(false)
		e.logger.Warn("emitter: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.Broker,
		)
	}

	e.logger.Info("emitter: connecting to mqtt broker", "broker", e.cfg.Broker)
	return e.connect(ctx, mqtt.NewClient(opts))
}

func (e *MQTT) connect(ctx context.Context, c client) error {
	e.client = c

	token := c.Connect()
	select {
	case <-token.Done():
	case <-time.After(e.cfg.ConnectTimeout):
		return fmt.Errorf("emitter: mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("emitter: mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// PublishDecision publishes ev as JSON to the decisions topic.
func (e *MQTT) PublishDecision(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		e.countError()
		return fmt.Errorf("emitter: marshal event: %w", err)
	}
	if err := e.publish(e.cfg.DecisionsTopic, payload); err != nil {
		return err
	}

	e.logger.Debug("emitter: decision published",
		"topic", e.cfg.DecisionsTopic,
		"reason_code", ev.ReasonCode,
		"size", len(payload),
	)
	return nil
}

// PublishHealth publishes a health payload, if a health topic is configured.
func (e *MQTT) PublishHealth(payload []byte) error {
	if e.cfg.HealthTopic == "" {
		return nil
	}
	return e.publish(e.cfg.HealthTopic, payload)
}

func (e *MQTT) publish(topic string, payload []byte) error {
	if !e.isConnected() {
		e.countError()
		return ErrNotConnected
	}

	token := e.client.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(e.cfg.PublishTimeout) {
		e.countError()
		return fmt.Errorf("emitter: publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("emitter: publish to %s failed: %w", topic, err)
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()
	return nil
}

// Publish publishes payload to topic with the configured QoS.
func (e *MQTT) Publish(topic string, payload []byte) error {
	return e.publish(topic, payload)
}

// Subscribe delivers every payload received on topic to fn. Subscriptions are
// restored after a reconnect. fn runs on the client's delivery goroutine and
// must not block.
func (e *MQTT) Subscribe(topic string, fn func(payload []byte)) error {
	if !e.isConnected() {
		return ErrNotConnected
	}

	e.mu.Lock()
	if e.subs == nil {
		e.subs = make(map[string]func([]byte))
	}
	e.subs[topic] = fn
	e.mu.Unlock()

	return e.subscribe(topic, fn)
}

func (e *MQTT) subscribe(topic string, fn func([]byte)) error {
	token := e.client.Subscribe(topic, e.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		fn(msg.Payload())
	})
	if !token.WaitTimeout(e.cfg.PublishTimeout) {
		return fmt.Errorf("emitter: subscribe to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("emitter: subscribe to %s failed: %w", topic, err)
	}

	e.logger.Info("emitter: subscribed", "topic", topic, "qos", e.cfg.QoS)
	return nil
}

func (e *MQTT) resubscribe() {
	e.mu.RLock()
	subs := make(map[string]func([]byte), len(e.subs))
	for topic, fn := range e.subs {
		subs[topic] = fn
	}
	e.mu.RUnlock()

	for topic, fn := range subs {
		if err := e.subscribe(topic, fn); err != nil {
			e.logger.Warn("emitter: resubscribe failed", "topic", topic, "error", err)
		}
	}
}

// Unsubscribe stops delivery for topic.
func (e *MQTT) Unsubscribe(topic string) error {
	e.mu.Lock()
	delete(e.subs, topic)
	e.mu.Unlock()

	if e.client == nil || !e.client.IsConnected() {
		return nil
	}
	token := e.client.Unsubscribe(topic)
	if !token.WaitTimeout(e.cfg.PublishTimeout) {
		return fmt.Errorf("emitter: unsubscribe from %s timed out", topic)
	}
	return token.Error()
}

// Disconnect closes the broker connection.
func (e *MQTT) Disconnect() error {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		e.logger.Info("emitter: mqtt disconnected")
	}
	e.setConnected(false)
	return nil
}

// Stats returns emitter statistics.
func (e *MQTT) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{Connected: e.connected, Published: e.published, Errors: e.errors}
}

func (e *MQTT) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTT) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTT) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
