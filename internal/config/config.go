package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete photocheck configuration
type Config struct {
	InstanceID       string           `yaml:"instance_id"`
	ShutdownTimeoutS int              `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Model            ModelConfig      `yaml:"model"`
	Classifier       ClassifierConfig `yaml:"classifier"`
	Loop             LoopConfig       `yaml:"loop"`
	Source           SourceConfig     `yaml:"source"`
	MQTT             MQTTConfig       `yaml:"mqtt"`
	Health           HealthConfig     `yaml:"health"`
	Rules            []RuleConfig     `yaml:"rules,omitempty"` // Empty means the built-in delivery table
}

// ModelConfig describes the classifier model and its input box
type ModelConfig struct {
	Path   string   `yaml:"path"`
	Width  int      `yaml:"width"`            // default: 256
	Height int      `yaml:"height"`           // default: 341
	Labels []string `yaml:"labels,omitempty"` // Classifier output order; empty means the built-in label set
}

// ClassifierConfig describes the worker subprocess that hosts the model
type ClassifierConfig struct {
	Command      string        `yaml:"command"`
	Args         []string      `yaml:"args"`
	SpawnRetries uint64        `yaml:"spawn_retries"` // default: 3
	StopTimeout  time.Duration `yaml:"stop_timeout"`  // default: 2s
}

// LoopConfig contains loop controller settings
type LoopConfig struct {
	Delay time.Duration `yaml:"delay"` // Re-arm delay after a decision (default: 30ms)
}

// SourceConfig selects and configures the live video source
type SourceConfig struct {
	Type        string        `yaml:"type"`  // synthetic, camera
	Input       string        `yaml:"input"` // camera only: test, /dev/videoN, rtsp://...
	Width       int           `yaml:"width"`
	Height      int           `yaml:"height"`
	FPS         int           `yaml:"fps"`
	MaxRestarts uint64        `yaml:"max_restarts"` // camera only (default: 5)
	RestartBase time.Duration `yaml:"restart_base"` // camera only (default: 1s)
	RestartCap  time.Duration `yaml:"restart_cap"`  // camera only (default: 30s)
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Broker   string     `yaml:"broker"` // Empty disables publication
	ClientID string     `yaml:"client_id"`
	QoS      byte       `yaml:"qos"`
	Topics   MQTTTopics `yaml:"topics"`
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	Decisions string `yaml:"decisions"`
	Health    string `yaml:"health"`
	Control   string `yaml:"control"`
	Responses string `yaml:"responses"` // Control command responses
}

// HealthConfig contains the HTTP status server settings
type HealthConfig struct {
	Port int `yaml:"port"` // default: 8080
}

// RuleConfig is a decision rule in textual form
type RuleConfig struct {
	Title         string   `yaml:"title"`
	ReasonCode    string   `yaml:"reason_code"`
	Description   string   `yaml:"description"`
	Conditions    []string `yaml:"conditions"` // e.g. "package_visible==true&&blur==false", or "decision_default"
	DecisionValue string   `yaml:"decision_value"`
	Order         int      `yaml:"order"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML document
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ShutdownTimeout returns the graceful shutdown timeout
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}
