package config

import (
	"fmt"
	"regexp"
	"time"

	"github.com/e7canasta/photocheck/internal/source"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Source types
const (
	SourceSynthetic = "synthetic"
	SourceCamera    = "camera"
)

// Defaults
const (
	DefaultModelWidth  = 256
	DefaultModelHeight = 341
	DefaultLoopDelay   = 30 * time.Millisecond
	DefaultHealthPort  = 8080
)

// Validate checks if the configuration is valid and fills defaults
func Validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	// Model
	if cfg.Model.Path == "" {
		return fmt.Errorf("model.path is required")
	}
	if cfg.Model.Width == 0 {
		cfg.Model.Width = DefaultModelWidth
	}
	if cfg.Model.Height == 0 {
		cfg.Model.Height = DefaultModelHeight
	}
	if cfg.Model.Width < 0 || cfg.Model.Height < 0 {
		return fmt.Errorf("model.width and model.height must be > 0")
	}

	// Classifier worker
	if cfg.Classifier.Command == "" {
		return fmt.Errorf("classifier.command is required")
	}
	if cfg.Classifier.SpawnRetries == 0 {
		cfg.Classifier.SpawnRetries = 3
	}
	if cfg.Classifier.StopTimeout <= 0 {
		cfg.Classifier.StopTimeout = 2 * time.Second
	}

	// Loop
	if cfg.Loop.Delay < 0 {
		return fmt.Errorf("loop.delay must be >= 0")
	}
	if cfg.Loop.Delay == 0 {
		cfg.Loop.Delay = DefaultLoopDelay
	}

	if err := validateSource(&cfg.Source); err != nil {
		return fmt.Errorf("source: %w", err)
	}

	// Health server
	if cfg.Health.Port == 0 {
		cfg.Health.Port = DefaultHealthPort
	}
	if cfg.Health.Port < 0 || cfg.Health.Port > 65535 {
		return fmt.Errorf("health.port must be in 1..65535")
	}

	// MQTT is optional; topics default from instance_id
	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = fmt.Sprintf("photocheck-%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Decisions == "" {
		cfg.MQTT.Topics.Decisions = fmt.Sprintf("photocheck/decisions/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Health == "" {
		cfg.MQTT.Topics.Health = fmt.Sprintf("photocheck/health/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Control == "" {
		cfg.MQTT.Topics.Control = fmt.Sprintf("photocheck/control/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Responses == "" {
		cfg.MQTT.Topics.Responses = cfg.MQTT.Topics.Control + "/responses"
	}

	// Labels and rules must build a valid table
	if _, err := cfg.Table(); err != nil {
		return fmt.Errorf("rule table: %w", err)
	}

	return nil
}

func validateSource(src *SourceConfig) error {
	if src.Type == "" {
		src.Type = SourceSynthetic
	}
	if src.Width == 0 {
		src.Width = 640
	}
	if src.Height == 0 {
		src.Height = 480
	}
	if src.FPS == 0 {
		src.FPS = 10
	}
	if src.Width < 0 || src.Height < 0 || src.FPS < 0 {
		return fmt.Errorf("width, height and fps must be > 0")
	}

	switch src.Type {
	case SourceSynthetic:
		return nil
	case SourceCamera:
		if src.Input == "" {
			src.Input = source.TestInput
		}
		if src.MaxRestarts == 0 {
			src.MaxRestarts = 5
		}
		if src.RestartBase <= 0 {
			src.RestartBase = time.Second
		}
		if src.RestartCap <= 0 {
			src.RestartCap = 30 * time.Second
		}
		if src.RestartCap < src.RestartBase {
			return fmt.Errorf("restart_cap must be >= restart_base")
		}
		return nil
	default:
		return fmt.Errorf("unknown type '%s' (must be '%s' or '%s')", src.Type, SourceSynthetic, SourceCamera)
	}
}
