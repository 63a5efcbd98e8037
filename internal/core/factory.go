package core

import (
	"fmt"
	"log/slog"

	"github.com/e7canasta/photocheck/internal/classifier"
	"github.com/e7canasta/photocheck/internal/config"
	"github.com/e7canasta/photocheck/internal/source"
)

// NewFromConfig builds a Service from a validated configuration. pub and the
// callbacks may be nil.
func NewFromConfig(cfg *config.Config, pub Publisher, cb Callbacks, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	table, err := cfg.Table()
	if err != nil {
		return nil, fmt.Errorf("core: rule table: %w", err)
	}

	loader, err := classifier.NewProcess(classifier.ProcessConfig{
		Command:      cfg.Classifier.Command,
		Args:         cfg.Classifier.Args,
		SpawnRetries: cfg.Classifier.SpawnRetries,
		StopTimeout:  cfg.Classifier.StopTimeout,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	sources, err := SourcesFromConfig(cfg.Source, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.InstanceID,
		"source", cfg.Source.Type,
		"rules", table.Len(),
	)

	return New(Options{
		InstanceID: cfg.InstanceID,
		ModelPath:  cfg.Model.Path,
		Width:      cfg.Model.Width,
		Height:     cfg.Model.Height,
		Delay:      cfg.Loop.Delay,
		Table:      table,
		Loader:     loader,
		Sources:    sources,
		Publisher:  pub,
		Callbacks:  cb,
		Logger:     logger,
	})
}

// SourcesFromConfig returns the factory for the configured source type.
func SourcesFromConfig(sc config.SourceConfig, logger *slog.Logger) (SourceFactory, error) {
	switch sc.Type {
	case config.SourceSynthetic:
		return func() (source.Live, error) {
			return source.NewSynthetic(source.SyntheticConfig{
				Width:  sc.Width,
				Height: sc.Height,
				FPS:    sc.FPS,
				Logger: logger,
			})
		}, nil
	case config.SourceCamera:
		return func() (source.Live, error) {
			return source.NewCamera(source.CameraConfig{
				Input:       sc.Input,
				Width:       sc.Width,
				Height:      sc.Height,
				FPS:         sc.FPS,
				MaxRestarts: sc.MaxRestarts,
				RestartBase: sc.RestartBase,
				RestartCap:  sc.RestartCap,
				Logger:      logger,
			})
		}, nil
	default:
		return nil, fmt.Errorf("core: unknown source type %q", sc.Type)
	}
}
