package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/e7canasta/photocheck/internal/config"
	"github.com/e7canasta/photocheck/internal/control"
	"github.com/e7canasta/photocheck/internal/core"
	"github.com/e7canasta/photocheck/internal/emitter"
)

const (
	defaultConfigPath = "config/photocheck.yaml"
	healthInterval    = 10 * time.Second
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	autostart := flag.Bool("autostart", true, "Start capture on launch")
	flag.Parse()

	// Setup structured logger
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting photocheck service",
		"config", *configPath,
		"debug", *debug,
	)

	if err := run(*configPath, *autostart, logger); err != nil {
		slog.Error("photocheck service failed", "error", err)
		os.Exit(1)
	}

	slog.Info("photocheck service stopped successfully")
}

func run(configPath string, autostart bool, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Create context cancelled on shutdown signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var mqtt *emitter.MQTT
	var pub core.Publisher
	if cfg.MQTT.Broker != "" {
		mqtt, err = emitter.NewMQTT(emitter.Config{
			Broker:         cfg.MQTT.Broker,
			ClientID:       cfg.MQTT.ClientID,
			DecisionsTopic: cfg.MQTT.Topics.Decisions,
			HealthTopic:    cfg.MQTT.Topics.Health,
			QoS:            cfg.MQTT.QoS,
			Logger:         logger,
		})
		if err != nil {
			return err
		}
		if err := mqtt.Connect(ctx); err != nil {
			return err
		}
		defer mqtt.Disconnect()
		pub = mqtt
	} else {
		slog.Warn("mqtt broker not configured, decisions are only logged")
	}

	svc, err := core.NewFromConfig(cfg, pub, core.Callbacks{}, logger)
	if err != nil {
		return err
	}

	// Control plane: capture commands over MQTT
	if mqtt != nil {
		handler, err := control.NewHandler(control.Config{
			CommandTopic:  cfg.MQTT.Topics.Control,
			ResponseTopic: cfg.MQTT.Topics.Responses,
			Logger:        logger,
		}, mqtt, control.Callbacks{
			OnStartCapture: svc.StartCapture,
			OnStopCapture:  svc.StopCapture,
			OnGetStatus:    func() any { return svc.Status() },
			OnSourceReady:  svc.NotifySourceReady,
		})
		if err != nil {
			return err
		}
		if err := handler.Start(ctx); err != nil {
			return err
		}
		defer handler.Stop()
	}

	server := svc.HealthServer(cfg.Health.Port)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	if autostart {
		g.Go(func() error {
			if err := svc.StartCapture(gctx); err != nil {
				// Status reports the failure; a later POST /capture/start can retry.
				slog.Error("autostart failed", "error", err)
			}
			return nil
		})
	}

	if mqtt != nil {
		g.Go(func() error {
			publishHealth(gctx, svc, mqtt)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down gracefully", "timeout", cfg.ShutdownTimeout())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()

		err := svc.Shutdown(shutdownCtx)
		if serr := server.Shutdown(shutdownCtx); serr != nil && err == nil {
			err = serr
		}
		return err
	})

	return g.Wait()
}

// publishHealth sends the service status to the health topic until ctx ends.
func publishHealth(ctx context.Context, svc *core.Service, mqtt *emitter.MQTT) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		payload, err := json.Marshal(svc.Status())
		if err != nil {
			slog.Error("failed to encode health", "error", err)
			continue
		}
		if err := mqtt.PublishHealth(payload); err != nil {
			slog.Debug("health publish failed", "error", err)
		}
	}
}
