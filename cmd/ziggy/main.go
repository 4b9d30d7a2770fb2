// ziggy - zigbee2mqtt bridge exporter
//
// ziggy subscribes to the topics a zigbee2mqtt bridge publishes on an MQTT
// broker, turns bridge health, state and info reports into Prometheus
// metrics, and serves them together with its own operational metrics.
//
// Usage:
//
//	ziggy                   run the exporter (config from ZIGGY_CONFIG)
//	ziggy -token operator   print a bearer token for the field admin routes
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/ziggy/internal/api"
	"github.com/nerrad567/ziggy/internal/device"
	"github.com/nerrad567/ziggy/internal/infrastructure/config"
	"github.com/nerrad567/ziggy/internal/infrastructure/logging"
	"github.com/nerrad567/ziggy/internal/infrastructure/mqtt"
	"github.com/nerrad567/ziggy/internal/telemetry"
	"github.com/nerrad567/ziggy/internal/zigbee2mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	tokenSubject := flag.String("token", "", "print a bearer token for `subject` and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of the token printed by -token")
	flag.Parse()

	if *tokenSubject != "" {
		if err := printToken(os.Stdout, *tokenSubject, *tokenTTL); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Cancel on Ctrl+C and SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting ziggy",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	tracker := device.NewTracker(device.PolicyForTTL(cfg.Devices.EvictionTTL))
	registry, err := telemetry.NewRegistry(telemetry.Options{
		BridgeName:        cfg.Zigbee2MQTT.BridgeName,
		Tracker:           tracker,
		Version:           version,
		RuntimeCollectors: true,
	})
	if err != nil {
		return fmt.Errorf("creating metric registry: %w", err)
	}

	fields, err := zigbee2mqtt.NewFieldRegistry(cfg.Fields)
	if err != nil {
		return fmt.Errorf("loading info fields: %w", err)
	}

	router, err := zigbee2mqtt.NewRouter(cfg.Zigbee2MQTT.BaseTopic, cfg.DeviceTopicFilter())
	if err != nil {
		return fmt.Errorf("building topic router: %w", err)
	}

	pipeline, err := zigbee2mqtt.NewPipeline(router, fields, registry.Store(), zigbee2mqtt.Options{
		QueueSize: cfg.MQTT.QueueSize,
		Metrics:   registry.Ops(),
		Logger:    log.Component("zigbee2mqtt"),
	})
	if err != nil {
		return fmt.Errorf("creating ingestion pipeline: %w", err)
	}
	log.Info("ingestion pipeline ready",
		"bridge_name", cfg.Zigbee2MQTT.BridgeName,
		"base_topic", router.BaseTopic(),
		"subscriptions", router.Subscriptions(),
	)

	mqttClient, err := mqtt.New(cfg.MQTT, mqtt.Options{
		Topics:  router.Subscriptions(),
		Handler: pipeline.Enqueue,
		Metrics: registry.Ops(),
		Logger:  log.Component("mqtt"),
	})
	if err != nil {
		return fmt.Errorf("creating MQTT client: %w", err)
	}
	mqttClient.AddStateListener(func(change mqtt.StateChange) {
		log.Info("mqtt state changed",
			"from", change.From.String(),
			"to", change.To.String(),
			"reason", change.Reason,
		)
	})

	server, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Security:  cfg.Security,
		Logger:    log.Component("api"),
		Telemetry: registry,
		Pipeline:  pipeline,
		MQTT:      mqttClient,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := mqttClient.Run(gctx)
		if errors.Is(err, mqtt.ErrDisabled) {
			log.Warn("MQTT disabled, no bridge telemetry will be collected")
			return nil
		}
		return err
	})
	g.Go(func() error {
		return pipeline.Run(gctx)
	})
	g.Go(func() error {
		return pipeline.SweepDevices(gctx, cfg.Devices.SweepInterval)
	})
	g.Go(func() error {
		return server.Run(gctx)
	})

	log.Info("initialisation complete, waiting for shutdown signal",
		"api", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
	)

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("ziggy stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses ZIGGY_CONFIG environment variable if set, otherwise default.
// A missing default file falls back to built-in defaults plus env overrides.
func getConfigPath() string {
	if path := os.Getenv("ZIGGY_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err != nil {
		return ""
	}
	return defaultConfigPath
}

// printToken loads the JWT secret from configuration and writes a signed
// token for subject to w.
func printToken(w io.Writer, subject string, ttl time.Duration) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Security.JWT.Secret == "" {
		return errors.New("security.jwt.secret is not set; field routes are unauthenticated")
	}

	token, err := api.IssueToken(subject, cfg.Security.JWT.Secret, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}
