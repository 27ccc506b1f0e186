// labdash is the IoT lab relay server.
//
// It ingests node reports from the lab MQTT broker, stores them in SQLite,
// optionally archives them to InfluxDB, and relays frames and actuator
// commands to dashboards over a WebSocket.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/labdash/internal/api"
	"github.com/nerrad567/labdash/internal/audit"
	"github.com/nerrad567/labdash/internal/device"
	"github.com/nerrad567/labdash/internal/infrastructure/config"
	"github.com/nerrad567/labdash/internal/infrastructure/database"
	"github.com/nerrad567/labdash/internal/infrastructure/influxdb"
	"github.com/nerrad567/labdash/internal/infrastructure/logging"
	"github.com/nerrad567/labdash/internal/infrastructure/mqtt"
	"github.com/nerrad567/labdash/internal/ingest"
	"github.com/nerrad567/labdash/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnv overrides the configuration file path.
const configEnv = "LABDASH_CONFIG"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the relay server and blocks until ctx is cancelled.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting labdash",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log.Component("registry"))

	// The relay keeps serving stored data when the lab broker is down;
	// ingestion and commands stay off until the next restart.
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		log.Warn("MQTT unavailable, ingestion and commands disabled",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"error", err,
		)
	} else {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	}

	influxClient, err := connectInflux(ctx, cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	hub := api.NewHub(cfg.WebSocket, log.Component("relay"))
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go hub.Run(hubCtx)

	deps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log.Component("api"),
		Registry: registry,
		Audit:    audit.NewSQLiteRepository(db.DB),
		DB:       db,
		Hub:      hub,
		Version:  version,
	}

	if mqttClient != nil {
		svc, svcErr := startIngest(ctx, cfg, mqttClient, registry, hub, influxClient, log)
		if svcErr != nil {
			return svcErr
		}
		defer func() {
			log.Info("stopping ingestion")
			svc.Stop()
		}()
		// Interface fields stay nil when the broker is unavailable.
		deps.Commands = mqttClient
		deps.Ingest = svc
	}
	if influxClient != nil {
		deps.Archive = influxClient
	}
	if cfg.Security.JWT.Secret == "" {
		log.Warn("security.jwt.secret is empty, relay and device API are unauthenticated")
	}

	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// loadConfig reads the file named by LABDASH_CONFIG, or the default path.
// A missing default file falls back to built-in defaults; a missing file
// that was asked for explicitly is an error.
func loadConfig() (*config.Config, string, error) {
	path, explicit := getConfigPath()
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, path, nil
	}
	if !explicit && errors.Is(err, os.ErrNotExist) {
		cfg, err = config.Default()
		return cfg, "(defaults)", err
	}
	return nil, path, err
}

// getConfigPath returns the configuration file path and whether it came
// from the environment.
func getConfigPath() (string, bool) {
	if path := os.Getenv(configEnv); path != "" {
		return path, true
	}
	return defaultConfigPath, false
}

// connectInflux returns nil without error when the archive is disabled.
func connectInflux(ctx context.Context, cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(ctx, cfg)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)
	return client, nil
}

// startIngest subscribes the ingestion service to the lab topics.
func startIngest(
	ctx context.Context,
	cfg *config.Config,
	client *mqtt.Client,
	registry *device.Registry,
	hub *api.Hub,
	archive *influxdb.Client,
	log *logging.Logger,
) (*ingest.Service, error) {
	opts := ingest.Options{
		MQTT:        client,
		Topics:      client.Topics(),
		Registry:    registry,
		Hub:         hub,
		ResponseQoS: byte(cfg.MQTT.QoS),
	}
	// Avoid a typed nil in the interface field.
	if archive != nil {
		opts.Archive = archive
	}

	svc, err := ingest.New(opts)
	if err != nil {
		return nil, fmt.Errorf("creating ingestion service: %w", err)
	}
	svc.SetLogger(log.Component("ingest"))

	if err := svc.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting ingestion: %w", err)
	}
	log.Info("ingestion started",
		"data_topic", client.Topics().Data(),
		"response_topic", client.Topics().CommandResponses(),
	)
	return svc, nil
}

// healthCheck verifies the infrastructure connections. A nil client is
// skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
