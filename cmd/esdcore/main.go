// ESD Core - emergency shutdown sequence execution service.
//
// esdcore loads the shutdown sequence catalog, evaluates interlocks and
// permissives against live tag values, drives DCS commands over MQTT and
// records an ordered, append-only log for every execution. Operators use
// the REST API (or esdctl) to initiate, approve, continue and abort.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/gray-logic-esd/migrations"

	"github.com/nerrad567/gray-logic-esd/internal/api"
	"github.com/nerrad567/gray-logic-esd/internal/audit"
	"github.com/nerrad567/gray-logic-esd/internal/auth"
	"github.com/nerrad567/gray-logic-esd/internal/condition"
	"github.com/nerrad567/gray-logic-esd/internal/dispatch"
	"github.com/nerrad567/gray-logic-esd/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-esd/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-esd/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-esd/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-esd/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-esd/internal/infrastructure/tsdb"
	"github.com/nerrad567/gray-logic-esd/internal/orchestrator"
	"github.com/nerrad567/gray-logic-esd/internal/sequence"
	"github.com/nerrad567/gray-logic-esd/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// Default configuration file path
	defaultConfigPath = "configs/config.yaml"

	// Running steps get this long to wind down on shutdown.
	engineStopTimeout = 30 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// Components start in dependency order and close in reverse via defers.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting ESD core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"site", cfg.Site.ID,
		"level", cfg.Logging.Level,
	)

	operators, err := auth.NewDirectory(cfg.Security.Operators)
	if err != nil {
		return fmt.Errorf("loading operator accounts: %w", err)
	}
	if len(operators.Usernames()) == 0 {
		log.Warn("no operator accounts configured; the API will reject every login")
	}

	// Database
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
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Sequence catalog
	catalog := sequence.NewCatalog(sequence.NewSQLiteRepository(db.DB))
	catalog.SetLogger(log)
	if refreshErr := catalog.Refresh(ctx); refreshErr != nil {
		return fmt.Errorf("loading sequence catalog: %w", refreshErr)
	}
	if path := cfg.Sequencer.DefinitionsPath; path != "" {
		if importErr := importDefinitions(ctx, catalog, path, log); importErr != nil {
			return importErr
		}
	}
	log.Info("sequence catalog ready", "sequences", catalog.SequenceCount())

	// MQTT
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
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

	// InfluxDB outcome metrics (optional)
	var metrics orchestrator.Metrics
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		metrics = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Telemetry: MQTT-fed cache, TSDB history behind it (optional)
	cache := telemetry.NewCache(cfg.Sequencer.TagMaxAge())
	cache.SetLogger(log)
	var fallback telemetry.Source
	var tsdbClient *tsdb.Client
	if cfg.TSDB.Enabled {
		tsdbClient, err = tsdb.Connect(ctx, cfg.TSDB)
		if err != nil {
			return fmt.Errorf("connecting to TSDB: %w", err)
		}
		defer func() {
			log.Info("closing TSDB connection")
			if closeErr := tsdbClient.Close(); closeErr != nil {
				log.Error("error closing TSDB", "error", closeErr)
			}
		}()
		tsdbClient.SetOnError(func(err error) {
			log.Error("TSDB write error", "error", err)
		})
		cache.SetHistory(tsdbClient)
		fallback = telemetry.NewTSDBSource(tsdbClient, cfg.Sequencer.TagMaxAge())
		log.Info("TSDB connected", "url", cfg.TSDB.URL)
	} else {
		log.Info("TSDB disabled; tag values come from MQTT only")
	}
	if subErr := cache.Subscribe(mqttClient); subErr != nil {
		return fmt.Errorf("starting telemetry cache: %w", subErr)
	}
	gateway := telemetry.NewGateway(cache, fallback)
	gateway.SetLogger(log)

	// DCS command path
	sender := dispatch.NewMQTTSender(mqttClient, cfg.Sequencer.DCSSystem, cfg.Sequencer.AckTimeout())
	sender.SetLogger(log)
	if startErr := sender.Start(); startErr != nil {
		return fmt.Errorf("starting DCS sender: %w", startErr)
	}
	dispatcher := dispatch.New(sender, dispatch.Options{
		Retries: cfg.Sequencer.CommandRetries,
		Backoff: cfg.Sequencer.RetryBackoff(),
	})
	dispatcher.SetLogger(log)
	dispatcher.SetCommandLog(dispatch.NewSQLiteCommandLog(db.DB))

	// Engine
	writer := audit.NewWriter(audit.NewSQLiteRepository(db.DB))
	writer.SetLogger(log)
	engine, err := orchestrator.New(orchestrator.Deps{
		Catalog:    catalog,
		Evaluator:  condition.New(gateway),
		Dispatcher: dispatcher,
		Audit:      writer,
		Repository: orchestrator.NewSQLiteRepository(db.DB),
		Metrics:    metrics,
		Logger:     log,
	}, orchestrator.OptionsFromConfig(cfg.Sequencer))
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	writer.OnAppend(engine.PublishEntry)
	defer func() {
		log.Info("stopping engine")
		stopCtx, stop := context.WithTimeout(context.Background(), engineStopTimeout)
		defer stop()
		if closeErr := engine.Close(stopCtx); closeErr != nil {
			log.Error("error stopping engine", "error", closeErr)
		}
	}()

	recovered, err := engine.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recovering executions: %w", err)
	}
	log.Info("engine ready", "recovered_executions", recovered)

	// Engine events to MQTT
	events, unsubscribe := engine.Subscribe()
	defer unsubscribe()
	go orchestrator.Forward(ctx, events, mqttClient, log)

	// REST / WebSocket API
	server, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Security:  cfg.Security,
		Logger:    log,
		Catalog:   catalog,
		Engine:    engine,
		Operators: operators,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient, tsdbClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses ESD_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("ESD_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// importDefinitions seeds the catalog from YAML definition files.
func importDefinitions(ctx context.Context, catalog *sequence.Catalog, path string, log *logging.Logger) error {
	defs, err := sequence.LoadDefinitions(path)
	if err != nil {
		return fmt.Errorf("loading sequence definitions: %w", err)
	}
	res, err := catalog.Import(ctx, defs)
	if err != nil {
		return fmt.Errorf("importing sequence definitions: %w", err)
	}
	log.Info("sequence definitions imported",
		"path", path,
		"levels", res.Levels,
		"sequences", res.Sequences,
		"interlocks", res.Interlocks,
		"permissives", res.Permissives,
	)
	return nil
}

// healthCheck verifies all infrastructure connections are healthy.
// Optional clients may be nil.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, tsdbClient *tsdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	if tsdbClient != nil {
		if err := tsdbClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("tsdb: %w", err)
		}
	}
	return nil
}
