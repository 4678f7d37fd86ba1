package main

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"

	_ "github.com/nerrad567/nasa-bridge/migrations"

	"github.com/nerrad567/nasa-bridge/internal/api"
	"github.com/nerrad567/nasa-bridge/internal/audit"
	"github.com/nerrad567/nasa-bridge/internal/bridges/ehs"
	"github.com/nerrad567/nasa-bridge/internal/device"
	"github.com/nerrad567/nasa-bridge/internal/gateway"
	"github.com/nerrad567/nasa-bridge/internal/infrastructure/config"
	"github.com/nerrad567/nasa-bridge/internal/infrastructure/database"
	"github.com/nerrad567/nasa-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/nasa-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/nasa-bridge/internal/infrastructure/metrics"
	"github.com/nerrad567/nasa-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/nasa-bridge/internal/nasa"
)

// run is the daemon, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: Configuration file to load
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting NASA bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

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

	// Open database
	db, err := database.Open(database.Config{
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Build the engine
	engineCfg, err := ehs.EngineConfig(cfg.NASA)
	if err != nil {
		return fmt.Errorf("building engine config: %w", err)
	}
	client, err := nasa.NewClient(engineCfg)
	if err != nil {
		return fmt.Errorf("creating NASA client: %w", err)
	}
	client.SetLogger(log.Component("nasa"))

	deviceRepo := device.NewSQLiteRepository(db.DB)
	historyRepo := device.NewSQLiteHistoryRepository(db.DB)

	snapshotter := device.NewSnapshotter(device.SnapshotterConfig{
		Repository: deviceRepo,
		Source:     client,
		Interval:   cfg.GetSnapshotInterval(),
		History:    historyRepo,
		Retention:  cfg.GetHistoryRetention(),
	})
	snapshotter.SetLogger(log)

	trail := audit.NewTrail(audit.NewSQLiteRepository(db.DB))
	trail.SetLogger(log.Component("audit"))
	if retention := cfg.GetHistoryRetention(); retention > 0 {
		if pruned, pruneErr := trail.Prune(ctx, retention); pruneErr != nil {
			log.Warn("audit log prune failed", "error", pruneErr)
		} else if pruned > 0 {
			log.Info("audit log pruned", "removed", pruned)
		}
	}

	restored, err := snapshotter.Restore(ctx, client)
	if err != nil {
		log.Warn("snapshot restore failed, starting empty", "error", err)
	} else {
		log.Info("attribute snapshot restored", "values", restored)
	}

	// Metrics
	var promMetrics *metrics.Metrics
	if cfg.Metrics.Enabled {
		promMetrics = metrics.New(cfg.Metrics.Namespace)
		promMetrics.WatchEngine(client)
		if !cfg.API.Enabled {
			log.Warn("metrics enabled but API disabled, /metrics is not served")
		}
	}

	// Connect to InfluxDB (optional)
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Record changes to metrics, InfluxDB and the history table
	recOpts := recorderOptions{
		Source:   client,
		Metrics:  promMetrics,
		History:  historyRepo,
		Logger:   log,
		Endpoint: cfg.NASA.Endpoint(),
	}
	if influxClient != nil {
		recOpts.Series = influxClient
	}
	recCtx, recCancel := context.WithCancel(ctx)
	rec := newRecorder(recOpts)
	rec.Start(recCtx, cfg.GetHealthInterval())
	defer func() {
		recCancel()
		rec.Stop()
	}()

	// Start the local serial-to-TCP daemon (optional)
	var gw *gateway.Supervisor
	if cfg.NASA.Gateway.Enabled {
		gw, err = startGateway(ctx, cfg.NASA, log)
		if err != nil {
			return err
		}
		defer func() {
			if stopErr := gw.Stop(); stopErr != nil {
				log.Error("error stopping gateway", "error", stopErr)
			}
		}()
	}

	// Start the engine
	client.Start(ctx)
	defer func() {
		log.Info("closing NASA connection")
		if closeErr := client.Close(); closeErr != nil {
			log.Error("error closing NASA connection", "error", closeErr)
		}
	}()
	log.Info("NASA engine started",
		"endpoint", cfg.NASA.Endpoint(),
		"devices", len(engineCfg.Devices),
	)

	// Connect to MQTT broker and start the bridge (optional)
	var mqttClient *mqtt.Client
	var bridge *ehs.Bridge
	if cfg.MQTT.Enabled {
		mqttClient, bridge, err = startBridge(ctx, cfg, client, trail, promMetrics, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("stopping NASA bridge")
			bridge.Stop()
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	} else {
		log.Info("MQTT disabled")
	}

	snapshotter.Start(ctx)
	defer func() {
		log.Info("saving attribute snapshot")
		snapshotter.Stop()
	}()

	// Start HTTP API (optional)
	if cfg.API.Enabled {
		apiServer, apiErr := startAPI(ctx, cfg, client, bridge, deviceRepo, historyRepo, trail, gw, promMetrics, log)
		if apiErr != nil {
			return apiErr
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, snapshot, bridge and MQTT,
	// engine, gateway, recorder, InfluxDB, database.
	return nil
}

// startBridge connects to the broker and starts the MQTT bridge. The
// current attribute values are published once the bridge is running.
func startBridge(ctx context.Context, cfg *config.Config, client *nasa.Client, trail *audit.Trail, m *metrics.Metrics, log *logging.Logger) (*mqtt.Client, *ehs.Bridge, error) {
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
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

	opts := ehs.BridgeOptions{
		BridgeID:           cfg.Bridge.ID,
		Version:            version,
		HealthInterval:     cfg.GetHealthInterval(),
		Endpoint:           cfg.NASA.Endpoint(),
		WaterOutletControl: cfg.Bridge.WaterOutletControl,
		Engine:             client,
		MQTTClient:         mqttClient,
		Auditor:            trail,
		Logger:             log,
	}
	if m != nil {
		opts.Recorder = m
	}

	bridge, err := ehs.NewBridge(opts)
	if err != nil {
		_ = mqttClient.Close()
		return nil, nil, fmt.Errorf("creating NASA bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		_ = mqttClient.Close()
		return nil, nil, fmt.Errorf("starting NASA bridge: %w", err)
	}
	bridge.PublishAll(client.Snapshot())
	log.Info("NASA bridge started", "bridge_id", cfg.Bridge.ID)

	return mqttClient, bridge, nil
}

// startGateway launches the serial-to-TCP daemon the engine connects to.
// The endpoint is checked by dialling it.
func startGateway(ctx context.Context, cfg config.NASAConfig, log *logging.Logger) (*gateway.Supervisor, error) {
	endpoint, err := url.Parse(cfg.Endpoint())
	if err != nil {
		return nil, fmt.Errorf("parsing gateway endpoint: %w", err)
	}

	gcfg := gateway.Config{
		Name:         filepath.Base(cfg.Gateway.Binary),
		Binary:       cfg.Gateway.Binary,
		Args:         cfg.Gateway.Args,
		RestartDelay: cfg.Gateway.RestartDelay,
		MaxRestarts:  cfg.Gateway.MaxRestarts,
	}
	if cfg.Gateway.CheckInterval > 0 {
		gcfg.Check = gateway.DialCheck(endpoint.Host)
		gcfg.CheckInterval = cfg.Gateway.CheckInterval
	}

	gw := gateway.NewSupervisor(gcfg)
	gw.SetLogger(log.Component("gateway"))
	if err := gw.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting gateway: %w", err)
	}
	log.Info("gateway daemon started", "binary", cfg.Gateway.Binary, "endpoint", endpoint.Host)
	return gw, nil
}

// startAPI creates and starts the HTTP API server. bridge and m may be nil.
func startAPI(
	ctx context.Context,
	cfg *config.Config,
	client *nasa.Client,
	bridge *ehs.Bridge,
	devices device.Repository,
	history device.HistoryRepository,
	trail *audit.Trail,
	gw *gateway.Supervisor,
	m *metrics.Metrics,
	log *logging.Logger,
) (*api.Server, error) {
	deps := api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		MetricsPath: cfg.Metrics.Path,
		Logger:      log,
		Engine:      client,
		Devices:     devices,
		History:     history,
		Audit:       trail,
		Metrics:     m,
		Version:     version,
	}
	if bridge != nil {
		deps.Commands = bridge
	}
	if gw != nil {
		deps.Gateway = gw
	}

	server, err := api.New(deps)
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting API server: %w", err)
	}
	return server, nil
}

// healthCheck verifies all infrastructure connections are healthy.
//
// The NASA gateway is not checked: the bridge runs degraded while the
// gateway is unreachable and reports that over MQTT and /health.
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
