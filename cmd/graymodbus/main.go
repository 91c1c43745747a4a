// Gray Modbus Core - Register Data Acquisition Engine
//
// This is the main entry point for the Gray Modbus Core service. The
// engine polls Modbus devices described by reusable templates and fans
// the resulting register values out to MQTT, the HTTP/WebSocket API,
// and time-series storage. It is designed for:
//   - Unattended multi-year operation on site hardware
//   - Batched register reads planned per device
//   - Open integration surfaces (MQTT, REST, WebSocket)
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/gray-modbus-core/migrations"

	"github.com/nerrad567/gray-modbus-core/internal/api"
	"github.com/nerrad567/gray-modbus-core/internal/audit"
	"github.com/nerrad567/gray-modbus-core/internal/bridge"
	"github.com/nerrad567/gray-modbus-core/internal/infrastructure/config"
	"github.com/nerrad567/gray-modbus-core/internal/infrastructure/database"
	"github.com/nerrad567/gray-modbus-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-modbus-core/internal/infrastructure/logging"
	"github.com/nerrad567/gray-modbus-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-modbus-core/internal/infrastructure/tsdb"
	"github.com/nerrad567/gray-modbus-core/internal/poller"
	"github.com/nerrad567/gray-modbus-core/internal/template"
	"github.com/nerrad567/gray-modbus-core/internal/transport"
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

// metricsInterval is how often per-device performance gauges are
// exported to the time-series store.
const metricsInterval = 15 * time.Second

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	// This is the Go pattern for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Run the application
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
	log.Info("starting Gray Modbus Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "devices", len(cfg.Devices))

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database (optional: the audit trail is disabled without it)
	var db *database.DB
	var auditRepo audit.Repository
	if cfg.Database.Enabled {
		db, err = database.Open(database.Config{
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

		// Run migrations
		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete")

		auditRepo = audit.NewSQLiteRepository(db.DB)
	} else {
		log.Info("database disabled, audit trail unavailable")
	}

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		// Set up MQTT logging callbacks
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional: register value history)
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

	// Connect to the metrics store (optional: performance history)
	var tsdbClient *tsdb.Client
	if cfg.TSDB.Enabled {
		tsdbClient, err = tsdb.Connect(ctx, cfg.TSDB)
		if err != nil {
			return fmt.Errorf("connecting to metrics store: %w", err)
		}
		defer func() {
			log.Info("closing metrics store connection")
			if closeErr := tsdbClient.Close(); closeErr != nil {
				log.Error("error closing metrics store", "error", closeErr)
			}
		}()
		log.Info("metrics store connected", "url", cfg.TSDB.URL)

		tsdbClient.SetOnError(func(err error) {
			log.Error("metrics store write error", "error", err)
		})
	} else {
		log.Info("metrics store disabled")
	}

	// Load device templates and assemble the per-device register sets
	loader := template.NewLoader(cfg.Engine.TemplateDir)
	if err := loader.Load(); err != nil {
		return fmt.Errorf("loading templates: %w", err)
	}
	log.Info("templates loaded", "dir", cfg.Engine.TemplateDir, "count", len(loader.Names()))

	assembler := &deviceAssembler{loader: loader, cfg: cfg}
	devices, err := assembler.pollerConfigs()
	if err != nil {
		return fmt.Errorf("assembling devices: %w", err)
	}

	// The fanout closure runs on device goroutines, so the targets it
	// reads must be assigned before the engine starts.
	var (
		mqttBridge *bridge.Bridge
		apiServer  *api.Server
	)

	engine, err := poller.New(poller.Options{
		Devices:        devices,
		Source:         assembler,
		Tick:           cfg.Engine.GetPollTick(),
		ErrorLogWindow: cfg.Engine.GetErrorLogWindow(),
		OnUpdate: func(ev poller.EntityValue) {
			if mqttBridge != nil {
				mqttBridge.PublishValue(ev)
			}
			if apiServer != nil {
				apiServer.BroadcastValue(ev)
			}
			recordHistory(influxClient, ev)
		},
		Logger: log,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	// Create the API server (always on: it is the operator surface)
	apiServer, err = api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Logger:    log,
		Engine:    engine,
		AuditRepo: auditRepo,
		DB:        db,
		TSDB:      tsdbClient,
		MQTT:      mqttClient,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	// Create the MQTT bridge (requires a broker connection)
	if mqttClient != nil {
		bridgeOpts := bridge.Options{
			Engine: engine,
			Client: mqttClient,
			QoS:    cfg.MQTT.QoS,
			Logger: log,
		}
		if auditRepo != nil {
			bridgeOpts.OnCommand = func(cmd bridge.CommandMessage, uniqueID string, cmdErr error) {
				details := map[string]any{"value": cmd.Value}
				if cmd.Source != "" {
					details["requested_by"] = cmd.Source
				}
				if cmdErr != nil {
					details["error"] = cmdErr.Error()
				}
				auditEvent(auditRepo, log, &audit.AuditLog{
					Action:     audit.ActionCommand,
					EntityType: audit.EntityRegister,
					EntityID:   uniqueID,
					Source:     "mqtt",
					Details:    details,
				})
			}
		}
		mqttBridge, err = bridge.New(bridgeOpts)
		if err != nil {
			return fmt.Errorf("creating MQTT bridge: %w", err)
		}
	}

	// Start polling. Per-device load failures are joined into the
	// returned error while healthy devices run, so a partial fleet
	// keeps going and the operator fixes the rest through the API.
	if startErr := engine.Start(); startErr != nil {
		log.Warn("some devices failed to load", "error", startErr)
	}
	defer func() {
		log.Info("stopping engine")
		engine.Stop()
	}()
	log.Info("engine started", "devices", len(devices))

	auditEvent(auditRepo, log, &audit.AuditLog{
		Action:     audit.ActionStart,
		EntityType: audit.EntityEngine,
		Source:     "engine",
		Details:    map[string]any{"version": version, "devices": len(devices)},
	})

	if mqttBridge != nil {
		if err := mqttBridge.Start(); err != nil {
			return fmt.Errorf("starting MQTT bridge: %w", err)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			mqttBridge.Stop()
		}()
		log.Info("MQTT bridge started")
	}

	// Start the API server
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// Export performance gauges while the engine runs
	if tsdbClient != nil {
		startMetricsReporter(ctx, engine, tsdbClient)
	}

	// Verify all infrastructure connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient, tsdbClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	auditEvent(auditRepo, log, &audit.AuditLog{
		Action:     audit.ActionStop,
		EntityType: audit.EntityEngine,
		Source:     "engine",
	})

	// Deferred Close() calls run in reverse order:
	// 1. API server (stops accepting requests)
	// 2. MQTT bridge (stops command intake)
	// 3. Engine (stops device polling tasks)
	// 4. Metrics store, InfluxDB, MQTT, database

	log.Info("Gray Modbus Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYMODBUS_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYMODBUS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// Disabled subsystems pass nil and are skipped.
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, tsdbClient *tsdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
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

	if tsdbClient != nil {
		if err := tsdbClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("metrics store: %w", err)
		}
	}

	return nil
}

// recordHistory mirrors a cache update into InfluxDB, typed by the
// value's payload. Unavailable readings carry no fresh value and are
// skipped.
func recordHistory(client *influxdb.Client, ev poller.EntityValue) {
	if client == nil || !ev.Available {
		return
	}
	switch v := ev.Value.Payload().(type) {
	case float64:
		client.WriteRegisterValue(ev.Device, ev.UniqueID, v, ev.Updated)
	case string:
		client.WriteRegisterText(ev.Device, ev.UniqueID, v, ev.Updated)
	case bool:
		client.WriteRegisterState(ev.Device, ev.UniqueID, v, ev.Updated)
	}
}

// auditEvent records an audit trail entry. Best effort: a failed write
// is logged, never fatal. No-op when the repository is nil.
func auditEvent(repo audit.Repository, log *logging.Logger, entry *audit.AuditLog) {
	if repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := repo.Create(ctx, entry); err != nil {
		log.Warn("audit write failed", "action", entry.Action, "error", err)
	}
}

// startMetricsReporter launches a goroutine exporting per-device
// performance and connectivity gauges until ctx is cancelled. The
// metric names match what the API's performance history endpoints
// query for.
func startMetricsReporter(ctx context.Context, engine *poller.Coordinator, client *tsdb.Client) {
	go func() {
		ticker := time.NewTicker(metricsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reportMetrics(engine, client)
			}
		}
	}()
}

func reportMetrics(engine *poller.Coordinator, client *tsdb.Client) {
	for _, dev := range engine.Devices() {
		client.WriteDeviceOnline(dev.Name, dev.Connected)

		summary, err := engine.Performance(dev.Name)
		if err != nil || summary.TotalOperations == 0 {
			continue
		}
		client.WriteEngineMetric(dev.Name, "success_rate", summary.SuccessRate)
		client.WriteEngineMetric(dev.Name, "avg_duration_ms", summary.AverageDuration.Seconds()*1000)
		client.WriteEngineMetric(dev.Name, "throughput_wps", summary.AverageThroughput)
		client.WriteEngineMetric(dev.Name, "efficiency", summary.Efficiency)
	}
}

// deviceAssembler turns configured devices into poller configs by
// instantiating their templates. It also serves as the engine's reload
// source: DeviceSpecs re-reads the template directory so a reload picks
// up edited register definitions without a restart.
type deviceAssembler struct {
	loader *template.Loader
	cfg    *config.Config
}

// pollerConfigs builds the full device list for engine construction.
// A device whose template cannot be resolved fails the whole startup;
// broken configuration should be fixed, not silently skipped.
func (a *deviceAssembler) pollerConfigs() ([]poller.DeviceConfig, error) {
	out := make([]poller.DeviceConfig, 0, len(a.cfg.Devices))
	for i := range a.cfg.Devices {
		dev := &a.cfg.Devices[i]
		specs, dctx, err := a.assemble(dev)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", dev.Name, err)
		}
		out = append(out, a.pollerConfig(dev, specs, dctx))
	}
	return out, nil
}

// DeviceSpecs resupplies one device's register set from freshly loaded
// templates. Called by the engine on reload.
func (a *deviceAssembler) DeviceSpecs(device string) ([]*template.RegisterSpec, *template.DeviceContext, error) {
	if err := a.loader.Reload(); err != nil {
		return nil, nil, fmt.Errorf("reloading templates: %w", err)
	}
	for i := range a.cfg.Devices {
		dev := &a.cfg.Devices[i]
		if dev.Name == device {
			return a.assemble(dev)
		}
	}
	return nil, nil, fmt.Errorf("device %s is not configured", device)
}

// assemble instantiates a device's template: prefix substitution,
// dynamic value resolution, and the per-device scan interval override.
func (a *deviceAssembler) assemble(dev *config.DeviceConfig) ([]*template.RegisterSpec, *template.DeviceContext, error) {
	tpl, err := a.loader.Get(dev.Template)
	if err != nil {
		return nil, nil, err
	}

	prefix := dev.Prefix
	if prefix == "" {
		prefix = tpl.DefaultPrefix
	}

	values, err := tpl.ResolveDynamic(dev.SelectedModel, dev.Dynamic)
	if err != nil {
		return nil, nil, err
	}

	specs := tpl.Instantiate(prefix)

	// A device-level scan interval overrides every register's own.
	if dev.ScanInterval > 0 {
		interval := time.Duration(dev.ScanInterval) * time.Second
		for _, spec := range specs {
			spec.ScanInterval = interval
		}
	}

	dctx := &template.DeviceContext{
		Device:        dev.Name,
		Prefix:        prefix,
		SelectedModel: dev.SelectedModel,
		SlaveID:       uint8(dev.SlaveID),
		Values:        values,
	}
	return specs, dctx, nil
}

// pollerConfig maps one configured device onto the engine's config
// type, applying engine-wide defaults where the device has no override.
func (a *deviceAssembler) pollerConfig(dev *config.DeviceConfig, specs []*template.RegisterSpec, dctx *template.DeviceContext) poller.DeviceConfig {
	eng := a.cfg.Engine

	maxBatch := eng.MaxBatchWords
	if dev.MaxBatchWords > 0 {
		maxBatch = dev.MaxBatchWords
	}
	gap := eng.GapMergeThreshold
	if dev.GapMergeThreshold != nil {
		gap = *dev.GapMergeThreshold
	}

	return poller.DeviceConfig{
		Name: dev.Name,
		Transport: transport.Config{
			Mode:           dev.Connection.Mode,
			Host:           dev.Connection.Host,
			Port:           dev.Connection.Port,
			SerialDevice:   dev.Connection.SerialDevice,
			BaudRate:       dev.Connection.BaudRate,
			DataBits:       dev.Connection.DataBits,
			Parity:         dev.Connection.Parity,
			StopBits:       dev.Connection.StopBits,
			ConnectTimeout: eng.GetConnectTimeout(),
			RequestTimeout: eng.GetRequestTimeout(),
		},
		SlaveID:           uint8(dev.SlaveID),
		Specs:             specs,
		Context:           dctx,
		PollInterval:      eng.GetDefaultScanInterval(),
		ConnectTimeout:    eng.GetConnectTimeout(),
		ReconnectInterval: eng.GetReconnectInterval(),
		InterRequestDelay: eng.GetInterRequestDelay(),
		MaxBatchWords:     maxBatch,
		GapMergeThreshold: &gap,
	}
}
