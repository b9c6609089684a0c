// HomeControl Core - Device Session & State Synchronization Engine
//
// This is the main entry point for the HomeControl Core application.
// HomeControl keeps a fleet of relay controllers (ESP32/ESP8266/RPi) and
// their dashboards synchronized through per-device WebSocket sessions:
//   - Dual-scheme connection auth (device shared secret or user JWT)
//   - Atomic per-channel state merges with full-document broadcast
//   - Heartbeat liveness tracking with a stale-device sweeper
//   - Daily time-of-day schedules executed with system authority
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	_ "github.com/homecontrol/homecontrol-core/migrations"

	"github.com/homecontrol/homecontrol-core/internal/api"
	"github.com/homecontrol/homecontrol-core/internal/auth"
	"github.com/homecontrol/homecontrol-core/internal/device"
	"github.com/homecontrol/homecontrol-core/internal/infrastructure/config"
	"github.com/homecontrol/homecontrol-core/internal/infrastructure/database"
	"github.com/homecontrol/homecontrol-core/internal/infrastructure/influxdb"
	"github.com/homecontrol/homecontrol-core/internal/infrastructure/logging"
	"github.com/homecontrol/homecontrol-core/internal/infrastructure/mqtt"
	"github.com/homecontrol/homecontrol-core/internal/liveness"
	"github.com/homecontrol/homecontrol-core/internal/notify"
	"github.com/homecontrol/homecontrol-core/internal/relay"
	"github.com/homecontrol/homecontrol-core/internal/schedule"
	"github.com/homecontrol/homecontrol-core/internal/session"
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
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	// Secrets may live in a .env file during development; a missing file is
	// not an error.
	_ = godotenv.Load()

	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting HomeControl Core",
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

	// Open database and run migrations
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

	// Repositories and the device store
	deviceStore := device.NewStore(device.NewSQLiteRepository(db.DB), log)
	userRepo := auth.NewSQLiteUserRepository(db.DB)
	scheduleRepo := schedule.NewSQLiteRepository(db.DB)

	// Notification pipeline: MQTT sink when a broker is configured,
	// otherwise events are discarded.
	var sink notify.Sink = notify.Noop{}
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Host, cfg.MQTT.Port),
			"client_id", cfg.MQTT.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		sink = notify.NewMQTTSink(mqttClient, byte(cfg.MQTT.QoS))
	} else {
		log.Info("MQTT notifications disabled")
	}

	events := notify.NewQueue(sink, 0, log)
	events.Start(ctx)
	defer events.Wait()

	// Telemetry store (optional)
	var telemetry relay.TelemetryWriter
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
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

		telemetry = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	// Session registry with presence notifications
	sessions := session.NewRegistry(log)
	sessions.SetPresenceListener(&presenceNotifier{events: events})

	// State synchronization pipeline
	relayService := relay.NewService(deviceStore, sessions, events, telemetry, log)
	frameRouter := relay.NewRouter(relayService, deviceStore, sessions, log)

	// Connection validator: device shared secrets resolve through the store,
	// everything else is a user JWT.
	validator := auth.NewConnectionValidator(
		&apiKeyResolver{store: deviceStore},
		cfg.Security.JWT.Secret,
	)

	// Liveness sweeper demotes devices whose heartbeats have gone quiet
	monitor := liveness.NewMonitor(
		deviceStore,
		events,
		cfg.Liveness.Interval(),
		cfg.Liveness.Threshold(),
		log,
	)
	go monitor.Run(ctx)

	// Time-of-day scheduler (optional)
	if cfg.Scheduler.Enabled {
		scheduler := schedule.NewScheduler(scheduleRepo, relayService, log)
		go scheduler.Run(ctx)
	} else {
		log.Info("scheduler disabled")
	}

	// HTTP API and WebSocket endpoint
	server, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Security:  cfg.Security,
		Logger:    log,
		Store:     deviceStore,
		Users:     userRepo,
		Validator: validator,
		Sessions:  sessions,
		Relay:     relayService,
		Frames:    frameRouter,
		Schedules: scheduleRepo,
		Version:   version,
	})
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

	if err := healthCheck(ctx, db, server); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server (drains in-flight requests)
	// 2. InfluxDB (if enabled)
	// 3. Notification queue
	// 4. MQTT (if enabled)
	// 5. Database

	log.Info("HomeControl Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HOMECONTROL_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HOMECONTROL_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, server *api.Server) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := server.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// apiKeyResolver adapts the device store to the connection validator's
// shared-secret lookup.
type apiKeyResolver struct {
	store *device.Store
}

// ResolveAPIKey implements auth.DeviceKeyResolver.
func (r *apiKeyResolver) ResolveAPIKey(ctx context.Context, apiKey string) (string, error) {
	d, err := r.store.GetByAPIKey(ctx, apiKey)
	if err != nil {
		return "", err
	}
	return d.ID, nil
}

// presenceNotifier publishes presence events on session set transitions.
//
// Online events fire only for device-principal connections; dashboards
// watching an absent device never assert presence. The offline event on
// last disconnect is advisory ("likely offline") - authoritative demotion
// stays with the liveness sweeper.
type presenceNotifier struct {
	events *notify.Queue
}

// DeviceConnected implements session.PresenceListener.
func (n *presenceNotifier) DeviceConnected(deviceID string, first auth.Principal) {
	if !first.IsDevice() {
		return
	}
	n.events.Publish(notify.DeviceOnline(deviceID))
}

// DeviceDisconnected implements session.PresenceListener.
func (n *presenceNotifier) DeviceDisconnected(deviceID string) {
	n.events.Publish(notify.DeviceOffline(deviceID))
}
