// MQTT session bridge
//
// This is the main entry point for the MQTT bridge. The bridge connects
// in-process clients to MQTT brokers: every brokerConnect request on the
// event bus starts a session that owns one broker connection and relays
// subscribe, unsubscribe and publish traffic between the bus and the broker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/gray-logic-mqttbridge/migrations"

	"github.com/nerrad567/gray-logic-mqttbridge/internal/api"
	"github.com/nerrad567/gray-logic-mqttbridge/internal/brokerconfig"
	"github.com/nerrad567/gray-logic-mqttbridge/internal/bus"
	"github.com/nerrad567/gray-logic-mqttbridge/internal/dispatcher"
	"github.com/nerrad567/gray-logic-mqttbridge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mqttbridge/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-mqttbridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-mqttbridge/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-mqttbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-mqttbridge/internal/session"
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
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting MQTT bridge",
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

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Broker configuration source
	var db *database.DB
	if cfg.ConfigSource == config.SourceDatabase {
		db, err = openDatabase(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database connected", "path", cfg.Database.Path)
	}
	resolver, store := buildResolver(cfg, db, log)
	log.Info("broker configuration source ready",
		"source", cfg.ConfigSource,
		"identities", len(cfg.Identities),
		"default_broker", cfg.Broker.URL != "",
	)

	// Connect to InfluxDB (optional)
	var observer session.Observer
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
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
		observer = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	// Event bus and session dispatcher
	eventBus := bus.New()
	eventBus.SetLogger(log.Component("bus"))
	defer eventBus.Close()

	d, err := dispatcher.New(dispatcher.Options{
		Bus:              eventBus,
		Transport:        mqtt.NewTransport(log.Component("mqtt")),
		Resolver:         resolver,
		Logger:           log.Component("session"),
		Observer:         observer,
		ConnectRate:      cfg.Dispatcher.ConnectRate,
		ConnectBurst:     cfg.Dispatcher.ConnectBurst,
		ConnectTimeout:   cfg.Session.ConnectTimeout,
		OperationTimeout: cfg.Session.OperationTimeout,
	})
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}
	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("starting dispatcher: %w", err)
	}

	stopAutostart := autostart(eventBus, d, cfg.Sessions, log.Component("autostart"))

	// Admin API and websocket gateway (optional)
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = startAPI(ctx, cfg, log, eventBus, d, store)
		if err != nil {
			d.Stop()
			stopAutostart()
			return err
		}
	} else {
		log.Info("API server disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"autostart_sessions", len(cfg.Sessions))

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Gateway clients go first so the sessions they opened are asked to
	// disconnect before the dispatcher stops.
	if apiServer != nil {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}

	// Sessions end before the autostart responders go away so their
	// final deliveries are still answered.
	d.Stop()
	stopAutostart()

	log.Info("MQTT bridge stopped")
	return nil
}

// getConfigPath returns the config file path from MQTTBRIDGE_CONFIG or the default.
func getConfigPath() string {
	if path := os.Getenv("MQTTBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openDatabase opens SQLite and applies the embedded migrations.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// startAPI creates and starts the HTTP admin API. A nil store disables
// the broker-configs endpoints.
func startAPI(ctx context.Context, cfg *config.Config, log *logging.Logger, b *bus.Bus, d *dispatcher.Dispatcher, store *brokerconfig.Store) (*api.Server, error) {
	deps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log.Component("api"),
		Bus:      b,
		Sessions: d,
		Version:  version,
	}
	// Avoid a typed nil in the interface.
	if store != nil {
		deps.Store = store
	}

	srv, err := api.New(deps)
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting API server: %w", err)
	}
	log.Info("API server started",
		"host", cfg.API.Host,
		"port", cfg.API.Port,
		"broker_config_store", store != nil,
	)
	return srv, nil
}

// buildResolver returns the dispatcher's broker configuration resolver and,
// for the database source, the store behind it.
//
// The static source is the broker + identities table from the config file.
// The database source reads the broker_configs table, falls back to the
// broker section, and sits behind a circuit breaker.
func buildResolver(cfg *config.Config, db *database.DB, log *logging.Logger) (brokerconfig.Resolver, *brokerconfig.Store) {
	if cfg.ConfigSource != config.SourceDatabase || db == nil {
		return cfg.BrokerTable(), nil
	}

	store := brokerconfig.NewStore(db.DB)
	store.SetFallback(cfg.DefaultBroker())

	return brokerconfig.NewBreaker(store, brokerconfig.BreakerSettings{
		Name:             "broker-config-store",
		FailureThreshold: cfg.Dispatcher.Breaker.FailureThreshold,
		ResetTimeout:     cfg.Dispatcher.Breaker.ResetTimeout,
		OnStateChange: func(name, from, to string) {
			log.Warn("config source breaker state changed", "breaker", name, "from", from, "to", to)
		},
	}), store
}

// healthCheck verifies optional backing services. Nil clients are skipped.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
