// AmpMatter Core - marine dashboard backend
//
// This is the main entry point for ampmatter-core. It keeps the boat's data
// links alive:
//   - MQTT feeds from the Venus OS broker (sensors, relays, Victron, weather, GPS)
//   - The SignalK WebSocket stream
//
// Each link has its own connection manager with backoff, and every state
// change is visible over the HTTP API, the dashboard WebSocket and /metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ampmatter/ampmatter-core/internal/api"
	"github.com/ampmatter/ampmatter-core/internal/infrastructure/config"
	"github.com/ampmatter/ampmatter-core/internal/infrastructure/database"
	"github.com/ampmatter/ampmatter-core/internal/infrastructure/influxdb"
	"github.com/ampmatter/ampmatter-core/internal/infrastructure/logging"
	"github.com/ampmatter/ampmatter-core/internal/journal"
	"github.com/ampmatter/ampmatter-core/internal/supervisor"
	"github.com/ampmatter/ampmatter-core/internal/telemetry"
	"github.com/ampmatter/ampmatter-core/migrations"
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

// run is the application logic, separated from main for testability.
//
// Connection failures to the broker or SignalK never fail startup: the
// managers keep retrying in the background. Only local resources (config,
// database, listener) are fatal.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting ampmatter-core",
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

	// Connection journal (optional)
	var db *database.DB
	var jrn *journal.Journal
	if cfg.Database.Enabled {
		db, err = database.Open(cfg.Database)
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

		jrn = journal.New(db.DB, journal.WithLogger(log.Component("journal")))
	} else {
		log.Info("connection journal disabled")
	}

	// Time-series telemetry (optional)
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
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
	}

	metrics := telemetry.New(version)

	hub := api.NewHub(cfg.WebSocket, log)
	hub.OnClientCount(metrics.SetWebSocketClients)

	sup := supervisor.New(supervisor.WithLogger(log.Component("supervisor")))
	defer func() {
		log.Info("closing connections")
		sup.Close()
	}()
	sup.AddObserver(metrics.Observe)
	sup.AddObserver(hub.ObserveConnection)
	if influxClient != nil {
		sup.AddObserver(influxClient.Observe)
	}
	if jrn != nil {
		sup.AddObserver(jrn.Observe)
	}

	srvDeps := api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Logger:      log.Component("api"),
		Supervisor:  sup,
		Metrics:     metrics.Handler(),
		ExternalHub: hub,
		Version:     version,
	}
	if jrn != nil {
		srvDeps.Journal = jrn
	}

	if err := startFeeds(cfg, log, sup, hub, influxClient, &srvDeps); err != nil {
		return err
	}
	if err := startSignalK(cfg, log, sup, hub, &srvDeps); err != nil {
		return err
	}

	srv, err := api.New(srvDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, influxClient, srv); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	up, total := sup.Connected()
	log.Info("initialisation complete, waiting for shutdown signal",
		"connections", total,
		"connected", up,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	if jrn != nil && cfg.Database.RetentionDays > 0 {
		g.Go(func() error {
			pruneJournal(gctx, jrn, cfg.Database.RetentionDays, log)
			return nil
		})
	}
	g.Go(func() error {
		select {
		case serveErr := <-srv.Err():
			return fmt.Errorf("API server: %w", serveErr)
		case <-gctx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("shutdown signal received, cleaning up")
	log.Info("ampmatter-core stopped")
	return nil
}

// getConfigPath returns the config file path, honouring AMPMATTER_CONFIG.
func getConfigPath() string {
	if path := os.Getenv("AMPMATTER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the local resources are usable before the service
// reports ready. Remote links are not checked here; they reconnect on
// their own.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client, srv *api.Server) error {
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

	if srv != nil {
		if err := srv.HealthCheck(ctx); err != nil {
			return fmt.Errorf("api: %w", err)
		}
	}

	return nil
}
