// Relay Board Core - control plane for a networked relay board
//
// This is the main entry point. The service keeps the relay table, serves
// the web UI and its long-poll API, pushes state to the board over HTTP and
// matches newly visible panels to relays that were just switched on.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/relayboard-core/internal/api"
	"github.com/nerrad567/relayboard-core/internal/board"
	"github.com/nerrad567/relayboard-core/internal/discovery"
	"github.com/nerrad567/relayboard-core/internal/engine"
	"github.com/nerrad567/relayboard-core/internal/events"
	"github.com/nerrad567/relayboard-core/internal/infrastructure/config"
	"github.com/nerrad567/relayboard-core/internal/infrastructure/database"
	"github.com/nerrad567/relayboard-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/relayboard-core/internal/infrastructure/logging"
	"github.com/nerrad567/relayboard-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/relayboard-core/internal/relay"
	"github.com/nerrad567/relayboard-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// Default configuration file path
	defaultConfigPath = "configs/config.yaml"

	// shutdownTimeout bounds the wait for background engine work.
	shutdownTimeout = 15 * time.Second

	// pruneInterval is how often old history rows are removed.
	pruneInterval = 24 * time.Hour
)

func main() {
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
	log := logging.Default()
	log.Info("starting relay board core",
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
	defer log.Close() //nolint:errcheck // Nothing left to report to
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	store := relay.NewFileStore(cfg.Relays.StateFile, cfg.Relays.DefaultCount)
	table, err := store.Load()
	if err != nil {
		return fmt.Errorf("loading relay table: %w", err)
	}
	log.Info("relay table loaded", "path", store.Path(), "relays", len(table.Relays))

	var (
		sinks   []engine.Sink
		history *relay.SQLiteHistoryRepository
		db      *database.DB
	)

	if cfg.Database.Enabled {
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
		history = relay.NewSQLiteHistoryRepository(db.DB)
		sinks = append(sinks, engine.NewHistorySink(history))
		log.Info("state history enabled", "path", db.Path())
	}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log)
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		sinks = append(sinks, engine.NewMQTTSink(mqttClient))
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", mqttClient.ClientID(),
		)
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			influxClient.Flush()
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		sinks = append(sinks, engine.NewInfluxSink(influxClient))
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	transport, err := newTransport(cfg.Board)
	if err != nil {
		return err
	}
	transport.SetLogger(log)
	defer func() {
		if closeErr := transport.Close(); closeErr != nil {
			log.Error("error closing panel scan socket", "error", closeErr)
		}
	}()

	bus := events.NewBus(events.DefaultBacklog)
	defer bus.Close()

	eng, err := engine.New(engine.Deps{
		Config: engine.Config{
			Debounce:       cfg.Relays.Debounce,
			ReconcileDelay: cfg.Board.ReconcileDelay,
			SyncPersist:    cfg.Relays.SyncPersist,
			DeviceTag:      cfg.Board.DeviceTag,
		},
		Table:    table,
		Store:    store,
		Bus:      bus,
		Registry: engine.BoardRegistry(board.NewRegistry(transport)),
		Sinks:    sinks,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	eng.SetLogger(log)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := eng.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error("engine shutdown incomplete", "error", shutdownErr)
		}
	}()

	if mqttClient != nil {
		if subErr := eng.SubscribeCommands(mqttClient, byte(cfg.MQTT.QoS)); subErr != nil { //nolint:gosec // QoS validated by config
			return fmt.Errorf("subscribing to relay commands: %w", subErr)
		}
	}

	if err := attachBoard(ctx, cfg.Board, transport, eng, log); err != nil {
		return err
	}

	apiDeps := api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log,
		Engine:  eng,
		Bus:     bus,
		Version: version,
	}
	// Optional interfaces stay nil rather than holding typed nils.
	if history != nil {
		apiDeps.History = history
	}
	if db != nil {
		apiDeps.DB = db
	}
	if mqttClient != nil {
		apiDeps.MQTT = mqttClient
	}
	if influxClient != nil {
		apiDeps.Influx = influxClient
	}

	srv, err := api.New(apiDeps)
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

	if err := healthCheck(ctx, srv, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all components healthy")

	if cfg.MDNS.Enabled {
		advertiser := discovery.NewAdvertiser(cfg.MDNS)
		if err := advertiser.Start(discovery.Info{
			Port:      cfg.API.Port,
			Version:   version,
			DeviceTag: cfg.Board.DeviceTag,
		}); err != nil {
			log.Warn("mDNS advertisement failed", "error", err)
		} else {
			defer advertiser.Stop()
			log.Info("advertising API over mDNS", "service", discovery.ServiceType, "instance", discovery.InstanceName(cfg.MDNS.Instance))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Board.Address == "" && cfg.Board.Discovery.Enabled && cfg.Board.Discovery.Retry {
		g.Go(func() error {
			return discoverBoard(gctx, transport, board.Backoff{
				Initial: cfg.Board.Discovery.InitialBackoff,
				Max:     cfg.Board.Discovery.MaxBackoff,
			}, eng, log)
		})
	}
	if history != nil && cfg.Database.HistoryRetentionDays > 0 {
		retention := time.Duration(cfg.Database.HistoryRetentionDays) * 24 * time.Hour
		g.Go(func() error {
			pruneHistory(gctx, history, retention, log)
			return nil
		})
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-gctx.Done()

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API server, engine, bus, the
	// panel socket, then InfluxDB (flushed first), MQTT and the database.
	return nil
}

// healthCheck verifies the API server and every enabled infrastructure
// connection. Disabled components are nil and skipped.
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, srv *api.Server, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := srv.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}
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
	return nil
}

// getConfigPath returns the configuration file path.
// Uses RELAYBOARD_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("RELAYBOARD_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openDatabase opens the history database and applies migrations.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
		Migrations:  migrations.FS,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // Migration error is returned instead
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// newTransport converts the board configuration into a board.Transport.
func newTransport(cfg config.BoardConfig) (*board.Transport, error) {
	prefix, err := cfg.Prefix()
	if err != nil {
		return nil, fmt.Errorf("board subnet: %w", err)
	}
	return board.NewTransport(board.Config{
		Subnet:       prefix,
		HTTPPort:     cfg.HTTPPort,
		ProbePath:    cfg.ProbePath,
		ProbeTimeout: cfg.ProbeTimeout,
		PushTimeout:  cfg.PushTimeout,
		Panels: board.PanelConfig{
			BroadcastPort: cfg.Panels.BroadcastPort,
			LocalPort:     cfg.Panels.LocalPort,
			Message:       cfg.Panels.Message,
			ListenWindow:  cfg.Panels.ListenWindow,
			ReadSlice:     cfg.Panels.ReadSlice,
		},
	}), nil
}

// attachBoard registers the board at startup.
//
// A pinned address is adopted directly. With discovery enabled and retry
// off, the subnet is swept once and an empty sweep is fatal. With retry on,
// discovery is left to discoverBoard.
func attachBoard(ctx context.Context, cfg config.BoardConfig, transport *board.Transport, eng *engine.Engine, log *logging.Logger) error {
	switch {
	case cfg.Address != "":
		addr, err := netip.ParseAddr(cfg.Address)
		if err != nil {
			return fmt.Errorf("board address: %w", err)
		}
		return eng.Adopt(addr)
	case !cfg.Discovery.Enabled:
		log.Info("board discovery disabled, waiting for registration", "path", "/register")
		return nil
	case cfg.Discovery.Retry:
		return nil
	}

	addr, err := transport.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discovering relay board: %w", err)
	}
	return eng.Adopt(addr)
}

// discoverBoard sweeps the subnet with backoff until a board answers or ctx
// ends. A board that registered itself meanwhile wins.
func discoverBoard(ctx context.Context, transport *board.Transport, backoff board.Backoff, eng *engine.Engine, log *logging.Logger) error {
	addr, err := transport.DiscoverWithRetry(ctx, backoff)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("discovering relay board: %w", err)
	}

	if err := eng.Adopt(addr); err != nil {
		if errors.Is(err, board.ErrAlreadyRegistered) {
			log.Info("board registered itself before discovery finished", "discovered", addr.String())
			return nil
		}
		return fmt.Errorf("adopting relay board: %w", err)
	}
	return nil
}

// pruneHistory drops history older than retention now and every pruneInterval.
func pruneHistory(ctx context.Context, repo *relay.SQLiteHistoryRepository, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		removed, err := repo.Prune(ctx, retention)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Warn("pruning relay history failed", "error", err)
		case removed > 0:
			log.Info("pruned relay history", "removed", removed)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
