package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/relayboard-core/internal/engine"
	"github.com/nerrad567/relayboard-core/internal/events"
	"github.com/nerrad567/relayboard-core/internal/infrastructure/config"
	"github.com/nerrad567/relayboard-core/internal/infrastructure/logging"
	"github.com/nerrad567/relayboard-core/internal/relay"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// componentCheckTimeout bounds each dependency check behind /api/v1/health.
const componentCheckTimeout = 2 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Engine  *engine.Engine
	Bus     *events.Bus
	History relay.HistoryRepository // optional; history endpoints answer 404 without it
	MQTT    MQTTStatus              // optional; reported by /api/v1/health and /api/v1/metrics
	DB      DBStats                 // optional; reported by /api/v1/health and /api/v1/metrics
	Influx  InfluxStatus            // optional; reported by /api/v1/health and /api/v1/metrics
	Version string
}

// Server is the HTTP API server.
//
// It is created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	logger  *logging.Logger
	engine  *engine.Engine
	bus     *events.Bus
	history relay.HistoryRepository
	mqtt    MQTTStatus
	db      DBStats
	influx  InfluxStatus
	version string
	started time.Time

	server *http.Server
	hub    *Hub
	addr   net.Addr

	// ctx ends with Close; long-polls and background loops watch it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, engine, bus)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if deps.Bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		logger:  deps.Logger,
		engine:  deps.Engine,
		bus:     deps.Bus,
		history: deps.History,
		mqtt:    deps.MQTT,
		db:      deps.DB,
		influx:  deps.Influx,
		version: deps.Version,
		started: time.Now(),
		hub:     NewHub(deps.WS, deps.Logger),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start binds the listener and serves in the background.
//
// It also starts the loop forwarding bus events to WebSocket clients.
// Cancelling ctx has the same effect on background loops as Close, but
// the listener keeps running until Close is called.
//
// Returns:
//   - error: If the listener cannot be bound (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	stop := context.AfterFunc(ctx, s.cancel)

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		stop()
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.addr = ln.Addr()

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	if s.wsCfg.Enabled {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.forwardEvents(s.ctx)
		}()
	}

	go func() {
		s.logger.Info("API server listening", "address", s.addr.String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Close gracefully shuts down the API server.
//
// Waiting long-polls are released with 204 and WebSocket clients are
// disconnected. It waits up to 10 seconds for in-flight requests, then
// closes the remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	s.cancel()
	s.hub.closeAll()
	s.wg.Wait()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		s.server.Close() //nolint:errcheck // Shutdown error is returned instead
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	if s.ctx.Err() != nil {
		return fmt.Errorf("api server closed")
	}
	return nil
}
