package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ampmatter/ampmatter-core/internal/feeds"
	"github.com/ampmatter/ampmatter-core/internal/infrastructure/config"
	"github.com/ampmatter/ampmatter-core/internal/infrastructure/logging"
	"github.com/ampmatter/ampmatter-core/internal/journal"
	"github.com/ampmatter/ampmatter-core/internal/signalk"
	"github.com/ampmatter/ampmatter-core/internal/supervisor"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// SensorSource provides the latest tank, temperature and digital input readings.
type SensorSource interface {
	Snapshot() feeds.SensorSnapshot
}

// WeatherSource provides the latest weather readings.
type WeatherSource interface {
	Snapshot() feeds.WeatherSnapshot
}

// NavigationSource provides the latest network GPS readings.
type NavigationSource interface {
	Snapshot() feeds.GPSSnapshot
}

// RelayController switches relay channels.
type RelayController interface {
	List() []feeds.Relay
	Set(ctx context.Context, id string, on bool) (feeds.Relay, error)
	Toggle(ctx context.Context, id string) (feeds.Relay, error)
}

// ModeController changes the inverter/charger mode.
type ModeController interface {
	State() feeds.VictronState
	SetMode(ctx context.Context, mode feeds.Mode) error
}

// SignalKSource exposes what the SignalK stream has seen so far.
type SignalKSource interface {
	SelfID() string
	Navigation() signalk.NavigationData
}

// EventLister reads the connection journal.
type EventLister interface {
	List(ctx context.Context, name string, limit int) ([]journal.Entry, error)
}

// Deps holds the dependencies required by the API server.
//
// Feature sources are optional; a nil source means the feature is disabled
// and its endpoints answer 404.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	Supervisor *supervisor.Supervisor

	Sensors    SensorSource
	Weather    WeatherSource
	Navigation NavigationSource
	Relays     RelayController
	Victron    ModeController
	SignalK    SignalKSource
	Journal    EventLister

	// Metrics is served on /metrics when set.
	Metrics http.Handler

	// TestSignalK probes a SignalK URL. Defaults to signalk.TestConnection.
	TestSignalK func(ctx context.Context, url string) signalk.TestResult

	ExternalHub *Hub // If set, the server uses this hub instead of creating its own
	Version     string
}

// Server is the dashboard's HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	logger     *logging.Logger
	supervisor *supervisor.Supervisor

	sensors    SensorSource
	weather    WeatherSource
	navigation NavigationSource
	relays     RelayController
	victron    ModeController
	signalk    SignalKSource
	journal    EventLister
	metrics    http.Handler
	testSK     func(ctx context.Context, url string) signalk.TestResult

	version     string
	server      *http.Server
	listener    net.Listener
	hub         *Hub
	externalHub bool
	errs        chan error
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Supervisor == nil {
		return nil, fmt.Errorf("supervisor is required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		supervisor: deps.Supervisor,
		sensors:    deps.Sensors,
		weather:    deps.Weather,
		navigation: deps.Navigation,
		relays:     deps.Relays,
		victron:    deps.Victron,
		signalk:    deps.SignalK,
		journal:    deps.Journal,
		metrics:    deps.Metrics,
		testSK:     deps.TestSignalK,
		version:    deps.Version,
		errs:       make(chan error, 1),
	}
	if s.testSK == nil {
		s.testSK = signalk.TestConnection
	}

	// The hub is usually created up front so feeds and the supervisor can
	// broadcast through it before the listener exists.
	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	}

	return s, nil
}

// Start binds the listener and serves in a background goroutine.
//
// A bind failure (port in use, etc.) is returned directly; later serve
// errors are logged and delivered on Err().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("binding API listener: %w", err)
	}
	s.listener = ln

	s.logger.Info("API server listening", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
			s.errs <- err
		}
	}()

	return nil
}

// Err delivers a serve failure after Start.
func (s *Server) Err() <-chan error {
	return s.errs
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
