package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ohmage/streamwriter/internal/delivery"
	"github.com/ohmage/streamwriter/internal/infrastructure/config"
	"github.com/ohmage/streamwriter/internal/infrastructure/database"
	"github.com/ohmage/streamwriter/internal/infrastructure/logging"
	"github.com/ohmage/streamwriter/internal/store"
	"github.com/ohmage/streamwriter/internal/writer"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by every component the health endpoint
// reports on (store, transports).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Metrics   config.MetricsConfig
	Logger    *logging.Logger
	Submitter delivery.Submitter
	Writer    *writer.Writer // optional: only in connection mode
	Store     *store.Store   // optional: enables /streams queries
	DB        *database.DB   // optional: pool stats in /metrics
	Gatherer  prometheus.Gatherer
	Checks    map[string]HealthChecker
	Hub       *Hub // If set, the server uses this hub instead of creating its own
	Version   string
}

// Server is the HTTP API server for point ingest.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	metricCfg config.MetricsConfig
	logger    *logging.Logger
	submitter delivery.Submitter
	writer    *writer.Writer
	store     *store.Store
	db        *database.DB
	gatherer  prometheus.Gatherer
	checks    map[string]HealthChecker
	version   string
	startTime time.Time

	server      *http.Server
	listener    net.Listener
	hub         *Hub
	externalHub bool
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If the logger or submitter is missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Submitter == nil {
		return nil, fmt.Errorf("submitter is required")
	}

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	wsCfg := deps.WS
	if wsCfg.Path == "" {
		wsCfg.Path = "/api/v1/ws"
	}
	metricCfg := deps.Metrics
	if metricCfg.Path == "" {
		metricCfg.Path = "/metrics"
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     wsCfg,
		metricCfg: metricCfg,
		logger:    deps.Logger,
		submitter: deps.Submitter,
		writer:    deps.Writer,
		store:     deps.Store,
		db:        deps.DB,
		gatherer:  gatherer,
		checks:    deps.Checks,
		version:   deps.Version,
		startTime: time.Now(),
	}
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(wsCfg, deps.Logger)
	}
	return s, nil
}

// Hub returns the WebSocket hub, for wiring writer state broadcasts.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// The listener is opened synchronously so a port conflict is reported
// here; requests are then served on a background goroutine.
//
// Returns:
//   - error: If the listener cannot be opened
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
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
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
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

// HealthCheck verifies the API server is running and responsive.
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
