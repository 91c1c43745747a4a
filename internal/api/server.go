// Package api provides the HTTP REST API and WebSocket server for Gray Modbus Core.
//
// It exposes the engine's cached register values, read plans, performance
// counters, and failure records to dashboards and automation frontends
// (Node-RED flows, Grafana, web admin), and accepts register write commands.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-modbus-core/internal/audit"
	"github.com/nerrad567/gray-modbus-core/internal/infrastructure/config"
	"github.com/nerrad567/gray-modbus-core/internal/infrastructure/database"
	"github.com/nerrad567/gray-modbus-core/internal/infrastructure/logging"
	"github.com/nerrad567/gray-modbus-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-modbus-core/internal/infrastructure/tsdb"
	"github.com/nerrad567/gray-modbus-core/internal/poller"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// availabilityPollInterval is how often the server samples device connection
// state for WebSocket availability broadcasts.
const availabilityPollInterval = 5 * time.Second

// Engine is the view of the polling coordinator the API server depends on.
// *poller.Coordinator satisfies it; tests substitute a fake.
type Engine interface {
	Devices() []poller.DeviceStatus
	Values(device string) ([]poller.EntityValue, error)
	GetValue(uniqueID string) (poller.EntityValue, error)
	Command(ctx context.Context, uniqueID string, target any) error
	GroupPlan(device string) (poller.PlanView, error)
	Reload(device string) error
	RemoveRegisters(device, selector string) (int, error)
	Performance(device string) (poller.Summary, error)
	ResetPerformance(device string) error
	Errors() []poller.ErrorRecord
}

var _ Engine = (*poller.Coordinator)(nil)

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Logger      *logging.Logger
	Engine      Engine
	AuditRepo   audit.Repository // optional: audit trail disabled when nil
	DB          *database.DB     // optional: connection pool stats for /metrics
	TSDB        *tsdb.Client     // optional: performance history queries
	MQTT        *mqtt.Client     // optional: broker state for /metrics
	ExternalHub *Hub             // If set, the server uses this hub instead of creating its own
	Version     string
}

// Server is the HTTP API server for Gray Modbus Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	engine      Engine
	auditRepo   audit.Repository
	db          *database.DB
	tsdb        *tsdb.Client
	mqtt        *mqtt.Client
	version     string
	startTime   time.Time
	server      *http.Server
	hub         *Hub
	externalHub bool                // true if hub was injected externally
	auditCh     chan *audit.AuditLog
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, engine)
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
	// AuditRepo, DB, TSDB, and MQTT are optional — the endpoints that
	// need them degrade individually when absent.

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		engine:    deps.Engine,
		auditRepo: deps.AuditRepo,
		db:        deps.DB,
		tsdb:      deps.TSDB,
		mqtt:      deps.MQTT,
		version:   deps.Version,
		startTime: time.Now(),
	}

	if deps.AuditRepo != nil {
		s.auditCh = make(chan *audit.AuditLog, auditChanSize)
	}

	// Use externally-provided hub if available (needed when another
	// component also feeds the hub directly).
	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub and availability watcher,
// and launches the HTTP listener in a background goroutine. The server can
// be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	// Create WebSocket hub (unless one was injected externally)
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}

	// Serial audit writer, when an audit repository is configured
	if s.auditRepo != nil && s.auditCh != nil {
		go s.drainAuditLog(srvCtx)
	}

	// Watch device connection state for WebSocket availability broadcasts
	go s.watchAvailability(srvCtx)

	// Build router
	router := s.buildRouter()

	// Create HTTP server
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	// Start listening in background
	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
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

	// Cancel background goroutines (hub, availability watcher, audit writer)
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

	return nil
}

// findDevice looks up one device's status by name.
func (s *Server) findDevice(name string) (poller.DeviceStatus, bool) {
	for _, st := range s.engine.Devices() {
		if st.Name == name {
			return st, true
		}
	}
	return poller.DeviceStatus{}, false
}
