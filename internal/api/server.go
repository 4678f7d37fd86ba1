package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/nasa-bridge/internal/audit"
	"github.com/nerrad567/nasa-bridge/internal/bridges/ehs"
	"github.com/nerrad567/nasa-bridge/internal/device"
	"github.com/nerrad567/nasa-bridge/internal/gateway"
	"github.com/nerrad567/nasa-bridge/internal/infrastructure/config"
	"github.com/nerrad567/nasa-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/nasa-bridge/internal/infrastructure/metrics"
	"github.com/nerrad567/nasa-bridge/internal/nasa"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Engine is the part of *nasa.Client the API serves.
type Engine interface {
	ReadID(ctx context.Context, device nasa.Address, id nasa.AttributeID) (nasa.AttributeState, error)
	WriteID(ctx context.Context, device nasa.Address, id nasa.AttributeID, v nasa.Value) (nasa.Result, error)
	Get(device nasa.Address, id nasa.AttributeID) (nasa.AttributeState, bool)
	Catalog() *nasa.Catalog
	Snapshot() []nasa.AttributeState

	DeviceList() []nasa.Device
	Diagnostics(device nasa.Address) (nasa.DeviceDiagnostics, bool)
	Online() bool
	Stats() nasa.ClientStats
	PollNow(ctx context.Context) bool

	OnChange(fn nasa.ChangeCallback) (unsubscribe func())
	OnHVACAction(fn func(nasa.DerivedChange))
	OnDeviceReachability(fn func(nasa.Device))
	OnAvailability(fn func(online bool))
}

// CommandExecutor runs high-level commands. It is satisfied by *ehs.Bridge.
type CommandExecutor interface {
	Execute(ctx context.Context, address string, cmd ehs.CommandMessage) ehs.AckMessage
}

// AuditTrail records writes and lists the audit log. It is satisfied by
// *audit.Trail.
type AuditTrail interface {
	RecordWrite(ctx context.Context, source string, device nasa.Address, id nasa.AttributeID, v nasa.Value, err error)
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// GatewayStatus reports the supervised serial-to-TCP daemon. It is
// satisfied by *gateway.Supervisor.
type GatewayStatus interface {
	Stats() gateway.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	MetricsPath string
	Logger      *logging.Logger
	Engine      Engine

	// Optional. Without them the matching endpoints answer 503.
	Commands CommandExecutor
	Devices  device.Repository
	History  device.HistoryRepository
	Audit    AuditTrail
	Gateway  GatewayStatus
	Metrics  *metrics.Metrics

	Version string
}

// Server is the HTTP API server for the NASA bridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	metricsPath string
	logger      *logging.Logger
	engine      Engine
	commands    CommandExecutor
	devices     device.Repository
	history     device.HistoryRepository
	audit       AuditTrail
	gateway     GatewayStatus
	metrics     *metrics.Metrics
	version     string
	startTime   time.Time

	server *http.Server
	addr   string
	hub    *Hub
	cancel context.CancelFunc // cancels background goroutines on Close()

	hooksOnce sync.Once
	unsub     func()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}

	return &Server{
		cfg:         deps.Config,
		metricsPath: deps.MetricsPath,
		logger:      deps.Logger,
		engine:      deps.Engine,
		commands:    deps.Commands,
		devices:     deps.Devices,
		history:     deps.History,
		audit:       deps.Audit,
		gateway:     deps.Gateway,
		metrics:     deps.Metrics,
		version:     deps.Version,
		startTime:   time.Now(),
		hub:         NewHub(deps.WS, deps.Logger),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, hooks engine events for broadcast and
// launches the HTTP listener in a background goroutine. The listener is
// bound before Start returns, so Addr is valid afterwards.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	s.hookEngine()

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
	s.addr = ln.Addr().String()
	s.logger.Info("API server listening", "address", s.addr)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address once started.
func (s *Server) Addr() string { return s.addr }

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.unsub != nil {
		s.unsub()
	}
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
