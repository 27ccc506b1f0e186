package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/labdash/internal/audit"
	"github.com/nerrad567/labdash/internal/device"
	"github.com/nerrad567/labdash/internal/infrastructure/config"
	"github.com/nerrad567/labdash/internal/infrastructure/influxdb"
	"github.com/nerrad567/labdash/internal/infrastructure/logging"
	"github.com/nerrad567/labdash/internal/ingest"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// CommandPublisher delivers actuator commands to nodes.
// *mqtt.Client satisfies it.
type CommandPublisher interface {
	PublishCommand(deviceID string, payload []byte) error
	IsConnected() bool
}

// StatsSource reports ingestion counters. *ingest.Service satisfies it.
type StatsSource interface {
	Stats() ingest.Stats
}

// ArchiveStatsSource reports telemetry archive counters.
// *influxdb.Client satisfies it.
type ArchiveStatsSource interface {
	Stats() influxdb.Stats
}

// DBStatsSource reports connection pool statistics. *database.DB satisfies it.
type DBStatsSource interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Registry *device.Registry

	// Commands is optional; without it commands fail with FAILED status.
	Commands CommandPublisher

	// Audit is optional; without it nothing is recorded and /audit is not
	// routed.
	Audit audit.Repository

	// Ingest, Archive and DB are optional and only feed /metrics.
	Ingest  StatsSource
	Archive ArchiveStatsSource
	DB      DBStatsSource

	// Hub, if set, is used instead of a server-owned hub so ingestion can
	// broadcast before the listener starts.
	Hub     *Hub
	Version string
}

// Server is the labdash relay server.
//
// It manages the HTTP listener, routes, middleware and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	registry  *device.Registry
	commands  CommandPublisher
	audit     audit.Repository
	ingest    StatsSource
	archive   ArchiveStatsSource
	db        DBStatsSource
	version   string
	startedAt time.Time

	server      *http.Server
	hub         *Hub
	externalHub bool
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		registry:  deps.Registry,
		commands:  deps.Commands,
		audit:     deps.Audit,
		ingest:    deps.Ingest,
		archive:   deps.Archive,
		db:        deps.DB,
		version:   deps.Version,
		startedAt: time.Now(),
	}

	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	s.hub.SetSendHandler(s.handleRelaySend)
	return s, nil
}

// Hub returns the relay hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listener and serves in the background. Bind failures,
// such as a port already in use, are returned here rather than logged later.
// It also starts the hub unless one was injected. Stop with Close.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	seconds := func(n int) time.Duration { return time.Duration(n) * time.Second }
	s.server = &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           s.buildRouter(),
		ReadTimeout:       seconds(s.cfg.Timeouts.Read),
		ReadHeaderTimeout: seconds(s.cfg.Timeouts.Read),
		WriteTimeout:      seconds(s.cfg.Timeouts.Write),
		IdleTimeout:       seconds(s.cfg.Timeouts.Idle),
		BaseContext:       func(net.Listener) context.Context { return srvCtx },
	}

	tlsOn := s.cfg.TLS.Enabled
	s.logger.Info("API server listening", "address", s.server.Addr, "tls", tlsOn)
	go func() {
		var err error
		if tlsOn {
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.server == nil {
		return ""
	}
	return s.server.Addr
}

// Close shuts the server down, giving in-flight requests up to
// gracefulShutdownTimeout before their connections are dropped.
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
