// Package api provides the HTTP REST API and WebSocket endpoint for
// HomeControl Core.
//
// It exposes device and schedule operations, the login endpoint, the
// integration webhook, and the per-device session socket that devices and
// dashboards share.
//
// The server follows the same lifecycle pattern as the other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/homecontrol/homecontrol-core/internal/auth"
	"github.com/homecontrol/homecontrol-core/internal/device"
	"github.com/homecontrol/homecontrol-core/internal/infrastructure/config"
	"github.com/homecontrol/homecontrol-core/internal/infrastructure/logging"
	"github.com/homecontrol/homecontrol-core/internal/relay"
	"github.com/homecontrol/homecontrol-core/internal/schedule"
	"github.com/homecontrol/homecontrol-core/internal/session"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Security  config.SecurityConfig
	Logger    *logging.Logger
	Store     *device.Store
	Users     auth.UserRepository
	Validator *auth.ConnectionValidator
	Sessions  *session.Registry
	Relay     *relay.Service
	Frames    *relay.Router
	Schedules schedule.Repository
	Version   string
}

// Server is the HTTP API server for HomeControl Core.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	store     *device.Store
	users     auth.UserRepository
	validator *auth.ConnectionValidator
	sessions  *session.Registry
	relay     *relay.Service
	frames    *relay.Router
	schedules schedule.Repository
	version   string
	server    *http.Server
	cancel    context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("device store is required")
	}
	if deps.Validator == nil {
		return nil, fmt.Errorf("connection validator is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	if deps.Relay == nil || deps.Frames == nil {
		return nil, fmt.Errorf("relay service and frame router are required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		store:     deps.Store,
		users:     deps.Users,
		validator: deps.Validator,
		sessions:  deps.Sessions,
		relay:     deps.Relay,
		frames:    deps.Frames,
		schedules: deps.Schedules,
		version:   deps.Version,
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	_, s.cancel = context.WithCancel(ctx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting for in-flight
// requests before closing remaining connections.
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
