package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/ziggy/internal/infrastructure/config"
	"github.com/nerrad567/ziggy/internal/infrastructure/logging"
	"github.com/nerrad567/ziggy/internal/infrastructure/mqtt"
	"github.com/nerrad567/ziggy/internal/telemetry"
	"github.com/nerrad567/ziggy/internal/zigbee2mqtt"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ConnectionStatus is the part of the MQTT connection manager the API reads.
// *mqtt.Client implements it.
type ConnectionStatus interface {
	Status() mqtt.Status
	AddStateListener(fn func(mqtt.StateChange))
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Security  config.SecurityConfig
	Logger    *logging.Logger
	Telemetry *telemetry.Registry
	Pipeline  *zigbee2mqtt.Pipeline
	MQTT      ConnectionStatus // optional; nil reports MQTT as disabled
	Version   string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Run wraps Start and Close for use under an errgroup.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	telemetry *telemetry.Registry
	pipeline  *zigbee2mqtt.Pipeline
	mqtt      ConnectionStatus
	version   string
	startTime time.Time
	server    *http.Server
	listener  net.Listener
	hub       *Hub
	cancel    context.CancelFunc // cancels background goroutines on Close()
	serveErr  chan error
}

// New creates a new API server with the given dependencies.
//
// The WebSocket hub is created here and subscribed to connection and bridge
// state changes, so events raised before Start are not lost to listeners
// registered later.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Telemetry == nil {
		return nil, fmt.Errorf("telemetry registry is required")
	}
	if deps.Pipeline == nil {
		return nil, fmt.Errorf("zigbee2mqtt pipeline is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		telemetry: deps.Telemetry,
		pipeline:  deps.Pipeline,
		mqtt:      deps.MQTT,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.WS, deps.Logger),
		serveErr:  make(chan error, 1),
	}

	s.hub.SetSnapshot(s.channelSnapshot)

	if s.mqtt != nil {
		s.mqtt.AddStateListener(func(change mqtt.StateChange) {
			s.hub.Broadcast(ChannelConnectionState, change)
		})
	}
	s.pipeline.AddBridgeStateListener(func(change zigbee2mqtt.BridgeStateChange) {
		s.hub.Broadcast(ChannelBridgeState, change)
	})

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, binds the listener and serves in a background
// goroutine. The server can be stopped with Close().
//
// Returns:
//   - error: If the listener cannot be bound (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

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

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
			s.serveErr <- err
		}
	}()

	return nil
}

// Run starts the server, blocks until ctx is cancelled or serving fails,
// and shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return s.Close()
	case err := <-s.serveErr:
		_ = s.Close()
		return fmt.Errorf("serving API: %w", err)
	}
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
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
