package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Zereker/social/internal/action"
	"github.com/Zereker/social/pkg/log"
)

// Server serves the REST API, /metrics and the websocket gateway.
type Server struct {
	logger *slog.Logger
	server *http.Server
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Addr returns host:port.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// NewServer creates a new HTTP server. gateway serves /ws when not nil.
func NewServer(friends *action.Friends, gateway http.Handler, config ServerConfig) *Server {
	logger := log.Logger("http")

	mux := http.NewServeMux()
	NewHandler(friends).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	if gateway != nil {
		mux.Handle("GET /ws", gateway)
	}

	// 由外到内: cors, request id, recovery, access log + metrics
	h := chain(mux,
		corsMiddleware,
		requestIDMiddleware,
		recoveryMiddleware(logger),
		accessMiddleware(logger),
	)

	return &Server{
		logger: logger,
		server: &http.Server{
			Addr:              config.Addr(),
			Handler:           h,
			ReadTimeout:       config.ReadTimeout,
			ReadHeaderTimeout: config.ReadTimeout,
			WriteTimeout:      config.WriteTimeout,
		},
	}
}

// Handler returns the root handler with all middleware applied
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start blocks serving until Shutdown; it returns http.ErrServerClosed after
// a graceful stop.
func (s *Server) Start() error {
	s.logger.Info("starting server", "addr", s.server.Addr)
	return errors.WithStack(s.server.ListenAndServe())
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.server.Shutdown(ctx)
}
