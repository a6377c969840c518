package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/cuemby/eventsync/pkg/log"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Server serves the status endpoints over HTTP
type Server struct {
	status *StatusServer
	server *http.Server
	logger zerolog.Logger
}

// DefaultRateLimit is the per-client request rate of the status server
const (
	DefaultRateLimit = 20
	DefaultBurst     = 40
)

// NewServer creates a server for the status endpoints. When traced is set
// every request is wrapped in an OpenTelemetry span.
func NewServer(status *StatusServer, traced bool) *Server {
	limiter := NewRateLimiter(DefaultRateLimit, DefaultBurst)
	handler := limiter.Middleware(ReadOnly(status.Handler()))
	if traced {
		handler = otelhttp.NewHandler(handler, "eventsync.status")
	}

	return &Server{
		status: status,
		server: &http.Server{
			Handler:      handler,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: log.WithComponent("api"),
	}
}

// Start listens on addr and serves until Shutdown
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Serve serves on lis until Shutdown
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("status server listening")
	if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
