package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/convoflow/internal/metrics"
)

// Server wraps the HTTP server and the router.
type Server struct {
	handler  http.Handler
	handlers *Handlers
	server   *http.Server
}

// NewServer builds the router around the given handlers.
func NewServer(h *Handlers, hc *HealthChecker, m *metrics.Metrics, opts RouteOptions) *Server {
	return &Server{
		handler:  SetupRoutes(h, hc, m, opts),
		handlers: h,
	}
}

// ListenAndServe starts the HTTP server. It blocks until the server stops.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       time.Minute,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}
