// Package api provides the HTTP server, router, and transport wiring.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/payrail/payrail/config"
	"github.com/payrail/payrail/pkg/logger"
)

// Server is the lifecycle contract main drives: Start blocks until the
// listener stops, Shutdown drains in-flight requests.
type Server interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// HTTPServer serves the REST API over a chi router.
type HTTPServer struct {
	srv    *http.Server
	router chi.Router
	log    logger.Logger
}

// NewHTTPServer builds the server with the full middleware chain and
// routes registered.
func NewHTTPServer(cfg *config.Config, log logger.Logger, handlers *Handlers) *HTTPServer {
	router := NewRouter(cfg, log, handlers)

	return &HTTPServer{
		srv: &http.Server{
			Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
			Handler:      router,
			ReadTimeout:  cfg.Server.HTTP.ReadTimeout,
			WriteTimeout: cfg.Server.HTTP.WriteTimeout,
			IdleTimeout:  cfg.Server.HTTP.IdleTimeout,
		},
		router: router,
		log:    log,
	}
}

// Start listens and serves until Shutdown is called or the listener
// fails. A clean shutdown returns nil.
func (s *HTTPServer) Start() error {
	s.log.Info("HTTP server listening", "addr", s.srv.Addr)

	err := s.srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for active requests
// until ctx expires.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.log.Info("HTTP server shutting down")

	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.log.Info("HTTP server stopped")
	return nil
}
