// Package web serves the HTTP control API: background pipeline runs,
// identity review and read-only catalogue listings.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kozaktomas/media-annotator/internal/logging"
	"github.com/kozaktomas/media-annotator/internal/web/handlers"
	"github.com/kozaktomas/media-annotator/internal/web/middleware"
)

// Deps are the services behind the API.
type Deps struct {
	Runs        handlers.RunController
	Persons     handlers.PersonStore
	Promoter    handlers.Promoter
	Library     handlers.LibraryReader
	DefaultRoot string // used when a run request names no root
	Logger      *zap.Logger
}

// Server represents the web server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	deps       Deps
	logger     *zap.Logger
}

// NewServer creates the server. Runs started over HTTP live as long as ctx.
func NewServer(ctx context.Context, addr string, deps Deps) *Server {
	r := chi.NewRouter()
	logger := logging.OrNop(deps.Logger)

	s := &Server{
		router: r,
		deps:   deps,
		logger: logger,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(time.Minute))
	r.Use(middleware.CORS())

	s.setupRoutes(ctx)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting web server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down web server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
