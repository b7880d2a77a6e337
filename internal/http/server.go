// Package http provides the HTTP server and API surface for coopcam.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/coopcam/coopcam/internal/config"
	"github.com/coopcam/coopcam/internal/http/middleware"
)

// Server hosts the JSON API, the MJPEG stream endpoints, and the SSE event
// channel on a single listener.
type Server struct {
	config     config.ServerConfig
	router     *chi.Mux
	api        huma.API
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates the HTTP server with the standard middleware chain.
func NewServer(cfg config.ServerConfig, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}

	router := chi.NewRouter()

	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(middleware.NewLoggingMiddleware(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(cfg.CORSOrigins))
	router.Use(middleware.SkipCompressionForStreaming(chimiddleware.Compress(5)))

	humaConfig := huma.DefaultConfig("coopcam API", version)
	humaConfig.Info.Description = "Multi-camera MJPEG proxy with motion detection and recording"

	api := humachi.New(router, humaConfig)

	return &Server{
		config: cfg,
		router: router,
		api:    api,
		logger: logger,
	}
}

// API returns the Huma API instance for registering operations.
func (s *Server) API() huma.API {
	return s.api
}

// Router returns the chi router for the raw streaming endpoints that Huma
// cannot express (MJPEG multipart, SSE).
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start binds the listener and serves until Shutdown. A bind failure is
// unrecoverable; the returned error names the attempted address so the
// caller can exit non-zero with a useful message.
func (s *Server) Start() error {
	addr := s.config.Address()

	// No WriteTimeout: the MJPEG and SSE responses are open-ended. The
	// streaming handlers manage their own write deadlines.
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: s.config.ReadTimeout,
		IdleTimeout: s.config.IdleTimeout,
	}

	s.logger.Info("starting HTTP server",
		slog.String("address", addr),
		slog.String("platform", runtime.GOOS+"/"+runtime.GOARCH),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listening on %s (%s/%s): %w", addr, runtime.GOOS, runtime.GOARCH, err)
	}

	return nil
}

// Shutdown gracefully stops the server, allowing in-flight requests up to
// the configured shutdown timeout. Open streams are cut off.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("shutting down HTTP server",
		slog.Duration("timeout", s.config.ShutdownTimeout),
	)

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// ListenAndServe starts the server and blocks until the context is
// cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Start()
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}
