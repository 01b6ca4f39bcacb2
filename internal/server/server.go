// Package server hosts the interpolation module's HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/frameflow/internal/config"
	"github.com/mantonx/frameflow/internal/middleware"
)

// RouteRegistrar is implemented by modules that expose HTTP routes.
type RouteRegistrar interface {
	ID() string
	RegisterRoutes(router *gin.Engine)
}

// SetupRouter builds the gin engine with the shared middleware, a health
// endpoint and the routes of every module.
func SetupRouter(logger hclog.Logger, modules ...RouteRegistrar) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.ErrorLogger(logger))

	r.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	for _, m := range modules {
		m.RegisterRoutes(r)
		logger.Debug("registered module routes", "module", m.ID())
	}
	return r
}

// Server wraps http.Server with graceful shutdown.
type Server struct {
	srv    *http.Server
	logger hclog.Logger
}

// New creates a server for handler on the configured address.
func New(cfg config.ServerConfig, handler http.Handler, logger hclog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.Named("server"),
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.srv.Addr
}

// Run serves until ctx is done, then shuts down within shutdownTimeout.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	return nil
}
