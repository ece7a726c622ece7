package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/concord-cpg-engine/internal/domain"
	"github.com/concord-cpg-engine/internal/engine"
	"github.com/concord-cpg-engine/internal/middleware"
)

const shutdownTimeout = 30 * time.Second

// Server represents the HTTP server
type Server struct {
	cfg    domain.ServerConfig
	engine *engine.Engine
	logger *logrus.Logger
	router *gin.Engine
	server *http.Server
}

// NewServer creates a new HTTP server instance
func NewServer(cfg domain.ServerConfig, e *engine.Engine, logger *logrus.Logger) *Server {
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.SecurityHeaders())

	s := &Server{
		cfg:    cfg,
		engine: e,
		logger: logger,
		router: router,
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/guidelines", s.handleListGuidelines)
		v1.POST("/guidelines/validate", s.handleValidateGuideline)
		v1.POST("/evaluations", s.handleEvaluate)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	stats := s.engine.Registry().Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"guidelines": gin.H{
			"cached": stats.Size,
			"hits":   stats.Hits,
			"misses": stats.Misses,
		},
	})
}
