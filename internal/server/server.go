// Package server exposes the worker's HTTP surface: health, status, and
// Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/verifyd/screening-worker/internal/logger"
	"github.com/verifyd/screening-worker/internal/telemetry"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Statuser reports worker runtime stats.
type Statuser interface {
	Status() map[string]any
	IsRunning() bool
}

// Pinger checks a dependency's reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the worker's HTTP endpoint set.
type Server struct {
	httpServer *http.Server
	logger     logger.Logger
}

// Config holds server settings.
type Config struct {
	Host string
	Port int
}

// New builds the HTTP server and its routes.
func New(cfg Config, worker Statuser, queuePing Pinger, tel *telemetry.Provider, log logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": "screening-worker",
			"running": worker.IsRunning(),
		})
	})

	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := queuePing.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, worker.Status())
	})

	router.GET("/metrics", gin.WrapH(tel.Handler()))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		logger: log,
	}
}

// Start serves HTTP until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("http server listening", logger.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains and stops the HTTP server.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
