// Package admin implements the read-only operator HTTP surface: process
// health and DNS counters at /status, and the live verdict cache
// contents at /verdicts. There is no configuration or filtering
// surface to mutate, since config.Config is loaded once and never
// mutated after startup.
//
// Security note: bind this to loopback in production.
// config.AdminConfig defaults Host to 127.0.0.1.
package admin

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sansdns/sans-forward/internal/config"
	"github.com/sansdns/sans-forward/internal/server"
	"github.com/sansdns/sans-forward/internal/verdict"
)

// Server is the admin HTTP server.
type Server struct {
	logger     *slog.Logger
	engine     *gin.Engine
	httpServer *http.Server
}

// New builds a Server bound to cfg.Admin.Host:cfg.Admin.Port, reporting
// stats and cache from the running forwarder. nodeID identifies this
// process instance in /status, matching the node_id tag attached to
// this process's own log lines (internal/logging.Config.NodeID) so the
// two can be correlated.
func New(cfg *config.Config, logger *slog.Logger, stats *server.DNSStats, cache *verdict.Cache, nodeID string) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(slogRequestLogger(logger))

	h := &handler{
		startTime: time.Now(),
		nodeID:    nodeID,
		stats:     stats,
		cache:     cache,
	}
	registerRoutes(engine, h)

	addr := net.JoinHostPort(cfg.Admin.Host, strconv.Itoa(cfg.Admin.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{logger: logger, engine: engine, httpServer: httpServer}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("admin server shutdown error", "err", err)
			return err
		}
		return nil
	}
}

// slogRequestLogger logs each admin request at debug level.
func slogRequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		logger.Debug("admin request",
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

// NewNodeID generates a fresh random node identifier for a process that
// was not given one explicitly.
func NewNodeID() string {
	return uuid.New().String()[:8]
}
