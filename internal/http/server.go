// Package http provides the opsdesk ops HTTP surface: health and Prometheus
// metrics for the headless watcher.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/opsdesk/internal/chat"
	"github.com/fyrsmithlabs/opsdesk/internal/logging"
	"github.com/fyrsmithlabs/opsdesk/internal/realtime"
)

// StatusSource reports the desk state served by /health.
type StatusSource interface {
	Snapshot() chat.Snapshot
}

// Server provides HTTP endpoints for opsdesk watch.
type Server struct {
	echo     *echo.Echo
	status   StatusSource
	registry *prometheus.Registry
	logger   *logging.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server exposing status and the collectors of
// registry. HTTP request metrics are registered with registry too.
func NewServer(status StatusSource, registry *prometheus.Registry, logger *logging.Logger, cfg *Config) (*Server, error) {
	if status == nil {
		return nil, fmt.Errorf("status source cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("metrics registry cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9191,
		}
	}
	logger = logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(registry).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			reqID := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(c.Request().Context(), reqID)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)

			logger.Debug(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		status:   status,
		registry: registry,
		logger:   logger,
		config:   cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		Registry: s.registry,
	})))
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status       string `json:"status"` // ok | degraded
	Connection   string `json:"connection"`
	Operator     string `json:"operator,omitempty"`
	Conversation string `json:"conversation,omitempty"`
	Unresolved   int    `json:"unresolved"`
}

// handleHealth reports transport health. It answers 503 while no realtime
// connection is up.
func (s *Server) handleHealth(c echo.Context) error {
	snap := s.status.Snapshot()
	resp := HealthResponse{
		Status:       "ok",
		Connection:   string(snap.Health),
		Operator:     snap.Operator.OperatorID,
		Conversation: snap.Active,
		Unresolved:   snap.Unresolved,
	}

	code := http.StatusOK
	if snap.Health != realtime.HealthConnected {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Start starts the HTTP server. It returns nil after Shutdown.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", s.Addr()))
	if err := s.echo.Start(s.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
