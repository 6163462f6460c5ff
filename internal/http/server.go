// Package http provides the HTTP API for brokerd.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/brokerd/internal/capacity"
	"github.com/fyrsmithlabs/brokerd/internal/experiment"
	"github.com/fyrsmithlabs/brokerd/internal/performance"
	"github.com/fyrsmithlabs/brokerd/internal/routing"
	"github.com/fyrsmithlabs/brokerd/internal/store"
)

// Server provides HTTP endpoints for brokerd.
type Server struct {
	echo        *echo.Echo
	logger      *zap.Logger
	config      *Config
	routing     *routing.Service
	tracker     *capacity.Tracker
	analyzer    *performance.Analyzer
	experiments *experiment.Engine
	metrics     store.MetricsStore
}

// Config holds HTTP server configuration.
type Config struct {
	Host          string
	Port          int
	EnableMetrics bool
}

// NewServer creates a new HTTP server.
func NewServer(
	router *routing.Service,
	tracker *capacity.Tracker,
	analyzer *performance.Analyzer,
	experiments *experiment.Engine,
	metrics store.MetricsStore,
	logger *zap.Logger,
	cfg *Config,
) (*Server, error) {
	if router == nil {
		return nil, fmt.Errorf("routing service cannot be nil")
	}
	if tracker == nil {
		return nil, fmt.Errorf("capacity tracker cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host:          "localhost",
			Port:          9090,
			EnableMetrics: true,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())

	s := &Server{
		echo:        e,
		logger:      logger,
		config:      cfg,
		routing:     router,
		tracker:     tracker,
		analyzer:    analyzer,
		experiments: experiments,
		metrics:     metrics,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.config.EnableMetrics {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	v1 := s.echo.Group("/api/v1/routing")

	v1.POST("/decide", s.handleDecide)
	v1.POST("/batch/decide", s.handleBatchDecide)

	v1.GET("/broker/:id/performance", s.handleBrokerPerformance)
	v1.GET("/broker/:id/capacity", s.handleBrokerCapacity)
	v1.PUT("/broker/:id/capacity", s.handleSetMaxCapacity)
	v1.POST("/broker/:id/respond", s.handleRespond)
	v1.POST("/broker/:id/release", s.handleRelease)

	v1.GET("/analytics/leaderboard", s.handleLeaderboard)
	v1.GET("/analytics/capacity-trends", s.handleCapacityTrends)
	v1.GET("/analytics/efficiency", s.handleEfficiency)
	v1.POST("/analytics/rebalance-load", s.handleRebalanceLoad)

	v1.POST("/experiment/create", s.handleExperimentCreate)
	v1.POST("/experiment/:id/pause", s.handleExperimentPause)
	v1.POST("/experiment/:id/resume", s.handleExperimentResume)
	v1.GET("/experiment/:id/results", s.handleExperimentResults)
	v1.POST("/experiment/:id/analyze", s.handleExperimentAnalyze)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Echo returns the underlying Echo instance, used by tests to drive
// requests without a listener.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
