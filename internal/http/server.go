// Package http serves the ragd REST API: chat, document upload, command
// execution and operation status, plus health, readiness and metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/chat"
	"github.com/fyrsmithlabs/ragd/internal/commands"
	"github.com/fyrsmithlabs/ragd/internal/conversation"
	"github.com/fyrsmithlabs/ragd/internal/ingestion"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/operations"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// ChatService answers chat turns and exposes per-user history.
type ChatService interface {
	Send(ctx context.Context, userID, message string) chat.Result
	History(ctx context.Context, userID string) (conversation.History, bool, error)
	Reset(ctx context.Context, userID string) error
}

// Ingester writes extracted pages into the knowledge base.
type Ingester interface {
	Ingest(ctx context.Context, pages []string, sourceID, category string) (ingestion.Result, error)
}

// Extractor turns an uploaded document into page texts.
type Extractor interface {
	Extract(ctx context.Context, r io.ReaderAt, size int64) ([]string, error)
}

// HealthChecker reports whether a dependency is usable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Config holds HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxUploadBytes  int64
	DefaultCategory string
	// AsyncTimeout bounds background ingestion. Zero means no limit.
	AsyncTimeout time.Duration
}

// DefaultConfig returns the configuration used when NewServer gets nil.
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		MaxUploadBytes:  50 << 20,
		DefaultCategory: "FBT",
		AsyncTimeout:    30 * time.Minute,
	}
}

// Deps are the services behind the API. Chat, Ingester and Extractor are
// required.
type Deps struct {
	Chat       ChatService
	Ingester   Ingester
	Extractor  Extractor
	Commands   *commands.Registry
	Operations *operations.Registry
	// Index backs /ready. Nil means always ready.
	Index HealthChecker
	// Meter records HTTP metrics. Nil uses the global meter provider.
	Meter metric.Meter
}

// Server provides the ragd HTTP endpoints.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *zap.Logger
	config *Config

	// jobs tracks background ingestions so Shutdown can wait for them.
	jobs sync.WaitGroup
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	if deps.Chat == nil || deps.Ingester == nil || deps.Extractor == nil {
		return nil, fmt.Errorf("chat, ingester and extractor are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultConfig().MaxUploadBytes
	}
	if cfg.DefaultCategory == "" {
		cfg.DefaultCategory = DefaultConfig().DefaultCategory
	}
	if deps.Commands == nil {
		deps.Commands = commands.Default()
	}
	if deps.Operations == nil {
		deps.Operations = operations.NewRegistry(nil, logger)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, id string) {
			ctx := logging.WithRequestID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
		},
	}))
	e.Use(requestLogger(logger))
	e.Use(NewHTTPMetrics(deps.Meter, logger).MetricsMiddleware())

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes()
	return s, nil
}

func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/ready", s.handleReady)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("/api")
	api.POST("/chat/send", s.handleChatSend)
	api.GET("/chat/history", s.handleHistory)
	api.DELETE("/chat/history", s.handleResetHistory)
	api.POST("/ingestion/upload", s.handleUpload)
	api.GET("/operations/:id", s.handleOperation)
	api.GET("/commands", s.handleListCommands)
	api.POST("/commands/:name", s.handleCommand)
}

// ServeHTTP lets the server be mounted or driven directly in tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown stops accepting requests, then waits for in-flight background
// ingestions until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	err := s.echo.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(err, fmt.Errorf("waiting for background ingestion: %w", ctx.Err()))
	}
	return err
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleReady(c echo.Context) error {
	if s.deps.Index == nil {
		return c.JSON(http.StatusOK, HealthResponse{Status: "ready"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if err := s.deps.Index.Health(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: err.Error()})
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ready"})
}
