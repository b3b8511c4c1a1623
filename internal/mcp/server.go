// Package mcp exposes ragd over the Model Context Protocol: chat, PDF
// ingestion from disk and one tool per registered command.
package mcp

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/ragd/internal/chat"
	"github.com/fyrsmithlabs/ragd/internal/commands"
	"github.com/fyrsmithlabs/ragd/internal/ingestion"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// ChatSender answers one chat turn.
type ChatSender interface {
	Send(ctx context.Context, userID, message string) chat.Result
}

// Ingester writes extracted pages into the knowledge base.
type Ingester interface {
	Ingest(ctx context.Context, pages []string, sourceID, category string) (ingestion.Result, error)
}

// FileExtractor reads page texts from a document on disk.
type FileExtractor interface {
	ExtractFile(ctx context.Context, path string) ([]string, error)
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "ragd")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// DefaultCategory tags ingested documents when the caller gives none.
	DefaultCategory string

	Logger *zap.Logger
	Meter  metric.Meter
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:            "ragd",
		Version:         "dev",
		DefaultCategory: "FBT",
		Logger:          zap.NewNop(),
	}
}

// Server is an MCP server backed by the ragd services.
type Server struct {
	mcp       *mcp.Server
	chat      ChatSender
	ingester  Ingester
	extractor FileExtractor
	commands  *commands.Registry
	metrics   *Metrics
	config    *Config
	logger    *zap.Logger
}

// NewServer creates the server and registers its tools.
func NewServer(cfg *Config, chatSvc ChatSender, ingester Ingester, extractor FileExtractor, registry *commands.Registry) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.DefaultCategory == "" {
		cfg.DefaultCategory = DefaultConfig().DefaultCategory
	}
	if chatSvc == nil {
		return nil, fmt.Errorf("chat service is required")
	}
	if ingester == nil || extractor == nil {
		return nil, fmt.Errorf("ingester and extractor are required")
	}
	if registry == nil {
		registry = commands.Default()
	}

	s := &Server{
		mcp:       mcp.NewServer(&mcp.Implementation{Name: cfg.Name, Version: cfg.Version}, nil),
		chat:      chatSvc,
		ingester:  ingester,
		extractor: extractor,
		commands:  registry,
		metrics:   NewMetrics(cfg.Meter, cfg.Logger),
		config:    cfg,
		logger:    cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves MCP on stdin/stdout until ctx is done or the client leaves.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves MCP on an arbitrary transport.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}
