package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/ragd/internal/chat"
	"github.com/fyrsmithlabs/ragd/internal/chunker"
	"github.com/fyrsmithlabs/ragd/internal/commands"
	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/conversation"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/extract"
	ragdhttp "github.com/fyrsmithlabs/ragd/internal/http"
	"github.com/fyrsmithlabs/ragd/internal/ingestion"
	"github.com/fyrsmithlabs/ragd/internal/llm"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/mcp"
	"github.com/fyrsmithlabs/ragd/internal/operations"
	"github.com/fyrsmithlabs/ragd/internal/redact"
	"github.com/fyrsmithlabs/ragd/internal/retrieval"
	"github.com/fyrsmithlabs/ragd/internal/telemetry"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// app holds the wired services.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	tel    *telemetry.Telemetry

	embedder   embeddings.Embedder
	index      vectorstore.Index
	store      conversation.Store
	natsConn   *nats.Conn
	operations *operations.Registry

	extractor *extract.PDFExtractor
	pipeline  *ingestion.Pipeline
	chat      *chat.Orchestrator
	commands  *commands.Registry
}

// run loads configuration, wires every service and serves until ctx is
// cancelled.
func run(ctx context.Context, opts options) error {
	if err := config.LoadDotEnv(opts.envFiles...); err != nil {
		return err
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Observability, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	logger, err := newLogger(cfg, tel, opts.mcp)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if degraded, reason := tel.Degraded(); degraded {
		logger.Warn(ctx, "telemetry degraded", zap.Error(reason))
	}

	a, err := newApp(ctx, cfg, logger, tel)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.mcp {
		return a.serveMCP(ctx)
	}
	return a.serveHTTP(ctx)
}

func newLogger(cfg *config.Config, tel *telemetry.Telemetry, stdio bool) (*logging.Logger, error) {
	lc, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, err
	}
	if stdio {
		lc.Output.Stdout = false
		lc.Output.Stderr = true
	}
	if tel.Enabled() && tel.LoggerProvider() != nil {
		lc.Output.OTEL = true
	}
	return logging.NewLogger(lc, tel.LoggerProvider())
}

// newApp connects to every backend and builds the services. On error,
// whatever was opened is closed again.
func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger, tel *telemetry.Telemetry) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger, tel: tel}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()
	zl := logger.Underlying()

	if a.embedder, err = embeddings.NewProvider(cfg.Embeddings, zl); err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}
	probeCtx, cancel := context.WithTimeout(ctx, cfg.Embeddings.Timeout.Duration())
	err = embeddings.Probe(probeCtx, a.embedder)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("embedding model check failed: %w", err)
	}

	if a.index, err = vectorstore.NewIndex(cfg, zl); err != nil {
		return nil, fmt.Errorf("failed to create vector index: %w", err)
	}

	model, err := llm.New(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	if a.store, err = conversation.NewStore(ctx, cfg, zl); err != nil {
		return nil, fmt.Errorf("failed to create conversation store: %w", err)
	}

	if cfg.NATS.URL != "" {
		if a.natsConn, err = operations.Connect(cfg.NATS.URL, zl); err != nil {
			return nil, err
		}
	}
	a.operations = operations.NewRegistry(a.natsConn, zl,
		operations.WithSubjectPrefix(cfg.NATS.SubjectPrefix))

	splitter, err := chunker.New(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		return nil, fmt.Errorf("failed to create chunker: %w", err)
	}

	var pipelineOpts []ingestion.Option
	if cfg.Secrets.Enabled {
		allowlist, err := redact.LoadAllowlist(cfg.Secrets.AllowlistPath)
		if err != nil {
			return nil, err
		}
		redactor, err := redact.New(allowlist, zl)
		if err != nil {
			return nil, fmt.Errorf("failed to create secret redactor: %w", err)
		}
		pipelineOpts = append(pipelineOpts, ingestion.WithRedactor(redactor))
	}
	if r := cfg.Ingestion.EmbedRate; r > 0 {
		burst := max(cfg.Ingestion.EmbedBurst, 1)
		pipelineOpts = append(pipelineOpts, ingestion.WithRateLimit(rate.NewLimiter(rate.Limit(r), burst)))
	}

	collection := cfg.VectorStore.Collection
	a.extractor = extract.NewPDFExtractor(zl)
	a.pipeline = ingestion.NewPipeline(splitter, a.embedder, a.index, collection, logger, pipelineOpts...)
	a.chat = chat.NewOrchestrator(
		retrieval.NewEngine(a.embedder, a.index, collection, logger),
		a.store,
		model,
		chat.Config{TopK: cfg.Retrieval.TopK, Category: cfg.Retrieval.Category},
		logger,
	)
	a.commands = commands.Default()

	logger.Info(ctx, "services initialized",
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("collection", collection),
		zap.String("embeddings", cfg.Embeddings.Provider+"/"+cfg.Embeddings.Model),
		zap.String("llm", cfg.LLM.Provider+"/"+cfg.LLM.Model),
		zap.String("conversation_backend", cfg.Conversation.Backend),
		zap.Bool("nats", a.natsConn != nil),
		zap.Bool("secret_redaction", cfg.Secrets.Enabled))
	return a, nil
}

func (a *app) httpServer() (*ragdhttp.Server, error) {
	s := a.cfg.Server
	return ragdhttp.NewServer(ragdhttp.Deps{
		Chat:       a.chat,
		Ingester:   a.pipeline,
		Extractor:  a.extractor,
		Commands:   a.commands,
		Operations: a.operations,
		Index:      a.index,
		Meter:      a.tel.Meter("github.com/fyrsmithlabs/ragd/internal/http"),
	}, a.logger.Underlying(), &ragdhttp.Config{
		Host:            s.Host,
		Port:            s.Port,
		ReadTimeout:     s.ReadTimeout.Duration(),
		WriteTimeout:    s.WriteTimeout.Duration(),
		MaxUploadBytes:  a.cfg.Ingestion.MaxUploadBytes,
		DefaultCategory: a.cfg.Ingestion.DefaultCategory,
		AsyncTimeout:    a.cfg.Ingestion.AsyncTimeout.Duration(),
	})
}

func (a *app) serveHTTP(ctx context.Context) error {
	srv, err := a.httpServer()
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info(context.Background(), "shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (a *app) mcpServer() (*mcp.Server, error) {
	return mcp.NewServer(&mcp.Config{
		Name:            "ragd",
		Version:         version,
		DefaultCategory: a.cfg.Ingestion.DefaultCategory,
		Logger:          a.logger.Underlying(),
		Meter:           a.tel.Meter("github.com/fyrsmithlabs/ragd/internal/mcp"),
	}, a.chat, a.pipeline, a.extractor, a.commands)
}

func (a *app) serveMCP(ctx context.Context) error {
	srv, err := a.mcpServer()
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

// Close releases backends in reverse order of creation.
func (a *app) Close() {
	ctx := context.Background()
	if a.operations != nil {
		a.operations.Close()
	}
	if a.natsConn != nil {
		if err := a.natsConn.Drain(); err != nil {
			a.natsConn.Close()
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn(ctx, "closing conversation store", zap.Error(err))
		}
	}
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			a.logger.Warn(ctx, "closing vector index", zap.Error(err))
		}
	}
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
}
