package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
	"go.uber.org/zap"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure. Dimension
	// mismatches wrap both this and vectorstore.ErrDimensionMismatch.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// probeText is embedded at startup to confirm the model dimension.
const probeText = "dimension probe"

// Embedder produces vectors for text.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension is the length of every vector the embedder returns.
	Dimension() int
	Close() error
}

// NewProvider builds the embedder selected by cfg.Provider.
func NewProvider(cfg config.EmbeddingsConfig, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}

	var (
		inner Embedder
		err   error
	)
	switch cfg.Provider {
	case "ollama", "":
		inner, err = NewOllamaProvider(OllamaConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
			Timeout:   cfg.Timeout.Duration(),
		})
	case "tei":
		inner, err = NewTEIProvider(TEIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
			Timeout:   cfg.Timeout.Duration(),
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("embedding provider initialized",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Int("dimension", cfg.Dimension),
	)
	return Checked(inner, cfg.Model, logger), nil
}

// Probe embeds a fixed string and fails if the model's output length differs
// from e.Dimension().
func Probe(ctx context.Context, e Embedder) error {
	vec, err := e.EmbedQuery(ctx, probeText)
	if err != nil {
		return fmt.Errorf("probing embedder: %w", err)
	}
	if len(vec) != e.Dimension() {
		return dimensionError(len(vec), e.Dimension())
	}
	return nil
}

func dimensionError(got, want int) error {
	return fmt.Errorf("%w: %w: model returned %d, configured %d",
		ErrEmbeddingFailed, vectorstore.ErrDimensionMismatch, got, want)
}

// checked validates dimensions and records metrics around another Embedder.
type checked struct {
	inner   Embedder
	model   string
	metrics *Metrics
}

// Checked wraps e so that wrong-length vectors become errors.
func Checked(e Embedder, model string, logger *zap.Logger) Embedder {
	if c, ok := e.(*checked); ok {
		return c
	}
	return &checked{inner: e, model: model, metrics: NewMetrics(logger)}
}

func (c *checked) Dimension() int { return c.inner.Dimension() }
func (c *checked) Close() error   { return c.inner.Close() }

func (c *checked) EmbedQuery(ctx context.Context, text string) (vec []float32, err error) {
	start := time.Now()
	defer func() { c.metrics.RecordGeneration(ctx, c.model, "embed_query", time.Since(start), 1, err) }()

	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vec, err = c.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, wrapFailure(err)
	}
	if len(vec) != c.Dimension() {
		return nil, dimensionError(len(vec), c.Dimension())
	}
	return vec, nil
}

func (c *checked) EmbedDocuments(ctx context.Context, texts []string) (vecs [][]float32, err error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordGeneration(ctx, c.model, "embed_documents", time.Since(start), len(texts), err)
	}()

	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vecs, err = c.inner.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, wrapFailure(err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vecs), len(texts))
	}
	for _, v := range vecs {
		if len(v) != c.Dimension() {
			return nil, dimensionError(len(v), c.Dimension())
		}
	}
	return vecs, nil
}

func wrapFailure(err error) error {
	if errors.Is(err, ErrEmbeddingFailed) || errors.Is(err, ErrEmptyInput) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
}
