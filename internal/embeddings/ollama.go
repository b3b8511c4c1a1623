package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
)

// OllamaConfig configures the Ollama embedding provider.
type OllamaConfig struct {
	// BaseURL of the Ollama server, e.g. http://localhost:11434.
	BaseURL   string
	Model     string
	Dimension int
	// Timeout bounds each HTTP request. Zero means no limit.
	Timeout time.Duration
}

// Validate validates the configuration.
func (c OllamaConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: invalid base URL %q", ErrInvalidConfig, c.BaseURL)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	return nil
}

// OllamaProvider embeds text with an Ollama model via langchaingo.
type OllamaProvider struct {
	embedder  *lcembeddings.EmbedderImpl
	dimension int
}

// NewOllamaProvider creates a provider. No request is made until the first
// embed call.
func NewOllamaProvider(cfg OllamaConfig) (*OllamaProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
		ollama.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}

	// Newlines carry paragraph structure that nomic-embed-text uses.
	embedder, err := lcembeddings.NewEmbedder(llm, lcembeddings.WithStripNewLines(false))
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return &OllamaProvider{embedder: embedder, dimension: cfg.Dimension}, nil
}

func (p *OllamaProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return p.embedder.EmbedQuery(ctx, text)
}

func (p *OllamaProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return p.embedder.EmbedDocuments(ctx, texts)
}

func (p *OllamaProvider) Dimension() int { return p.dimension }

func (p *OllamaProvider) Close() error { return nil }
