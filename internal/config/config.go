// Package config loads ragd configuration.
//
// Values come from built-in defaults, an optional YAML file and RAGD_*
// environment variables, in increasing order of precedence. Credentials are
// only ever read from the environment or the YAML file; none are compiled in.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the complete ragd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	VectorStore   VectorStoreConfig   `koanf:"vectorstore"`
	Qdrant        QdrantConfig        `koanf:"qdrant"`
	Chromem       ChromemConfig       `koanf:"chromem"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	LLM           LLMConfig           `koanf:"llm"`
	Chunking      ChunkingConfig      `koanf:"chunking"`
	Retrieval     RetrievalConfig     `koanf:"retrieval"`
	Conversation  ConversationConfig  `koanf:"conversation"`
	Redis         RedisConfig         `koanf:"redis"`
	Ingestion     IngestionConfig     `koanf:"ingestion"`
	NATS          NATSConfig          `koanf:"nats"`
	Secrets       SecretsConfig       `koanf:"secrets"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ReadTimeout     Duration `koanf:"read_timeout"`
	WriteTimeout    Duration `koanf:"write_timeout"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// VectorStoreConfig selects the vector index backend.
type VectorStoreConfig struct {
	// Provider is "qdrant" or "chromem".
	Provider   string `koanf:"provider"`
	Collection string `koanf:"collection"`
	VectorSize int    `koanf:"vector_size"`
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	Host         string   `koanf:"host"`
	Port         int      `koanf:"port"`
	APIKey       Secret   `koanf:"api_key"`
	UseTLS       bool     `koanf:"use_tls"`
	MaxRetries   int      `koanf:"max_retries"`
	RetryBackoff Duration `koanf:"retry_backoff"`
}

// ChromemConfig holds embedded vector database settings. An empty Path keeps
// the index in memory.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// EmbeddingsConfig selects and configures the embedding model.
type EmbeddingsConfig struct {
	// Provider is "ollama" or "tei".
	Provider  string   `koanf:"provider"`
	BaseURL   string   `koanf:"base_url"`
	Model     string   `koanf:"model"`
	Dimension int      `koanf:"dimension"`
	Timeout   Duration `koanf:"timeout"`
}

// LLMConfig selects and configures the chat-completion model.
type LLMConfig struct {
	// Provider is "ollama" or "openai".
	Provider    string   `koanf:"provider"`
	BaseURL     string   `koanf:"base_url"`
	Model       string   `koanf:"model"`
	APIKey      Secret   `koanf:"api_key"`
	Temperature float64  `koanf:"temperature"`
	Timeout     Duration `koanf:"timeout"`
}

// ChunkingConfig holds splitter parameters, in runes.
type ChunkingConfig struct {
	Size    int `koanf:"size"`
	Overlap int `koanf:"overlap"`
}

// RetrievalConfig holds similarity search parameters.
type RetrievalConfig struct {
	TopK int `koanf:"top_k"`
	// Category, when set, restricts chat retrieval to one category.
	Category string `koanf:"category"`
}

// ConversationConfig controls per-user history storage.
type ConversationConfig struct {
	// Backend is "memory" or "redis".
	Backend         string   `koanf:"backend"`
	SystemPrompt    string   `koanf:"system_prompt"`
	TTL             Duration `koanf:"ttl"`
	MaxSessions     int      `koanf:"max_sessions"`
	CleanupInterval Duration `koanf:"cleanup_interval"`
}

// RedisConfig holds Redis connection settings for the redis conversation backend.
type RedisConfig struct {
	Addr      string `koanf:"addr"`
	Password  Secret `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

// IngestionConfig controls document uploads.
type IngestionConfig struct {
	DefaultCategory string   `koanf:"default_category"`
	MaxUploadBytes  int64    `koanf:"max_upload_bytes"`
	EmbedRate       float64  `koanf:"embed_rate"`
	EmbedBurst      int      `koanf:"embed_burst"`
	AsyncTimeout    Duration `koanf:"async_timeout"`
}

// NATSConfig enables operation lifecycle events. An empty URL disables them.
type NATSConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// SecretsConfig controls secret redaction of ingested text.
type SecretsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	AllowlistPath string `koanf:"allowlist_path"`
}

// LoggingConfig holds the logger settings exposed through configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ObservabilityConfig holds OpenTelemetry settings.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	Endpoint        string `koanf:"endpoint"`
	Protocol        string `koanf:"protocol"`
	Insecure        bool   `koanf:"insecure"`
}

// Default returns a configuration populated with defaults: a local Ollama
// with llama3.1:8b and nomic-embed-text, and a local Qdrant.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(5 * time.Minute),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		VectorStore: VectorStoreConfig{
			Provider:   "qdrant",
			Collection: "fbt-knowledge-base",
			VectorSize: 768,
		},
		Qdrant: QdrantConfig{
			Host:         "localhost",
			Port:         6334,
			MaxRetries:   3,
			RetryBackoff: Duration(time.Second),
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "ollama",
			BaseURL:   "http://localhost:11434",
			Model:     "nomic-embed-text",
			Dimension: 768,
			Timeout:   Duration(30 * time.Second),
		},
		LLM: LLMConfig{
			Provider:    "ollama",
			BaseURL:     "http://localhost:11434",
			Model:       "llama3.1:8b",
			Temperature: 0.2,
			Timeout:     Duration(2 * time.Minute),
		},
		Chunking: ChunkingConfig{
			Size:    1000,
			Overlap: 100,
		},
		Retrieval: RetrievalConfig{
			TopK: 3,
		},
		Conversation: ConversationConfig{
			Backend:         "memory",
			SystemPrompt:    DefaultSystemPrompt,
			TTL:             Duration(24 * time.Hour),
			MaxSessions:     10000,
			CleanupInterval: Duration(5 * time.Minute),
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "ragd:conv:",
		},
		Ingestion: IngestionConfig{
			DefaultCategory: "FBT",
			MaxUploadBytes:  50 << 20,
			AsyncTimeout:    Duration(30 * time.Minute),
		},
		NATS: NATSConfig{
			SubjectPrefix: "ragd.operations",
		},
		Secrets: SecretsConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Observability: ObservabilityConfig{
			ServiceName: "ragd",
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			Insecure:    true,
		},
	}
}

// DefaultSystemPrompt seeds every new conversation.
const DefaultSystemPrompt = "You are a helpful assistant that answers questions about " +
	"Fringe Benefits Tax (FBT) using the provided context. If the context does not " +
	"contain the answer, say so instead of guessing."

// Validate checks ranges, enumerations and cross-field invariants.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port out of range: %d", c.Server.Port)
	}

	switch c.VectorStore.Provider {
	case "qdrant":
		if c.Qdrant.Host == "" {
			add("qdrant.host required")
		}
		if c.Qdrant.Port <= 0 || c.Qdrant.Port > 65535 {
			add("qdrant.port out of range: %d", c.Qdrant.Port)
		}
	case "chromem":
	default:
		add("vectorstore.provider must be qdrant or chromem, got %q", c.VectorStore.Provider)
	}
	if c.VectorStore.Collection == "" {
		add("vectorstore.collection required")
	}
	if c.VectorStore.VectorSize <= 0 {
		add("vectorstore.vector_size must be positive")
	}

	switch c.Embeddings.Provider {
	case "ollama", "tei":
	default:
		add("embeddings.provider must be ollama or tei, got %q", c.Embeddings.Provider)
	}
	if err := validateURL(c.Embeddings.BaseURL); err != nil {
		add("embeddings.base_url: %v", err)
	}
	if c.Embeddings.Dimension <= 0 {
		add("embeddings.dimension must be positive")
	}
	if c.Embeddings.Dimension != c.VectorStore.VectorSize {
		add("embeddings.dimension (%d) must equal vectorstore.vector_size (%d)",
			c.Embeddings.Dimension, c.VectorStore.VectorSize)
	}

	switch c.LLM.Provider {
	case "ollama":
	case "openai":
		if !c.LLM.APIKey.IsSet() && c.LLM.BaseURL == "" {
			add("llm.api_key required for openai without a custom base_url")
		}
	default:
		add("llm.provider must be ollama or openai, got %q", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		add("llm.model required")
	}

	if c.Chunking.Size <= 0 {
		add("chunking.size must be positive")
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		add("chunking.overlap must be in [0, size): %d", c.Chunking.Overlap)
	}
	if c.Retrieval.TopK <= 0 {
		add("retrieval.top_k must be positive")
	}

	switch c.Conversation.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			add("redis.addr required for redis conversation backend")
		}
	default:
		add("conversation.backend must be memory or redis, got %q", c.Conversation.Backend)
	}
	if c.Conversation.MaxSessions < 0 {
		add("conversation.max_sessions cannot be negative")
	}

	if c.Ingestion.DefaultCategory == "" {
		add("ingestion.default_category required")
	}
	if c.Ingestion.MaxUploadBytes <= 0 {
		add("ingestion.max_upload_bytes must be positive")
	}
	if c.Ingestion.EmbedRate < 0 {
		add("ingestion.embed_rate cannot be negative")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		add("logging.format must be json or console, got %q", c.Logging.Format)
	}

	return errors.Join(errs...)
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("host required")
	}
	return nil
}
