// Package llm adapts chat-completion backends to a single ChatModel
// interface that consumes conversation histories.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/conversation"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("ragd.llm")

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyResponse is returned when the model produced no choices.
	ErrEmptyResponse = errors.New("model returned no choices")
)

// ChatModel produces the assistant reply for a conversation.
type ChatModel interface {
	Complete(ctx context.Context, history conversation.History) (string, error)
}

// LangchainModel drives any langchaingo llms.Model.
type LangchainModel struct {
	model       llms.Model
	name        string
	temperature float64
}

// NewLangchainModel wraps an existing langchaingo model.
func NewLangchainModel(model llms.Model, name string, temperature float64) *LangchainModel {
	return &LangchainModel{model: model, name: name, temperature: temperature}
}

// New builds the backend selected by cfg.Provider.
func New(cfg config.LLMConfig) (*LangchainModel, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	httpClient := &http.Client{Timeout: cfg.Timeout.Duration()}

	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case "ollama", "":
		if err := validateURL(cfg.BaseURL); err != nil {
			return nil, err
		}
		model, err = ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
			ollama.WithHTTPClient(httpClient),
		)
	case "openai":
		opts := []openai.Option{
			openai.WithModel(cfg.Model),
			openai.WithToken(cfg.APIKey.Value()),
			openai.WithHTTPClient(httpClient),
		}
		if cfg.BaseURL != "" {
			if err := validateURL(cfg.BaseURL); err != nil {
				return nil, err
			}
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s client: %w", cfg.Provider, err)
	}
	return NewLangchainModel(model, cfg.Model, cfg.Temperature), nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: invalid base URL %q", ErrInvalidConfig, raw)
	}
	return nil
}

// Complete sends the whole history and returns the first choice's text.
func (m *LangchainModel) Complete(ctx context.Context, history conversation.History) (string, error) {
	ctx, span := tracer.Start(ctx, "llm.Complete")
	defer span.End()
	span.SetAttributes(attribute.String("model", m.name), attribute.Int("turns", len(history)))

	start := time.Now()
	resp, err := m.model.GenerateContent(ctx, ToMessages(history), llms.WithTemperature(m.temperature))
	completionDuration.WithLabelValues(m.name).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("generating completion: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		span.SetStatus(codes.Error, ErrEmptyResponse.Error())
		return "", ErrEmptyResponse
	}
	span.SetStatus(codes.Ok, "success")
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

// ToMessages maps conversation turns onto langchaingo message roles.
func ToMessages(history conversation.History) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, len(history))
	for _, t := range history {
		var role llms.ChatMessageType
		switch t.Role {
		case conversation.RoleSystem:
			role = llms.ChatMessageTypeSystem
		case conversation.RoleAssistant:
			role = llms.ChatMessageTypeAI
		default:
			role = llms.ChatMessageTypeHuman
		}
		msgs = append(msgs, llms.TextParts(role, t.Text))
	}
	return msgs
}

var _ ChatModel = (*LangchainModel)(nil)
