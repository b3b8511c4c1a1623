// Package chat runs one retrieval-augmented chat turn end to end.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/conversation"
	"github.com/fyrsmithlabs/ragd/internal/llm"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/prompt"
	"github.com/fyrsmithlabs/ragd/internal/retrieval"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Replies used when a turn cannot be completed.
const (
	EmbeddingApology  = "I'm sorry, I couldn't process your request right now due to an embedding error."
	GenerationApology = "I'm sorry, I couldn't get a response from the AI model at this moment."
)

var (
	// ErrGeneration wraps chat model and conversation store failures.
	ErrGeneration = errors.New("generation failed")

	// ErrHistoryLost means the history vanished after the user turn was stored.
	ErrHistoryLost = errors.New("conversation history evicted")

	tracer = otel.Tracer("ragd.chat")
)

// State is a step of a chat turn.
type State int

const (
	StateStart State = iota
	StateEmbedding
	StateRetrieving
	StateAssembling
	StateGenerating
	StateDone
	StateErrorFallback
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateEmbedding:
		return "embedding"
	case StateRetrieving:
		return "retrieving"
	case StateAssembling:
		return "assembling"
	case StateGenerating:
		return "generating"
	case StateDone:
		return "done"
	case StateErrorFallback:
		return "error_fallback"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome classifies how a turn ended.
type Outcome string

const (
	OutcomeAnswered        Outcome = "answered"
	OutcomeNoContext       Outcome = "answered_no_context"
	OutcomeEmbeddingError  Outcome = "embedding_error"
	OutcomeGenerationError Outcome = "generation_error"
)

// Result is what Send returns. Reply is always set.
type Result struct {
	Reply   string
	State   State
	Outcome Outcome
	// ContextItems is the number of chunks the reply was grounded on.
	ContextItems int
	// Err is the underlying failure when Outcome is an error outcome.
	Err error
}

// Retriever finds context for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, category string) (retrieval.Outcome, error)
}

// Config holds per-orchestrator retrieval settings.
type Config struct {
	TopK int
	// Category restricts retrieval when set.
	Category string
}

// Orchestrator wires retrieval, prompt assembly, history and generation.
type Orchestrator struct {
	retriever Retriever
	assembler prompt.Assembler
	store     conversation.Store
	model     llm.ChatModel
	config    Config
	logger    *logging.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(r Retriever, store conversation.Store, model llm.ChatModel, cfg Config, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		retriever: r,
		store:     store,
		model:     model,
		config:    cfg,
		logger:    logger.Named("chat"),
	}
}

// Send answers message for userID. Failures are reported through the
// Result's Outcome and an apology Reply; Send never returns an error.
// On generation failure the user turn stays in the history.
func (o *Orchestrator) Send(ctx context.Context, userID, message string) (res Result) {
	ctx = logging.WithUserID(ctx, userID)
	ctx, span := tracer.Start(ctx, "chat.Send")
	start := time.Now()
	defer func() {
		span.SetAttributes(
			attribute.String("outcome", string(res.Outcome)),
			attribute.String("state", res.State.String()),
			attribute.Int("context_items", res.ContextItems),
		)
		span.End()
		requestsTotal.WithLabelValues(string(res.Outcome)).Inc()
		turnDuration.WithLabelValues(string(res.Outcome)).Observe(time.Since(start).Seconds())
	}()

	o.logger.Info(ctx, "processing chat message", logging.RedactedString("message", message))

	res.State = StateEmbedding
	found, err := o.retriever.Retrieve(ctx, message, o.config.TopK, o.config.Category)
	if err != nil {
		o.logger.Error(ctx, "query embedding failed", zap.Error(err))
		return Result{
			Reply:   EmbeddingApology,
			State:   StateErrorFallback,
			Outcome: OutcomeEmbeddingError,
			Err:     err,
		}
	}
	res.State = StateRetrieving
	if found.SearchFailed || len(found.Results) == 0 {
		o.logger.Warn(ctx, "no relevant documents found, answering without context",
			zap.Bool("search_failed", found.SearchFailed))
	}

	res.State = StateAssembling
	userTurn := o.assembler.UserTurn(message, found.Results)
	if err := o.store.Append(ctx, userID, conversation.Turn{Role: conversation.RoleUser, Text: userTurn}); err != nil {
		return o.fallback(ctx, fmt.Errorf("%w: storing user turn: %w", ErrGeneration, err))
	}
	history, ok, err := o.store.Get(ctx, userID)
	if err != nil {
		return o.fallback(ctx, fmt.Errorf("%w: loading history: %w", ErrGeneration, err))
	}
	// Eviction or a reset can land between Append and Get.
	if !ok || len(history) == 0 {
		return o.fallback(ctx, fmt.Errorf("%w: %w", ErrGeneration, ErrHistoryLost))
	}

	res.State = StateGenerating
	reply, err := o.model.Complete(ctx, history)
	if err != nil {
		return o.fallback(ctx, fmt.Errorf("%w: %w", ErrGeneration, err))
	}

	if err := o.store.Append(ctx, userID, conversation.Turn{Role: conversation.RoleAssistant, Text: reply}); err != nil {
		// The caller still gets the reply; only the history misses it.
		o.logger.Error(ctx, "failed to store assistant turn", zap.Error(err))
	}

	res = Result{
		Reply:        reply,
		State:        StateDone,
		Outcome:      OutcomeAnswered,
		ContextItems: len(found.Results),
	}
	if len(found.Results) == 0 {
		res.Outcome = OutcomeNoContext
	}
	o.logger.Info(ctx, "chat turn completed",
		zap.Int("context_items", res.ContextItems),
		zap.Int("history_turns", len(history)+1),
	)
	return res
}

func (o *Orchestrator) fallback(ctx context.Context, err error) Result {
	o.logger.Error(ctx, "chat generation failed", zap.Error(err))
	return Result{
		Reply:   GenerationApology,
		State:   StateErrorFallback,
		Outcome: OutcomeGenerationError,
		Err:     err,
	}
}

// History returns the stored turns for userID.
func (o *Orchestrator) History(ctx context.Context, userID string) (conversation.History, bool, error) {
	return o.store.Get(ctx, userID)
}

// Reset forgets userID's conversation.
func (o *Orchestrator) Reset(ctx context.Context, userID string) error {
	return o.store.Reset(ctx, userID)
}
