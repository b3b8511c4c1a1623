// Package retrieval finds the knowledge-base chunks most similar to a query.
package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// DefaultTopK is used when Retrieve is called with topK <= 0.
const DefaultTopK = 3

// ErrEmbedding is returned when the query could not be embedded. It is the
// only error Retrieve returns.
var ErrEmbedding = errors.New("query embedding failed")

var tracer = otel.Tracer("ragd.retrieval")

// Outcome is the result of one retrieval.
type Outcome struct {
	// Results in index score order, blank contents removed.
	Results []vectorstore.Result
	// Dropped counts blank results removed from the index response.
	Dropped int
	// SearchFailed is set when the index call failed and Results is empty
	// for that reason.
	SearchFailed bool
}

// Engine embeds queries and searches one collection.
type Engine struct {
	embedder   embeddings.Embedder
	index      vectorstore.Index
	collection string
	logger     *logging.Logger
}

// NewEngine creates an Engine over collection.
func NewEngine(embedder embeddings.Embedder, index vectorstore.Index, collection string, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{embedder: embedder, index: index, collection: collection, logger: logger.Named("retrieval")}
}

// Retrieve embeds query and returns up to topK results. An empty category
// searches everything. Search failures degrade to an empty Outcome with a nil
// error; only an embedding failure is returned, wrapping ErrEmbedding.
func (e *Engine) Retrieve(ctx context.Context, query string, topK int, category string) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "retrieval.Retrieve")
	defer span.End()

	if topK <= 0 {
		topK = DefaultTopK
	}
	span.SetAttributes(
		attribute.Int("top_k", topK),
		attribute.String("category", category),
		attribute.String("collection", e.collection),
	)

	vec, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return Outcome{}, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}

	hits, err := e.index.Search(ctx, e.collection, vec, topK, vectorstore.CategoryFilter(category))
	if err != nil {
		searchFailures.Inc()
		span.RecordError(err)
		e.logger.Warn(ctx, "vector search failed, continuing without context",
			zap.String("collection", e.collection),
			zap.Error(err),
		)
		return Outcome{SearchFailed: true}, nil
	}

	out := Outcome{Results: make([]vectorstore.Result, 0, len(hits))}
	for _, h := range hits {
		if h.IsBlank() {
			out.Dropped++
			continue
		}
		out.Results = append(out.Results, h)
	}
	if out.Dropped > 0 {
		noiseDropped.Add(float64(out.Dropped))
		e.logger.Debug(ctx, "dropped blank search results", zap.Int("count", out.Dropped))
	}

	span.SetAttributes(attribute.Int("results_count", len(out.Results)))
	span.SetStatus(codes.Ok, "success")
	return out, nil
}
