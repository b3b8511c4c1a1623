// Package ingestion rebuilds the knowledge-base collection from document
// pages: split, optionally redact, embed, then replace the collection in one
// batch.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/chunker"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrIngestionFatal is wrapped by every error Ingest returns. The collection
// is unchanged when zero chunks were embedded; otherwise it may have been
// dropped.
var ErrIngestionFatal = errors.New("ingestion failed")

var tracer = otel.Tracer("ragd.ingestion")

// Redactor masks secrets in chunk text and reports how many it replaced.
type Redactor interface {
	Redact(text string) (string, int)
}

// Result summarizes one ingestion.
type Result struct {
	// Written is the number of records upserted.
	Written int `json:"written"`
	// Attempted is the number of non-blank chunks produced by the splitter.
	Attempted int `json:"attempted"`
	// Skipped counts chunks whose embedding failed.
	Skipped int `json:"skipped"`
	// Redacted counts secrets masked across all chunks.
	Redacted int `json:"redacted"`
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRedactor scrubs each chunk before it is embedded.
func WithRedactor(r Redactor) Option {
	return func(p *Pipeline) { p.redactor = r }
}

// WithRateLimit paces embedding calls. A nil limiter disables pacing.
func WithRateLimit(l *rate.Limiter) Option {
	return func(p *Pipeline) { p.limiter = l }
}

// Pipeline writes documents into one collection. Concurrent Ingest calls
// serialize on the collection rewrite.
type Pipeline struct {
	splitter   *chunker.Splitter
	embedder   embeddings.Embedder
	index      vectorstore.Index
	collection string
	logger     *logging.Logger

	redactor Redactor
	limiter  *rate.Limiter

	mu sync.Mutex
}

// NewPipeline creates a Pipeline for collection.
func NewPipeline(splitter *chunker.Splitter, embedder embeddings.Embedder, index vectorstore.Index,
	collection string, logger *logging.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &Pipeline{
		splitter:   splitter,
		embedder:   embedder,
		index:      index,
		collection: collection,
		logger:     logger.Named("ingestion"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Collection returns the collection this pipeline writes.
func (p *Pipeline) Collection() string { return p.collection }

// Ingest replaces the collection contents with the chunks of pages. Page
// numbers are 1-indexed and chunk indexes restart at 0 on every page.
func (p *Pipeline) Ingest(ctx context.Context, pages []string, sourceID, category string) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "ingestion.Ingest")
	start := time.Now()
	defer func() {
		outcome := "ok"
		switch {
		case err != nil:
			outcome = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case res.Attempted == 0:
			outcome = "empty"
		}
		runsTotal.WithLabelValues(outcome).Inc()
		runDuration.Observe(time.Since(start).Seconds())
		span.SetAttributes(
			attribute.Int("written", res.Written),
			attribute.Int("skipped", res.Skipped),
		)
		span.End()
	}()

	span.SetAttributes(
		attribute.String("source", sourceID),
		attribute.String("category", category),
		attribute.String("collection", p.collection),
		attribute.Int("pages", len(pages)),
	)

	chunks := p.split(pages, sourceID, category)
	res.Attempted = len(chunks)
	if len(chunks) == 0 {
		p.logger.Info(ctx, "document produced no chunks; collection left unchanged",
			zap.String("source", sourceID),
			zap.Int("pages", len(pages)),
		)
		return Result{}, nil
	}

	records := make([]vectorstore.Record, 0, len(chunks))
	for _, c := range chunks {
		if p.redactor != nil {
			text, n := p.redactor.Redact(c.Content)
			c.Content = text
			res.Redacted += n
		}

		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return res, fmt.Errorf("%w: waiting for embedding rate limit: %w", ErrIngestionFatal, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("%w: %w", ErrIngestionFatal, err)
		}

		vecs, err := p.embedder.EmbedDocuments(ctx, []string{c.Content})
		if err != nil || len(vecs) != 1 {
			if err == nil {
				err = fmt.Errorf("%w: got %d vectors for one chunk", embeddings.ErrEmbeddingFailed, len(vecs))
			}
			res.Skipped++
			chunksTotal.WithLabelValues("skipped").Inc()
			p.logger.Warn(ctx, "skipping chunk: embedding failed",
				zap.String("source", sourceID),
				zap.Int("page", c.PageNumber),
				zap.Int("chunk", c.ChunkIndex),
				zap.Error(err),
			)
			continue
		}
		p.logger.Trace(ctx, "chunk embedded",
			zap.Int("page", c.PageNumber),
			zap.Int("chunk", c.ChunkIndex),
			zap.Int("dimension", len(vecs[0])),
		)
		records = append(records, vectorstore.NewRecord(c, vecs[0]))
	}

	if len(records) == 0 {
		return res, fmt.Errorf("%w: no chunks embedded (%d attempted)", ErrIngestionFatal, res.Attempted)
	}

	if err := p.replace(ctx, records); err != nil {
		return res, err
	}

	res.Written = len(records)
	chunksTotal.WithLabelValues("written").Add(float64(res.Written))
	p.logger.Info(ctx, "document ingested",
		zap.String("source", sourceID),
		zap.String("category", category),
		zap.Int("written", res.Written),
		zap.Int("skipped", res.Skipped),
		zap.Int("redacted", res.Redacted),
	)
	return res, nil
}

func (p *Pipeline) split(pages []string, sourceID, category string) []vectorstore.Chunk {
	var chunks []vectorstore.Chunk
	for i, page := range pages {
		if strings.TrimSpace(page) == "" {
			continue
		}
		idx := 0
		for _, text := range p.splitter.Split(page) {
			if strings.TrimSpace(text) == "" {
				continue
			}
			chunks = append(chunks, vectorstore.Chunk{
				Content:    text,
				SourceID:   sourceID,
				PageNumber: i + 1,
				ChunkIndex: idx,
				Category:   category,
			})
			idx++
		}
	}
	return chunks
}

// replace drops, recreates and fills the collection under the pipeline lock.
func (p *Pipeline) replace(ctx context.Context, records []vectorstore.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	exists, err := p.index.CollectionExists(ctx, p.collection)
	if err != nil {
		return fmt.Errorf("%w: checking collection: %w", ErrIngestionFatal, err)
	}
	if exists {
		if err := p.index.DeleteCollection(ctx, p.collection); err != nil {
			return fmt.Errorf("%w: dropping collection: %w", ErrIngestionFatal, err)
		}
	}
	if err := p.index.CreateCollection(ctx, p.collection, p.embedder.Dimension()); err != nil {
		return fmt.Errorf("%w: creating collection: %w", ErrIngestionFatal, err)
	}
	if err := p.index.Upsert(ctx, p.collection, records); err != nil {
		return fmt.Errorf("%w: upserting %d records: %w", ErrIngestionFatal, len(records), err)
	}
	return nil
}
