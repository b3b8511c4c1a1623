package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("ragd.vectorstore.chromem")

// errPrecomputedOnly is returned by the collection embedding function. Every
// record reaching chromem already carries its vector.
var errPrecomputedOnly = errors.New("chromem collections only accept precomputed embeddings")

// ChromemConfig holds configuration for the embedded chromem-go database.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	Path string

	// Compress enables gzip compression of persisted documents.
	Compress bool

	// VectorSize is the dimension D of every stored vector.
	VectorSize int
}

// Validate validates the configuration.
func (c ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return nil
}

// ChromemStore is an Index backed by chromem-go.
type ChromemStore struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger

	// dims remembers the dimension each collection was created with.
	dims sync.Map
}

// NewChromemStore opens (or creates) the chromem database.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(config.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
		config.Path = path
	}

	logger.Info("chromem store initialized",
		zap.String("path", config.Path),
		zap.Bool("persistent", config.Path != ""),
		zap.Int("vector_size", config.VectorSize),
	)
	return &ChromemStore{db: db, config: config, logger: logger}, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func precomputedOnly(context.Context, string) ([]float32, error) {
	return nil, errPrecomputedOnly
}

func (s *ChromemStore) dimension(name string) int {
	if d, ok := s.dims.Load(name); ok {
		return d.(int)
	}
	return s.config.VectorSize
}

// Health always succeeds; the database lives in process.
func (s *ChromemStore) Health(context.Context) error { return nil }

// Close is a no-op. Persistent databases write through on every change.
func (s *ChromemStore) Close() error { return nil }

// CollectionExists checks if a collection exists.
func (s *ChromemStore) CollectionExists(_ context.Context, name string) (bool, error) {
	if err := ValidateCollectionName(name); err != nil {
		return false, err
	}
	return s.db.GetCollection(name, precomputedOnly) != nil, nil
}

// CreateCollection creates a collection. Creating an existing collection is
// an error; callers drop it first.
func (s *ChromemStore) CreateCollection(ctx context.Context, name string, dimension int) error {
	_, span := chromemTracer.Start(ctx, "ChromemStore.CreateCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name), attribute.Int("vector_size", dimension))

	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfig, dimension)
	}
	if s.db.GetCollection(name, precomputedOnly) != nil {
		return fmt.Errorf("creating collection %s: already exists", name)
	}

	_, err := s.db.CreateCollection(name, map[string]string{"dimension": strconv.Itoa(dimension)}, precomputedOnly)
	recordOperation("chromem", "create_collection", err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	s.dims.Store(name, dimension)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// DeleteCollection drops a collection. A missing collection is not an error.
func (s *ChromemStore) DeleteCollection(ctx context.Context, name string) error {
	_, span := chromemTracer.Start(ctx, "ChromemStore.DeleteCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	err := s.db.DeleteCollection(name)
	recordOperation("chromem", "delete_collection", err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting collection %s: %w", name, err)
	}
	s.dims.Delete(name)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Upsert writes every record. The collection must exist.
func (s *ChromemStore) Upsert(ctx context.Context, name string, records []Record) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name), attribute.Int("record_count", len(records)))

	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if err := validateRecords(records, s.dimension(name)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	collection := s.db.GetCollection(name, precomputedOnly)
	if collection == nil {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		docs[i] = chromem.Document{
			ID:        r.ID.String(),
			Content:   r.Content,
			Metadata:  chunkToMetadata(r.Chunk),
			Embedding: r.Embedding,
		}
	}

	err := collection.AddDocuments(ctx, docs, 1)
	recordOperation("chromem", "upsert", err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting %d documents to collection %s: %w", len(docs), name, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Search returns the k most similar records. k is clamped to the collection
// size because chromem rejects larger requests.
func (s *ChromemStore) Search(ctx context.Context, name string, vector []float32, k int, filter Filter) ([]Result, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name), attribute.Int("k", k))

	if err := ValidateCollectionName(name); err != nil {
		return nil, err
	}
	collection := s.db.GetCollection(name, precomputedOnly)
	if collection == nil {
		err := fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if dim := s.dimension(name); len(vector) != dim {
		return nil, fmt.Errorf("%w: query has %d, want %d", ErrDimensionMismatch, len(vector), dim)
	}

	k = min(k, collection.Count())
	if k <= 0 {
		return nil, nil
	}

	var where map[string]string
	if len(filter) > 0 {
		where = map[string]string(filter)
	}

	hits, err := collection.QueryEmbedding(ctx, vector, k, where, nil)
	recordOperation("chromem", "search", err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", name, err)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		rec, err := recordFromDocument(h)
		if err != nil {
			s.logger.Warn("skipping malformed chromem document", zap.String("id", h.ID), zap.Error(err))
			continue
		}
		results = append(results, Result{Record: rec, Score: h.Similarity})
	}
	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

func chunkToMetadata(c Chunk) map[string]string {
	return map[string]string{
		FieldSource:     c.SourceID,
		FieldPageNumber: strconv.Itoa(c.PageNumber),
		FieldChunkIndex: strconv.Itoa(c.ChunkIndex),
		FieldCategory:   c.Category,
	}
}

func recordFromDocument(h chromem.Result) (Record, error) {
	page, err := strconv.Atoi(h.Metadata[FieldPageNumber])
	if err != nil {
		return Record{}, fmt.Errorf("page_number: %w", err)
	}
	idx, err := strconv.Atoi(h.Metadata[FieldChunkIndex])
	if err != nil {
		return Record{}, fmt.Errorf("chunk_index: %w", err)
	}
	rec := Record{
		Chunk: Chunk{
			Content:    h.Content,
			SourceID:   h.Metadata[FieldSource],
			PageNumber: page,
			ChunkIndex: idx,
			Category:   h.Metadata[FieldCategory],
		},
	}
	if id, err := uuid.Parse(h.ID); err == nil {
		rec.ID = id
	}
	return rec, nil
}

var _ Index = (*ChromemStore)(nil)
