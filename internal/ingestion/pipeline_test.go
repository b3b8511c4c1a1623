package ingestion

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/chunker"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

const (
	collection = "kb"
	dim        = 8
)

// spyIndex records write calls on top of a real index.
type spyIndex struct {
	vectorstore.Index
	deletes, creates, upserts int
	upserted                  []vectorstore.Record
	upsertErr                 error
}

func (s *spyIndex) DeleteCollection(ctx context.Context, name string) error {
	s.deletes++
	return s.Index.DeleteCollection(ctx, name)
}

func (s *spyIndex) CreateCollection(ctx context.Context, name string, d int) error {
	s.creates++
	return s.Index.CreateCollection(ctx, name, d)
}

func (s *spyIndex) Upsert(ctx context.Context, name string, records []vectorstore.Record) error {
	s.upserts++
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.upserted = append([]vectorstore.Record(nil), records...)
	return s.Index.Upsert(ctx, name, records)
}

func (s *spyIndex) writes() int { return s.deletes + s.creates + s.upserts }

type stubRedactor struct{ secret string }

func (r stubRedactor) Redact(text string) (string, int) {
	n := strings.Count(text, r.secret)
	return strings.ReplaceAll(text, r.secret, "[REDACTED]"), n
}

func newSpy(t *testing.T) *spyIndex {
	t.Helper()
	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{VectorSize: dim}, nil)
	require.NoError(t, err)
	return &spyIndex{Index: store}
}

func queryVec(t *testing.T) []float32 {
	t.Helper()
	v, err := embeddings.NewFake(dim).EmbedQuery(context.Background(), "query")
	require.NoError(t, err)
	return v
}

func newPipeline(t *testing.T, size, overlap int, emb embeddings.Embedder, idx vectorstore.Index, opts ...Option) *Pipeline {
	t.Helper()
	splitter, err := chunker.New(size, overlap)
	require.NoError(t, err)
	return NewPipeline(splitter, emb, idx, collection, nil, opts...)
}

func TestIngest_PageNumbersAndChunkIndexes(t *testing.T) {
	idx := newSpy(t)
	p := newPipeline(t, 20, 0, embeddings.NewFake(dim), idx)

	pages := []string{
		"alpha beta gamma delta epsilon zeta",
		"   \n\t ",
		"short page",
	}
	res, err := p.Ingest(context.Background(), pages, "guide.pdf", "FBT")
	require.NoError(t, err)

	assert.Equal(t, res.Attempted, res.Written)
	assert.Zero(t, res.Skipped)
	require.Len(t, idx.upserted, res.Written)

	byPage := map[int][]int{}
	for _, r := range idx.upserted {
		assert.Equal(t, "guide.pdf", r.SourceID)
		assert.Equal(t, "FBT", r.Category)
		assert.Len(t, r.Embedding, dim)
		byPage[r.PageNumber] = append(byPage[r.PageNumber], r.ChunkIndex)
	}
	require.Contains(t, byPage, 1)
	require.Contains(t, byPage, 3)
	assert.NotContains(t, byPage, 2)
	assert.Greater(t, len(byPage[1]), 1)
	for page, indexes := range byPage {
		for i, ci := range indexes {
			assert.Equal(t, i, ci, "page %d", page)
		}
	}

	exists, err := idx.CollectionExists(context.Background(), collection)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestIngest_AllBlankPagesTouchNothing(t *testing.T) {
	tests := []struct {
		name  string
		pages []string
	}{
		{name: "no pages", pages: nil},
		{name: "empty pages", pages: []string{"", ""}},
		{name: "whitespace pages", pages: []string{"  ", "\n\n", "\t"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := newSpy(t)
			emb := embeddings.NewFake(dim)
			p := newPipeline(t, 100, 10, emb, idx)

			res, err := p.Ingest(context.Background(), tt.pages, "blank.pdf", "FBT")
			require.NoError(t, err)
			assert.Equal(t, Result{}, res)
			assert.Zero(t, idx.writes())
			assert.Zero(t, emb.Calls())
		})
	}
}

func TestIngest_SkipsFailedChunks(t *testing.T) {
	idx := newSpy(t)
	emb := embeddings.NewFake(dim)
	emb.Fail = func(text string) error {
		if strings.Contains(text, "broken") {
			return errors.New("model unavailable")
		}
		return nil
	}
	tl := logging.NewTestLogger()
	splitter, err := chunker.New(100, 10)
	require.NoError(t, err)
	p := NewPipeline(splitter, emb, idx, collection, tl.Logger)

	res, err := p.Ingest(context.Background(), []string{"good page", "broken page", "fine page"}, "doc.pdf", "FBT")
	require.NoError(t, err)
	assert.Equal(t, Result{Written: 2, Attempted: 3, Skipped: 1}, res)
	require.Len(t, idx.upserted, 2)
	assert.Equal(t, 1, idx.upserted[0].PageNumber)
	assert.Equal(t, 3, idx.upserted[1].PageNumber)
	tl.AssertLogged(t, zapcore.WarnLevel, "skipping chunk")
	tl.AssertLogged(t, logging.TraceLevel, "chunk embedded")
	tl.AssertField(t, "chunk embedded", "page", int64(3))
}

func TestIngest_NothingEmbeddedLeavesCollection(t *testing.T) {
	idx := newSpy(t)
	ctx := context.Background()

	first := newPipeline(t, 100, 10, embeddings.NewFake(dim), idx)
	_, err := first.Ingest(ctx, []string{"existing knowledge"}, "old.pdf", "FBT")
	require.NoError(t, err)
	writes := idx.writes()

	emb := embeddings.NewFake(dim)
	emb.Fail = func(string) error { return errors.New("down") }
	p := newPipeline(t, 100, 10, emb, idx)

	res, err := p.Ingest(ctx, []string{"new page one", "new page two"}, "new.pdf", "FBT")
	require.ErrorIs(t, err, ErrIngestionFatal)
	assert.Contains(t, err.Error(), "no chunks embedded")
	assert.Equal(t, 2, res.Attempted)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, writes, idx.writes())

	hits, err := idx.Search(ctx, collection, queryVec(t), 5, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "old.pdf", hits[0].Record.SourceID)
}

func TestIngest_UpsertFailureIsFatal(t *testing.T) {
	idx := newSpy(t)
	idx.upsertErr = errors.New("disk full")
	p := newPipeline(t, 100, 10, embeddings.NewFake(dim), idx)

	res, err := p.Ingest(context.Background(), []string{"page"}, "doc.pdf", "FBT")
	require.ErrorIs(t, err, ErrIngestionFatal)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, res.Attempted)
	assert.Zero(t, res.Written)
}

func TestIngest_ReplacesCollection(t *testing.T) {
	idx := newSpy(t)
	p := newPipeline(t, 100, 10, embeddings.NewFake(dim), idx)
	ctx := context.Background()

	_, err := p.Ingest(ctx, []string{"first version"}, "v1.pdf", "FBT")
	require.NoError(t, err)
	_, err = p.Ingest(ctx, []string{"second version", "more"}, "v2.pdf", "FBT")
	require.NoError(t, err)

	assert.Equal(t, 1, idx.deletes)
	assert.Equal(t, 2, idx.creates)

	hits, err := idx.Search(ctx, collection, queryVec(t), 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Equal(t, "v2.pdf", h.Record.SourceID)
	}
}

func TestIngest_Redaction(t *testing.T) {
	idx := newSpy(t)
	emb := embeddings.NewFake(dim)
	var embedded []string
	emb.Fail = func(text string) error {
		embedded = append(embedded, text)
		return nil
	}
	p := newPipeline(t, 100, 10, emb, idx, WithRedactor(stubRedactor{secret: "hunter2"}))

	res, err := p.Ingest(context.Background(), []string{"password hunter2 and hunter2"}, "doc.pdf", "FBT")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Redacted)
	require.Len(t, idx.upserted, 1)
	assert.NotContains(t, idx.upserted[0].Content, "hunter2")
	for _, text := range embedded {
		assert.NotContains(t, text, "hunter2")
	}
}

func TestIngest_RateLimit(t *testing.T) {
	t.Run("unlimited", func(t *testing.T) {
		p := newPipeline(t, 100, 10, embeddings.NewFake(dim), newSpy(t), WithRateLimit(rate.NewLimiter(rate.Inf, 1)))
		res, err := p.Ingest(context.Background(), []string{"a", "b", "c"}, "doc.pdf", "FBT")
		require.NoError(t, err)
		assert.Equal(t, 3, res.Written)
	})

	t.Run("deadline exceeded while waiting", func(t *testing.T) {
		idx := newSpy(t)
		limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
		p := newPipeline(t, 100, 10, embeddings.NewFake(dim), idx, WithRateLimit(limiter))

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := p.Ingest(ctx, []string{"a", "b"}, "doc.pdf", "FBT")
		require.ErrorIs(t, err, ErrIngestionFatal)
		assert.Zero(t, idx.writes())
	})
}
