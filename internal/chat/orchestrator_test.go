package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/fyrsmithlabs/ragd/internal/conversation"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/retrieval"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

type stubRetriever struct {
	out   retrieval.Outcome
	err   error
	calls int
}

func (s *stubRetriever) Retrieve(context.Context, string, int, string) (retrieval.Outcome, error) {
	s.calls++
	return s.out, s.err
}

type fakeModel struct {
	reply string
	err   error
	seen  []conversation.History
}

func (f *fakeModel) Complete(_ context.Context, h conversation.History) (string, error) {
	f.seen = append(f.seen, h.Clone())
	return f.reply, f.err
}

// failingStore fails every Append.
type failingStore struct{ conversation.Store }

func (failingStore) Append(context.Context, string, conversation.Turn) error {
	return errors.New("redis: connection refused")
}

// evictingStore drops the history right before every read, as a concurrent
// reset or the idle janitor would.
type evictingStore struct{ conversation.Store }

func (s evictingStore) Get(ctx context.Context, userID string) (conversation.History, bool, error) {
	if err := s.Store.Reset(ctx, userID); err != nil {
		return nil, false, err
	}
	return s.Store.Get(ctx, userID)
}

func newStore(t *testing.T) *conversation.MemoryStore {
	t.Helper()
	s, err := conversation.NewMemoryStore(conversation.MemoryConfig{SystemPrompt: "sys"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func hit(content string, page, chunk int) vectorstore.Result {
	return vectorstore.Result{Record: vectorstore.Record{Chunk: vectorstore.Chunk{
		Content: content, SourceID: "guide.pdf", PageNumber: page, ChunkIndex: chunk,
	}}}
}

func TestSend_AnswersWithContext(t *testing.T) {
	store := newStore(t)
	model := &fakeModel{reply: "FBT is paid by employers."}
	r := &stubRetriever{out: retrieval.Outcome{Results: []vectorstore.Result{hit("Employers pay FBT.", 1, 0)}}}
	o := NewOrchestrator(r, store, model, Config{TopK: 3}, nil)

	before := testutil.ToFloat64(requestsTotal.WithLabelValues(string(OutcomeAnswered)))
	res := o.Send(context.Background(), "alice", "Who pays FBT?")

	assert.Equal(t, "FBT is paid by employers.", res.Reply)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, OutcomeAnswered, res.Outcome)
	assert.Equal(t, 1, res.ContextItems)
	assert.NoError(t, res.Err)
	assert.Equal(t, before+1, testutil.ToFloat64(requestsTotal.WithLabelValues(string(OutcomeAnswered))))

	require.Len(t, model.seen, 1)
	sent := model.seen[0]
	require.Len(t, sent, 2)
	assert.Equal(t, conversation.RoleSystem, sent[0].Role)
	assert.Contains(t, sent[1].Text, "- From 'guide.pdf', Page 1, Chunk 0: Employers pay FBT.")
	assert.Contains(t, sent[1].Text, "answer the following question: Who pays FBT?")

	h, ok, err := o.History(context.Background(), "alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, h, 3)
	assert.Equal(t, conversation.Turn{Role: conversation.RoleAssistant, Text: "FBT is paid by employers."}, h[2])
}

func TestSend_NoContext(t *testing.T) {
	model := &fakeModel{reply: "I am not sure."}
	o := NewOrchestrator(&stubRetriever{out: retrieval.Outcome{SearchFailed: true}}, newStore(t), model, Config{}, nil)

	res := o.Send(context.Background(), "bob", "What is FBT?")
	assert.Equal(t, OutcomeNoContext, res.Outcome)
	assert.Equal(t, "I am not sure.", res.Reply)
	assert.Equal(t, "No specific context found. What is FBT?", model.seen[0][1].Text)
}

func TestSend_EmbeddingFailure(t *testing.T) {
	store := newStore(t)
	model := &fakeModel{reply: "unused"}
	tl := logging.NewTestLogger()
	r := &stubRetriever{err: retrieval.ErrEmbedding}
	o := NewOrchestrator(r, store, model, Config{}, tl.Logger)

	res := o.Send(context.Background(), "carol", "q")
	assert.Equal(t, EmbeddingApology, res.Reply)
	assert.Equal(t, StateErrorFallback, res.State)
	assert.Equal(t, OutcomeEmbeddingError, res.Outcome)
	assert.ErrorIs(t, res.Err, retrieval.ErrEmbedding)
	assert.Empty(t, model.seen, "model must not be called")
	tl.AssertField(t, "processing chat message", "message", "[REDACTED:1]")

	_, ok, err := store.Get(context.Background(), "carol")
	require.NoError(t, err)
	assert.False(t, ok, "history must not be touched")
	tl.AssertLogged(t, zapcore.ErrorLevel, "query embedding failed")
	tl.AssertField(t, "query embedding failed", "user.id", "carol")
}

func TestSend_GenerationFailureKeepsUserTurn(t *testing.T) {
	store := newStore(t)
	model := &fakeModel{err: errors.New("ollama: model not found")}
	o := NewOrchestrator(&stubRetriever{}, store, model, Config{}, nil)

	res := o.Send(context.Background(), "dave", "q")
	assert.Equal(t, GenerationApology, res.Reply)
	assert.Equal(t, OutcomeGenerationError, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrGeneration)

	h, ok, err := store.Get(context.Background(), "dave")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, h, 2)
	assert.Equal(t, conversation.RoleUser, h[1].Role)
}

func TestSend_StoreFailure(t *testing.T) {
	model := &fakeModel{reply: "unused"}
	o := NewOrchestrator(&stubRetriever{}, failingStore{Store: newStore(t)}, model, Config{}, nil)

	res := o.Send(context.Background(), "erin", "q")
	assert.Equal(t, GenerationApology, res.Reply)
	assert.Equal(t, OutcomeGenerationError, res.Outcome)
	assert.Empty(t, model.seen)
}

func TestSend_HistoryEvictedBeforeGeneration(t *testing.T) {
	model := &fakeModel{reply: "ok"}
	o := NewOrchestrator(&stubRetriever{}, evictingStore{Store: newStore(t)}, model, Config{}, nil)

	res := o.Send(context.Background(), "alice", "hello")
	assert.Equal(t, GenerationApology, res.Reply)
	assert.Equal(t, OutcomeGenerationError, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrGeneration)
	assert.ErrorIs(t, res.Err, ErrHistoryLost)
	assert.Empty(t, model.seen, "model must not be called without a history")
}

func TestSend_MultiTurnKeepsSingleSystemTurn(t *testing.T) {
	store := newStore(t)
	model := &fakeModel{reply: "ok"}
	o := NewOrchestrator(&stubRetriever{}, store, model, Config{}, nil)

	o.Send(context.Background(), "frank", "first")
	o.Send(context.Background(), "frank", "second")

	require.Len(t, model.seen, 2)
	second := model.seen[1]
	require.Len(t, second, 4)
	systems := 0
	for _, turn := range second {
		if turn.Role == conversation.RoleSystem {
			systems++
		}
	}
	assert.Equal(t, 1, systems)
	assert.Equal(t, conversation.RoleAssistant, second[2].Role)

	require.NoError(t, o.Reset(context.Background(), "frank"))
	_, ok, _ := o.History(context.Background(), "frank")
	assert.False(t, ok)
}

func TestSend_EndToEndWithChromem(t *testing.T) {
	ctx := context.Background()
	emb := embeddings.NewFake(8)
	idx, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{VectorSize: 8}, nil)
	require.NoError(t, err)
	require.NoError(t, idx.CreateCollection(ctx, "kb", 8))
	v, _ := emb.EmbedQuery(ctx, "Car fringe benefits use the statutory formula.")
	require.NoError(t, idx.Upsert(ctx, "kb", []vectorstore.Record{
		vectorstore.NewRecord(vectorstore.Chunk{
			Content: "Car fringe benefits use the statutory formula.", SourceID: "guide.pdf", PageNumber: 3, ChunkIndex: 1, Category: "FBT",
		}, v),
	}))

	model := &fakeModel{reply: "Use the statutory formula."}
	o := NewOrchestrator(retrieval.NewEngine(emb, idx, "kb", nil), newStore(t), model, Config{TopK: 3, Category: "FBT"}, nil)

	res := o.Send(ctx, "gina", "How are car benefits valued?")
	assert.Equal(t, OutcomeAnswered, res.Outcome)
	assert.Contains(t, model.seen[0][1].Text, "Page 3, Chunk 1")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "generating", StateGenerating.String())
	assert.Equal(t, "error_fallback", StateErrorFallback.String())
	assert.Equal(t, "state(42)", State(42).String())
}
