package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestChecked_DimensionMismatch(t *testing.T) {
	inner := NewFake(4)
	e := Checked(&lying{Fake: inner, report: 8}, "fake", zap.NewNop())

	_, err := e.EmbedQuery(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)

	_, err = e.EmbedDocuments(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

// lying reports a dimension different from what it returns.
type lying struct {
	*Fake
	report int
}

func (l *lying) Dimension() int { return l.report }

func TestChecked_WrapsProviderErrors(t *testing.T) {
	f := NewFake(3)
	f.Fail = func(string) error { return errors.New("connection refused") }
	e := Checked(f, "fake", nil)

	_, err := e.EmbedQuery(context.Background(), "q")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "connection refused")

	_, err = e.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = e.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestChecked_Idempotent(t *testing.T) {
	e := Checked(NewFake(3), "fake", nil)
	assert.Same(t, e, Checked(e, "fake", nil))
}

func TestProbe(t *testing.T) {
	assert.NoError(t, Probe(context.Background(), NewFake(768)))

	err := Probe(context.Background(), &lying{Fake: NewFake(384), report: 768})
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestFake_Deterministic(t *testing.T) {
	f := NewFake(16)
	a, _ := f.EmbedQuery(context.Background(), "car fringe benefits")
	b, _ := f.EmbedQuery(context.Background(), "car fringe benefits")
	c, _ := f.EmbedQuery(context.Background(), "meal entertainment")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, 3, f.Calls())
}

func TestTEIProvider(t *testing.T) {
	var got teiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embed", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		switch in := got.Inputs.(type) {
		case string:
			_ = json.NewEncoder(w).Encode([][]float32{{0.1, 0.2, 0.3}})
		case []interface{}:
			out := make([][]float32, len(in))
			for i := range out {
				out[i] = []float32{float32(i), 0, 0}
			}
			_ = json.NewEncoder(w).Encode(out)
		}
	}))
	defer srv.Close()

	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL + "/", Dimension: 3})
	require.NoError(t, err)
	defer p.Close()

	vec, err := p.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.True(t, got.Truncate)

	vecs, err := p.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, float32(1), vecs[1][0])
}

func TestTEIProvider_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL, Dimension: 3})
	require.NoError(t, err)

	_, err = p.EmbedQuery(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "503")
}

func TestOllamaProvider(t *testing.T) {
	var models []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)
		var req struct {
			Model string `json:"model"`
			Input string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		models = append(models, req.Model)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{float32(len(req.Input)), 1, 0}},
		})
	}))
	defer srv.Close()

	e, err := NewProvider(config.EmbeddingsConfig{
		Provider:  "ollama",
		BaseURL:   srv.URL,
		Model:     "nomic-embed-text",
		Dimension: 3,
	}, zap.NewNop())
	require.NoError(t, err)

	vec, err := e.EmbedQuery(context.Background(), "four")
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 1, 0}, vec)
	assert.Equal(t, []string{"nomic-embed-text"}, models)

	require.NoError(t, Probe(context.Background(), e))
}

func TestNewProvider_Invalid(t *testing.T) {
	_, err := NewProvider(config.EmbeddingsConfig{Provider: "fastembed", Dimension: 3}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewProvider(config.EmbeddingsConfig{Provider: "ollama", BaseURL: "http://x", Model: "m"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewProvider(config.EmbeddingsConfig{Provider: "ollama", BaseURL: "not a url", Model: "m", Dimension: 3}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
