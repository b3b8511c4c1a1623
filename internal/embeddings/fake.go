package embeddings

import (
	"context"
	"hash/fnv"
	"sync"
)

// Fake is a deterministic in-process Embedder for tests and offline runs.
// Identical texts map to identical vectors.
type Fake struct {
	Dim int
	// Fail, when set, is consulted before each text is embedded.
	Fail func(text string) error

	mu    sync.Mutex
	calls int
}

// NewFake returns a Fake producing dim-length vectors.
func NewFake(dim int) *Fake { return &Fake{Dim: dim} }

// Calls reports how many texts were embedded.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *Fake) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.Fail != nil {
		if err := f.Fail(text); err != nil {
			return nil, err
		}
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, f.Dim)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(seed>>40)/float32(1<<24) - 0.5
	}
	return vec, nil
}

func (f *Fake) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *Fake) Dimension() int { return f.Dim }
func (f *Fake) Close() error   { return nil }
