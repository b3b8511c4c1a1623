package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/extract"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOllama answers /api/embed with a 4-dimensional vector derived from the
// input and /api/chat with a fixed reply, recording the last chat prompt.
type fakeOllama struct {
	mu         sync.Mutex
	lastSystem string
	lastUser   string
}

func (f *fakeOllama) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/embed":
		var req struct {
			Input string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		n := float32(len(req.Input)%7 + 1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{n, 1, 0.5, 0.25}},
		})
	case "/api/chat":
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		for _, m := range req.Messages {
			switch m.Role {
			case "system":
				f.lastSystem = m.Content
			case "user":
				f.lastUser = m.Content
			}
		}
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":   req.Model,
			"message": map[string]string{"role": "assistant", "content": "Car benefits attract FBT."},
			"done":    true,
		})
	default:
		http.NotFound(w, r)
	}
}

func testConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.VectorStore.Provider = "chromem"
	cfg.VectorStore.Collection = "kb"
	cfg.VectorStore.VectorSize = 4
	cfg.Embeddings.BaseURL = baseURL
	cfg.Embeddings.Dimension = 4
	cfg.LLM.BaseURL = baseURL
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	a, err := newApp(context.Background(), cfg, logging.NewNop(), nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestNewApp_UploadThenChat(t *testing.T) {
	ollama := &fakeOllama{}
	backend := httptest.NewServer(ollama)
	defer backend.Close()

	a := newTestApp(t, testConfig(backend.URL))
	srv, err := a.httpServer()
	require.NoError(t, err)

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile("file", "guide.pdf")
	require.NoError(t, err)
	_, err = fw.Write(extract.SamplePDF("Car fringe benefits are taxable.", "Meal entertainment rules."))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/ingestion/upload", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "File 'guide.pdf' ingested: 2 chunks stored.", rec.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/api/chat/send",
		strings.NewReader(`{"user_id":"alice","message":"Is my car taxable?"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Reply string `json:"reply"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Car benefits attract FBT.", resp.Reply)

	ollama.mu.Lock()
	defer ollama.mu.Unlock()
	assert.Equal(t, config.DefaultSystemPrompt, ollama.lastSystem)
	assert.Contains(t, ollama.lastUser, "Is my car taxable?")
	assert.Contains(t, ollama.lastUser, "fringe benefits")
}

func TestNewApp_MCPServer(t *testing.T) {
	backend := httptest.NewServer(&fakeOllama{})
	defer backend.Close()

	a := newTestApp(t, testConfig(backend.URL))
	_, err := a.mcpServer()
	require.NoError(t, err)
}

func TestNewApp_DimensionMismatch(t *testing.T) {
	backend := httptest.NewServer(&fakeOllama{})
	defer backend.Close()

	cfg := testConfig(backend.URL)
	cfg.Embeddings.Dimension = 8
	cfg.VectorStore.VectorSize = 8
	_, err := newApp(context.Background(), cfg, logging.NewNop(), nil)
	assert.Error(t, err)
}

func TestNewApp_UnknownVectorStore(t *testing.T) {
	backend := httptest.NewServer(&fakeOllama{})
	defer backend.Close()

	cfg := testConfig(backend.URL)
	cfg.VectorStore.Provider = "pinecone"
	_, err := newApp(context.Background(), cfg, logging.NewNop(), nil)
	assert.Error(t, err)
}

func TestNewLogger_StdioUsesStderr(t *testing.T) {
	tel, err := telemetry.New(context.Background(), telemetry.NewDefaultConfig())
	require.NoError(t, err)

	l, err := newLogger(config.Default(), tel, true)
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestRun_RejectsConfigOutsideAllowedDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	err := run(context.Background(), options{configPath: path, envFiles: []string{filepath.Join(t.TempDir(), ".env")}})
	assert.Error(t, err)
}
