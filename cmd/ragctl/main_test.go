package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragd/internal/commands"
	"github.com/fyrsmithlabs/ragd/internal/extract"
	ragdhttp "github.com/fyrsmithlabs/ragd/internal/http"
	"github.com/fyrsmithlabs/ragd/internal/operations"
)

// stubServer mimics the ragd API closely enough for the CLI.
type stubServer struct {
	lastChat     ragdhttp.ChatRequest
	lastUpload   string
	lastCategory string
	lastArgs     commands.Args
	polls        atomic.Int32
}

func (s *stubServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, code int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, ragdhttp.HealthResponse{Status: "ok"})
	})
	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, ragdhttp.HealthResponse{Status: "unavailable", Error: "qdrant down"})
	})
	mux.HandleFunc("POST /api/chat/send", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&s.lastChat))
		writeJSON(w, http.StatusOK, ragdhttp.ChatResponse{Reply: "It depends on the car."})
	})
	mux.HandleFunc("GET /api/chat/history", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("user_id") == "nobody" {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "no conversation for user"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user_id": r.URL.Query().Get("user_id"),
			"turns":   []map[string]string{{"role": "user", "text": "hi"}, {"role": "assistant", "text": "hello"}},
		})
	})
	mux.HandleFunc("DELETE /api/chat/history", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /api/ingestion/upload", func(w http.ResponseWriter, r *http.Request) {
		fh, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		_, _ = io.Copy(io.Discard, fh)
		s.lastUpload = hdr.Filename
		s.lastCategory = r.FormValue("category")
		if r.URL.Query().Get("async") == "true" {
			writeJSON(w, http.StatusAccepted, ragdhttp.UploadAccepted{OperationID: "op-1"})
			return
		}
		_, _ = io.WriteString(w, "File '"+hdr.Filename+"' ingested: 2 chunks stored.")
	})
	mux.HandleFunc("GET /api/operations/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "op-1" {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "operation not found"})
			return
		}
		status := operations.StatusRunning
		if s.polls.Add(1) > 1 {
			status = operations.StatusCompleted
		}
		writeJSON(w, http.StatusOK, operations.Operation{
			ID: "op-1", Kind: "ingest_pdf", Status: status,
			Result: map[string]int{"written": 2},
		})
	})
	mux.HandleFunc("GET /api/commands", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, ragdhttp.CommandList{Commands: commands.Default().List()})
	})
	mux.HandleFunc("POST /api/commands/{name}", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&s.lastArgs))
		out, err := commands.Default().Run(r.Context(), r.PathValue("name"), s.lastArgs)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, ragdhttp.CommandResponse{Result: out})
	})
	return mux
}

func execute(t *testing.T, serverURL string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--server", serverURL}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func setup(t *testing.T) (*stubServer, string) {
	t.Helper()
	stub := &stubServer{}
	srv := httptest.NewServer(stub.handler(t))
	t.Cleanup(srv.Close)
	return stub, srv.URL
}

func TestChat(t *testing.T) {
	stub, url := setup(t)

	out, err := execute(t, url, "chat", "--user", "alice", "is", "my", "car", "taxable?")
	require.NoError(t, err)
	assert.Equal(t, "It depends on the car.\n", out)
	assert.Equal(t, "alice", stub.lastChat.UserID)
	assert.Equal(t, "is my car taxable?", stub.lastChat.Message)

	_, err = execute(t, url, "chat")
	assert.Error(t, err)
}

func TestHistory(t *testing.T) {
	_, url := setup(t)

	out, err := execute(t, url, "history", "--user", "alice")
	require.NoError(t, err)
	assert.Equal(t, "[user] hi\n[assistant] hello\n", out)

	_, err = execute(t, url, "history", "--user", "nobody")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conversation for user")

	out, err = execute(t, url, "history", "--user", "alice", "--reset")
	require.NoError(t, err)
	assert.Contains(t, out, "Conversation for alice reset.")
}

func TestIngest(t *testing.T) {
	stub, url := setup(t)
	path := filepath.Join(t.TempDir(), "guide.pdf")
	require.NoError(t, os.WriteFile(path, extract.SamplePDF("Car benefits"), 0o600))

	out, err := execute(t, url, "ingest", "--category", "Payroll", path)
	require.NoError(t, err)
	assert.Equal(t, "File 'guide.pdf' ingested: 2 chunks stored.\n", out)
	assert.Equal(t, "guide.pdf", stub.lastUpload)
	assert.Equal(t, "Payroll", stub.lastCategory)

	_, err = execute(t, url, "ingest", filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)
}

func TestIngest_AsyncWait(t *testing.T) {
	stub, url := setup(t)
	path := filepath.Join(t.TempDir(), "guide.pdf")
	require.NoError(t, os.WriteFile(path, extract.SamplePDF("Car benefits"), 0o600))

	out, err := execute(t, url, "ingest", "--async", path)
	require.NoError(t, err)
	assert.Equal(t, "Operation: op-1\n", out)
	assert.Empty(t, stub.lastCategory)

	out, err = execute(t, url, "ingest", "--async", "--wait", "--poll-interval", "10ms", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Status:    completed")
	assert.Contains(t, out, `Result:    {"written":2}`)
	assert.GreaterOrEqual(t, stub.polls.Load(), int32(2))
}

func TestStatus(t *testing.T) {
	_, url := setup(t)

	out, err := execute(t, url, "status", "op-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Kind:      ingest_pdf")

	_, err = execute(t, url, "status", "op-unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operation not found")
}

func TestCommand(t *testing.T) {
	stub, url := setup(t)

	out, err := execute(t, url, "command")
	require.NoError(t, err)
	assert.Contains(t, out, "calculate_car_fbt:")
	assert.Contains(t, out, "car_value (number, required)")

	out, err = execute(t, url, "command", "calculate_car_fbt", "--arg", "car_value=50000", "--arg", "days_available=365")
	require.NoError(t, err)
	assert.Equal(t, "Estimated FBT: $9776.94\n", out)
	assert.Equal(t, commands.Args{"car_value": "50000", "days_available": "365"}, stub.lastArgs)

	_, err = execute(t, url, "command", "calculate_car_fbt", "--arg", "car_value")
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	_, url := setup(t)

	out, err := execute(t, url, "health")
	require.Error(t, err)
	assert.Contains(t, out, "Server Status: ok")
	assert.Contains(t, err.Error(), "qdrant down")
}

func TestParseArgs(t *testing.T) {
	args, err := parseArgs([]string{"a=1", "b = x=y"})
	require.NoError(t, err)
	assert.Equal(t, commands.Args{"a": "1", "b": " x=y"}, args)

	_, err = parseArgs([]string{"=1"})
	assert.Error(t, err)
}
