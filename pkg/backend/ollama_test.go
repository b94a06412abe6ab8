package backend_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"github.com/cockroachdb/errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/promptrun/promptrun/pkg/backend"
	"github.com/promptrun/promptrun/pkg/bind"
	"github.com/promptrun/promptrun/pkg/errs"
	"github.com/promptrun/promptrun/pkg/modelopt"
)

// collect runs Generate against be with a consumer goroutine draining the
// fragment channel, returning the fragments in arrival order.
func collect(t *testing.T, be backend.Backend, req backend.Request) ([]string, error) {
	t.Helper()

	out := make(chan string, backend.FragmentBuffer)
	done := make(chan struct{})

	var fragments []string
	go func() {
		defer close(done)
		for f := range out {
			fragments = append(fragments, f)
		}
	}()

	err := be.Generate(context.Background(), req, out)
	close(out)
	<-done

	return fragments, err
}

func newOllama(t *testing.T, host string) *backend.Ollama {
	t.Helper()

	return backend.NewOllama(modelopt.Options{
		Model:      "ollama/llama3",
		OllamaHost: host,
	}, zap.NewNop().Sugar())
}

func writeLines(t *testing.T, w http.ResponseWriter, lines ...string) {
	t.Helper()

	for _, line := range lines {
		_, err := w.Write([]byte(line + "\n"))
		require.NoError(t, err)
	}
}

func TestOllama_StreamsFragmentsInOrder(t *testing.T) {
	var got struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
		System string `json:"system"`
		Stream bool   `json:"stream"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		writeLines(t, w,
			`{"response":"Hel","done":false}`,
			`{"response":"lo","done":false}`,
			`{"response":"","done":true}`,
		)
	}))
	defer srv.Close()

	fragments, err := collect(t, newOllama(t, srv.URL), backend.Request{
		Prompt: "Say hello.",
		System: "Be brief.",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo"}, fragments)
	assert.Equal(t, "llama3", got.Model)
	assert.Equal(t, "Say hello.", got.Prompt)
	assert.Equal(t, "Be brief.", got.System)
	assert.True(t, got.Stream)
}

func TestOllama_StopsAtDoneMarker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeLines(t, w,
			`{"response":"first","done":false}`,
			`{"response":"","done":true}`,
			`{"response":"stale","done":false}`,
		)
	}))
	defer srv.Close()

	fragments, err := collect(t, newOllama(t, srv.URL), backend.Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, fragments)
}

func TestOllama_ModelErrorChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeLines(t, w, `{"error":"model 'llama3' not found"}`)
	}))
	defer srv.Close()

	_, err := collect(t, newOllama(t, srv.URL), backend.Request{Prompt: "p"})
	require.True(t, errors.Is(err, errs.ErrBackendModel))
	assert.Contains(t, err.Error(), "not found")
}

func TestOllama_MalformedChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeLines(t, w, `{"response":"ok","done":false}`, `<html>gateway timeout</html>`)
	}))
	defer srv.Close()

	_, err := collect(t, newOllama(t, srv.URL), backend.Request{Prompt: "p"})
	require.True(t, errors.Is(err, errs.ErrBackendProtocol))
}

func TestOllama_NonOKStatusAttachesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"out of memory"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := collect(t, newOllama(t, srv.URL), backend.Request{Prompt: "p"})
	require.True(t, errors.Is(err, errs.ErrBackendModel))
	assert.Contains(t, err.Error(), "unexpected status 500")
	assert.Contains(t, err.Error(), "out of memory")
}

func TestOllama_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	_, err := collect(t, newOllama(t, srv.URL), backend.Request{Prompt: "p"})
	require.True(t, errors.Is(err, errs.ErrBackendTransport))
}

func TestOllama_SendsImagesBase64(t *testing.T) {
	var got struct {
		Images []string `json:"images"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeLines(t, w, `{"response":"","done":true}`)
	}))
	defer srv.Close()

	_, err := collect(t, newOllama(t, srv.URL), backend.Request{
		Prompt: "describe",
		Images: []bind.ImageData{{Filename: "a.png", Format: "png", Data: []byte{1, 2, 3}}},
	})
	require.NoError(t, err)

	require.Len(t, got.Images, 1)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), got.Images[0])
}

func TestOllama_ContextLimitReadsNumCtx(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.Equal(t, "/api/show", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "llama3", body["name"])

		require.NoError(t, json.NewEncoder(w).Encode(map[string]string{
			"parameters": "stop \"<|eot|>\"\nnum_ctx 8192\ntemperature 0.7",
		}))
	}))
	defer srv.Close()

	be := newOllama(t, srv.URL)

	size, err := be.ContextLimit(context.Background(), "llama3")
	require.NoError(t, err)
	assert.Equal(t, 8192, size)

	// Second lookup is served from the cache.
	size, err = be.ContextLimit(context.Background(), "llama3")
	require.NoError(t, err)
	assert.Equal(t, 8192, size)
	assert.Equal(t, 1, calls)
}

func TestOllama_ContextLimitDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(map[string]string{
			"parameters": "temperature 0.7",
		}))
	}))
	defer srv.Close()

	size, err := newOllama(t, srv.URL).ContextLimit(context.Background(), "llama3")
	require.NoError(t, err)
	assert.Equal(t, 2048, size)
}
