package summarize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNop(t *testing.T) {
	s, ok, err := Nop{}.Summarize(context.Background(), "anything", 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, s)
}

func TestWordCounter(t *testing.T) {
	assert.Equal(t, 0, WordCounter{}.Count("  \n"))
	assert.Equal(t, 4, WordCounter{}.Count("one two\nthree\tfour"))
}

func TestFunc(t *testing.T) {
	var gotLevel int
	f := Func(func(_ context.Context, content string, level int) (string, bool, error) {
		gotLevel = level
		return "short", true, nil
	})
	s, ok, err := f.Summarize(context.Background(), "long content", 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "short", s)
	assert.Equal(t, 2, gotLevel)
}

func TestOllama(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tiny", req["model"])
		assert.Contains(t, req["prompt"], "at most 1 sentence")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"tiny","response":"  A summary.  ","done":true}` + "\n"))
	}))
	defer srv.Close()
	t.Setenv("OLLAMA_HOST", srv.URL)

	o, err := NewOllama("tiny")
	require.NoError(t, err)
	s, ok, err := o.Summarize(context.Background(), "some long note", 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "A summary.", s)
}

func TestOllamaError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"model not loaded"}`))
	}))
	defer srv.Close()
	t.Setenv("OLLAMA_HOST", srv.URL)

	o, err := NewOllama("tiny")
	require.NoError(t, err)
	_, _, err = o.Summarize(context.Background(), "note", 1)
	assert.Error(t, err)
}
