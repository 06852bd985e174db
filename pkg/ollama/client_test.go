package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient("localhost", 0)
	assert.Error(t, err)

	c, err := NewClient("http://localhost:11434/api/chat", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, c.timeout)
}

func TestSimpleQuery(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"qwen2.5vl:7b","message":{"role":"assistant","content":"{\"detections\":[]}"},"done":true}` + "\n"))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, 0)
	require.NoError(t, err)

	img := base64.StdEncoding.EncodeToString([]byte{0xFF, 0xD8, 0xFF, 0xD9})
	reply, err := c.SimpleQuery(context.Background(), "qwen2.5vl:7b", "find birds", img)
	require.NoError(t, err)
	assert.Equal(t, `{"detections":[]}`, reply)

	assert.Equal(t, "qwen2.5vl:7b", got["model"])
	assert.Equal(t, false, got["stream"])
	messages, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1)
	assert.Equal(t, "find birds", messages[0].(map[string]any)["content"])
}

func TestSimpleQueryServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model not found"}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, 0)
	require.NoError(t, err)

	_, err = c.SimpleQuery(context.Background(), "missing", "find birds", "")
	assert.Error(t, err)
}

func TestSimpleQueryBadImage(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:1", 0)
	require.NoError(t, err)
	_, err = c.SimpleQuery(context.Background(), "m", "p", "not base64!")
	assert.Error(t, err)
}

func TestModelOptions(t *testing.T) {
	assert.Equal(t, 4096, modelOptions("openbmb/minicpm-v4.5")["num_ctx"])
	_, ok := modelOptions("llava")["num_ctx"]
	assert.False(t, ok)
}
