package llamacpp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, status int, body string, seen *ChatCompletionRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		if seen != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSimpleQueryStringContent(t *testing.T) {
	var seen ChatCompletionRequest
	srv := newServer(t, http.StatusOK, `{"choices":[{"index":0,"message":{"role":"assistant","content":"[]"}}]}`, &seen)

	c, err := NewClient(srv.URL+"/", 0)
	require.NoError(t, err)

	reply, err := c.SimpleQuery(context.Background(), "qwen2-vl", "find birds", "AAAA")
	require.NoError(t, err)
	assert.Equal(t, "[]", reply)

	assert.Equal(t, "qwen2-vl", seen.Model)
	require.Len(t, seen.Messages, 1)
	parts, ok := seen.Messages[0].Content.([]interface{})
	require.True(t, ok)
	require.Len(t, parts, 2)
	assert.Equal(t, "data:image/jpeg;base64,AAAA", parts[1].(map[string]interface{})["image_url"].(map[string]interface{})["url"])
}

func TestSimpleQueryPartsContent(t *testing.T) {
	srv := newServer(t, http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":[{"type":"text","text":"{\"detections\":[]}"}]}}]}`, nil)

	c, err := NewClient(srv.URL, 0)
	require.NoError(t, err)

	reply, err := c.SimpleQuery(context.Background(), "m", "p", "")
	require.NoError(t, err)
	assert.Equal(t, `{"detections":[]}`, reply)
}

func TestSimpleQueryFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"oom"}`},
		{"not json", http.StatusOK, `<html>`},
		{"no choices", http.StatusOK, `{"choices":[]}`},
		{"empty content", http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":""}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, tt.status, tt.body, nil)
			c, err := NewClient(srv.URL, 0)
			require.NoError(t, err)
			_, err = c.SimpleQuery(context.Background(), "m", "p", "")
			assert.Error(t, err)
		})
	}
}

func TestNewClient(t *testing.T) {
	c, err := NewClient("", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultURL, c.baseURL)

	_, err = NewClient("localhost:8080", 0)
	assert.Error(t, err)
}
