package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAreExported(t *testing.T) {
	m := New()
	m.MessagesReceived.Add(3)
	m.ObserveMessage("image", true, 120*time.Millisecond)
	m.ObserveMessage("image", false, 5*time.Millisecond)
	m.SetDegraded(true)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "birdex_messages_received_total")
	assert.Contains(t, names, "birdex_degraded")

	assert.Equal(t, uint64(1), m.MessagesSucceeded.Load())
	assert.Equal(t, uint64(1), m.MessagesFailed.Load())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, "birdex_messages_received_total 3")
	assert.Contains(t, body, "birdex_degraded 1")
	assert.Contains(t, body, `birdex_message_duration_seconds_count{kind="image",outcome="success"} 1`)
}

func TestStartServer(t *testing.T) {
	m := New()
	ctx, cancel := context.WithCancel(context.Background())

	addr, done, err := m.StartServer(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "birdex_frames_sampled_total")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not shut down")
	}
}

func TestStartServerBadAddr(t *testing.T) {
	_, _, err := New().StartServer(context.Background(), "256.0.0.1:bad")
	assert.Error(t, err)
}
