package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New(Config{Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestJSONErrorCarriesTrace(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)

	l.Error("classification failed", Err(errors.New("tensor shape mismatch")))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	errField, ok := rec["error"].(map[string]any)
	require.True(t, ok, "error should be rendered as a group: %s", buf.String())
	assert.Contains(t, errField["msg"], "tensor shape mismatch")
	assert.NotEmpty(t, errField["trace"])
}

func TestPlainErrorWithoutTrace(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Format: "json"}, &buf)
	require.NoError(t, err)

	l.Warn("detector degraded", slog.Any("error", errors.New("timeout")))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "timeout", rec["error"])
}

func TestModuleAndLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "warn"}, &buf)
	require.NoError(t, err)

	prev := Global()
	SetGlobal(l)
	defer SetGlobal(prev)

	Module("worker").Info("hidden")
	assert.Empty(t, buf.String())

	Module("worker").Warn("shown")
	assert.Contains(t, buf.String(), "module=worker")
	assert.Contains(t, buf.String(), "shown")
}
