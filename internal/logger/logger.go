// Package logger configures the diagnostics logger. Every record goes to
// stderr (or a supplied writer); stdout belongs to the result stream.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mdobak/go-xerrors"
)

// Config selects level and output format
type Config struct {
	Level  string
	Format string // "text" or "json"
}

var (
	mu     sync.RWMutex
	global = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
)

// ParseLevel converts a level name to a slog.Level
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// New builds a logger writing to w
func New(cfg Config, w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: replaceAttr}

	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		h = slog.NewJSONHandler(w, opts)
	case "text", "":
		h = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return slog.New(h), nil
}

// Init replaces the global logger with one writing to stderr
func Init(cfg Config) error {
	l, err := New(cfg, os.Stderr)
	if err != nil {
		return err
	}
	SetGlobal(l)
	return nil
}

// SetGlobal replaces the global logger
func SetGlobal(l *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	global = l
}

// Global returns the process logger
func Global() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// Module returns a child logger tagged with a module name
func Module(name string) *slog.Logger {
	return Global().With(slog.String("module", name))
}

// Err wraps err with a stack trace captured at the call site and returns it
// as a log attribute
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Any("error", nil)
	}
	if len(xerrors.StackTrace(err)) == 0 {
		err = xerrors.New(err)
	}
	return slog.Any("error", err)
}

type stackFrame struct {
	Func   string `json:"func"`
	Source string `json:"source"`
	Line   int    `json:"line"`
}

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindAny {
		return a
	}
	if err, ok := a.Value.Any().(error); ok {
		a.Value = fmtErr(err)
	}
	return a
}

// fmtErr renders an error with its stack trace when one was recorded
func fmtErr(err error) slog.Value {
	frames := marshalStack(err)
	if len(frames) == 0 {
		return slog.StringValue(err.Error())
	}
	return slog.GroupValue(
		slog.String("msg", err.Error()),
		slog.Any("trace", frames),
	)
}

func marshalStack(err error) []stackFrame {
	trace := xerrors.StackTrace(err)
	if len(trace) == 0 {
		return nil
	}

	frames := trace.Frames()
	out := make([]stackFrame, len(frames))
	for i, f := range frames {
		out[i] = stackFrame{
			Source: filepath.Join(filepath.Base(filepath.Dir(f.File)), filepath.Base(f.File)),
			Func:   filepath.Base(f.Function),
			Line:   f.Line,
		}
	}
	return out
}
