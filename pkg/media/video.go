package media

import (
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/menta2k/birdex-worker/internal/utils"
	"github.com/menta2k/birdex-worker/pkg/types"
)

// FrameSource iterates decoded frames of a video file.
// Next returns io.EOF once the stream is exhausted.
type FrameSource interface {
	FPS() float64
	Next() (image.Image, error)
	Close() error
}

// VideoOpener opens a frame source for a file on disk
type VideoOpener func(path string) (FrameSource, error)

// Materializer writes video payloads to disk and opens them
type Materializer struct {
	// TempDir is where payloads are written; empty means os.TempDir()
	TempDir string
	Open    VideoOpener
}

// NewMaterializer creates a materializer using the given opener
func NewMaterializer(tempDir string, open VideoOpener) *Materializer {
	return &Materializer{TempDir: tempDir, Open: open}
}

// VideoHandle owns a temp file and the decoder reading it
type VideoHandle struct {
	Path   string
	Source FrameSource

	once     sync.Once
	closeErr error
}

// Close releases the decoder and removes the temp file. Safe to call repeatedly.
func (h *VideoHandle) Close() error {
	h.once.Do(func() {
		var errs []error
		if h.Source != nil {
			if err := h.Source.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close decoder: %w", err))
			}
		}
		if err := utils.RemoveFile(h.Path); err != nil {
			errs = append(errs, fmt.Errorf("remove temp file: %w", err))
		}
		h.closeErr = errors.Join(errs...)
	})
	return h.closeErr
}

// MaterializeVideo writes data to a temp file named with a container suffix
// and opens it. hint, when set, overrides the sniffed suffix.
func (m *Materializer) MaterializeVideo(data []byte, hint string) (*VideoHandle, error) {
	if len(data) == 0 {
		return nil, &types.DecodeError{Kind: "video", Err: errors.New("empty payload")}
	}
	if m.Open == nil {
		return nil, &types.DecodeError{Kind: "video", Err: errors.New("no video decoder configured")}
	}

	suffix := hint
	if suffix == "" {
		suffix = SniffSuffix(data)
	}

	dir := m.TempDir
	if dir == "" {
		dir = os.TempDir()
	}

	path, err := utils.WriteTempFile(dir, suffix, data)
	if err != nil {
		return nil, &types.DecodeError{Kind: "video", Err: err}
	}

	src, err := m.Open(path)
	if err != nil {
		utils.RemoveFile(path)
		return nil, &types.DecodeError{Kind: "video", Err: fmt.Errorf("failed to open video: %w", err)}
	}

	return &VideoHandle{Path: path, Source: src}, nil
}
