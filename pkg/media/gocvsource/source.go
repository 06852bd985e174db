// Package gocvsource decodes video files through OpenCV.
//
// It is kept apart from package media so that everything else builds and
// tests without cgo.
package gocvsource

import (
	"fmt"
	"image"
	"io"

	"gocv.io/x/gocv"

	"github.com/menta2k/birdex-worker/pkg/media"
)

// Source reads frames from an OpenCV VideoCapture
type Source struct {
	capture *gocv.VideoCapture
	frame   gocv.Mat
	fps     float64
}

// Open opens a video file. It satisfies media.VideoOpener.
func Open(path string) (media.FrameSource, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("capture not opened for %s", path)
	}

	return &Source{
		capture: capture,
		frame:   gocv.NewMat(),
		fps:     capture.Get(gocv.VideoCaptureFPS),
	}, nil
}

// FPS returns the container frame rate as reported by the demuxer
func (s *Source) FPS() float64 {
	return s.fps
}

// Next decodes the next frame. Each call returns a fresh image that does not
// alias decoder memory.
func (s *Source) Next() (image.Image, error) {
	if ok := s.capture.Read(&s.frame); !ok || s.frame.Empty() {
		return nil, io.EOF
	}

	img, err := s.frame.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}
	return img, nil
}

// Close releases the decoder
func (s *Source) Close() error {
	s.frame.Close()
	return s.capture.Close()
}

var _ media.VideoOpener = Open
