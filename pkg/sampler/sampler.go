// Package sampler walks a video at a bounded temporal stride.
package sampler

import (
	"errors"
	"image"
	"io"
	"math"

	"github.com/menta2k/birdex-worker/pkg/media"
)

const (
	// DefaultFallbackFPS is assumed when the container reports no usable rate
	DefaultFallbackFPS = 25.0
	// minNativeFPS is the smallest frame rate accepted from the container
	minNativeFPS = 1e-3
)

// Frame is one sampled video frame
type Frame struct {
	Index     int
	Timestamp float64
	Image     image.Image
}

// Sampler emits every stride-th frame up to a duration cap.
// It is single use: once Next returns false it stays false.
type Sampler struct {
	src      media.FrameSource
	native   float64
	stride   int
	maxIndex int

	index   int
	current Frame
	err     error
	done    bool
}

// Options tunes sampling beyond the target rate and duration
type Options struct {
	// FallbackFPS replaces a missing or invalid native rate; zero means 25
	FallbackFPS float64
}

// New creates a sampler emitting roughly targetFPS frames per second for at
// most maxSeconds of video.
func New(src media.FrameSource, targetFPS, maxSeconds float64) *Sampler {
	return NewWithOptions(src, targetFPS, maxSeconds, Options{})
}

// NewWithOptions creates a sampler with explicit options
func NewWithOptions(src media.FrameSource, targetFPS, maxSeconds float64, opts Options) *Sampler {
	fallback := opts.FallbackFPS
	if fallback <= 0 {
		fallback = DefaultFallbackFPS
	}

	native := src.FPS()
	if math.IsNaN(native) || math.IsInf(native, 0) || native <= minNativeFPS {
		native = fallback
	}

	return &Sampler{
		src:      src,
		native:   native,
		stride:   Stride(native, targetFPS),
		maxIndex: int(maxSeconds * native),
	}
}

// Stride returns how many native frames separate two samples
func Stride(native, target float64) int {
	if target <= 0 || math.IsNaN(target) {
		return 1
	}
	stride := int(math.Round(native / target))
	if stride < 1 {
		return 1
	}
	return stride
}

// NativeFPS returns the frame rate used for timestamps
func (s *Sampler) NativeFPS() float64 { return s.native }

// StepSize returns the sampling stride in native frames
func (s *Sampler) StepSize() int { return s.stride }

// Next advances to the next sampled frame
func (s *Sampler) Next() bool {
	for !s.done {
		if s.index > s.maxIndex {
			s.done = true
			break
		}

		img, err := s.src.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.err = err
			}
			s.done = true
			break
		}

		idx := s.index
		s.index++
		if idx%s.stride != 0 {
			continue
		}

		s.current = Frame{Index: idx, Timestamp: float64(idx) / s.native, Image: img}
		return true
	}
	s.current = Frame{}
	return false
}

// Frame returns the frame produced by the last successful Next
func (s *Sampler) Frame() Frame { return s.current }

// Err returns the decode error that ended iteration, if any
func (s *Sampler) Err() error { return s.err }

// Stop ends iteration early
func (s *Sampler) Stop() { s.done = true }
