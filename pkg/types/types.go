package types

import (
	"fmt"
	"image"
)

// Source tells where a classified region came from
type Source string

const (
	SourceFull     Source = "full"
	SourceDetected Source = "detected"
)

// BoundingBox is a pixel rectangle returned by a detector.
// X2/Y2 are exclusive, matching image.Rectangle.
type BoundingBox struct {
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
	X2         int     `json:"x2"`
	Y2         int     `json:"y2"`
	Confidence float64 `json:"confidence"`
	ClassName  string  `json:"class"`
}

// Width returns the box width in pixels
func (b BoundingBox) Width() int { return b.X2 - b.X1 }

// Height returns the box height in pixels
func (b BoundingBox) Height() int { return b.Y2 - b.Y1 }

// Area returns the box area in pixels, zero for degenerate boxes
func (b BoundingBox) Area() int {
	if b.Degenerate() {
		return 0
	}
	return b.Width() * b.Height()
}

// Degenerate reports whether the box has no positive area
func (b BoundingBox) Degenerate() bool {
	return b.X2 <= b.X1 || b.Y2 <= b.Y1
}

// Rect converts the box to an image.Rectangle
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Score is the ranking key used to order detected regions
func (b BoundingBox) Score() float64 {
	return b.Confidence * float64(b.Area())
}

// Candidate is an image region submitted to the classifier
type Candidate struct {
	Image  image.Image
	Box    *BoundingBox
	Source Source
	Score  float64
}

// ClassificationResult is one (label, confidence) estimate
type ClassificationResult struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Identified bool    `json:"identified"`
	Source     Source  `json:"source,omitempty"`
}

// FrameResult is the fused result for one sampled video frame
type FrameResult struct {
	Index     int                  `json:"frame"`
	Timestamp float64              `json:"second"`
	Result    ClassificationResult `json:"result"`
}

// AggregateResult is the only value returned to the caller for a message
type AggregateResult struct {
	Best          ClassificationResult `json:"best"`
	Frames        []FrameResult        `json:"frames,omitempty"`
	FramesSampled int                  `json:"frames_sampled,omitempty"`
	StoppedEarly  bool                 `json:"stopped_early,omitempty"`
}

// SampleParams are the per-message video sampling overrides.
// A TargetFPS <= 0 or a nil StopOnFirst keeps the worker default.
type SampleParams struct {
	TargetFPS   float64
	StopOnFirst *bool
}

// Message is one unit of work read from the channel
type Message struct {
	ID      string
	Payload []byte
	// Hint is an explicit container suffix such as ".mov", empty when unknown
	Hint   string
	Params *SampleParams
}

// DecodeError reports media that could not be turned into frames
type DecodeError struct {
	Kind string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ClassifierError reports a failed classification call
type ClassifierError struct {
	Err error
}

func (e *ClassifierError) Error() string {
	return fmt.Sprintf("classifier: %v", e.Err)
}

func (e *ClassifierError) Unwrap() error { return e.Err }

// DetectorError reports a failed detection call
type DetectorError struct {
	Err error
}

func (e *DetectorError) Error() string {
	return fmt.Sprintf("detector: %v", e.Err)
}

func (e *DetectorError) Unwrap() error { return e.Err }
