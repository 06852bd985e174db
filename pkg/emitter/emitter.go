// Package emitter renders aggregate results as result-stream JSON lines.
package emitter

import (
	"log/slog"
	"math"

	"github.com/menta2k/birdex-worker/internal/logger"
	"github.com/menta2k/birdex-worker/pkg/types"
)

// LineWriter writes one JSON document per line
type LineWriter interface {
	WriteLine(v any) error
}

// ImageResult is the result line of an image worker
type ImageResult struct {
	Label      string  `json:"label"`
	TrustLevel float64 `json:"trustLevel"`
	Error      string  `json:"error,omitempty"`
}

// Detection is one per-frame entry of a video result
type Detection struct {
	Frame      int     `json:"frame"`
	Second     float64 `json:"second"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// VideoResult is the result line of a video worker
type VideoResult struct {
	Label          string      `json:"label"`
	TrustLevel     float64     `json:"trustLevel"`
	BestLabel      string      `json:"bestLabel"`
	BestConfidence float64     `json:"bestConfidence"`
	Detections     []Detection `json:"detections"`
	FramesSampled  int         `json:"framesSampled"`
	StoppedEarly   bool        `json:"stoppedEarly"`
	Error          string      `json:"error,omitempty"`
}

// Emitter writes exactly one line per message and never fails the caller
type Emitter struct {
	out      LineWriter
	video    bool
	sentinel string
	log      *slog.Logger
}

// New creates an emitter. video selects the video result shape.
func New(out LineWriter, video bool, sentinel string, log *slog.Logger) *Emitter {
	if log == nil {
		log = slog.Default()
	}
	return &Emitter{out: out, video: video, sentinel: sentinel, log: log}
}

// EmitSuccess writes a result line for res
func (e *Emitter) EmitSuccess(res types.AggregateResult) {
	if e.video {
		e.write(videoLine(res))
		return
	}
	e.write(ImageResult{Label: res.Best.Label, TrustLevel: Confidence(res.Best.Confidence)})
}

// EmitError writes an error line carrying msg
func (e *Emitter) EmitError(msg string) {
	if e.video {
		e.write(VideoResult{
			Label:      e.sentinel,
			BestLabel:  e.sentinel,
			Detections: []Detection{},
			Error:      msg,
		})
		return
	}
	e.write(ImageResult{Label: e.sentinel, Error: msg})
}

func (e *Emitter) write(v any) {
	if err := e.out.WriteLine(v); err != nil {
		e.log.Error("failed to write result line", logger.Err(err))
	}
}

func videoLine(res types.AggregateResult) VideoResult {
	detections := make([]Detection, 0, len(res.Frames))
	for _, f := range res.Frames {
		detections = append(detections, Detection{
			Frame:      f.Index,
			Second:     round3(f.Timestamp),
			Label:      f.Result.Label,
			Confidence: Confidence(f.Result.Confidence),
		})
	}

	best := Confidence(res.Best.Confidence)
	return VideoResult{
		Label:          res.Best.Label,
		TrustLevel:     best,
		BestLabel:      res.Best.Label,
		BestConfidence: best,
		Detections:     detections,
		FramesSampled:  res.FramesSampled,
		StoppedEarly:   res.StoppedEarly,
	}
}

// Confidence clamps a value into [0,1], mapping NaN to 0
func Confidence(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func round3(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*1000) / 1000
}
