package fusion

import (
	"github.com/menta2k/birdex-worker/pkg/types"
)

// VideoAggregator keeps the best frame result of a video
type VideoAggregator struct {
	threshold   float64
	stopOnFirst bool
	sentinel    string

	frames   []types.FrameResult
	best     types.ClassificationResult
	hasBest  bool
	detected bool
	stopped  bool
}

// NewVideoAggregator creates an aggregator. With stopOnFirst set, ShouldStop
// turns true once a frame reaches threshold.
func NewVideoAggregator(threshold float64, stopOnFirst bool, sentinel string) *VideoAggregator {
	return &VideoAggregator{threshold: threshold, stopOnFirst: stopOnFirst, sentinel: sentinel}
}

// Add records the fused result of one sampled frame. gated marks frames in
// which gated mode found nothing to classify.
func (a *VideoAggregator) Add(index int, timestamp float64, res types.ClassificationResult, gated bool) {
	a.frames = append(a.frames, types.FrameResult{Index: index, Timestamp: timestamp, Result: res})
	if !gated {
		a.detected = true
	}
	if !a.hasBest || res.Confidence > a.best.Confidence {
		a.best = res
		a.hasBest = true
	}
}

// ShouldStop reports whether sampling can end early
func (a *VideoAggregator) ShouldStop() bool {
	return a.stopOnFirst && a.hasBest && a.best.Confidence >= a.threshold
}

// MarkStopped records that sampling ended because of ShouldStop
func (a *VideoAggregator) MarkStopped() { a.stopped = true }

// FramesSampled returns the number of frames added so far
func (a *VideoAggregator) FramesSampled() int { return len(a.frames) }

// Result returns the aggregate. A video where no frame was classified
// reports the sentinel with zero confidence.
func (a *VideoAggregator) Result() types.AggregateResult {
	best := a.best
	if !a.hasBest || !a.detected {
		best = types.ClassificationResult{Label: a.sentinel}
	}
	return types.AggregateResult{
		Best:          best,
		Frames:        a.frames,
		FramesSampled: len(a.frames),
		StoppedEarly:  a.stopped,
	}
}
