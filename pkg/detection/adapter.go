// Package detection turns raw detector output into ranked, padded regions
// worth classifying.
package detection

import (
	"context"
	"image"
	"sort"
	"strings"

	"github.com/menta2k/birdex-worker/pkg/client"
	"github.com/menta2k/birdex-worker/pkg/types"
)

// Defaults used when a Config field is left zero
const (
	DefaultTargetClass     = "bird"
	DefaultConfidenceFloor = 0.20
	DefaultPaddingRatio    = 0.10
	DefaultMaxCandidates   = 3
)

// Config controls candidate filtering and ranking
type Config struct {
	TargetClass     string
	ConfidenceFloor float64
	PaddingRatio    float64
	MaxCandidates   int
}

// DefaultConfig returns the standard detection settings
func DefaultConfig() Config {
	return Config{
		TargetClass:     DefaultTargetClass,
		ConfidenceFloor: DefaultConfidenceFloor,
		PaddingRatio:    DefaultPaddingRatio,
		MaxCandidates:   DefaultMaxCandidates,
	}
}

// Adapter wraps an optional detector
type Adapter struct {
	detector client.Detector
	config   Config
}

// NewAdapter creates an adapter. detector may be nil, in which case Propose
// never finds anything.
func NewAdapter(detector client.Detector, config Config) *Adapter {
	if config.TargetClass == "" {
		config.TargetClass = DefaultTargetClass
	}
	if config.MaxCandidates <= 0 {
		config.MaxCandidates = DefaultMaxCandidates
	}
	return &Adapter{detector: detector, config: config}
}

// Available reports whether a detector backend is configured
func (a *Adapter) Available() bool {
	return a != nil && a.detector != nil
}

// Config returns the effective configuration
func (a *Adapter) Config() Config { return a.config }

// Propose returns up to MaxCandidates padded target-class boxes ordered by
// descending confidence × area.
func (a *Adapter) Propose(ctx context.Context, img image.Image) ([]types.BoundingBox, error) {
	if !a.Available() {
		return []types.BoundingBox{}, nil
	}

	raw, err := a.detector.Detect(ctx, img)
	if err != nil {
		return nil, &types.DetectorError{Err: err}
	}

	return Rank(raw, img.Bounds(), a.config), nil
}

// Rank filters, clamps, pads and orders raw detections
func Rank(raw []types.BoundingBox, bounds image.Rectangle, config Config) []types.BoundingBox {
	boxes := make([]types.BoundingBox, 0, len(raw))
	for _, det := range raw {
		if !strings.EqualFold(strings.TrimSpace(det.ClassName), config.TargetClass) {
			continue
		}
		if det.Confidence < config.ConfidenceFloor {
			continue
		}

		box := clampBox(det, bounds)
		if box.Degenerate() {
			continue
		}
		boxes = append(boxes, PadBox(box, config.PaddingRatio, bounds))
	}

	// Stable so equally scored boxes keep detector order
	sort.SliceStable(boxes, func(i, j int) bool {
		return boxes[i].Score() > boxes[j].Score()
	})

	k := config.MaxCandidates
	if k <= 0 {
		k = DefaultMaxCandidates
	}
	if len(boxes) > k {
		boxes = boxes[:k]
	}
	return boxes
}

// PadBox grows a box by ratio of its own size on every side and clamps it to
// bounds. If that leaves nothing, the unpadded box is returned.
func PadBox(box types.BoundingBox, ratio float64, bounds image.Rectangle) types.BoundingBox {
	if ratio <= 0 {
		return box
	}
	dx := int(ratio * float64(box.Width()))
	dy := int(ratio * float64(box.Height()))

	padded := box
	padded.X1 -= dx
	padded.Y1 -= dy
	padded.X2 += dx
	padded.Y2 += dy
	padded = clampBox(padded, bounds)

	if padded.Degenerate() {
		return box
	}
	return padded
}

// clampBox restricts box coordinates to bounds
func clampBox(b types.BoundingBox, bounds image.Rectangle) types.BoundingBox {
	b.X1 = clampInt(b.X1, bounds.Min.X, bounds.Max.X)
	b.X2 = clampInt(b.X2, bounds.Min.X, bounds.Max.X)
	b.Y1 = clampInt(b.Y1, bounds.Min.Y, bounds.Max.Y)
	b.Y2 = clampInt(b.Y2, bounds.Min.Y, bounds.Max.Y)
	return b
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
