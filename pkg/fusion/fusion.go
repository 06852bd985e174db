// Package fusion combines detector proposals and classifier calls into one
// result per frame and one result per video.
package fusion

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/menta2k/birdex-worker/pkg/types"
)

// Mode selects how detection and classification are combined
type Mode string

const (
	// ModeSingle classifies the best crop, or the full frame when nothing is found
	ModeSingle Mode = "single"
	// ModeMulti classifies the full frame and every top crop and keeps the best
	ModeMulti Mode = "multi"
	// ModeGated only classifies when the detector found the target
	ModeGated Mode = "gated"
)

// ParseMode parses a mode name case-insensitively
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeSingle, ModeMulti, ModeGated:
		return m, nil
	case "":
		return ModeMulti, nil
	default:
		return "", fmt.Errorf("unknown fusion mode %q (want single, multi or gated)", s)
	}
}

// ClassifyFunc classifies one candidate image
type ClassifyFunc func(ctx context.Context, img image.Image) (types.ClassificationResult, error)

// CropFunc extracts a box from a frame
type CropFunc func(img image.Image, box types.BoundingBox) (image.Image, error)

// Policy fuses per-frame candidates
type Policy struct {
	Mode     Mode
	Classify ClassifyFunc
	Crop     CropFunc
	// Unidentified is the result of a frame gated out before classification
	Unidentified func() types.ClassificationResult
}

// FrameOutcome is the fused result of one frame plus what produced it
type FrameOutcome struct {
	Result types.ClassificationResult
	// Winner is the winning candidate box, nil for the full frame
	Winner *types.BoundingBox
	// Classified counts classifier invocations
	Classified int
	// Gated is true when gated mode skipped classification
	Gated bool
}

// Candidates builds the ordered candidate list for a frame.
// boxes must already be ranked.
func (p *Policy) Candidates(frame image.Image, boxes []types.BoundingBox) ([]types.Candidate, error) {
	full := types.Candidate{Image: frame, Source: types.SourceFull}

	switch p.Mode {
	case ModeSingle:
		if len(boxes) == 0 {
			return []types.Candidate{full}, nil
		}
		c, err := p.cropCandidate(frame, boxes[0])
		if err != nil {
			return nil, err
		}
		return []types.Candidate{c}, nil

	case ModeGated:
		if len(boxes) == 0 {
			return nil, nil
		}
		c, err := p.cropCandidate(frame, boxes[0])
		if err != nil {
			return nil, err
		}
		return []types.Candidate{c}, nil

	default:
		out := make([]types.Candidate, 0, len(boxes)+1)
		out = append(out, full)
		for _, b := range boxes {
			c, err := p.cropCandidate(frame, b)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		return out, nil
	}
}

func (p *Policy) cropCandidate(frame image.Image, box types.BoundingBox) (types.Candidate, error) {
	crop, err := p.Crop(frame, box)
	if err != nil {
		return types.Candidate{}, fmt.Errorf("crop %v: %w", box.Rect(), err)
	}
	b := box
	return types.Candidate{Image: crop, Box: &b, Source: types.SourceDetected, Score: box.Score()}, nil
}

// FuseFrame classifies the candidates of one frame and keeps the most
// confident. Ties keep the earlier candidate, so the full frame wins a tie.
func (p *Policy) FuseFrame(ctx context.Context, frame image.Image, boxes []types.BoundingBox) (FrameOutcome, error) {
	candidates, err := p.Candidates(frame, boxes)
	if err != nil {
		return FrameOutcome{}, err
	}

	if len(candidates) == 0 {
		return FrameOutcome{
			Result: p.Unidentified(),
			Gated:  true,
		}, nil
	}

	var out FrameOutcome
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return FrameOutcome{}, err
		}

		res, err := p.Classify(ctx, c.Image)
		if err != nil {
			return FrameOutcome{}, err
		}
		out.Classified++
		res.Source = c.Source

		if i == 0 || res.Confidence > out.Result.Confidence {
			out.Result = res
			out.Winner = c.Box
		}
	}
	return out, nil
}
