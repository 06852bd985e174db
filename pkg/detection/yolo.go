package detection

import (
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/menta2k/birdex-worker/pkg/types"
)

// DefaultIoUThreshold is the overlap above which same-class boxes are merged
const DefaultIoUThreshold = 0.45

// YOLOOutput is the raw head of a YOLOv8-style detector
type YOLOOutput struct {
	// Data holds the flattened tensor without the batch dimension
	Data []float32
	// Rows and Cols describe Data as a Rows×Cols matrix
	Rows, Cols int
	// InputSize is the square model input edge in pixels
	InputSize int
}

// DecodeYOLO converts a YOLO output tensor into source pixel boxes.
// Layout [4+C, N] and the transposed [N, 4+C] are both accepted; the smaller
// dimension is taken to be the attribute axis. Box centers may be normalized
// or expressed in input pixels.
func DecodeYOLO(out YOLOOutput, labels []string, src image.Rectangle, floor, iou float64) ([]types.BoundingBox, error) {
	if out.Rows <= 0 || out.Cols <= 0 || len(out.Data) < out.Rows*out.Cols {
		return nil, fmt.Errorf("invalid YOLO output shape %dx%d for %d values", out.Rows, out.Cols, len(out.Data))
	}

	attrs, anchors := out.Rows, out.Cols
	transposed := false
	if out.Rows > out.Cols {
		attrs, anchors = out.Cols, out.Rows
		transposed = true
	}
	if attrs < 5 {
		return nil, fmt.Errorf("YOLO output has %d attributes, need at least 5", attrs)
	}
	classes := attrs - 4

	at := func(attr, anchor int) float64 {
		if transposed {
			return float64(out.Data[anchor*attrs+attr])
		}
		return float64(out.Data[attr*anchors+anchor])
	}

	inputSize := float64(out.InputSize)
	if inputSize <= 0 {
		inputSize = 640
	}
	normalized := coordinatesNormalized(at, anchors)

	scaleX := float64(src.Dx())
	scaleY := float64(src.Dy())
	if !normalized {
		scaleX /= inputSize
		scaleY /= inputSize
	}

	var boxes []types.BoundingBox
	for a := 0; a < anchors; a++ {
		bestClass, bestScore := -1, 0.0
		for c := 0; c < classes; c++ {
			if s := at(4+c, a); s > bestScore {
				bestClass, bestScore = c, s
			}
		}
		if bestClass < 0 || bestScore < floor {
			continue
		}

		cx, cy, w, h := at(0, a), at(1, a), at(2, a), at(3, a)
		box := types.BoundingBox{
			X1:         src.Min.X + int(math.Round((cx-w/2)*scaleX)),
			Y1:         src.Min.Y + int(math.Round((cy-h/2)*scaleY)),
			X2:         src.Min.X + int(math.Round((cx+w/2)*scaleX)),
			Y2:         src.Min.Y + int(math.Round((cy+h/2)*scaleY)),
			Confidence: bestScore,
			ClassName:  labelFor(labels, bestClass),
		}
		boxes = append(boxes, box)
	}

	if iou <= 0 {
		iou = DefaultIoUThreshold
	}
	return NonMaxSuppression(boxes, iou), nil
}

// coordinatesNormalized guesses whether box geometry is in [0,1]
func coordinatesNormalized(at func(attr, anchor int) float64, anchors int) bool {
	for a := 0; a < anchors; a++ {
		for attr := 0; attr < 4; attr++ {
			if at(attr, a) > 2 {
				return false
			}
		}
	}
	return true
}

func labelFor(labels []string, idx int) string {
	if idx >= 0 && idx < len(labels) {
		return labels[idx]
	}
	return fmt.Sprintf("class_%d", idx)
}

// NonMaxSuppression keeps the most confident box of every overlapping
// same-class group
func NonMaxSuppression(boxes []types.BoundingBox, iouThreshold float64) []types.BoundingBox {
	sorted := make([]types.BoundingBox, len(boxes))
	copy(sorted, boxes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := make([]types.BoundingBox, 0, len(sorted))
	for _, candidate := range sorted {
		suppressed := false
		for _, k := range kept {
			if k.ClassName == candidate.ClassName && IoU(k, candidate) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, candidate)
		}
	}
	return kept
}

// IoU returns intersection over union of two boxes
func IoU(a, b types.BoundingBox) float64 {
	inter := a.Rect().Intersect(b.Rect())
	if inter.Empty() {
		return 0
	}
	interArea := float64(inter.Dx() * inter.Dy())
	union := float64(a.Area()+b.Area()) - interArea
	if union <= 0 {
		return 0
	}
	return interArea / union
}
