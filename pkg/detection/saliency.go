package detection

import (
	"context"
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"

	"github.com/menta2k/birdex-worker/pkg/types"
)

// SaliencyConfig tunes the contrast-based region finder
type SaliencyConfig struct {
	Label        string  // class name attached to every proposal
	Threshold    float64 // minimum mean saliency for a window
	EdgeWeight   float64
	BrightWeight float64
	MinAreaRatio float64 // smallest window as a fraction of the image
	WorkingEdge  int     // longest side of the analysed copy
	MaxProposals int
	SuppressIoU  float64
}

// DefaultSaliencyConfig returns settings that find a single dominant subject
// in typical feeder and trail camera shots.
func DefaultSaliencyConfig() SaliencyConfig {
	return SaliencyConfig{
		Label:        DefaultTargetClass,
		Threshold:    0.01,
		EdgeWeight:   0.3,
		BrightWeight: 0.2,
		MinAreaRatio: 0.05,
		WorkingEdge:  256,
		MaxProposals: 5,
		SuppressIoU:  0.3,
	}
}

// SaliencyDetector proposes high-contrast regions without a model. Scores
// are relative saliency in [0,1], not calibrated detection confidences.
type SaliencyDetector struct {
	config SaliencyConfig
}

// NewSaliencyDetector creates a detector; zero fields take their defaults
func NewSaliencyDetector(config SaliencyConfig) *SaliencyDetector {
	def := DefaultSaliencyConfig()
	if config.Label == "" {
		config.Label = def.Label
	}
	if config.EdgeWeight == 0 && config.BrightWeight == 0 {
		config.EdgeWeight, config.BrightWeight = def.EdgeWeight, def.BrightWeight
	}
	if config.MinAreaRatio <= 0 {
		config.MinAreaRatio = def.MinAreaRatio
	}
	if config.WorkingEdge <= 0 {
		config.WorkingEdge = def.WorkingEdge
	}
	if config.MaxProposals <= 0 {
		config.MaxProposals = def.MaxProposals
	}
	if config.SuppressIoU <= 0 {
		config.SuppressIoU = def.SuppressIoU
	}
	return &SaliencyDetector{config: config}
}

type region struct {
	x, y, w, h int
	score      float64
}

// Detect returns salient regions in source pixel coordinates
func (d *SaliencyDetector) Detect(ctx context.Context, img image.Image) ([]types.BoundingBox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src := img.Bounds()
	work := imaging.Fit(img, d.config.WorkingEdge, d.config.WorkingEdge, imaging.Box)
	width, height := work.Bounds().Dx(), work.Bounds().Dy()
	if width < 3 || height < 3 {
		return []types.BoundingBox{}, nil
	}

	smap := d.saliencyMap(work)
	regions := d.windows(smap, width, height)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(regions, func(i, j int) bool { return regions[i].score > regions[j].score })

	sx := float64(src.Dx()) / float64(width)
	sy := float64(src.Dy()) / float64(height)
	maxScore := 0.0
	if len(regions) > 0 {
		maxScore = regions[0].score
	}

	var kept []region
	boxes := make([]types.BoundingBox, 0, d.config.MaxProposals)
	for _, r := range regions {
		if len(boxes) >= d.config.MaxProposals {
			break
		}
		if overlapsAny(r, kept, d.config.SuppressIoU) {
			continue
		}
		kept = append(kept, r)
		boxes = append(boxes, types.BoundingBox{
			X1:         src.Min.X + int(math.Round(float64(r.x)*sx)),
			Y1:         src.Min.Y + int(math.Round(float64(r.y)*sy)),
			X2:         src.Min.X + int(math.Round(float64(r.x+r.w)*sx)),
			Y2:         src.Min.Y + int(math.Round(float64(r.y+r.h)*sy)),
			Confidence: r.score / maxScore,
			ClassName:  d.config.Label,
		})
	}
	return boxes, nil
}

// saliencyMap weights mean neighbour colour distance against brightness
func (d *SaliencyDetector) saliencyMap(img *image.NRGBA) [][]float64 {
	width, height := img.Bounds().Dx(), img.Bounds().Dy()
	smap := make([][]float64, height)
	for i := range smap {
		smap[i] = make([]float64, width)
	}

	px := func(x, y int) (float64, float64, float64) {
		o := img.PixOffset(x, y)
		return float64(img.Pix[o]), float64(img.Pix[o+1]), float64(img.Pix[o+2])
	}

	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			r1, g1, b1 := px(x, y)
			var edge float64
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					r2, g2, b2 := px(x+dx, y+dy)
					edge += math.Sqrt((r1-r2)*(r1-r2) + (g1-g2)*(g1-g2) + (b1-b2)*(b1-b2))
				}
			}
			edge /= 8 * 255
			bright := (r1 + g1 + b1) / (3 * 255)
			smap[y][x] = d.config.EdgeWeight*edge + d.config.BrightWeight*bright
		}
	}
	return smap
}

// windows scores square sliding windows of several sizes using an
// integral image
func (d *SaliencyDetector) windows(smap [][]float64, width, height int) []region {
	integral := make([][]float64, height+1)
	for i := range integral {
		integral[i] = make([]float64, width+1)
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			integral[y+1][x+1] = smap[y][x] + integral[y][x+1] + integral[y+1][x] - integral[y][x]
		}
	}
	mean := func(x, y, w, h int) float64 {
		sum := integral[y+h][x+w] - integral[y][x+w] - integral[y+h][x] + integral[y][x]
		return sum / float64(w*h)
	}

	minArea := float64(width*height) * d.config.MinAreaRatio
	short := min(width, height)

	var regions []region
	for _, div := range []int{8, 6, 4, 3, 2} {
		size := short * 2 / div
		if size > short {
			size = short
		}
		if size < 10 || float64(size*size) < minArea {
			continue
		}
		step := max(size/8, 1)
		for y := 0; y+size <= height; y += step {
			for x := 0; x+size <= width; x += step {
				if s := mean(x, y, size, size); s > d.config.Threshold {
					regions = append(regions, region{x: x, y: y, w: size, h: size, score: s})
				}
			}
		}
	}
	return regions
}

func overlapsAny(r region, kept []region, limit float64) bool {
	for _, k := range kept {
		ix := min(r.x+r.w, k.x+k.w) - max(r.x, k.x)
		iy := min(r.y+r.h, k.y+k.h) - max(r.y, k.y)
		if ix <= 0 || iy <= 0 {
			continue
		}
		inter := float64(ix * iy)
		union := float64(r.w*r.h+k.w*k.h) - inter
		if inter/union > limit {
			return true
		}
	}
	return false
}
