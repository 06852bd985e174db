package processing

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Layout is the memory order of a model input tensor
type Layout string

const (
	LayoutNHWC Layout = "nhwc"
	LayoutNCHW Layout = "nchw"
)

// Preprocess describes how an image becomes a classifier input
type Preprocess struct {
	Size   int
	Mean   [3]float32
	Std    [3]float32
	Layout Layout
}

// ImageNetPreprocess returns the standard 224px ImageNet normalization
func ImageNetPreprocess() Preprocess {
	return Preprocess{
		Size:   224,
		Mean:   [3]float32{0.485, 0.456, 0.406},
		Std:    [3]float32{0.229, 0.224, 0.225},
		Layout: LayoutNHWC,
	}
}

// Validate checks the preprocessing parameters
func (p Preprocess) Validate() error {
	if p.Size <= 0 {
		return fmt.Errorf("preprocess size must be positive, got %d", p.Size)
	}
	for i, s := range p.Std {
		if s <= 0 {
			return fmt.Errorf("preprocess std[%d] must be positive, got %v", i, s)
		}
	}
	switch p.Layout {
	case LayoutNHWC, LayoutNCHW, "":
	default:
		return fmt.Errorf("unknown tensor layout %q", p.Layout)
	}
	return nil
}

// TensorLen returns the number of float32 values ToTensor writes
func (p Preprocess) TensorLen() int {
	return 3 * p.Size * p.Size
}

// ToTensor resizes img to Size×Size, scales to [0,1] and normalizes each
// channel, writing the result into dst.
func (p Preprocess) ToTensor(img image.Image, dst []float32) error {
	if len(dst) != p.TensorLen() {
		return fmt.Errorf("tensor has %d values, want %d", len(dst), p.TensorLen())
	}

	resized := imaging.Resize(img, p.Size, p.Size, imaging.Linear)
	plane := p.Size * p.Size

	for y := 0; y < p.Size; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < p.Size; x++ {
			px := row[x*4 : x*4+3]
			for c := 0; c < 3; c++ {
				v := (float32(px[c])/255 - p.Mean[c]) / p.Std[c]
				if p.Layout == LayoutNCHW {
					dst[c*plane+y*p.Size+x] = v
				} else {
					dst[(y*p.Size+x)*3+c] = v
				}
			}
		}
	}
	return nil
}

// Softmax converts logits to probabilities in place
func Softmax(values []float32) {
	if len(values) == 0 {
		return
	}
	maxV := values[0]
	for _, v := range values[1:] {
		if v > maxV {
			maxV = v
		}
	}
	var sum float64
	for i, v := range values {
		e := math.Exp(float64(v - maxV))
		values[i] = float32(e)
		sum += e
	}
	for i := range values {
		values[i] = float32(float64(values[i]) / sum)
	}
}

// Argmax returns the index and value of the largest element, or -1 when empty
func Argmax(values []float32) (int, float32) {
	best := -1
	var bestV float32
	for i, v := range values {
		if best < 0 || v > bestV {
			best, bestV = i, v
		}
	}
	return best, bestV
}

// LooksLikeProbabilities reports whether values already sum to about one
func LooksLikeProbabilities(values []float32) bool {
	var sum float64
	for _, v := range values {
		if v < 0 || v > 1 {
			return false
		}
		sum += float64(v)
	}
	return math.Abs(sum-1) < 1e-3
}
