// Package processing holds the raster operations shared by the pipeline and
// the model backends: cropping, tensor preparation and debug overlays.
package processing

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/menta2k/birdex-worker/pkg/types"
)

// Processor handles image processing operations
type Processor struct {
	// Quality is used for lossy overlay formats
	Quality int
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{Quality: 90}
}

// CropToBox crops an image to a pixel bounding box
func (p *Processor) CropToBox(img image.Image, box types.BoundingBox) (image.Image, error) {
	rect := box.Rect().Intersect(img.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("empty crop rectangle %v", box.Rect())
	}
	return imaging.Crop(img, rect), nil
}

// SaveImage saves an image to a file with the specified format
func (p *Processor) SaveImage(img image.Image, path, format string) error {
	quality := p.Quality
	if quality <= 0 {
		quality = 90
	}

	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return webp.Encode(f, img, &webp.Options{Quality: float32(quality)})
	case "png", "":
		return imaging.Save(img, path)
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

// Overlay colors
var (
	proposalColor = color.NRGBA{0, 255, 0, 255}
	winnerColor   = color.NRGBA{255, 204, 0, 255}
	centerColor   = color.NRGBA{0, 170, 255, 255}
)

// CreateDebugOverlay draws every proposed box and highlights the winning one.
// winner may be nil when the full frame won.
func (p *Processor) CreateDebugOverlay(img image.Image, boxes []types.BoundingBox, winner *types.BoundingBox) image.Image {
	nrgba := imaging.Clone(img)
	origin := img.Bounds().Min
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()

	stroke := int(math.Max(2, 0.004*float64(minInt(w, h)))) // ~0.4% of min side

	for _, b := range boxes {
		drawBox(nrgba, b.Rect().Sub(origin), proposalColor, stroke)
	}

	if winner != nil {
		drawBox(nrgba, winner.Rect().Sub(origin), winnerColor, stroke+1)
	} else {
		// Full frame won: frame the whole image
		drawBox(nrgba, nrgba.Bounds(), winnerColor, stroke)
	}

	// Image center marker
	ix, iy := w/2, h/2
	drawHLine(nrgba, iy, ix-6, ix+6, centerColor)
	drawVLine(nrgba, ix, iy-6, iy+6, centerColor)

	return nrgba
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func drawBox(img *image.NRGBA, r image.Rectangle, c color.NRGBA, stroke int) {
	if r.Empty() {
		return
	}
	for s := 0; s < stroke; s++ {
		drawHLine(img, r.Min.Y+s, r.Min.X, r.Max.X, c)
		drawHLine(img, r.Max.Y-1-s, r.Min.X, r.Max.X, c)
		drawVLine(img, r.Min.X+s, r.Min.Y, r.Max.Y, c)
		drawVLine(img, r.Max.X-1-s, r.Min.Y, r.Max.Y, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	if x0 < 0 {
		x0 = 0
	}
	if x1 > img.Bounds().Dx() {
		x1 = img.Bounds().Dx()
	}
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= 0 || y0 >= img.Bounds().Dy() {
		return
	}
	if y0 < 0 {
		y0 = 0
	}
	if y1 > img.Bounds().Dy() {
		y1 = img.Bounds().Dy()
	}
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
