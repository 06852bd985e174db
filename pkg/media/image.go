// Package media turns raw request payloads into decoded images or
// on-disk video handles that the pipeline can iterate.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/birdex-worker/pkg/types"
)

var jpegEOI = []byte{0xFF, 0xD9}

// jpegFill is the zero run appended to a cut scan so the decoder can finish
// the remaining MCUs before reaching EOI
const jpegFill = 64 << 10

// OpenImage decodes a still image, applies its EXIF orientation and returns an
// opaque NRGBA raster.
func OpenImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, &types.DecodeError{Kind: "image", Err: errors.New("empty payload")}
	}

	img, err := decodeOriented(data)
	if err != nil && isJPEG(data) && !bytes.HasSuffix(data, jpegEOI) {
		img, err = decodeOriented(padTruncatedJPEG(data))
	}
	if err != nil {
		// Fallback: explicit WebP decode for variants x/image/webp rejects
		if wimg, werr := webp.Decode(bytes.NewReader(data)); werr == nil {
			img, err = wimg, nil
		}
	}
	if err != nil {
		return nil, &types.DecodeError{Kind: "image", Err: fmt.Errorf("failed to decode image: %w", err)}
	}

	return toRGB(img), nil
}

func decodeOriented(data []byte) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
}

// padTruncatedJPEG completes a JPEG cut inside its entropy-coded data. A
// dangling 0xFF would start a marker, so it is dropped before the fill.
func padTruncatedJPEG(data []byte) []byte {
	for len(data) > 0 && data[len(data)-1] == 0xFF {
		data = data[:len(data)-1]
	}
	padded := make([]byte, len(data), len(data)+jpegFill+len(jpegEOI))
	copy(padded, data)
	padded = append(padded, make([]byte, jpegFill)...)
	return append(padded, jpegEOI...)
}

func isJPEG(data []byte) bool {
	return len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF
}

// toRGB drops transparency so every raster carries exactly three color channels
func toRGB(img image.Image) *image.NRGBA {
	out := imaging.Clone(img)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xFF
	}
	return out
}
