package detection

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// patchImage is a black frame with a checkered patch at (240,100)-(340,200)
func patchImage() image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 400, 300))
	for y := 0; y < 300; y++ {
		for x := 0; x < 400; x++ {
			img.Set(x, y, color.NRGBA{A: 255})
		}
	}
	for y := 100; y < 200; y++ {
		for x := 240; x < 340; x++ {
			if (x/10+y/10)%2 == 0 {
				img.Set(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
			}
		}
	}
	return img
}

func TestSaliencyFindsPatch(t *testing.T) {
	d := NewSaliencyDetector(SaliencyConfig{})

	boxes, err := d.Detect(context.Background(), patchImage())
	require.NoError(t, err)
	require.NotEmpty(t, boxes)
	assert.LessOrEqual(t, len(boxes), DefaultSaliencyConfig().MaxProposals)

	top := boxes[0]
	assert.Equal(t, "bird", top.ClassName)
	assert.InDelta(t, 1.0, top.Confidence, 1e-9)
	assert.True(t, image.Pt(290, 150).In(image.Rect(top.X1, top.Y1, top.X2, top.Y2)),
		"top box %+v misses the patch", top)

	for _, b := range boxes {
		assert.GreaterOrEqual(t, b.X1, 0)
		assert.GreaterOrEqual(t, b.Y1, 0)
		assert.LessOrEqual(t, b.X2, 400)
		assert.LessOrEqual(t, b.Y2, 300)
		assert.LessOrEqual(t, b.Confidence, 1.0)
	}
}

func TestSaliencyFlatImage(t *testing.T) {
	d := NewSaliencyDetector(DefaultSaliencyConfig())

	boxes, err := d.Detect(context.Background(), blank(200, 200))
	require.NoError(t, err)
	assert.Empty(t, boxes)
}

func TestSaliencyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSaliencyDetector(SaliencyConfig{}).Detect(ctx, patchImage())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSaliencyFeedsAdapter(t *testing.T) {
	a := NewAdapter(NewSaliencyDetector(SaliencyConfig{Label: "Bird", MaxProposals: 2}), DefaultConfig())

	boxes, err := a.Propose(context.Background(), patchImage())
	require.NoError(t, err)
	require.NotEmpty(t, boxes)
	assert.LessOrEqual(t, len(boxes), 2)
}
