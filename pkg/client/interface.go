package client

import (
	"context"
	"image"

	"github.com/menta2k/birdex-worker/pkg/types"
)

// VisionClient talks to a multimodal LLM server and returns its raw reply
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
}

// Detector proposes object boxes for an image, in source pixel coordinates
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]types.BoundingBox, error)
}

// Prediction is a raw top-1 classifier output
type Prediction struct {
	Index       int
	Label       string
	Probability float64
}

// Classifier returns the top-1 prediction for an image
type Classifier interface {
	Classify(ctx context.Context, img image.Image) (Prediction, error)
}
