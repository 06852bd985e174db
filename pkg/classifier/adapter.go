// Package classifier applies the identification threshold to raw species
// predictions.
package classifier

import (
	"context"
	"errors"
	"image"
	"math"

	"github.com/menta2k/birdex-worker/pkg/client"
	"github.com/menta2k/birdex-worker/pkg/types"
)

const (
	// DefaultThreshold is the minimum confidence for a positive identification
	DefaultThreshold = 0.95
	// DefaultSentinel is reported when the classifier is not confident enough
	DefaultSentinel = "unidentified"
)

// ErrUnavailable means no classifier backend could be loaded
var ErrUnavailable = errors.New("classifier unavailable")

// Config holds the identification policy
type Config struct {
	Threshold float64
	Sentinel  string
}

// DefaultConfig returns the standard identification policy
func DefaultConfig() Config {
	return Config{Threshold: DefaultThreshold, Sentinel: DefaultSentinel}
}

// Adapter wraps a classifier backend
type Adapter struct {
	backend client.Classifier
	config  Config
}

// NewAdapter creates an adapter. A nil backend yields ErrUnavailable on every call.
func NewAdapter(backend client.Classifier, config Config) *Adapter {
	if config.Sentinel == "" {
		config.Sentinel = DefaultSentinel
	}
	return &Adapter{backend: backend, config: config}
}

// Available reports whether a backend is loaded
func (a *Adapter) Available() bool {
	return a != nil && a.backend != nil
}

// Threshold returns the identification threshold
func (a *Adapter) Threshold() float64 { return a.config.Threshold }

// Sentinel returns the label used for unidentified results
func (a *Adapter) Sentinel() string { return a.config.Sentinel }

// Classify returns the thresholded top-1 prediction for img.
// Below the threshold the label is the sentinel and the confidence is kept.
func (a *Adapter) Classify(ctx context.Context, img image.Image) (types.ClassificationResult, error) {
	if !a.Available() {
		return types.ClassificationResult{}, ErrUnavailable
	}

	pred, err := a.backend.Classify(ctx, img)
	if err != nil {
		var clsErr *types.ClassifierError
		if errors.As(err, &clsErr) {
			return types.ClassificationResult{}, err
		}
		return types.ClassificationResult{}, &types.ClassifierError{Err: err}
	}

	return a.Apply(pred), nil
}

// Apply maps a raw prediction through the threshold
func (a *Adapter) Apply(pred client.Prediction) types.ClassificationResult {
	conf := pred.Probability
	if math.IsNaN(conf) {
		conf = 0
	}

	if conf >= a.config.Threshold && pred.Label != "" {
		return types.ClassificationResult{Label: pred.Label, Confidence: conf, Identified: true}
	}
	return types.ClassificationResult{Label: a.config.Sentinel, Confidence: conf}
}

// Unidentified returns the sentinel result with zero confidence
func (a *Adapter) Unidentified() types.ClassificationResult {
	return types.ClassificationResult{Label: a.config.Sentinel}
}
