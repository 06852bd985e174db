// Package birdexworker classifies bird species in images and short videos.
//
// The worker binary (cmd/birdex-worker) speaks a length-prefixed frame
// protocol on stdin/stdout. Go programs can skip the protocol and embed the
// same detect-then-classify pipeline through an Engine:
//
//	cfg := birdexworker.DefaultConfig()
//	cfg.Classifier.Model = "models/classifier.tflite"
//	cfg.Classifier.Labels = "models/classes.json"
//
//	engine, err := birdexworker.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	res, err := engine.ClassifyImage(ctx, jpegBytes)
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("%s (%.2f)\n", res.Best.Label, res.Best.Confidence)
//
// The pipeline consists of:
//
// 1. Media (pkg/media): image decoding and video materialization
// 2. Detection (pkg/detection): ranked and padded bird proposals
// 3. Classification (pkg/classifier): species prediction with a confidence threshold
// 4. Fusion (pkg/fusion): picks the best candidate per frame and per video
//
// Model loading failures never abort construction. A missing detector means
// full-frame classification; a missing classifier puts the engine in degraded
// mode, where every call fails with classifier.ErrUnavailable.
package birdexworker

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/menta2k/birdex-worker/internal/config"
	"github.com/menta2k/birdex-worker/internal/metrics"
	"github.com/menta2k/birdex-worker/pkg/client"
	"github.com/menta2k/birdex-worker/pkg/media"
	"github.com/menta2k/birdex-worker/pkg/pipeline"
	"github.com/menta2k/birdex-worker/pkg/types"
)

// Version of the birdex worker
const Version = "1.0.0"

// Config is the worker configuration
type Config = config.Config

// DefaultConfig returns the built-in configuration
func DefaultConfig() *Config {
	return config.Default()
}

// Engine owns loaded models and a pipeline
type Engine struct {
	pipeline *pipeline.Pipeline
	metrics  *metrics.Metrics
	closers  []io.Closer
}

// Option customizes Engine construction
type Option func(*options)

type options struct {
	detector   client.Detector
	classifier client.Classifier
	opener     media.VideoOpener
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// WithDetector injects a detector instead of loading the configured backend
func WithDetector(d client.Detector) Option {
	return func(o *options) { o.detector = d }
}

// WithClassifier injects a classifier instead of loading the configured backend
func WithClassifier(c client.Classifier) Option {
	return func(o *options) { o.classifier = c }
}

// WithVideoOpener replaces the OpenCV video decoder
func WithVideoOpener(open media.VideoOpener) Option {
	return func(o *options) { o.opener = open }
}

// WithLogger sets the diagnostics logger
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics shares a metrics registry with the caller
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New validates cfg, loads the configured models and builds a pipeline
func New(cfg *Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}

	e := &Engine{metrics: o.metrics}

	det := o.detector
	if det == nil {
		det = e.loadDetector(cfg, o.logger)
	}
	cls := o.classifier
	if cls == nil {
		cls = e.loadClassifier(cfg, o.logger)
	}
	opener := o.opener
	if opener == nil {
		opener = defaultVideoOpener
	}

	p, err := buildPipeline(cfg, det, cls, opener, o.metrics, o.logger)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.pipeline = p
	o.metrics.SetDegraded(!p.Available())

	return e, nil
}

// Pipeline exposes the underlying pipeline for the frame protocol loop
func (e *Engine) Pipeline() *pipeline.Pipeline { return e.pipeline }

// Metrics returns the metrics the engine reports to
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// Available reports whether a classifier is loaded
func (e *Engine) Available() bool { return e.pipeline.Available() }

// ClassifyImage classifies an encoded image
func (e *Engine) ClassifyImage(ctx context.Context, data []byte) (types.AggregateResult, error) {
	if !e.pipeline.Available() {
		return types.AggregateResult{}, errUnavailable
	}
	return e.pipeline.ClassifyImage(ctx, types.Message{ID: "embedded", Payload: data})
}

// ClassifyVideo classifies an encoded video. params may be nil.
func (e *Engine) ClassifyVideo(ctx context.Context, data []byte, params *types.SampleParams) (types.AggregateResult, error) {
	if !e.pipeline.Available() {
		return types.AggregateResult{}, errUnavailable
	}
	return e.pipeline.ClassifyVideo(ctx, types.Message{ID: "embedded", Payload: data, Params: params})
}

// Close releases loaded models
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// GetVersion returns the worker version
func GetVersion() string {
	return Version
}
