package birdexworker

import (
	"fmt"
	"log/slog"

	"github.com/menta2k/birdex-worker/internal/logger"
	"github.com/menta2k/birdex-worker/internal/metrics"
	"github.com/menta2k/birdex-worker/pkg/classifier"
	"github.com/menta2k/birdex-worker/pkg/client"
	"github.com/menta2k/birdex-worker/pkg/detection"
	"github.com/menta2k/birdex-worker/pkg/fusion"
	"github.com/menta2k/birdex-worker/pkg/llamacpp"
	"github.com/menta2k/birdex-worker/pkg/media"
	"github.com/menta2k/birdex-worker/pkg/media/gocvsource"
	"github.com/menta2k/birdex-worker/pkg/ollama"
	"github.com/menta2k/birdex-worker/pkg/pipeline"
	"github.com/menta2k/birdex-worker/pkg/processing"
	"github.com/menta2k/birdex-worker/pkg/tflite"
)

var errUnavailable = classifier.ErrUnavailable

var defaultVideoOpener media.VideoOpener = gocvsource.Open

// loadDetector builds the configured detector. Failures are logged and yield
// nil, which makes the pipeline classify full frames.
func (e *Engine) loadDetector(cfg *Config, log *slog.Logger) client.Detector {
	d := cfg.Detector

	switch d.Backend {
	case "none":
		log.Info("detector disabled")
		return nil

	case "tflite":
		det, err := tflite.NewDetector(tflite.DetectorOptions{
			ModelPath:  d.Model,
			LabelsPath: d.Labels,
			InputSize:  d.InputSize,
			Floor:      d.Confidence,
			IoU:        d.IoU,
			Threads:    d.Threads,
			Logger:     log,
		})
		if err != nil {
			log.Warn("detector unavailable, classifying full frames", slog.String("model", d.Model), logger.Err(err))
			return nil
		}
		e.closers = append(e.closers, det)
		return det

	case "ollama", "llamacpp":
		var (
			vc  client.VisionClient
			err error
		)
		if d.Backend == "ollama" {
			vc, err = ollama.NewClient(d.URL, d.Timeout)
		} else {
			vc, err = llamacpp.NewClient(d.URL, d.Timeout)
		}
		if err != nil {
			log.Warn("detector unavailable, classifying full frames", slog.String("backend", d.Backend), logger.Err(err))
			return nil
		}
		log.Info("using vision model detector",
			slog.String("backend", d.Backend),
			slog.String("url", d.URL),
			slog.String("model", d.VisionModel))
		return detection.NewVisionDetector(vc, d.VisionModel)

	case "saliency":
		log.Info("using saliency detector")
		return detection.NewSaliencyDetector(detection.SaliencyConfig{
			Label:        d.TargetClass,
			MaxProposals: d.MaxCandidates,
		})

	default:
		log.Warn("unknown detector backend", slog.String("backend", d.Backend))
		return nil
	}
}

// loadClassifier builds the configured classifier. Failures are logged and
// yield nil, which puts the engine in degraded mode.
func (e *Engine) loadClassifier(cfg *Config, log *slog.Logger) client.Classifier {
	c := cfg.Classifier
	if c.Backend == "none" {
		log.Warn("classifier disabled, running degraded")
		return nil
	}

	pre, err := preprocessFromConfig(cfg)
	if err != nil {
		log.Error("invalid classifier preprocessing, running degraded", logger.Err(err))
		return nil
	}
	softmax, err := classifier.ParseSoftmaxMode(c.Softmax)
	if err != nil {
		log.Error("invalid classifier softmax mode, running degraded", logger.Err(err))
		return nil
	}

	cls, err := tflite.NewClassifier(tflite.ClassifierOptions{
		ModelPath:  c.Model,
		LabelsPath: c.Labels,
		Preprocess: pre,
		Softmax:    softmax,
		Threads:    c.Threads,
		Logger:     log,
	})
	if err != nil {
		log.Error("classifier unavailable, running degraded", slog.String("model", c.Model), logger.Err(err))
		return nil
	}
	e.closers = append(e.closers, cls)
	return cls
}

func preprocessFromConfig(cfg *Config) (processing.Preprocess, error) {
	c := cfg.Classifier
	if len(c.Mean) != 3 || len(c.Std) != 3 {
		return processing.Preprocess{}, fmt.Errorf("mean and std need 3 values, got %d and %d", len(c.Mean), len(c.Std))
	}
	pre := processing.Preprocess{Size: c.Size, Layout: processing.Layout(c.Layout)}
	for i := 0; i < 3; i++ {
		pre.Mean[i] = float32(c.Mean[i])
		pre.Std[i] = float32(c.Std[i])
	}
	return pre, pre.Validate()
}

func buildPipeline(cfg *Config, det client.Detector, cls client.Classifier, open media.VideoOpener, m *metrics.Metrics, log *slog.Logger) (*pipeline.Pipeline, error) {
	mode, err := fusion.ParseMode(cfg.Fusion.Mode)
	if err != nil {
		return nil, err
	}

	return pipeline.New(pipeline.Deps{
		Detector: detection.NewAdapter(det, detection.Config{
			TargetClass:     cfg.Detector.TargetClass,
			ConfidenceFloor: cfg.Detector.Confidence,
			PaddingRatio:    cfg.Detector.PadRatio,
			MaxCandidates:   cfg.Detector.MaxCandidates,
		}),
		Classifier: classifier.NewAdapter(cls, classifier.Config{
			Threshold: cfg.Classifier.Threshold,
			Sentinel:  cfg.Sentinel(),
		}),
		Materializer: media.NewMaterializer(cfg.Worker.TempDir, open),
		Processor:    processing.NewProcessor(),
		Metrics:      m,
		Logger:       log,
	}, pipeline.Options{
		Mode:          mode,
		TargetFPS:     cfg.Video.FPS,
		StopOnFirst:   cfg.Video.Stop,
		MaxSeconds:    cfg.Video.MaxSeconds,
		FallbackFPS:   cfg.Video.FallbackFPS,
		OverlayDir:    cfg.Debug.OverlayDir,
		OverlayFormat: cfg.Debug.Format,
	}), nil
}
