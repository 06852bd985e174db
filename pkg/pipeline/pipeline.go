// Package pipeline turns one message into one aggregate result: decode,
// detect, classify and, for video, sample and aggregate.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/menta2k/birdex-worker/internal/logger"
	"github.com/menta2k/birdex-worker/internal/metrics"
	"github.com/menta2k/birdex-worker/internal/utils"
	"github.com/menta2k/birdex-worker/pkg/classifier"
	"github.com/menta2k/birdex-worker/pkg/detection"
	"github.com/menta2k/birdex-worker/pkg/fusion"
	"github.com/menta2k/birdex-worker/pkg/media"
	"github.com/menta2k/birdex-worker/pkg/processing"
	"github.com/menta2k/birdex-worker/pkg/sampler"
	"github.com/menta2k/birdex-worker/pkg/types"
)


// Options holds the per-worker defaults
type Options struct {
	Mode fusion.Mode
	// TargetFPS and StopOnFirst apply when a message carries no override
	TargetFPS   float64
	StopOnFirst bool
	MaxSeconds  float64
	FallbackFPS float64
	// OverlayDir enables debug overlays when set
	OverlayDir    string
	OverlayFormat string
}

// Pipeline classifies images and videos with injected capabilities
type Pipeline struct {
	detector     *detection.Adapter
	classifier   *classifier.Adapter
	materializer *media.Materializer
	processor    *processing.Processor
	metrics      *metrics.Metrics
	log          *slog.Logger
	policy       fusion.Policy
	opts         Options
}

// Deps are the capabilities a pipeline runs on. Metrics and Logger may be nil.
type Deps struct {
	Detector     *detection.Adapter
	Classifier   *classifier.Adapter
	Materializer *media.Materializer
	Processor    *processing.Processor
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// New creates a pipeline
func New(deps Deps, opts Options) *Pipeline {
	if deps.Detector == nil {
		deps.Detector = detection.NewAdapter(nil, detection.DefaultConfig())
	}
	if deps.Classifier == nil {
		deps.Classifier = classifier.NewAdapter(nil, classifier.DefaultConfig())
	}
	if deps.Processor == nil {
		deps.Processor = processing.NewProcessor()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if opts.Mode == "" {
		opts.Mode = fusion.ModeMulti
	}
	if opts.TargetFPS <= 0 {
		opts.TargetFPS = 1
	}

	p := &Pipeline{
		detector:     deps.Detector,
		classifier:   deps.Classifier,
		materializer: deps.Materializer,
		processor:    deps.Processor,
		metrics:      deps.Metrics,
		log:          deps.Logger,
		opts:         opts,
	}
	p.policy = fusion.Policy{
		Mode:         opts.Mode,
		Classify:     p.classifier.Classify,
		Crop:         p.processor.CropToBox,
		Unidentified: p.classifier.Unidentified,
	}
	return p
}

// Available reports whether a classifier is loaded
func (p *Pipeline) Available() bool { return p.classifier.Available() }

// Sentinel returns the label of unidentified results
func (p *Pipeline) Sentinel() string { return p.classifier.Sentinel() }

// ClassifyImage classifies one still image
func (p *Pipeline) ClassifyImage(ctx context.Context, msg types.Message) (types.AggregateResult, error) {
	img, err := media.OpenImage(msg.Payload)
	if err != nil {
		return types.AggregateResult{}, err
	}

	outcome, err := p.classifyFrame(ctx, msg.ID, -1, img)
	if err != nil {
		return types.AggregateResult{}, err
	}

	return types.AggregateResult{Best: outcome.Result}, nil
}

// ClassifyVideo samples a video and returns its best frame result
func (p *Pipeline) ClassifyVideo(ctx context.Context, msg types.Message) (types.AggregateResult, error) {
	if p.materializer == nil {
		return types.AggregateResult{}, &types.DecodeError{Kind: "video", Err: errors.New("no video decoder configured")}
	}

	handle, err := p.materializer.MaterializeVideo(msg.Payload, msg.Hint)
	if err != nil {
		return types.AggregateResult{}, err
	}
	defer func() {
		if err := handle.Close(); err != nil {
			p.log.Warn("failed to release video", slog.String("message_id", msg.ID), logger.Err(err))
		}
	}()

	fps, stop := p.sampling(msg.Params)
	s := sampler.NewWithOptions(handle.Source, fps, p.opts.MaxSeconds, sampler.Options{FallbackFPS: p.opts.FallbackFPS})
	agg := fusion.NewVideoAggregator(p.classifier.Threshold(), stop, p.classifier.Sentinel())

	p.log.Debug("sampling video",
		slog.String("message_id", msg.ID),
		slog.Float64("native_fps", s.NativeFPS()),
		slog.Int("stride", s.StepSize()),
		slog.Float64("target_fps", fps),
		slog.Bool("stop_on_first", stop))

	for s.Next() {
		frame := s.Frame()
		p.metrics.FramesSampled.Add(1)

		outcome, err := p.classifyFrame(ctx, msg.ID, frame.Index, frame.Image)
		if err != nil {
			return types.AggregateResult{}, err
		}
		agg.Add(frame.Index, frame.Timestamp, outcome.Result, outcome.Gated)

		if agg.ShouldStop() {
			s.Stop()
			agg.MarkStopped()
			p.metrics.StoppedEarly.Add(1)
			break
		}
	}

	if err := s.Err(); err != nil {
		if agg.FramesSampled() == 0 {
			return types.AggregateResult{}, &types.DecodeError{Kind: "video", Err: err}
		}
		p.log.Warn("video decode stopped early",
			slog.String("message_id", msg.ID),
			slog.Int("frames_sampled", agg.FramesSampled()),
			logger.Err(err))
	}
	if agg.FramesSampled() == 0 {
		p.log.Warn("video opened but yielded no frames", slog.String("message_id", msg.ID))
	}

	return agg.Result(), nil
}

// sampling resolves per-message overrides against the worker defaults
func (p *Pipeline) sampling(params *types.SampleParams) (float64, bool) {
	fps, stop := p.opts.TargetFPS, p.opts.StopOnFirst
	if params == nil {
		return fps, stop
	}
	if params.TargetFPS > 0 {
		fps = params.TargetFPS
	}
	if params.StopOnFirst != nil {
		stop = *params.StopOnFirst
	}
	return fps, stop
}

// classifyFrame runs detection and fusion on one frame. frameIndex is -1
// for still images.
func (p *Pipeline) classifyFrame(ctx context.Context, msgID string, frameIndex int, img image.Image) (fusion.FrameOutcome, error) {
	if err := ctx.Err(); err != nil {
		return fusion.FrameOutcome{}, err
	}

	boxes, err := p.detector.Propose(ctx, img)
	if err != nil {
		// Detector failures degrade to an empty proposal list
		p.metrics.DetectorErrors.Add(1)
		p.log.Warn("detector failed, continuing without boxes",
			slog.String("message_id", msgID),
			slog.Int("frame", frameIndex),
			logger.Err(err))
		boxes = nil
	}

	outcome, err := p.policy.FuseFrame(ctx, img, boxes)
	if err != nil {
		return fusion.FrameOutcome{}, err
	}
	p.metrics.CandidatesScored.Add(uint64(outcome.Classified))

	p.log.Debug("frame classified",
		slog.String("message_id", msgID),
		slog.Int("frame", frameIndex),
		slog.Int("boxes", len(boxes)),
		slog.String("label", outcome.Result.Label),
		slog.Float64("confidence", outcome.Result.Confidence),
		slog.String("source", string(outcome.Result.Source)))

	p.writeOverlay(msgID, frameIndex, img, boxes, outcome.Winner)
	return outcome, nil
}

func (p *Pipeline) writeOverlay(msgID string, frameIndex int, img image.Image, boxes []types.BoundingBox, winner *types.BoundingBox) {
	if p.opts.OverlayDir == "" {
		return
	}

	if err := utils.EnsureDir(p.opts.OverlayDir); err != nil {
		p.log.Warn("cannot create overlay directory", slog.String("dir", p.opts.OverlayDir), logger.Err(err))
		return
	}

	path := utils.OverlayFilename(p.opts.OverlayDir, msgID, frameIndex, p.opts.OverlayFormat)
	overlay := p.processor.CreateDebugOverlay(img, boxes, winner)
	if err := p.processor.SaveImage(overlay, path, p.opts.OverlayFormat); err != nil {
		p.log.Warn("failed to save overlay", slog.String("path", path), logger.Err(err))
		utils.RemoveFile(path)
		return
	}
	p.log.Debug("overlay saved", slog.String("path", path))
}

// Describe returns a short human-readable summary of a result, used in logs
func Describe(res types.AggregateResult) string {
	if res.FramesSampled > 0 {
		return fmt.Sprintf("%s (%.3f) over %d frames", res.Best.Label, res.Best.Confidence, res.FramesSampled)
	}
	return fmt.Sprintf("%s (%.3f)", res.Best.Label, res.Best.Confidence)
}
