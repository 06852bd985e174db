// Package worker runs the persistent read-classify-emit loop
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/menta2k/birdex-worker/internal/logger"
	"github.com/menta2k/birdex-worker/internal/metrics"
	"github.com/menta2k/birdex-worker/internal/utils"
	"github.com/menta2k/birdex-worker/pkg/classifier"
	"github.com/menta2k/birdex-worker/pkg/emitter"
	"github.com/menta2k/birdex-worker/pkg/framing"
	"github.com/menta2k/birdex-worker/pkg/media"
	"github.com/menta2k/birdex-worker/pkg/pipeline"
	"github.com/menta2k/birdex-worker/pkg/types"
)

// Kind selects the media a worker accepts
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Config holds the loop settings
type Config struct {
	Kind       Kind
	Envelope   media.EnvelopeMode
	MaxPayload uint32
}

// Worker reads frames from in and writes one result line per frame to out
type Worker struct {
	reader   *framing.Reader
	emitter  *emitter.Emitter
	pipeline *pipeline.Pipeline
	metrics  *metrics.Metrics
	log      *slog.Logger
	cfg      Config
	newID    func() string
}

// New creates a worker. m and log may be nil.
func New(in io.Reader, out io.Writer, p *pipeline.Pipeline, m *metrics.Metrics, log *slog.Logger, cfg Config) *Worker {
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.Kind == "" {
		cfg.Kind = KindImage
	}
	if cfg.Envelope == "" {
		cfg.Envelope = media.EnvelopeAuto
	}

	m.SetDegraded(!p.Available())

	return &Worker{
		reader:   framing.NewReader(in, cfg.MaxPayload),
		emitter:  emitter.New(framing.NewWriter(out), cfg.Kind == KindVideo, p.Sentinel(), log),
		pipeline: p,
		metrics:  m,
		log:      log,
		cfg:      cfg,
		newID:    func() string { return uuid.NewString() },
	}
}

// Run processes messages until the input ends or ctx is cancelled.
// A clean end of stream and cancellation return nil; a stream that closes
// mid-frame returns an error wrapping framing.ErrTruncated.
func (w *Worker) Run(ctx context.Context) error {
	if !w.pipeline.Available() {
		w.log.Warn("no classifier loaded, every message will be answered with an error")
	}
	w.log.Info("worker ready", slog.String("kind", string(w.cfg.Kind)), slog.String("envelope", string(w.cfg.Envelope)))

	for {
		if ctx.Err() != nil {
			w.log.Info("shutdown requested, stopping worker")
			return nil
		}

		payload, err := w.reader.ReadMessage()
		if err != nil {
			var oversize *framing.OversizeError
			switch {
			case errors.Is(err, io.EOF):
				w.log.Info("input closed, stopping worker")
				return nil
			case errors.As(err, &oversize):
				w.metrics.MessagesReceived.Add(1)
				w.metrics.ObserveMessage(string(w.cfg.Kind), false, 0)
				w.log.Warn("rejected oversize message", slog.Uint64("length", uint64(oversize.Length)), slog.Uint64("limit", uint64(oversize.Limit)))
				w.emitter.EmitError(err.Error())
				continue
			default:
				return err
			}
		}

		w.metrics.MessagesReceived.Add(1)
		w.handle(ctx, types.Message{ID: w.newID(), Payload: payload})
	}
}

// handle answers one message with exactly one line
func (w *Worker) handle(ctx context.Context, msg types.Message) {
	start := time.Now()
	log := w.log.With(slog.String("message_id", msg.ID))

	res, err := w.process(ctx, msg, log)
	elapsed := time.Since(start)
	w.metrics.ObserveMessage(string(w.cfg.Kind), err == nil, elapsed)

	if err != nil {
		log.Warn("message failed", logger.Err(err), slog.Duration("elapsed", elapsed))
		w.emitter.EmitError(err.Error())
		return
	}

	log.Info("message classified",
		slog.String("result", pipeline.Describe(res)),
		slog.Bool("identified", res.Best.Identified),
		slog.Duration("elapsed", elapsed))
	w.emitter.EmitSuccess(res)
}

func (w *Worker) process(ctx context.Context, msg types.Message, log *slog.Logger) (res types.AggregateResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("recovered from panic", slog.Any("panic", r))
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	if len(msg.Payload) == 0 {
		return types.AggregateResult{}, errors.New("empty payload")
	}

	if !w.pipeline.Available() {
		return types.AggregateResult{}, classifier.ErrUnavailable
	}

	data, hint, params, err := media.DecodeEnvelope(msg.Payload, w.cfg.Envelope)
	if err != nil {
		return types.AggregateResult{}, err
	}
	if len(data) == 0 {
		return types.AggregateResult{}, errors.New("empty payload")
	}
	msg.Payload, msg.Hint, msg.Params = data, hint, params

	log.Debug("message received",
		slog.String("size", utils.FormatFileSize(int64(len(data)))),
		slog.String("hint", hint))

	if w.cfg.Kind == KindVideo {
		return w.pipeline.ClassifyVideo(ctx, msg)
	}
	return w.pipeline.ClassifyImage(ctx, msg)
}
