package tflite

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/menta2k/birdex-worker/pkg/classifier"
	"github.com/menta2k/birdex-worker/pkg/client"
	"github.com/menta2k/birdex-worker/pkg/processing"
)

// ClassifierOptions describes a species classification model
type ClassifierOptions struct {
	ModelPath  string
	LabelsPath string
	Preprocess processing.Preprocess
	Softmax    classifier.SoftmaxMode
	Threads    int
	Logger     *slog.Logger
}

// Classifier is a TensorFlow Lite species classifier
type Classifier struct {
	session    *session
	labels     []string
	preprocess processing.Preprocess
	softmax    classifier.SoftmaxMode
}

var _ client.Classifier = (*Classifier)(nil)

// NewClassifier loads the model and its label vocabulary
func NewClassifier(opts ClassifierOptions) (*Classifier, error) {
	if err := opts.Preprocess.Validate(); err != nil {
		return nil, err
	}

	labels, err := classifier.LoadLabels(opts.LabelsPath)
	if err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	s, err := newSession(opts.ModelPath, opts.Threads, log)
	if err != nil {
		return nil, err
	}

	if n := product(s.inputShape()); n != opts.Preprocess.TensorLen() {
		s.close()
		return nil, fmt.Errorf("model input %v holds %d values, preprocessing produces %d",
			s.inputShape(), n, opts.Preprocess.TensorLen())
	}

	if err := checkVocabulary(s.outputShape(), len(labels)); err != nil {
		s.close()
		return nil, fmt.Errorf("%s: %w", opts.LabelsPath, err)
	}

	log.Info("classifier model loaded",
		slog.String("model", opts.ModelPath),
		slog.Int("classes", len(labels)),
		slog.Int("input_size", opts.Preprocess.Size))

	return &Classifier{
		session:    s,
		labels:     labels,
		preprocess: opts.Preprocess,
		softmax:    opts.Softmax,
	}, nil
}

// Labels returns the class vocabulary
func (c *Classifier) Labels() []string { return c.labels }

// Classify runs the model on img and returns the top-1 prediction
func (c *Classifier) Classify(ctx context.Context, img image.Image) (client.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return client.Prediction{}, err
	}

	scores, _, err := c.session.run(func(dst []float32) error {
		return c.preprocess.ToTensor(img, dst)
	})
	if err != nil {
		return client.Prediction{}, err
	}

	return classifier.TopPrediction(scores, c.labels, c.softmax)
}

// Close releases the interpreter
func (c *Classifier) Close() error {
	c.session.close()
	return nil
}

// checkVocabulary requires one label per model output class
func checkVocabulary(outputShape []int, labels int) error {
	if n := product(outputShape); n != labels {
		return fmt.Errorf("model output %v holds %d classes, labels list %d", outputShape, n, labels)
	}
	return nil
}

func product(dims []int) int {
	if len(dims) == 0 {
		return 0
	}
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}
