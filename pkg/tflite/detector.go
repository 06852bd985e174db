package tflite

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/disintegration/imaging"

	"github.com/menta2k/birdex-worker/pkg/classifier"
	"github.com/menta2k/birdex-worker/pkg/client"
	"github.com/menta2k/birdex-worker/pkg/detection"
	"github.com/menta2k/birdex-worker/pkg/types"
)

// DetectorOptions describes a YOLO object detection model
type DetectorOptions struct {
	ModelPath  string
	LabelsPath string
	// InputSize is used when the model input shape is dynamic
	InputSize int
	// Floor drops raw boxes below this score before NMS
	Floor   float64
	IoU     float64
	Threads int
	Logger  *slog.Logger
}

// Detector is a TensorFlow Lite YOLO detector expecting a square NHWC
// float input scaled to [0,1].
type Detector struct {
	session   *session
	labels    []string
	inputSize int
	floor     float64
	iou       float64
}

var _ client.Detector = (*Detector)(nil)

// NewDetector loads the model and its label vocabulary
func NewDetector(opts DetectorOptions) (*Detector, error) {
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

	size := opts.InputSize
	shape := s.inputShape()
	if len(shape) == 4 && shape[1] > 0 && shape[1] == shape[2] && shape[3] == 3 {
		size = shape[1]
	} else if len(shape) != 4 || shape[3] != 3 {
		s.close()
		return nil, fmt.Errorf("unsupported detector input shape %v, want [1,S,S,3]", shape)
	}
	if size <= 0 {
		s.close()
		return nil, fmt.Errorf("detector input size unknown")
	}

	iou := opts.IoU
	if iou <= 0 {
		iou = detection.DefaultIoUThreshold
	}

	log.Info("detector model loaded",
		slog.String("model", opts.ModelPath),
		slog.Int("classes", len(labels)),
		slog.Int("input_size", size))

	return &Detector{
		session:   s,
		labels:    labels,
		inputSize: size,
		floor:     opts.Floor,
		iou:       iou,
	}, nil
}

// Detect returns boxes in img pixel coordinates
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]types.BoundingBox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, shape, err := d.session.run(func(dst []float32) error {
		return fillInput(img, d.inputSize, dst)
	})
	if err != nil {
		return nil, err
	}

	// Drop the batch dimension
	if len(shape) == 3 {
		shape = shape[1:]
	}
	if len(shape) != 2 {
		return nil, fmt.Errorf("unsupported detector output shape %v", shape)
	}

	return detection.DecodeYOLO(detection.YOLOOutput{
		Data:      out,
		Rows:      shape[0],
		Cols:      shape[1],
		InputSize: d.inputSize,
	}, d.labels, img.Bounds(), d.floor, d.iou)
}

// Close releases the interpreter
func (d *Detector) Close() error {
	d.session.close()
	return nil
}

func fillInput(img image.Image, size int, dst []float32) error {
	if len(dst) != size*size*3 {
		return fmt.Errorf("input tensor has %d values, want %d", len(dst), size*size*3)
	}
	resized := imaging.Resize(img, size, size, imaging.Linear)
	i := 0
	for y := 0; y < size; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < size; x++ {
			px := row[x*4 : x*4+3]
			dst[i] = float32(px[0]) / 255
			dst[i+1] = float32(px[1]) / 255
			dst[i+2] = float32(px[2]) / 255
			i += 3
		}
	}
	return nil
}
