// Package tflite runs TensorFlow Lite classifier and detector models
package tflite

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"

	"github.com/tphakala/go-tflite"
)

// session owns one interpreter. Interpreters are not goroutine-safe, so every
// invocation holds mu.
type session struct {
	mu          sync.Mutex
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
}

func newSession(path string, threads int, log *slog.Logger) (*session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model %s: %w", path, err)
	}

	model := tflite.NewModel(data)
	if model == nil {
		return nil, fmt.Errorf("cannot load TensorFlow Lite model %s", path)
	}

	options := tflite.NewInterpreterOptions()
	options.SetNumThread(threadCount(threads))
	options.SetErrorReporter(func(msg string, _ any) {
		log.Error("TFLite error", slog.String("message", msg))
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		options.Delete()
		model.Delete()
		return nil, fmt.Errorf("cannot create interpreter for %s", path)
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		options.Delete()
		model.Delete()
		return nil, fmt.Errorf("tensor allocation failed for %s", path)
	}

	return &session{model: model, options: options, interpreter: interpreter}, nil
}

// threadCount resolves 0 to all cores
func threadCount(threads int) int {
	if threads <= 0 {
		return runtime.NumCPU()
	}
	return threads
}

// inputShape returns the dimensions of input tensor 0
func (s *session) inputShape() []int {
	return shapeOf(s.interpreter.GetInputTensor(0))
}

func (s *session) outputShape() []int {
	return shapeOf(s.interpreter.GetOutputTensor(0))
}

func shapeOf(t *tflite.Tensor) []int {
	if t == nil {
		return nil
	}
	dims := make([]int, t.NumDims())
	for i := range dims {
		dims[i] = t.Dim(i)
	}
	return dims
}

// run copies input into tensor 0, invokes the model and returns a copy of
// output tensor 0 with its shape.
func (s *session) run(fill func(dst []float32) error) ([]float32, []int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	input := s.interpreter.GetInputTensor(0)
	if input == nil {
		return nil, nil, fmt.Errorf("cannot get input tensor")
	}
	if err := fill(input.Float32s()); err != nil {
		return nil, nil, err
	}

	if status := s.interpreter.Invoke(); status != tflite.OK {
		return nil, nil, fmt.Errorf("tensor invoke failed: %v", status)
	}

	output := s.interpreter.GetOutputTensor(0)
	if output == nil {
		return nil, nil, fmt.Errorf("cannot get output tensor")
	}
	raw := output.Float32s()
	out := make([]float32, len(raw))
	copy(out, raw)
	return out, shapeOf(output), nil
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.interpreter != nil {
		s.interpreter.Delete()
		s.interpreter = nil
	}
	if s.options != nil {
		s.options.Delete()
		s.options = nil
	}
	if s.model != nil {
		s.model.Delete()
		s.model = nil
	}
}
