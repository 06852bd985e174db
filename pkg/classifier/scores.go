package classifier

import (
	"fmt"
	"strings"

	"github.com/menta2k/birdex-worker/pkg/client"
	"github.com/menta2k/birdex-worker/pkg/processing"
)

// SoftmaxMode controls whether raw model outputs are normalized
type SoftmaxMode string

const (
	// SoftmaxAuto applies softmax unless the outputs already sum to one
	SoftmaxAuto   SoftmaxMode = "auto"
	SoftmaxAlways SoftmaxMode = "always"
	SoftmaxNever  SoftmaxMode = "never"
)

// ParseSoftmaxMode maps a config value to a SoftmaxMode; empty means auto
func ParseSoftmaxMode(s string) (SoftmaxMode, error) {
	switch m := SoftmaxMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return SoftmaxAuto, nil
	case SoftmaxAuto, SoftmaxAlways, SoftmaxNever:
		return m, nil
	default:
		return "", fmt.Errorf("unknown softmax mode %q", s)
	}
}

// TopPrediction turns one output vector into a top-1 prediction.
// scores is modified in place when softmax is applied.
func TopPrediction(scores []float32, labels []string, mode SoftmaxMode) (client.Prediction, error) {
	if len(scores) == 0 {
		return client.Prediction{}, fmt.Errorf("model produced no scores")
	}

	switch mode {
	case SoftmaxAlways:
		processing.Softmax(scores)
	case SoftmaxNever:
	default:
		if !processing.LooksLikeProbabilities(scores) {
			processing.Softmax(scores)
		}
	}

	idx, p := processing.Argmax(scores)
	label, err := LabelAt(labels, idx)
	if err != nil {
		return client.Prediction{}, err
	}
	return client.Prediction{
		Index:       idx,
		Label:       label,
		Probability: float64(p),
	}, nil
}
