package media

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/menta2k/birdex-worker/pkg/types"
)

// EnvelopeMode controls how payloads are interpreted
type EnvelopeMode string

const (
	// EnvelopeAuto unwraps payloads that look like a JSON object and passes
	// everything else through unchanged
	EnvelopeAuto EnvelopeMode = "auto"
	// EnvelopeRaw treats every payload as media bytes
	EnvelopeRaw EnvelopeMode = "raw"
	// EnvelopeJSON requires every payload to be a JSON envelope
	EnvelopeJSON EnvelopeMode = "json"
)

// ErrInvalidEnvelope is wrapped by every envelope decoding failure
var ErrInvalidEnvelope = errors.New("invalid envelope")

type envelope struct {
	FileBase64       string   `json:"fileBase64"`
	SampleFPS        *float64 `json:"sampleFps,omitempty"`
	StopOnFirstAbove *bool    `json:"stopOnFirstAbove,omitempty"`
}

// DecodeEnvelope unwraps a payload according to mode.
// It returns the media bytes, an optional container hint and per-message
// sampling overrides (nil when the envelope carries none).
func DecodeEnvelope(payload []byte, mode EnvelopeMode) ([]byte, string, *types.SampleParams, error) {
	switch mode {
	case EnvelopeRaw, "":
		return payload, "", nil, nil
	case EnvelopeAuto:
		if !looksLikeJSON(payload) {
			return payload, "", nil, nil
		}
	case EnvelopeJSON:
	default:
		return nil, "", nil, fmt.Errorf("unknown envelope mode %q", mode)
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, "", nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if strings.TrimSpace(env.FileBase64) == "" {
		return nil, "", nil, fmt.Errorf("%w: missing fileBase64", ErrInvalidEnvelope)
	}

	mime, encoded := splitDataURI(env.FileBase64)
	data, err := base64.StdEncoding.Strict().DecodeString(stripSpace(encoded))
	if err != nil {
		return nil, "", nil, fmt.Errorf("%w: base64: %v", ErrInvalidEnvelope, err)
	}

	var params *types.SampleParams
	if env.SampleFPS != nil || env.StopOnFirstAbove != nil {
		params = &types.SampleParams{StopOnFirst: env.StopOnFirstAbove}
		if env.SampleFPS != nil {
			params.TargetFPS = *env.SampleFPS
		}
	}

	return data, SuffixFromMime(mime), params, nil
}

func looksLikeJSON(payload []byte) bool {
	trimmed := bytes.TrimLeftFunc(payload, unicode.IsSpace)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// splitDataURI separates "data:<mime>;base64,<data>" into mime and data
func splitDataURI(s string) (string, string) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "data:") {
		return "", s
	}
	comma := strings.IndexByte(s, ',')
	if comma < 0 {
		return "", s
	}
	meta := s[len("data:"):comma]
	mime, _, _ := strings.Cut(meta, ";")
	return mime, s[comma+1:]
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
