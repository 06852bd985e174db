package detection

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/menta2k/birdex-worker/pkg/client"
	"github.com/menta2k/birdex-worker/pkg/types"
)

// DefaultPrompt asks a vision model to locate birds
const DefaultPrompt = `You are a bird locator for wildlife photos.

Return JSON only:
{
  "detections": [
    {"label": "bird", "confidence": 0.0, "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}}
  ]
}

HARD RULES
- Coordinates are normalized to [0,1]: x,y is the top-left corner, w,h the size.
- One entry per visible bird. Label every bird "bird"; label other animals with their common name.
- Boxes must tightly enclose the whole animal including tail and legs.
- If nothing is found, return {"detections": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// maxPromptEdge bounds the longest image side sent to the model
const maxPromptEdge = 1024

var labelKeys = []string{"label", "class", "name", "category", "species"}

// VisionDetector locates objects by prompting a multimodal LLM
type VisionDetector struct {
	client client.VisionClient
	model  string
	prompt string
}

// NewVisionDetector creates a detector backed by a vision client
func NewVisionDetector(vc client.VisionClient, model string) *VisionDetector {
	return &VisionDetector{client: vc, model: model, prompt: DefaultPrompt}
}

// WithPrompt overrides the detection prompt
func (d *VisionDetector) WithPrompt(prompt string) *VisionDetector {
	if prompt != "" {
		d.prompt = prompt
	}
	return d
}

// Detect implements client.Detector
func (d *VisionDetector) Detect(ctx context.Context, img image.Image) ([]types.BoundingBox, error) {
	imgB64, err := encodeForPrompt(img)
	if err != nil {
		return nil, err
	}

	reply, err := d.client.SimpleQuery(ctx, d.model, d.prompt, imgB64)
	if err != nil {
		return nil, err
	}

	return ParseDetections(reply, img.Bounds())
}

func encodeForPrompt(img image.Image) (string, error) {
	b := img.Bounds()
	if b.Dx() > maxPromptEdge || b.Dy() > maxPromptEdge {
		img = imaging.Fit(img, maxPromptEdge, maxPromptEdge, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return "", fmt.Errorf("failed to encode image for prompt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// ParseDetections reads a model reply into pixel boxes within bounds.
// The reply may be an object with a "detections" array or a bare array.
// Entries without a usable box are skipped.
func ParseDetections(raw string, bounds image.Rectangle) ([]types.BoundingBox, error) {
	raw = sanitizeModelJSON(raw)
	if raw == "" {
		return []types.BoundingBox{}, nil
	}

	var entries []map[string]any
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			return nil, fmt.Errorf("failed to parse detections: %w", err)
		}
	} else {
		var wrapper struct {
			Detections []map[string]any `json:"detections"`
		}
		if err := json.Unmarshal([]byte(raw), &wrapper); err != nil {
			return nil, fmt.Errorf("failed to parse detections: %w", err)
		}
		entries = wrapper.Detections
	}

	boxes := make([]types.BoundingBox, 0, len(entries))
	for _, e := range entries {
		box, ok := boxFromEntry(e, bounds)
		if !ok {
			continue
		}
		box.ClassName = firstString(e, labelKeys)
		box.Confidence = clamp(number(e["confidence"], 1), 0, 1)
		boxes = append(boxes, box)
	}
	return boxes, nil
}

// firstString returns the first non-empty string among keys
func firstString(e map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := e[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func number(v any, fallback float64) float64 {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) {
			return fallback
		}
		return n
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return fallback
}

// boxFromEntry reads "box" {x,y,w,h} or "bbox"/"xyxy" [x1,y1,x2,y2].
// Values up to 1 are treated as normalized, larger ones as pixels.
func boxFromEntry(e map[string]any, bounds image.Rectangle) (types.BoundingBox, bool) {
	if m, ok := e["box"].(map[string]any); ok {
		x, y := number(m["x"], -1), number(m["y"], -1)
		bw, bh := number(m["w"], -1), number(m["h"], -1)
		if x < 0 || y < 0 || bw <= 0 || bh <= 0 {
			return types.BoundingBox{}, false
		}
		normalized := x <= 1 && y <= 1 && bw <= 1 && bh <= 1
		return toPixels([4]float64{x, y, x + bw, y + bh}, bounds, normalized), true
	}

	for _, key := range []string{"bbox", "xyxy"} {
		arr, ok := e[key].([]any)
		if !ok || len(arr) != 4 {
			continue
		}
		var v [4]float64
		for i := range arr {
			v[i] = number(arr[i], math.NaN())
			if math.IsNaN(v[i]) {
				return types.BoundingBox{}, false
			}
		}
		return toPixels(v, bounds, v[0] <= 1 && v[1] <= 1 && v[2] <= 1 && v[3] <= 1), true
	}
	return types.BoundingBox{}, false
}

func toPixels(v [4]float64, bounds image.Rectangle, normalized bool) types.BoundingBox {
	if normalized {
		w, h := float64(bounds.Dx()), float64(bounds.Dy())
		for i := range v {
			v[i] = clamp(v[i], 0, 1)
		}
		v[0], v[2] = v[0]*w, v[2]*w
		v[1], v[3] = v[1]*h, v[3]*h
	}
	return types.BoundingBox{
		X1: bounds.Min.X + int(math.Round(v[0])),
		Y1: bounds.Min.Y + int(math.Round(v[1])),
		X2: bounds.Min.X + int(math.Round(v[2])),
		Y2: bounds.Min.Y + int(math.Round(v[3])),
	}
}

// sanitizeModelJSON removes code fences, comments, and trailing commas from JSON response
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = dropTrailingCommas(stripComments(raw))

	// Keep only the outermost {...} or [...]
	opening, closing := "{", "}"
	if i, j := strings.Index(raw, "["), strings.Index(raw, "{"); i >= 0 && (j < 0 || i < j) {
		opening, closing = "[", "]"
	}
	if start := strings.Index(raw, opening); start >= 0 {
		if end := strings.LastIndex(raw, closing); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

// jsonScanner tracks whether a byte position is inside a string literal
type jsonScanner struct {
	inString, escaped bool
}

// literal consumes c and reports whether it belongs to a string literal
func (j *jsonScanner) literal(c byte) bool {
	switch {
	case j.escaped:
		j.escaped = false
	case j.inString && c == '\\':
		j.escaped = true
	case c == '"':
		j.inString = !j.inString
		return true
	}
	return j.inString
}

// stripComments removes // and /* */ comments outside string literals
func stripComments(s string) string {
	var b strings.Builder
	var sc jsonScanner
	for i := 0; i < len(s); i++ {
		c := s[i]
		if sc.literal(c) || c != '/' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		switch s[i+1] {
		case '/':
			for i < len(s) && s[i] != '\n' {
				i++
			}
			if i < len(s) {
				b.WriteByte('\n')
			}
		case '*':
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				return b.String()
			}
			i += end + 3
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// dropTrailingCommas removes commas directly before a closing bracket
func dropTrailingCommas(s string) string {
	var b strings.Builder
	var sc jsonScanner
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !sc.literal(c) && c == ',' {
			rest := strings.TrimLeft(s[i+1:], " \t\r\n")
			if rest != "" && (rest[0] == '}' || rest[0] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

var _ client.Detector = (*VisionDetector)(nil)
