package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.20, cfg.Detector.Confidence)
	assert.Equal(t, 640, cfg.Detector.InputSize)
	assert.Equal(t, 0.95, cfg.Classifier.Threshold)
	assert.Equal(t, 3, cfg.Detector.MaxCandidates)
	assert.Equal(t, 0.10, cfg.Detector.PadRatio)
	assert.Equal(t, 15.0, cfg.Video.MaxSeconds)
	assert.Equal(t, "multi", cfg.Fusion.Mode)
	assert.Equal(t, "unidentified", cfg.Sentinel())
	assert.Equal(t, uint32(256<<20), cfg.Worker.MaxPayload)
	assert.Equal(t, 120*time.Second, cfg.Detector.Timeout)
	assert.Equal(t, []float64{0.485, 0.456, 0.406}, cfg.Classifier.Mean)
}

func TestLoadLegacyEnv(t *testing.T) {
	t.Setenv("YOLO_CONF", "0.35")
	t.Setenv("YOLO_IMGSZ", "384")
	t.Setenv("CLS_THRESHOLD", "0.9")
	t.Setenv("MAX_CANDIDATES", "5")
	t.Setenv("PAD_RATIO", "0.2")
	t.Setenv("MAX_VIDEO_SECONDS", "30")
	t.Setenv("FUSION_MODE", "GATED")

	cfg, err := Load(New(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 0.35, cfg.Detector.Confidence)
	assert.Equal(t, 384, cfg.Detector.InputSize)
	assert.Equal(t, 0.9, cfg.Classifier.Threshold)
	assert.Equal(t, 5, cfg.Detector.MaxCandidates)
	assert.Equal(t, 0.2, cfg.Detector.PadRatio)
	assert.Equal(t, 30.0, cfg.Video.MaxSeconds)
	assert.Equal(t, "gated", cfg.Fusion.Mode)
}

func TestPrefixedEnvWinsOverLegacy(t *testing.T) {
	t.Setenv("CLS_THRESHOLD", "0.5")
	t.Setenv("BIRDEX_CLASSIFIER_THRESHOLD", "0.8")
	t.Setenv("BIRDEX_WORKER_ENVELOPE", "json")

	cfg, err := Load(New(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0.8, cfg.Classifier.Threshold)
	assert.Equal(t, "json", cfg.Worker.Envelope)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "birdex.yaml", `
detector:
  backend: ollama
  vision_model: llava:13b
classifier:
  sentinel: Ave no identificada
  mean: [0.5, 0.5, 0.5]
video:
  fps: 2
  stop: true
debug:
  overlay_dir: /tmp/overlays
  format: WEBP
`)

	cfg, err := Load(New(), Options{File: path})
	require.NoError(t, err)

	assert.Equal(t, "ollama", cfg.Detector.Backend)
	assert.Equal(t, "llava:13b", cfg.Detector.VisionModel)
	assert.Equal(t, "Ave no identificada", cfg.Sentinel())
	assert.Equal(t, []float64{0.5, 0.5, 0.5}, cfg.Classifier.Mean)
	assert.Equal(t, 2.0, cfg.Video.FPS)
	assert.True(t, cfg.Video.Stop)
	assert.Equal(t, "webp", cfg.Debug.Format)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(New(), Options{File: filepath.Join(t.TempDir(), "nope.yaml")})
	assert.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	t.Setenv("PAD_RATIO", "")
	os.Unsetenv("PAD_RATIO")
	t.Cleanup(func() { os.Unsetenv("PAD_RATIO") })

	envFile := writeFile(t, ".env", "PAD_RATIO=0.25\n")

	cfg, err := Load(New(), Options{EnvFiles: []string{envFile, filepath.Join(t.TempDir(), "absent.env")}})
	require.NoError(t, err)
	assert.Equal(t, 0.25, cfg.Detector.PadRatio)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold above one", func(c *Config) { c.Classifier.Threshold = 1.5 }},
		{"negative floor", func(c *Config) { c.Detector.Confidence = -0.1 }},
		{"pad ratio", func(c *Config) { c.Detector.PadRatio = 2 }},
		{"zero candidates", func(c *Config) { c.Detector.MaxCandidates = 0 }},
		{"fps below one", func(c *Config) { c.Video.FPS = 0.5 }},
		{"zero seconds", func(c *Config) { c.Video.MaxSeconds = 0 }},
		{"unknown mode", func(c *Config) { c.Fusion.Mode = "vote" }},
		{"unknown detector", func(c *Config) { c.Detector.Backend = "onnx" }},
		{"unknown classifier", func(c *Config) { c.Classifier.Backend = "torch" }},
		{"unknown envelope", func(c *Config) { c.Worker.Envelope = "xml" }},
		{"short mean", func(c *Config) { c.Classifier.Mean = []float64{0.5} }},
		{"zero std", func(c *Config) { c.Classifier.Std = []float64{0.2, 0, 0.2} }},
		{"unknown layout", func(c *Config) { c.Classifier.Layout = "chw" }},
		{"unknown overlay format", func(c *Config) { c.Debug.Format = "gif" }},
		{"empty target", func(c *Config) { c.Detector.TargetClass = " " }},
		{"missing temp dir", func(c *Config) { c.Worker.TempDir = filepath.Join(os.TempDir(), "birdex-absent", "tmp") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestInvalidEnvFailsLoad(t *testing.T) {
	t.Setenv("FUSION_MODE", "best-of")
	_, err := Load(New(), Options{})
	assert.Error(t, err)
}
