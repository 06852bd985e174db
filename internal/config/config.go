package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/menta2k/birdex-worker/internal/utils"
)

// EnvPrefix is prepended to nested keys: detector.pad_ratio is BIRDEX_DETECTOR_PAD_RATIO
const EnvPrefix = "BIRDEX"

// Config holds the application configuration
type Config struct {
	Worker     WorkerConfig     `mapstructure:"worker"`
	Detector   DetectorConfig   `mapstructure:"detector"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Fusion     FusionConfig     `mapstructure:"fusion"`
	Video      VideoConfig      `mapstructure:"video"`
	Log        LogConfig        `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Debug      DebugConfig      `mapstructure:"debug"`
}

// WorkerConfig holds configuration for the message loop
type WorkerConfig struct {
	Envelope   string `mapstructure:"envelope"`
	MaxPayload uint32 `mapstructure:"max_payload"`
	TempDir    string `mapstructure:"temp_dir"`
}

// DetectorConfig holds configuration for object detection
type DetectorConfig struct {
	Backend       string        `mapstructure:"backend"`
	Model         string        `mapstructure:"model"`
	Labels        string        `mapstructure:"labels"`
	InputSize     int           `mapstructure:"input_size"`
	Confidence    float64       `mapstructure:"confidence"`
	IoU           float64       `mapstructure:"iou"`
	TargetClass   string        `mapstructure:"target_class"`
	PadRatio      float64       `mapstructure:"pad_ratio"`
	MaxCandidates int           `mapstructure:"max_candidates"`
	Threads       int           `mapstructure:"threads"`
	URL           string        `mapstructure:"url"`
	VisionModel   string        `mapstructure:"vision_model"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// ClassifierConfig holds configuration for species classification
type ClassifierConfig struct {
	Backend   string    `mapstructure:"backend"`
	Model     string    `mapstructure:"model"`
	Labels    string    `mapstructure:"labels"`
	Threshold float64   `mapstructure:"threshold"`
	Sentinel  string    `mapstructure:"sentinel"`
	Size      int       `mapstructure:"size"`
	Mean      []float64 `mapstructure:"mean"`
	Std       []float64 `mapstructure:"std"`
	Layout    string    `mapstructure:"layout"`
	Softmax   string    `mapstructure:"softmax"`
	Threads   int       `mapstructure:"threads"`
}

// FusionConfig holds the detect-then-classify policy
type FusionConfig struct {
	Mode string `mapstructure:"mode"`
}

// VideoConfig holds configuration for frame sampling
type VideoConfig struct {
	FPS         float64 `mapstructure:"fps"`
	Stop        bool    `mapstructure:"stop"`
	MaxSeconds  float64 `mapstructure:"max_seconds"`
	FallbackFPS float64 `mapstructure:"fallback_fps"`
}

// LogConfig holds configuration for diagnostics
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig holds the optional Prometheus listener
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DebugConfig holds configuration for overlay output
type DebugConfig struct {
	OverlayDir string `mapstructure:"overlay_dir"`
	Format     string `mapstructure:"format"`
}

// legacyEnv maps keys to the flat variable names older deployments set
var legacyEnv = map[string][]string{
	"detector.confidence":     {"YOLO_CONF"},
	"detector.input_size":     {"YOLO_IMGSZ"},
	"detector.max_candidates": {"MAX_CANDIDATES"},
	"detector.pad_ratio":      {"PAD_RATIO"},
	"classifier.threshold":    {"CLS_THRESHOLD", "BIRDEX_THRESHOLD"},
	"classifier.threads":      {"TORCH_NUM_THREADS"},
	"video.max_seconds":       {"MAX_VIDEO_SECONDS"},
	"fusion.mode":             {"FUSION_MODE"},
}

// defaults is the single source of default values
var defaults = map[string]any{
	"worker.envelope":    "auto",
	"worker.max_payload": 256 << 20,
	"worker.temp_dir":    "",

	"detector.backend":        "tflite",
	"detector.model":          "models/detector.tflite",
	"detector.labels":         "models/detector_labels.txt",
	"detector.input_size":     640,
	"detector.confidence":     0.20,
	"detector.iou":            0.45,
	"detector.target_class":   "bird",
	"detector.pad_ratio":      0.10,
	"detector.max_candidates": 3,
	"detector.threads":        0,
	"detector.url":            "http://localhost:11434",
	"detector.vision_model":   "qwen2.5vl:7b",
	"detector.timeout":        "120s",

	"classifier.backend":   "tflite",
	"classifier.model":     "models/classifier.tflite",
	"classifier.labels":    "models/classes.json",
	"classifier.threshold": 0.95,
	"classifier.sentinel":  "unidentified",
	"classifier.size":      224,
	"classifier.mean":      []float64{0.485, 0.456, 0.406},
	"classifier.std":       []float64{0.229, 0.224, 0.225},
	"classifier.layout":    "nhwc",
	"classifier.softmax":   "auto",
	"classifier.threads":   0,

	"fusion.mode": "multi",

	"video.fps":          1.0,
	"video.stop":         false,
	"video.max_seconds":  15.0,
	"video.fallback_fps": 25.0,

	"log.level":  "info",
	"log.format": "text",

	"metrics.addr": "",

	"debug.overlay_dir": "",
	"debug.format":      "png",
}

// New returns a viper instance with defaults and environment bindings applied
func New() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, names := range legacyEnv {
		// Prefixed name first so it wins over the legacy one
		bind := append([]string{key, prefixedEnv(key)}, names...)
		_ = v.BindEnv(bind...)
	}
	return v
}

func prefixedEnv(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Options controls where Load looks for settings
type Options struct {
	// File is an explicit config file; empty searches the default locations
	File string
	// EnvFiles are dotenv files loaded into the process environment when present
	EnvFiles []string
}

// Load reads the config file and environment into a validated Config
func Load(v *viper.Viper, opts Options) (*Config, error) {
	var present []string
	for _, f := range opts.EnvFiles {
		if utils.FileExists(f) {
			present = append(present, f)
		}
	}
	if len(present) > 0 {
		if err := godotenv.Load(present...); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName("birdex")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(GetConfigDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.File != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with default values
func Default() *Config {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: built-in defaults do not decode: %v", err))
	}
	cfg.normalize()
	return &cfg
}

func (c *Config) normalize() {
	c.Worker.Envelope = strings.ToLower(strings.TrimSpace(c.Worker.Envelope))
	c.Detector.Backend = strings.ToLower(strings.TrimSpace(c.Detector.Backend))
	c.Classifier.Backend = strings.ToLower(strings.TrimSpace(c.Classifier.Backend))
	c.Classifier.Layout = strings.ToLower(strings.TrimSpace(c.Classifier.Layout))
	c.Classifier.Softmax = strings.ToLower(strings.TrimSpace(c.Classifier.Softmax))
	c.Fusion.Mode = strings.ToLower(strings.TrimSpace(c.Fusion.Mode))
	c.Debug.Format = strings.ToLower(strings.TrimSpace(c.Debug.Format))
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Worker.Envelope {
	case "auto", "raw", "json":
	default:
		return fmt.Errorf("worker.envelope must be auto, raw or json, got %q", c.Worker.Envelope)
	}
	if c.Worker.TempDir != "" && !utils.DirExists(c.Worker.TempDir) {
		return fmt.Errorf("worker.temp_dir %q is not a directory", c.Worker.TempDir)
	}

	switch c.Detector.Backend {
	case "tflite", "ollama", "llamacpp", "saliency", "none":
	default:
		return fmt.Errorf("detector.backend must be tflite, ollama, llamacpp, saliency or none, got %q", c.Detector.Backend)
	}

	if c.Detector.Confidence < 0 || c.Detector.Confidence > 1 {
		return fmt.Errorf("detector.confidence must be between 0 and 1")
	}

	if c.Detector.IoU <= 0 || c.Detector.IoU > 1 {
		return fmt.Errorf("detector.iou must be in (0, 1]")
	}

	if c.Detector.PadRatio < 0 || c.Detector.PadRatio > 1 {
		return fmt.Errorf("detector.pad_ratio must be between 0 and 1")
	}

	if c.Detector.MaxCandidates < 1 {
		return fmt.Errorf("detector.max_candidates must be at least 1")
	}

	if c.Detector.InputSize < 32 {
		return fmt.Errorf("detector.input_size must be at least 32")
	}

	if strings.TrimSpace(c.Detector.TargetClass) == "" {
		return fmt.Errorf("detector.target_class cannot be empty")
	}

	switch c.Classifier.Backend {
	case "tflite", "none":
	default:
		return fmt.Errorf("classifier.backend must be tflite or none, got %q", c.Classifier.Backend)
	}

	if c.Classifier.Threshold < 0 || c.Classifier.Threshold > 1 {
		return fmt.Errorf("classifier.threshold must be between 0 and 1")
	}

	if c.Classifier.Size < 1 {
		return fmt.Errorf("classifier.size must be positive")
	}

	if len(c.Classifier.Mean) != 3 || len(c.Classifier.Std) != 3 {
		return fmt.Errorf("classifier.mean and classifier.std need exactly 3 values")
	}

	for _, s := range c.Classifier.Std {
		if s <= 0 {
			return fmt.Errorf("classifier.std values must be positive")
		}
	}

	switch c.Classifier.Layout {
	case "nhwc", "nchw":
	default:
		return fmt.Errorf("classifier.layout must be nhwc or nchw, got %q", c.Classifier.Layout)
	}

	switch c.Classifier.Softmax {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("classifier.softmax must be auto, always or never, got %q", c.Classifier.Softmax)
	}

	switch c.Fusion.Mode {
	case "single", "multi", "gated":
	default:
		return fmt.Errorf("fusion.mode must be single, multi or gated, got %q", c.Fusion.Mode)
	}

	if c.Video.FPS < 1 {
		return fmt.Errorf("video.fps must be at least 1")
	}

	if c.Video.MaxSeconds <= 0 {
		return fmt.Errorf("video.max_seconds must be positive")
	}

	if c.Video.FallbackFPS <= 0 {
		return fmt.Errorf("video.fallback_fps must be positive")
	}

	switch c.Debug.Format {
	case "png", "jpg", "jpeg", "webp":
	default:
		return fmt.Errorf("debug.format must be png, jpg or webp, got %q", c.Debug.Format)
	}

	return nil
}

// Sentinel returns the label reported for unidentified media
func (c *Config) Sentinel() string {
	if c.Classifier.Sentinel == "" {
		return "unidentified"
	}
	return c.Classifier.Sentinel
}

// GetConfigDir returns the per-user configuration directory
func GetConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "birdex-worker")
}
