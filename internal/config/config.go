// Package config handles service configuration
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	apperrors "github.com/GriffinCanCode/meetscribe/internal/errors"
	"github.com/GriffinCanCode/meetscribe/internal/pipeline"
)

// Recognizer backends.
const (
	BackendGRPC = "grpc"
	BackendHTTP = "http"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`

	RecognizerBackend  string `yaml:"recognizer_backend"`
	RecognizerAddr     string `yaml:"recognizer_addr"`
	RecognizerURL      string `yaml:"recognizer_url"`
	RecognizerAPIKey   string `yaml:"recognizer_api_key"`
	RecognizerLanguage string `yaml:"recognizer_language"`

	SegmentSeconds     float64 `yaml:"segment_seconds"`
	StopTimeoutSeconds float64 `yaml:"stop_timeout_seconds"`
	DrainTimeoutMS     int     `yaml:"drain_timeout_ms"`
	QueueFrames        int     `yaml:"queue_frames"`
	SilenceThreshold   int     `yaml:"silence_threshold"`

	CaptureMic           bool     `yaml:"capture_mic"`
	CaptureSystemAudio   bool     `yaml:"capture_system_audio"`
	MicDevice            int      `yaml:"mic_device"`    // -1 = auto
	SystemDevice         int      `yaml:"system_device"` // -1 = auto
	ExcludedAudioDevices []string `yaml:"excluded_audio_devices"`

	ArchiveDir     string `yaml:"archive_dir"`
	ExportDir      string `yaml:"export_dir"`
	ExportS3Bucket string `yaml:"export_s3_bucket"`
	ExportS3Prefix string `yaml:"export_s3_prefix"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPAddr:             ":8000",
		RecognizerBackend:    BackendGRPC,
		RecognizerAddr:       "localhost:50051",
		RecognizerLanguage:   "en",
		SegmentSeconds:       10,
		StopTimeoutSeconds:   0, // derived from the segment length
		DrainTimeoutMS:       2000,
		QueueFrames:          200,
		SilenceThreshold:     500,
		CaptureMic:           true,
		CaptureSystemAudio:   true,
		MicDevice:            -1,
		SystemDevice:         -1,
		ExcludedAudioDevices: []string{"iphone", "teams"},
		ExportDir:            "transcripts",
		LogLevel:             "info",
		LogFormat:            "text",
	}
}

// Load reads .env (if present) and the environment over the defaults.
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	cfg := Default()
	cfg.applyEnv()
	return cfg, nil
}

// LoadFile overlays a YAML file on the defaults, then the environment.
// ${VAR} references in the file are expanded.
func LoadFile(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeConfigInvalid, "parsing config file").WithMetadata("path", path)
	}
	cfg.applyEnv()
	return cfg, nil
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load .env file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.RecognizerBackend = strings.ToLower(getEnv("RECOGNIZER_BACKEND", c.RecognizerBackend))
	c.RecognizerAddr = getEnv("RECOGNIZER_ADDR", c.RecognizerAddr)
	c.RecognizerURL = getEnv("RECOGNIZER_URL", c.RecognizerURL)
	c.RecognizerAPIKey = getEnv("RECOGNIZER_API_KEY", c.RecognizerAPIKey)
	c.RecognizerLanguage = getEnv("RECOGNIZER_LANGUAGE", c.RecognizerLanguage)
	c.SegmentSeconds = getEnvFloat("SEGMENT_SECONDS", c.SegmentSeconds)
	c.StopTimeoutSeconds = getEnvFloat("STOP_TIMEOUT_SECONDS", c.StopTimeoutSeconds)
	c.DrainTimeoutMS = getEnvInt("DRAIN_TIMEOUT_MS", c.DrainTimeoutMS)
	c.QueueFrames = getEnvInt("QUEUE_FRAMES", c.QueueFrames)
	c.SilenceThreshold = getEnvInt("SILENCE_THRESHOLD", c.SilenceThreshold)
	c.CaptureMic = getEnvBool("CAPTURE_MIC", c.CaptureMic)
	c.CaptureSystemAudio = getEnvBool("CAPTURE_SYSTEM_AUDIO", c.CaptureSystemAudio)
	c.MicDevice = getEnvInt("MIC_DEVICE", c.MicDevice)
	c.SystemDevice = getEnvInt("SYSTEM_DEVICE", c.SystemDevice)
	c.ExcludedAudioDevices = getEnvList("EXCLUDED_AUDIO_DEVICES", c.ExcludedAudioDevices)
	c.ArchiveDir = getEnv("ARCHIVE_DIR", c.ArchiveDir)
	c.ExportDir = getEnv("EXPORT_DIR", c.ExportDir)
	c.ExportS3Bucket = getEnv("EXPORT_S3_BUCKET", c.ExportS3Bucket)
	c.ExportS3Prefix = getEnv("EXPORT_S3_PREFIX", c.ExportS3Prefix)
	c.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", c.LogLevel))
	c.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", c.LogFormat))
}

// Window is the recording segment length.
func (c *Config) Window() time.Duration {
	return time.Duration(c.SegmentSeconds * float64(time.Second))
}

// StopTimeout bounds a session stop. Zero derives it from the segment
// length so the final window's recognition always fits.
func (c *Config) StopTimeout() time.Duration {
	if c.StopTimeoutSeconds == 0 {
		return pipeline.DefaultStopTimeout(c.Window(), c.DrainTimeout())
	}
	return time.Duration(c.StopTimeoutSeconds * float64(time.Second))
}

// DrainTimeout bounds draining the sources at a window boundary.
func (c *Config) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutMS) * time.Millisecond
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	invalid := func(key, format string, args ...any) error {
		return apperrors.Newf(apperrors.CodeConfigInvalid, format, args...).WithMetadata("key", key)
	}

	switch c.RecognizerBackend {
	case BackendGRPC:
		if c.RecognizerAddr == "" {
			return invalid("RECOGNIZER_ADDR", "grpc recognizer needs an address")
		}
	case BackendHTTP:
		if c.RecognizerURL == "" {
			return invalid("RECOGNIZER_URL", "http recognizer needs a base url")
		}
	default:
		return invalid("RECOGNIZER_BACKEND", "unknown recognizer backend %q", c.RecognizerBackend)
	}
	if c.SegmentSeconds <= 0 {
		return invalid("SEGMENT_SECONDS", "segment length must be positive, got %v", c.SegmentSeconds)
	}
	if c.StopTimeoutSeconds < 0 {
		return invalid("STOP_TIMEOUT_SECONDS", "stop timeout must not be negative, got %v", c.StopTimeoutSeconds)
	}
	if c.StopTimeoutSeconds > 0 && c.StopTimeoutSeconds < c.SegmentSeconds {
		return invalid("STOP_TIMEOUT_SECONDS", "stop timeout %vs is shorter than one segment (%vs)", c.StopTimeoutSeconds, c.SegmentSeconds)
	}
	if c.DrainTimeoutMS <= 0 {
		return invalid("DRAIN_TIMEOUT_MS", "drain timeout must be positive, got %d", c.DrainTimeoutMS)
	}
	if c.QueueFrames <= 0 {
		return invalid("QUEUE_FRAMES", "queue must hold at least one frame, got %d", c.QueueFrames)
	}
	if c.SilenceThreshold < 0 || c.SilenceThreshold > 32767 {
		return invalid("SILENCE_THRESHOLD", "silence threshold %d outside 0..32767", c.SilenceThreshold)
	}
	if !c.CaptureMic && !c.CaptureSystemAudio {
		return invalid("CAPTURE_MIC", "at least one of microphone or system audio must be captured")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return invalid("LOG_LEVEL", "unknown log level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return invalid("LOG_FORMAT", "unknown log format %q", c.LogFormat)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}
