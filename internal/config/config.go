package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Mode selects the segmentation strategy for a batch.
type Mode string

const (
	ModeFixed Mode = "fixed"
	ModeVAD   Mode = "vad"
)

// ErrSegmentationMode is returned when not exactly one segmentation mode is selected.
var ErrSegmentationMode = errors.New("exactly one of fixed or vad segmentation must be selected")

// VADSettings tunes voice-activity segmentation.
type VADSettings struct {
	MinSpanSec       float64 `validate:"gt=0"`
	MaxSpanSec       float64 `validate:"gtfield=MinSpanSec"`
	MergeGapSec      float64 `validate:"gte=0"`
	SpeechPadSec     float64 `validate:"gte=0"`
	SilenceNoiseDB   float64 `validate:"lt=0"`
	SilenceMinDurSec float64 `validate:"gt=0"`
}

// DiarizationSettings configures the optional speaker-identification pass.
type DiarizationSettings struct {
	Enabled    bool
	URL        string
	TokenEnv   string
	MinSpanSec float64 `validate:"gte=0"`
	TieBreak   string  `validate:"oneof=overlap-earliest overlap-longest"`
}

// TelemetrySettings configures the hardware sampler.
type TelemetrySettings struct {
	Enabled bool
	// Sampling interval; the sampler polls at 1-2 Hz.
	IntervalMS int `validate:"min=500,max=1000"`
}

// Config holds the full application configuration.
type Config struct {
	InputRoot  string `validate:"required"`
	OutputRoot string `validate:"required"`
	Force      bool

	Workers       int `validate:"min=1,max=64"`
	JobsPerMinute int `validate:"min=1"`

	// Segmentation: exactly one of Fixed or VAD must be set (XOR, checked in
	// Validate, fatal before any job starts).
	Fixed         bool
	VAD           bool
	FixedChunkSec float64 `validate:"gt=0"`
	VADSettings   VADSettings

	// Recognition.
	Task          string `validate:"oneof=transcribe translate"`
	LangDetect    string `validate:"required,oneof=file segment"`
	Language      string
	RecognizerURL string `validate:"required,url"`

	// Output formats. TXT and JSON are always written.
	WriteSRT bool
	WriteVTT bool

	ExtractTimeoutSec int `validate:"min=1"`

	Diarization DiarizationSettings
	Telemetry   TelemetrySettings
}

// Default returns a Config with defaults matching the batch pipeline's
// documented behavior. LangDetect and the segmentation mode carry no default:
// the operator must choose.
func Default() *Config {
	return &Config{
		OutputRoot:    "outputs",
		Workers:       2,
		JobsPerMinute: 60,
		FixedChunkSec: 30,
		VADSettings: VADSettings{
			MinSpanSec:       2,
			MaxSpanSec:       60,
			MergeGapSec:      0.3,
			SpeechPadSec:     0.2,
			SilenceNoiseDB:   -30,
			SilenceMinDurSec: 0.5,
		},
		Task:          "transcribe",
		RecognizerURL: "http://127.0.0.1:9000",
		WriteSRT:      true,
		WriteVTT:      false,

		ExtractTimeoutSec: 120,
		Diarization: DiarizationSettings{
			URL:        "http://127.0.0.1:9100",
			TokenEnv:   "HF_TOKEN",
			MinSpanSec: 0.5,
			TieBreak:   "overlap-earliest",
		},
		Telemetry: TelemetrySettings{
			Enabled:    true,
			IntervalMS: 750,
		},
	}
}

// LoadEnv loads a .env file (if present) and applies environment overrides for
// the service endpoints.
func (c *Config) LoadEnv() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file, using environment variables and defaults")
	}

	c.RecognizerURL = getEnv("DASHSCRIBE_RECOGNIZER_URL", c.RecognizerURL)
	c.Diarization.URL = getEnv("DASHSCRIBE_DIARIZE_URL", c.Diarization.URL)
	c.Diarization.TokenEnv = getEnv("DASHSCRIBE_DIARIZE_TOKEN_ENV", c.Diarization.TokenEnv)
	c.Workers = getEnvAsInt("DASHSCRIBE_WORKERS", c.Workers)
}

// Mode returns the selected segmentation mode. Only meaningful after Validate.
func (c *Config) Mode() Mode {
	if c.VAD {
		return ModeVAD
	}
	return ModeFixed
}

// Validate checks the configuration. Any error here aborts the batch before
// any job starts.
func (c *Config) Validate() error {
	if c.Fixed == c.VAD {
		return ErrSegmentationMode
	}
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer in environment", "key", key, "value", v)
		return fallback
	}
	return n
}
