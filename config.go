package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ErrInvalidResolution is returned for sizes I420 cannot represent.
var ErrInvalidResolution = errors.New("invalid resolution")

// ParseResolution parses "1280x720". The separator may be x, X or *.
// Both dimensions must be positive and even.
func ParseResolution(s string) (width, height int, err error) {
	s = strings.TrimSpace(s)
	sep := strings.IndexAny(s, "xX*")
	if sep <= 0 || sep == len(s)-1 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidResolution, s)
	}
	width, err = strconv.Atoi(strings.TrimSpace(s[:sep]))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidResolution, s)
	}
	height, err = strconv.Atoi(strings.TrimSpace(s[sep+1:]))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidResolution, s)
	}
	if err := validateResolution(width, height); err != nil {
		return 0, 0, err
	}
	return width, height, nil
}

// Config is the on-disk recorder configuration.
type Config struct {
	FPS              int           `yaml:"fps"`
	Resolution       string        `yaml:"resolution"`
	OutputDir        string        `yaml:"output_dir"`
	FileName         string        `yaml:"file_name"`
	Workers          int           `yaml:"workers"`
	SavingWorkers    int           `yaml:"saving_workers"`
	BitrateBps       int           `yaml:"bitrate_bps"`
	KeyframeInterval time.Duration `yaml:"keyframe_interval"`
	FrameRateMode    string        `yaml:"frame_rate_mode"`
	FailurePolicy    string        `yaml:"failure_policy"`
	Thumbnail        bool          `yaml:"thumbnail"`
	TempDir          string        `yaml:"temp_dir"`
	LogLevel         string        `yaml:"log_level"`
	PreviewRTPAddr   string        `yaml:"preview_rtp_addr"`
	WSAddr           string        `yaml:"ws_addr"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		FPS:              DefaultFPS,
		Resolution:       "1280x720",
		OutputDir:        ".",
		FileName:         "recording",
		Workers:          2,
		SavingWorkers:    8,
		BitrateBps:       2500000,
		KeyframeInterval: 2 * time.Second,
		FrameRateMode:    FrameRateTarget.String(),
		FailurePolicy:    SubstitutePlaceholder.String(),
		Thumbnail:        true,
		LogLevel:         "info",
	}
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks every field that can be checked without side effects.
func (c Config) Validate() error {
	if c.FPS <= 0 {
		return fmt.Errorf("fps must be positive, got %d", c.FPS)
	}
	if _, _, err := ParseResolution(c.Resolution); err != nil {
		return err
	}
	if c.FileName == "" {
		return errors.New("file_name is empty")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.SavingWorkers < c.Workers {
		return fmt.Errorf("saving_workers (%d) must be at least workers (%d)", c.SavingWorkers, c.Workers)
	}
	if c.KeyframeInterval < 0 {
		return fmt.Errorf("keyframe_interval must not be negative, got %s", c.KeyframeInterval)
	}
	if _, err := parseFrameRateMode(c.FrameRateMode); err != nil {
		return err
	}
	if _, err := parseFailurePolicy(c.FailurePolicy); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// OutputPath returns the MP4 path the configuration records to.
func (c Config) OutputPath() string {
	return NormalizeMP4Path(filepath.Join(c.OutputDir, c.FileName))
}

// SessionConfig converts the file configuration for NewSession.
func (c Config) SessionConfig() (SessionConfig, error) {
	if err := c.Validate(); err != nil {
		return SessionConfig{}, err
	}
	w, h, _ := ParseResolution(c.Resolution)
	mode, _ := parseFrameRateMode(c.FrameRateMode)
	policy, _ := parseFailurePolicy(c.FailurePolicy)

	enc := DefaultVideoEncoderConfig(w, h, c.FPS)
	if c.BitrateBps > 0 {
		enc.BitrateBps = c.BitrateBps
	}

	sc := DefaultSessionConfig()
	sc.FPS = c.FPS
	sc.Width, sc.Height = w, h
	sc.Workers = c.Workers
	sc.SavingWorkers = c.SavingWorkers
	sc.FrameRateMode = mode
	sc.FailurePolicy = policy
	sc.Encoder = enc
	sc.KeyframeInterval = int(c.KeyframeInterval.Seconds() * float64(c.FPS))
	sc.Thumbnail = c.Thumbnail
	sc.TempDir = c.TempDir
	return sc, nil
}

func parseFrameRateMode(s string) (FrameRateMode, error) {
	switch strings.ToLower(s) {
	case "", "target":
		return FrameRateTarget, nil
	case "measured":
		return FrameRateMeasured, nil
	}
	return 0, fmt.Errorf("unknown frame_rate_mode %q", s)
}

func parseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(s) {
	case "", "substitute":
		return SubstitutePlaceholder, nil
	case "fail":
		return FailSession, nil
	}
	return 0, fmt.Errorf("unknown failure_policy %q", s)
}
