// Package config loads and saves the dopplerlab YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/guidoenr/dopplerlab/internal/motion"
	"github.com/guidoenr/dopplerlab/internal/peaks"
	"github.com/guidoenr/dopplerlab/internal/tone"
)

// Display modes, one per screen of the app.
const (
	ModeTone    = "tone"
	ModeDoppler = "doppler"
)

var (
	// ErrInvalidBufferSize indicates the FFT buffer must be a positive power of two
	ErrInvalidBufferSize = errors.New("buffer_size must be a positive power of two")
	// ErrInvalidFPS indicates the refresh rate must be positive
	ErrInvalidFPS = errors.New("fps must be positive")
	// ErrInvalidMode indicates an unknown display mode
	ErrInvalidMode = errors.New("display mode must be tone or doppler")
	// ErrInvalidSeparation indicates the tone spacing must be non-negative
	ErrInvalidSeparation = errors.New("min_separation_hz must be non-negative")
)

// Config is the on-disk configuration.
type Config struct {
	Audio   AudioConfig   `yaml:"audio"`
	Tones   TonesConfig   `yaml:"tones"`
	Motion  MotionConfig  `yaml:"motion"`
	Display DisplayConfig `yaml:"display"`
	Web     WebConfig     `yaml:"web"`
}

// AudioConfig controls capture and the probe tone.
type AudioConfig struct {
	Device         string  `yaml:"device"`
	BufferSize     int     `yaml:"buffer_size"`
	FPS            float64 `yaml:"fps"`
	ProbeHz        float64 `yaml:"probe_hz"`
	ProbeAmplitude float64 `yaml:"probe_amplitude"`
}

// TonesConfig controls tone selection.
type TonesConfig struct {
	MinSeparationHz float64 `yaml:"min_separation_hz"`
	MaxCount        int     `yaml:"max_count"`
	Threshold       float64 `yaml:"threshold"`
}

// MotionConfig controls the motion classifier.
type MotionConfig struct {
	Window             int           `yaml:"window"`
	NearThreshold      float64       `yaml:"near_threshold"`
	AsymmetryThreshold float64       `yaml:"asymmetry_threshold"`
	Cooldown           time.Duration `yaml:"cooldown"`
}

// DisplayConfig controls the terminal view.
type DisplayConfig struct {
	Mode         string `yaml:"mode"`
	GraphPoints  int    `yaml:"graph_points"`
	HoldInterval int    `yaml:"hold_interval"`
	Palette      string `yaml:"palette"`
	Color        bool   `yaml:"color"`
}

// WebConfig controls the status server.
type WebConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Defaults returns the configuration used when no file is given.
func Defaults() Config {
	sel := peaks.DefaultSelectorConfig()
	mot := motion.DefaultConfig()
	return Config{
		Audio: AudioConfig{
			BufferSize:     4096,
			FPS:            20,
			ProbeHz:        tone.DefaultProbeHz,
			ProbeAmplitude: tone.DefaultAmplitude,
		},
		Tones: TonesConfig{
			MinSeparationHz: sel.MinSeparationHz,
			MaxCount:        sel.MaxCount,
			Threshold:       sel.ThresholdMagnitude,
		},
		Motion: MotionConfig{
			Window:             mot.Window,
			NearThreshold:      mot.NearThreshold,
			AsymmetryThreshold: mot.AsymmetryThreshold,
			Cooldown:           mot.Cooldown,
		},
		Display: DisplayConfig{
			Mode:         ModeTone,
			GraphPoints:  20,
			HoldInterval: 10,
			Palette:      "blocks",
			Color:        true,
		},
		Web: WebConfig{
			Port: 8080,
		},
	}
}

// Selector returns the tone selection policy.
func (c Config) Selector() peaks.SelectorConfig {
	return peaks.SelectorConfig{
		MaxCount:           c.Tones.MaxCount,
		MinSeparationHz:    c.Tones.MinSeparationHz,
		ThresholdMagnitude: c.Tones.Threshold,
	}
}

// Classifier returns the motion classifier configuration.
func (c Config) Classifier() motion.Config {
	return motion.Config{
		Window:             c.Motion.Window,
		NearThreshold:      c.Motion.NearThreshold,
		AsymmetryThreshold: c.Motion.AsymmetryThreshold,
		Cooldown:           c.Motion.Cooldown,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if n := c.Audio.BufferSize; n <= 0 || n&(n-1) != 0 {
		return ErrInvalidBufferSize
	}
	if c.Audio.FPS <= 0 {
		return ErrInvalidFPS
	}
	switch strings.ToLower(c.Display.Mode) {
	case ModeTone, ModeDoppler:
	default:
		return ErrInvalidMode
	}
	if c.Tones.MinSeparationHz < 0 {
		return ErrInvalidSeparation
	}
	if err := c.Classifier().Validate(); err != nil {
		return fmt.Errorf("motion: %w", err)
	}
	return nil
}

// Load reads a YAML file on top of Defaults. Missing keys keep their
// default values.
func Load(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as YAML, creating parent directories.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// DefaultPath returns the config location next to the binary, falling back
// to the home directory.
func DefaultPath() string {
	if exe, err := os.Executable(); err == nil {
		return filepath.Join(filepath.Dir(exe), "dopplerlab.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".dopplerlab.yaml")
}
