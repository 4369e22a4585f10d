// SPDX-License-Identifier: MIT
// Package config defines runtime configuration for the visualizer core,
// loaded from YAML with environment overrides and flag-level defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults and limits for the audio pipeline configuration.
const (
	DefaultSource          = "system"
	DefaultMode            = "spectrum"
	DefaultSampleRate      = 44100
	DefaultChannels        = 2
	DefaultSampleWidthBits = 16
	DefaultFramesPerBuffer = 512
	DefaultFFTSize         = 1024
	DefaultOverlap         = 0.5
	DefaultWindow          = "hanning"
	DefaultPreset          = "live_input"
	DefaultLatencyMS       = 50

	MinDeviceID = -1 // -1 selects the system default input device
)

// Config is the main application configuration, loaded from YAML.
type Config struct {
	Debug    bool   `yaml:"debug"`
	LogLevel string `yaml:"log_level"`

	Audio     AudioConfig     `yaml:"audio"`
	DSP       DSPConfig       `yaml:"dsp"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Transport TransportConfig `yaml:"transport"`
}

// AudioConfig holds source selection and stream format settings.
type AudioConfig struct {
	Source          string  `yaml:"source"`            // "system" or "file:<path>"
	Mode            string  `yaml:"mode"`              // renderer mode hint: spectrum, waveform, abstract
	InputDevice     int     `yaml:"input_device"`      // device index, -1 for default
	SampleRate      float64 `yaml:"sample_rate"`       // Hz
	Channels        int     `yaml:"channels"`          // 1 or 2
	SampleWidthBits int     `yaml:"sample_width_bits"` // 8, 16, 24, 32
	FramesPerBuffer int     `yaml:"frames_per_buffer"`
	LowLatency      bool    `yaml:"low_latency"`
	LatencyMS       float64 `yaml:"latency_ms"` // main buffer sizing
}

// DSPConfig selects the control-chain preset.
type DSPConfig struct {
	Preset string `yaml:"preset"`
}

// AnalysisConfig holds FFT parameters.
type AnalysisConfig struct {
	FFTSize int     `yaml:"fft_size"`
	Overlap float64 `yaml:"overlap"`
	Window  string  `yaml:"window"`
}

// TransportConfig holds settings for the downstream frame sinks.
type TransportConfig struct {
	WebSocketEnabled bool          `yaml:"websocket_enabled"`
	WebSocketPort    string        `yaml:"websocket_port"`
	UDPEnabled       bool          `yaml:"udp_enabled"`
	UDPTargetAddress string        `yaml:"udp_target_address"`
	SendInterval     time.Duration `yaml:"send_interval"`
}

// NewConfig returns the built-in defaults.
func NewConfig() *Config {
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			Source:          DefaultSource,
			Mode:            DefaultMode,
			InputDevice:     MinDeviceID,
			SampleRate:      DefaultSampleRate,
			Channels:        DefaultChannels,
			SampleWidthBits: DefaultSampleWidthBits,
			FramesPerBuffer: DefaultFramesPerBuffer,
			LatencyMS:       DefaultLatencyMS,
		},
		DSP: DSPConfig{Preset: DefaultPreset},
		Analysis: AnalysisConfig{
			FFTSize: DefaultFFTSize,
			Overlap: DefaultOverlap,
			Window:  DefaultWindow,
		},
		Transport: TransportConfig{
			WebSocketPort:    "8080",
			UDPTargetAddress: "127.0.0.1:9090",
			SendInterval:     33 * time.Millisecond, // ~30 Hz
		},
	}
}

// LoadConfig loads configuration from a YAML file. An empty path searches
// default candidates; when none exists the built-in defaults are used.
// Environment overrides apply after the file, then validation.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		candidates := []string{"termviz.yaml", "config.yaml"}
		for _, candidate := range candidates {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides lets TERMVIZ_* variables win over the file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TERMVIZ_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("TERMVIZ_SAMPLE_RATE"); v != "" {
		if rate, err := strconv.ParseFloat(v, 64); err == nil {
			c.Audio.SampleRate = rate
		}
	}
	if v := os.Getenv("TERMVIZ_CHANNELS"); v != "" {
		if ch, err := strconv.Atoi(v); err == nil {
			c.Audio.Channels = ch
		}
	}
	if v := os.Getenv("TERMVIZ_FFT_SIZE"); v != "" {
		if size, err := strconv.Atoi(v); err == nil {
			c.Analysis.FFTSize = size
		}
	}
}

var validSampleRates = map[float64]bool{22050: true, 44100: true, 48000: true, 96000: true}
var validFFTSizes = map[int]bool{128: true, 256: true, 512: true, 1024: true, 2048: true, 4096: true}

// Validate rejects out-of-range settings before anything is constructed.
func (c *Config) Validate() error {
	if !validSampleRates[c.Audio.SampleRate] {
		return fmt.Errorf("sample rate %.0f not one of 22050/44100/48000/96000", c.Audio.SampleRate)
	}
	if c.Audio.Channels != 1 && c.Audio.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", c.Audio.Channels)
	}
	switch c.Audio.SampleWidthBits {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("sample width must be 8/16/24/32, got %d", c.Audio.SampleWidthBits)
	}
	if c.Audio.FramesPerBuffer <= 0 || c.Audio.FramesPerBuffer > 8192 {
		return fmt.Errorf("frames per buffer %d outside (0, 8192]", c.Audio.FramesPerBuffer)
	}
	if !validFFTSizes[c.Analysis.FFTSize] {
		return fmt.Errorf("fft size %d not a supported power of 2", c.Analysis.FFTSize)
	}
	if c.Analysis.Overlap < 0 || c.Analysis.Overlap >= 1 {
		return fmt.Errorf("overlap %.2f outside [0, 1)", c.Analysis.Overlap)
	}
	switch c.Audio.Mode {
	case "spectrum", "waveform", "abstract":
	default:
		return fmt.Errorf("mode %q not one of spectrum/waveform/abstract", c.Audio.Mode)
	}
	if c.Audio.LatencyMS <= 0 {
		return fmt.Errorf("latency %.1f ms must be positive", c.Audio.LatencyMS)
	}
	return nil
}
