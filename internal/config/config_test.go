// SPDX-License-Identifier: MIT
package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := NewConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration invalid: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	mutations := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad sample rate", func(c *Config) { c.Audio.SampleRate = 12345 }},
		{"three channels", func(c *Config) { c.Audio.Channels = 3 }},
		{"odd sample width", func(c *Config) { c.Audio.SampleWidthBits = 12 }},
		{"zero frames", func(c *Config) { c.Audio.FramesPerBuffer = 0 }},
		{"huge frames", func(c *Config) { c.Audio.FramesPerBuffer = 16384 }},
		{"bad fft size", func(c *Config) { c.Analysis.FFTSize = 1000 }},
		{"overlap one", func(c *Config) { c.Analysis.Overlap = 1.0 }},
		{"bad mode", func(c *Config) { c.Audio.Mode = "fireworks" }},
		{"zero latency", func(c *Config) { c.Audio.LatencyMS = 0 }},
	}
	for _, tt := range mutations {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("invalid configuration accepted")
			}
		})
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "termviz.yaml")
	body := `
log_level: debug
audio:
  source: "file:/tmp/song.mp3"
  sample_rate: 48000
  channels: 1
analysis:
  fft_size: 2048
  window: blackman
dsp:
  preset: music_file
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Audio.Source != "file:/tmp/song.mp3" {
		t.Errorf("source = %q", cfg.Audio.Source)
	}
	if cfg.Audio.SampleRate != 48000 || cfg.Audio.Channels != 1 {
		t.Errorf("format = %.0f/%d", cfg.Audio.SampleRate, cfg.Audio.Channels)
	}
	if cfg.Analysis.FFTSize != 2048 || cfg.Analysis.Window != "blackman" {
		t.Errorf("analysis = %d/%s", cfg.Analysis.FFTSize, cfg.Analysis.Window)
	}
	if cfg.DSP.Preset != "music_file" {
		t.Errorf("preset = %q", cfg.DSP.Preset)
	}
	// Untouched sections keep defaults.
	if cfg.Audio.FramesPerBuffer != DefaultFramesPerBuffer {
		t.Errorf("frames per buffer = %d, want default", cfg.Audio.FramesPerBuffer)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("explicit missing file accepted")
	}
}

func TestLoadConfigInvalidContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("audio:\n  sample_rate: 123\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("config with invalid sample rate accepted")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TERMVIZ_SAMPLE_RATE", "96000")
	t.Setenv("TERMVIZ_FFT_SIZE", "512")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Audio.SampleRate != 96000 {
		t.Errorf("sample rate = %.0f, want 96000 from env", cfg.Audio.SampleRate)
	}
	if cfg.Analysis.FFTSize != 512 {
		t.Errorf("fft size = %d, want 512 from env", cfg.Analysis.FFTSize)
	}
}
