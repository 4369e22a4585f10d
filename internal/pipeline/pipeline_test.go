// SPDX-License-Identifier: MIT
package pipeline

import (
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"termviz/internal/analysis"
	"termviz/internal/config"
	"termviz/internal/source"
)

// writeToneWav renders a 440 Hz mono tone for end-to-end pipeline tests.
func writeToneWav(t *testing.T, seconds float64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.wav")

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	const rate = 44100
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	frames := int(seconds * rate)
	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:   make([]int, frames),
	}
	for i := range buf.Data {
		buf.Data[i] = int(math.Sin(2*math.Pi*440*float64(i)/rate) * 16000)
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func fileConfig(t *testing.T, path string) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Audio.Source = "file:" + path
	cfg.Audio.Channels = 1
	cfg.Analysis.FFTSize = 256
	cfg.Analysis.Overlap = 0
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestPipelineEndToEnd(t *testing.T) {
	path := writeToneWav(t, 0.5)
	p, err := New(fileConfig(t, path))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	var mu sync.Mutex
	var frames []analysis.Frame
	var audioSamples int
	p.OnFrequencyData(func(f analysis.Frame) {
		mu.Lock()
		frames = append(frames, f)
		mu.Unlock()
	})
	p.OnAudioData(func(samples []float32) {
		mu.Lock()
		audioSamples += len(samples)
		mu.Unlock()
	})

	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(frames)
		mu.Unlock()
		if n >= 5 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d frames analyzed before deadline", n)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if audioSamples == 0 {
		t.Error("no control-chain output observed")
	}

	frame := frames[len(frames)-1]
	if frame.FFTSize != 256 || frame.SampleRate != 44100 {
		t.Errorf("frame meta = size %d rate %.0f", frame.FFTSize, frame.SampleRate)
	}
	if len(frame.Magnitudes) != 256/2+1 {
		t.Errorf("magnitudes length = %d, want 129", len(frame.Magnitudes))
	}

	// A 440 Hz tone through the default preset should still peak near
	// bin 440/(44100/256) ~= 2.55, i.e. bin 2 or 3.
	peakBin := 1
	for k := 1; k < len(frame.Magnitudes); k++ {
		if frame.Magnitudes[k] > frame.Magnitudes[peakBin] {
			peakBin = k
		}
	}
	if peakBin < 2 || peakBin > 4 {
		t.Errorf("tone peaked at bin %d, want 2-4", peakBin)
	}
}

func TestPipelineRejectsUnknownSource(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Audio.Source = "microwave"
	if _, err := New(cfg); err == nil {
		t.Error("unknown source spec accepted")
	}
}

func TestPipelineStopIsIdempotent(t *testing.T) {
	path := writeToneWav(t, 0.3)
	p, err := New(fileConfig(t, path))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestPipelineSwitchSources(t *testing.T) {
	pathA := writeToneWav(t, 1.0)
	pathB := writeToneWav(t, 1.0)

	p, err := New(fileConfig(t, pathA))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := p.Sources().SwitchToFile(pathB, source.Options{}, 0); err != nil {
		t.Fatalf("SwitchToFile: %v", err)
	}
	if current := p.Sources().Current(); current != "file:"+pathB {
		t.Errorf("current = %q, want file source for %s", current, pathB)
	}
}
