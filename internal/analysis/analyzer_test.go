// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
	"testing"

	"termviz/pkg/utils"
)

func mustAnalyzer(t *testing.T, rate float64, size int, overlap float64, w Window) *Analyzer {
	t.Helper()
	a, err := NewAnalyzer(rate, size, overlap, w)
	if err != nil {
		t.Fatalf("NewAnalyzer: %v", err)
	}
	return a
}

func TestAnalyzerValidation(t *testing.T) {
	bad := []struct {
		rate    float64
		size    int
		overlap float64
	}{
		{0, 1024, 0},      // zero rate
		{44100, 1000, 0},  // not a power of two
		{44100, 64, 0},    // below the supported range
		{44100, 8192, 0},  // above the supported range
		{44100, 1024, -1}, // negative overlap
		{44100, 1024, 1},  // overlap must stay below 1
	}
	for _, tt := range bad {
		if _, err := NewAnalyzer(tt.rate, tt.size, tt.overlap, Hanning); err == nil {
			t.Errorf("NewAnalyzer(%.0f, %d, %.1f) accepted invalid parameters",
				tt.rate, tt.size, tt.overlap)
		}
	}
}

func TestParseWindow(t *testing.T) {
	tests := map[string]Window{
		"hanning":     Hanning,
		"Hann":        Hanning,
		"HAMMING":     Hamming,
		"blackman":    Blackman,
		"rectangular": Rectangular,
	}
	for name, want := range tests {
		got, err := ParseWindow(name)
		if err != nil || got != want {
			t.Errorf("ParseWindow(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseWindow("kaiser"); err == nil {
		t.Error("unknown window accepted")
	}
}

// S4: DC input with a rectangular window concentrates everything in bin 0
// with magnitude N.
func TestFFTDC(t *testing.T) {
	const n = 128
	a := mustAnalyzer(t, 44100, n, 0, Rectangular)

	var frames []Frame
	a.OnFrequencyData(func(f Frame) { frames = append(frames, f) })

	a.ProcessSamples(utils.ConstantSignal(n, 1.0))

	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	f := frames[0]
	if len(f.Magnitudes) != n/2+1 {
		t.Fatalf("magnitudes length %d, want %d", len(f.Magnitudes), n/2+1)
	}
	if math.Abs(f.Magnitudes[0]-n) > 1e-6 {
		t.Errorf("magnitudes[0] = %v, want %d", f.Magnitudes[0], n)
	}
	for k := 1; k < len(f.Magnitudes); k++ {
		if f.Magnitudes[k] > 1e-6 {
			t.Errorf("magnitudes[%d] = %v, want ~0", k, f.Magnitudes[k])
		}
	}
}

// A bin-aligned sinusoid peaks at its bin.
func TestSinusoidPeaksAtBin(t *testing.T) {
	const n = 1024
	const rate = 44100.0

	for _, k := range []int{4, 32, 100} {
		freq := float64(k) * rate / n
		a := mustAnalyzer(t, rate, n, 0, Rectangular)

		var frame Frame
		a.OnFrequencyData(func(f Frame) { frame = f })
		a.ProcessSamples(utils.GenerateSineWave(n, rate, freq))

		peak := utils.FindPeakBin(frame.Magnitudes, 1, len(frame.Magnitudes)-1)
		if peak != k {
			t.Errorf("sinusoid at %.1f Hz peaked at bin %d, want %d", freq, peak, k)
		}
	}
}

func TestFrameFields(t *testing.T) {
	const n = 256
	const rate = 48000.0
	a := mustAnalyzer(t, rate, n, 0, Hanning)

	var frame Frame
	a.OnFrequencyData(func(f Frame) { frame = f })
	a.ProcessSamples(make([]float32, n))

	if frame.FFTSize != n || frame.SampleRate != rate {
		t.Errorf("frame meta = size %d rate %.0f", frame.FFTSize, frame.SampleRate)
	}
	if len(frame.Frequencies) != n/2+1 || len(frame.Phases) != n/2+1 {
		t.Errorf("frequencies/phases length %d/%d, want %d",
			len(frame.Frequencies), len(frame.Phases), n/2+1)
	}
	for k, f := range frame.Frequencies {
		want := float64(k) * rate / n
		if math.Abs(f-want) > 1e-9 {
			t.Errorf("frequencies[%d] = %v, want %v", k, f, want)
		}
	}
}

func TestOverlapHop(t *testing.T) {
	const n = 256
	a := mustAnalyzer(t, 44100, n, 0.5, Hanning)
	if a.Hop() != n/2 {
		t.Fatalf("hop = %d, want %d", a.Hop(), n/2)
	}

	frames := 0
	a.OnFrequencyData(func(Frame) { frames++ })

	// 2.5 windows of input: with 50% overlap that is 4 full frames
	// (starts at 0, 128, 256, 384).
	a.ProcessSamples(make([]float32, n*5/2))
	if frames != 4 {
		t.Errorf("emitted %d frames, want 4", frames)
	}
}

func TestIncrementalAccumulation(t *testing.T) {
	const n = 128
	a := mustAnalyzer(t, 44100, n, 0, Rectangular)

	frames := 0
	a.OnFrequencyData(func(Frame) { frames++ })

	// Feed in odd-sized drips; frames appear only as windows fill.
	for i := 0; i < 10; i++ {
		a.ProcessSamples(make([]float32, 33))
	}
	// 330 samples = 2 full windows of 128 with hop 128.
	if frames != 2 {
		t.Errorf("emitted %d frames, want 2", frames)
	}
}

func TestWindowCoefficients(t *testing.T) {
	const n = 64

	hann := windowCoefficients(Hanning, n)
	if math.Abs(hann[0]) > 1e-12 || math.Abs(hann[n-1]) > 1e-12 {
		t.Errorf("hanning endpoints = %v, %v, want 0", hann[0], hann[n-1])
	}

	hamming := windowCoefficients(Hamming, n)
	if math.Abs(hamming[0]-0.08) > 1e-12 {
		t.Errorf("hamming[0] = %v, want 0.08", hamming[0])
	}

	blackman := windowCoefficients(Blackman, n)
	if math.Abs(blackman[0]) > 1e-12 {
		t.Errorf("blackman[0] = %v, want 0", blackman[0])
	}

	rect := windowCoefficients(Rectangular, n)
	for i, c := range rect {
		if c != 1.0 {
			t.Fatalf("rectangular[%d] = %v, want 1", i, c)
		}
	}

	// All windows peak near the center.
	for _, w := range [][]float64{hann, hamming, blackman} {
		mid := w[n/2]
		if mid < 0.9 {
			t.Errorf("window center = %v, want near 1", mid)
		}
	}
}

func TestBinFrequencyHelpers(t *testing.T) {
	a := mustAnalyzer(t, 44100, 1024, 0, Hanning)

	if f := a.BinToFrequency(0); f != 0 {
		t.Errorf("BinToFrequency(0) = %v", f)
	}
	want := 10 * 44100.0 / 1024
	if f := a.BinToFrequency(10); math.Abs(f-want) > 1e-9 {
		t.Errorf("BinToFrequency(10) = %v, want %v", f, want)
	}
	if bin := a.FrequencyToBin(want); bin != 10 {
		t.Errorf("FrequencyToBin(%v) = %d, want 10", want, bin)
	}
	if f := a.BinToFrequency(-1); f != 0 {
		t.Errorf("BinToFrequency(-1) = %v, want 0", f)
	}
	if f := a.BinToFrequency(1024); f != 0 {
		t.Errorf("BinToFrequency out of range = %v, want 0", f)
	}
}

func TestCallbackPanicDoesNotAbortAnalysis(t *testing.T) {
	const n = 128
	a := mustAnalyzer(t, 44100, n, 0, Rectangular)

	later := 0
	a.OnFrequencyData(func(Frame) { panic("renderer bug") })
	a.OnFrequencyData(func(Frame) { later++ })

	a.ProcessSamples(make([]float32, n*2))
	if later != 2 {
		t.Errorf("callback after panicking one fired %d times, want 2", later)
	}
}

func TestBandEnergyFromFrame(t *testing.T) {
	const n = 1024
	const rate = 44100.0
	a := mustAnalyzer(t, rate, n, 0, Rectangular)

	mock := &utils.MockTransport{}
	bands := NewBandEnergyProcessor(mock, rate)

	var out map[string]float64
	a.OnFrequencyData(func(f Frame) { out = bands.ProcessFrame(f) })

	// 100 Hz sits in the bass band.
	a.ProcessSamples(utils.GenerateSineWave(n, rate, 100))

	if out == nil {
		t.Fatal("no band output")
	}
	if out["bass"] <= out["treble"] {
		t.Errorf("bass %v should dominate treble %v for a 100 Hz tone",
			out["bass"], out["treble"])
	}
	if mock.SendCount == 0 {
		t.Error("band energy was not published")
	}
	for name, v := range out {
		if v < 0 || v > 1 {
			t.Errorf("band %s = %v outside [0, 1]", name, v)
		}
	}
}

func TestBeatDetector(t *testing.T) {
	mock := &utils.MockTransport{}
	bd := NewBeatDetector(0.05, 1.5, mock)

	quiet := make([]float32, 256)
	for i := range quiet {
		quiet[i] = 0.01
	}
	loud := make([]float32, 256)
	for i := range loud {
		loud[i] = 0.5
	}

	if bd.Process(quiet) {
		t.Error("beat fired on quiet input")
	}
	if !bd.Process(loud) {
		t.Error("beat did not fire on a jump from quiet to loud")
	}
	if bd.Process(loud) {
		t.Error("beat fired again without an energy jump")
	}
	if mock.SendCount != 1 {
		t.Errorf("beat events published = %d, want 1", mock.SendCount)
	}
}
