// SPDX-License-Identifier: MIT
/*
Package analysis implements the frequency-domain side of the pipeline:
an overlapped, windowed real-to-complex FFT with magnitude and phase
output, plus the band-energy and onset processors that consume it.

The FFT workspace is pre-allocated and reused for every window; each
emitted frame gets freshly allocated slices.
*/
package analysis

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"strings"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"

	applog "termviz/internal/log"
	"termviz/pkg/bitint"
)

// ErrInvalidArgument marks an out-of-range analyzer parameter.
var ErrInvalidArgument = errors.New("invalid argument")

// Window selects the tapering function applied before each transform.
type Window int

const (
	Hanning Window = iota
	Hamming
	Blackman
	Rectangular
)

func (w Window) String() string {
	switch w {
	case Hanning:
		return "hanning"
	case Hamming:
		return "hamming"
	case Blackman:
		return "blackman"
	case Rectangular:
		return "rectangular"
	default:
		return "unknown"
	}
}

// ParseWindow converts a name (case-insensitive) to a Window.
func ParseWindow(name string) (Window, error) {
	switch strings.ToLower(name) {
	case "hanning", "hann":
		return Hanning, nil
	case "hamming":
		return Hamming, nil
	case "blackman":
		return Blackman, nil
	case "rectangular", "none":
		return Rectangular, nil
	default:
		return Hanning, fmt.Errorf("%w: unknown window %q", ErrInvalidArgument, name)
	}
}

// Frame is one analyzed FFT window. Frequencies[k] = k·rate/N for
// k in [0, N/2].
type Frame struct {
	Frequencies []float64
	Magnitudes  []float64
	Phases      []float64
	SampleRate  float64
	FFTSize     int
}

// FrameFunc receives analyzed frames. The slices are owned by the
// receiver; the analyzer never reuses them.
type FrameFunc func(Frame)

// fftSizes are the supported transform lengths.
var fftSizes = map[int]bool{128: true, 256: true, 512: true, 1024: true, 2048: true, 4096: true}

// workspace holds the pre-allocated FFT buffers.
type workspace struct {
	input  []float64    // windowed input samples
	coeffs []complex128 // complex FFT output
	window []float64    // window coefficients
	freqs  []float64    // bin center frequencies, shared by all frames
}

// Analyzer performs overlapped windowed FFT analysis over a sample
// stream. ProcessSamples accumulates input and emits one Frame per full
// window, advancing by the hop size.
type Analyzer struct {
	fftSize    int
	sampleRate float64
	overlap    float64
	hop        int
	windowType Window

	fftObj    *fourier.FFT
	workspace workspace

	mu        sync.Mutex
	pending   []float32
	callbacks []FrameFunc
}

// NewAnalyzer validates parameters and pre-computes the window.
func NewAnalyzer(sampleRate float64, fftSize int, overlap float64, window Window) (*Analyzer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %.1f", ErrInvalidArgument, sampleRate)
	}
	if !fftSizes[fftSize] || !bitint.IsPowerOfTwo(fftSize) {
		return nil, fmt.Errorf("%w: fft size %d", ErrInvalidArgument, fftSize)
	}
	if overlap < 0 || overlap >= 1 {
		return nil, fmt.Errorf("%w: overlap %.2f outside [0, 1)", ErrInvalidArgument, overlap)
	}

	hop := int(float64(fftSize) * (1 - overlap))
	if hop < 1 {
		hop = 1
	}

	bins := fftSize/2 + 1
	freqs := make([]float64, bins)
	for k := range freqs {
		freqs[k] = float64(k) * sampleRate / float64(fftSize)
	}

	a := &Analyzer{
		fftSize:    fftSize,
		sampleRate: sampleRate,
		overlap:    overlap,
		hop:        hop,
		windowType: window,
		fftObj:     fourier.NewFFT(fftSize),
		workspace: workspace{
			input:  make([]float64, fftSize),
			coeffs: make([]complex128, bins),
			window: windowCoefficients(window, fftSize),
			freqs:  freqs,
		},
		pending: make([]float32, 0, fftSize*2),
	}
	applog.Debugf("analysis: analyzer ready (size %d, hop %d, window %s)", fftSize, hop, window)
	return a, nil
}

// windowCoefficients computes the tapering coefficients for n in [0, N).
func windowCoefficients(w Window, n int) []float64 {
	coeffs := make([]float64, n)
	for i := range coeffs {
		x := 2 * math.Pi * float64(i) / float64(n-1)
		switch w {
		case Hanning:
			coeffs[i] = 0.5 * (1 - math.Cos(x))
		case Hamming:
			coeffs[i] = 0.54 - 0.46*math.Cos(x)
		case Blackman:
			coeffs[i] = 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
		default:
			coeffs[i] = 1.0
		}
	}
	return coeffs
}

// OnFrequencyData registers a frame callback.
func (a *Analyzer) OnFrequencyData(fn FrameFunc) {
	a.mu.Lock()
	a.callbacks = append(a.callbacks, fn)
	a.mu.Unlock()
}

// ClearCallbacks removes all frame callbacks.
func (a *Analyzer) ClearCallbacks() {
	a.mu.Lock()
	a.callbacks = nil
	a.mu.Unlock()
}

// ProcessSamples appends samples to the accumulation buffer and analyzes
// every full window, advancing by the hop size. Frames are delivered to
// callbacks in order; a panicking callback is logged and does not abort
// analysis.
func (a *Analyzer) ProcessSamples(samples []float32) {
	a.mu.Lock()
	a.pending = append(a.pending, samples...)

	var frames []Frame
	for len(a.pending) >= a.fftSize {
		frames = append(frames, a.analyzeFrontLocked())
		a.pending = a.pending[a.hop:]
	}
	callbacks := make([]FrameFunc, len(a.callbacks))
	copy(callbacks, a.callbacks)
	a.mu.Unlock()

	for _, frame := range frames {
		for _, cb := range callbacks {
			deliverFrame(cb, frame)
		}
	}
}

func deliverFrame(cb FrameFunc, frame Frame) {
	defer func() {
		if r := recover(); r != nil {
			applog.Errorf("analysis: frequency callback panicked: %v", r)
		}
	}()
	cb(frame)
}

// analyzeFrontLocked transforms the first fftSize pending samples.
// Caller holds a.mu.
func (a *Analyzer) analyzeFrontLocked() Frame {
	for i := 0; i < a.fftSize; i++ {
		a.workspace.input[i] = float64(a.pending[i]) * a.workspace.window[i]
	}
	a.fftObj.Coefficients(a.workspace.coeffs, a.workspace.input)

	bins := len(a.workspace.coeffs)
	mags := make([]float64, bins)
	phases := make([]float64, bins)
	for k, c := range a.workspace.coeffs {
		mags[k] = cmplx.Abs(c)
		phases[k] = cmplx.Phase(c)
	}
	freqs := make([]float64, bins)
	copy(freqs, a.workspace.freqs)
	return Frame{
		Frequencies: freqs,
		Magnitudes:  mags,
		Phases:      phases,
		SampleRate:  a.sampleRate,
		FFTSize:     a.fftSize,
	}
}

// BinToFrequency returns the center frequency of bin k.
func (a *Analyzer) BinToFrequency(k int) float64 {
	if k < 0 || k >= len(a.workspace.freqs) {
		return 0
	}
	return a.workspace.freqs[k]
}

// FrequencyToBin returns the bin index closest to f.
func (a *Analyzer) FrequencyToBin(f float64) int {
	return int(math.Round(f * float64(a.fftSize) / a.sampleRate))
}

// FFTSize returns the transform length.
func (a *Analyzer) FFTSize() int { return a.fftSize }

// Hop returns the stride between successive windows.
func (a *Analyzer) Hop() int { return a.hop }

// SampleRate returns the analysis sample rate.
func (a *Analyzer) SampleRate() float64 { return a.sampleRate }
