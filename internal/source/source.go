// SPDX-License-Identifier: MIT
/*
Package source implements the audio producers of the pipeline: system
capture through the native back-ends and file playback through decoders,
plus the manager that owns the registry and the main audio buffer.

All sources speak the same contract: a lifecycle state machine, an
interleaved float32 callback path, and failure surfaced as a state
transition rather than a panic. Callbacks never fire before the source is
running or after it begins stopping, and payloads are capped to bounded
chunks so downstream buffers stay responsive.
*/
package source

import (
	"errors"
	"fmt"
	"sync"

	applog "termviz/internal/log"
)

var (
	// ErrInvalidArgument marks an out-of-range construction parameter.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnsupportedEnvironment marks a missing native audio system or decoder.
	ErrUnsupportedEnvironment = errors.New("unsupported environment")

	// ErrSourceError marks a runtime failure inside a source.
	ErrSourceError = errors.New("source error")

	// ErrAlreadyRunning is returned by Start on a running source.
	ErrAlreadyRunning = errors.New("source already running")

	// ErrSwitchFailed marks a rejected or partially completed source switch.
	ErrSwitchFailed = errors.New("switch failed")
)

// Status is the lifecycle state of a source.
type Status int

const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusPaused
	StatusStopping
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusStopping:
		return "stopping"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Format describes the PCM stream a source produces. It is fixed at
// construction.
type Format struct {
	SampleRate      float64
	Channels        int
	SampleWidthBits int
}

var validRates = map[float64]bool{22050: true, 44100: true, 48000: true, 96000: true}
var validWidths = map[int]bool{8: true, 16: true, 24: true, 32: true}

// NewFormat validates and builds a Format.
func NewFormat(sampleRate float64, channels, widthBits int) (Format, error) {
	if !validRates[sampleRate] {
		return Format{}, fmt.Errorf("%w: sample rate %.0f", ErrInvalidArgument, sampleRate)
	}
	if channels != 1 && channels != 2 {
		return Format{}, fmt.Errorf("%w: channels %d", ErrInvalidArgument, channels)
	}
	if !validWidths[widthBits] {
		return Format{}, fmt.Errorf("%w: sample width %d", ErrInvalidArgument, widthBits)
	}
	return Format{SampleRate: sampleRate, Channels: channels, SampleWidthBits: widthBits}, nil
}

// DataFunc receives interleaved float32 samples in [-1, 1].
type DataFunc func(samples []float32)

// Source is the uniform producer contract shared by system capture and
// file playback.
type Source interface {
	Start() error
	Stop() error
	Pause() error
	Resume() error

	OnAudioData(fn DataFunc)
	ClearCallbacks()

	DeviceInfo() map[string]any
	Status() Status
	Format() Format
	ErrorMessage() string
}

// maxChunkFrames caps a single callback payload. Larger produced buffers
// are split so a slow consumer never sees multi-second chunks.
const maxChunkFrames = 4096

// baseSource carries the state every source variant composes: format,
// status machine, error message, and the callback list.
type baseSource struct {
	mu        sync.Mutex
	format    Format
	status    Status
	errMsg    string
	callbacks []DataFunc
}

func newBaseSource(format Format) baseSource {
	return baseSource{format: format, status: StatusStopped}
}

func (b *baseSource) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *baseSource) Format() Format {
	return b.format
}

func (b *baseSource) ErrorMessage() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errMsg
}

// OnAudioData registers a sample callback.
func (b *baseSource) OnAudioData(fn DataFunc) {
	b.mu.Lock()
	b.callbacks = append(b.callbacks, fn)
	b.mu.Unlock()
}

// ClearCallbacks removes all registered callbacks.
func (b *baseSource) ClearCallbacks() {
	b.mu.Lock()
	b.callbacks = nil
	b.mu.Unlock()
}

// transition moves the status to `to` if the current status is one of
// `from`. It reports whether the move happened.
func (b *baseSource) transition(to Status, from ...Status) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range from {
		if b.status == f {
			b.status = to
			return true
		}
	}
	return false
}

// fail moves the source to the terminal error state with a message. The
// state persists until Reset.
func (b *baseSource) fail(msg string) {
	b.mu.Lock()
	b.status = StatusError
	b.errMsg = msg
	b.mu.Unlock()
}

// Reset clears a terminal error back to stopped.
func (b *baseSource) Reset() {
	b.mu.Lock()
	if b.status == StatusError {
		b.status = StatusStopped
		b.errMsg = ""
	}
	b.mu.Unlock()
}

// emit delivers samples to every callback in bounded chunks. Nothing is
// delivered unless the source is running; a panicking callback is recovered
// so OS callback frames never unwind.
func (b *baseSource) emit(samples []float32) {
	b.mu.Lock()
	if b.status != StatusRunning {
		b.mu.Unlock()
		return
	}
	cbs := make([]DataFunc, len(b.callbacks))
	copy(cbs, b.callbacks)
	channels := b.format.Channels
	b.mu.Unlock()

	if len(cbs) == 0 {
		return
	}

	maxChunk := maxChunkFrames * channels
	for start := 0; start < len(samples); start += maxChunk {
		end := start + maxChunk
		if end > len(samples) {
			end = len(samples)
		}
		chunk := samples[start:end]
		for _, cb := range cbs {
			safeEmit(cb, chunk)
		}
	}
}

func safeEmit(cb DataFunc, samples []float32) {
	defer func() {
		if r := recover(); r != nil {
			applog.Debugf("source: audio callback panicked: %v", r)
		}
	}()
	cb(samples)
}
