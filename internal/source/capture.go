// SPDX-License-Identifier: MIT
package source

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	applog "termviz/internal/log"
)

// CaptureOptions selects the capture device and latency behavior.
type CaptureOptions struct {
	DeviceID        int // -1 selects the system default input
	FramesPerBuffer int
	LowLatency      bool
}

// DefaultCaptureOptions returns options for the default device with a
// balanced buffer size.
func DefaultCaptureOptions() CaptureOptions {
	return CaptureOptions{DeviceID: -1, FramesPerBuffer: 512}
}

// captureBackend abstracts a native capture API. Backends deliver
// interleaved float32 samples through the emit function installed at open.
type captureBackend interface {
	open(format Format, opts CaptureOptions, emit func([]float32)) error
	start() error
	stop() error
	close() error
	info() map[string]any
	name() string
}

// SystemCapture acquires PCM from the operating system's input. The
// back-end is probed at construction: PortAudio first (CoreAudio on macOS,
// PulseAudio/ALSA on Linux), then miniaudio via malgo. Neither usable
// means the environment cannot capture audio at all.
type SystemCapture struct {
	baseSource
	opts    CaptureOptions
	backend captureBackend
	opened  bool
	openMu  sync.Mutex
}

var _ Source = (*SystemCapture)(nil)

// NewSystemCapture probes the native back-ends and returns a capture
// source, or ErrUnsupportedEnvironment when no back-end initializes.
func NewSystemCapture(format Format, opts CaptureOptions) (*SystemCapture, error) {
	if opts.FramesPerBuffer <= 0 {
		opts.FramesPerBuffer = 512
	}

	s := &SystemCapture{
		baseSource: newBaseSource(format),
		opts:       opts,
	}

	for _, backend := range []captureBackend{newPortAudioBackend(), newMalgoBackend()} {
		if err := backend.open(format, opts, s.emit); err != nil {
			applog.Debugf("capture: back-end %s unavailable: %v", backend.name(), err)
			continue
		}
		s.backend = backend
		s.opened = true
		applog.Infof("capture: using %s back-end (%.0f Hz, %d ch)",
			backend.name(), format.SampleRate, format.Channels)
		return s, nil
	}
	return nil, fmt.Errorf("%w: no usable audio capture back-end", ErrUnsupportedEnvironment)
}

// Start begins capture. Starting a running source fails.
func (s *SystemCapture) Start() error {
	if s.Status() == StatusRunning {
		return ErrAlreadyRunning
	}
	if !s.transition(StatusStarting, StatusStopped) {
		return fmt.Errorf("%w: cannot start from %s", ErrSourceError, s.Status())
	}
	if err := s.backend.start(); err != nil {
		s.fail(err.Error())
		return fmt.Errorf("%w: %v", ErrSourceError, err)
	}
	s.transition(StatusRunning, StatusStarting)
	return nil
}

// Stop halts capture. Stopping a stopped source is a no-op.
func (s *SystemCapture) Stop() error {
	if !s.transition(StatusStopping, StatusRunning, StatusPaused, StatusStarting) {
		return nil
	}
	err := s.backend.stop()
	s.transition(StatusStopped, StatusStopping)
	if err != nil {
		s.fail(err.Error())
		return fmt.Errorf("%w: %v", ErrSourceError, err)
	}
	return nil
}

// Pause suppresses sample delivery without closing the device.
func (s *SystemCapture) Pause() error {
	if !s.transition(StatusPaused, StatusRunning) {
		return fmt.Errorf("%w: cannot pause from %s", ErrSourceError, s.Status())
	}
	return nil
}

// Resume re-enables sample delivery.
func (s *SystemCapture) Resume() error {
	if !s.transition(StatusRunning, StatusPaused) {
		return fmt.Errorf("%w: cannot resume from %s", ErrSourceError, s.Status())
	}
	return nil
}

// Close releases the native device. The source is unusable afterwards.
func (s *SystemCapture) Close() error {
	s.openMu.Lock()
	defer s.openMu.Unlock()
	if !s.opened {
		return nil
	}
	s.opened = false
	_ = s.Stop()
	return s.backend.close()
}

// DeviceInfo describes the selected back-end and device.
func (s *SystemCapture) DeviceInfo() map[string]any {
	info := s.backend.info()
	info["type"] = "system"
	info["sample_rate"] = s.format.SampleRate
	info["channels"] = s.format.Channels
	return info
}

// ---------------------------------------------------------------------------
// PortAudio back-end

// paInitMu serializes PortAudio global init/terminate across sources.
var paInitMu sync.Mutex
var paInitCount int

func paInitialize() error {
	paInitMu.Lock()
	defer paInitMu.Unlock()
	if paInitCount == 0 {
		if err := portaudio.Initialize(); err != nil {
			return err
		}
	}
	paInitCount++
	return nil
}

func paTerminate() {
	paInitMu.Lock()
	defer paInitMu.Unlock()
	if paInitCount > 0 {
		paInitCount--
		if paInitCount == 0 {
			_ = portaudio.Terminate()
		}
	}
}

type portAudioBackend struct {
	stream *portaudio.Stream
	device *portaudio.DeviceInfo
	emit   func([]float32)
	buf    []float32
	inited bool
}

func newPortAudioBackend() *portAudioBackend {
	return &portAudioBackend{}
}

func (p *portAudioBackend) name() string { return "portaudio" }

func (p *portAudioBackend) open(format Format, opts CaptureOptions, emit func([]float32)) error {
	if err := paInitialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	p.inited = true

	device, err := paInputDevice(opts.DeviceID)
	if err != nil {
		p.close()
		return err
	}
	p.device = device
	p.emit = emit
	p.buf = make([]float32, opts.FramesPerBuffer*format.Channels)

	latency := device.DefaultHighInputLatency
	if opts.LowLatency {
		latency = device.DefaultLowInputLatency
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: format.Channels,
			Latency:  latency,
		},
		FramesPerBuffer: opts.FramesPerBuffer,
		SampleRate:      format.SampleRate,
	}

	// PortAudio delivers float32 directly, so no conversion is needed on
	// this path. The callback copies into the pre-allocated buffer before
	// emitting to keep the driver's slice out of user hands.
	stream, err := portaudio.OpenStream(params, func(in []float32) {
		n := copy(p.buf, in)
		p.emit(p.buf[:n])
	})
	if err != nil {
		p.close()
		return fmt.Errorf("portaudio open: %w", err)
	}
	p.stream = stream
	return nil
}

func (p *portAudioBackend) start() error {
	if err := p.stream.Start(); err != nil {
		return fmt.Errorf("portaudio start: %w", err)
	}
	return nil
}

func (p *portAudioBackend) stop() error {
	if p.stream == nil {
		return nil
	}
	if err := p.stream.Stop(); err != nil {
		return fmt.Errorf("portaudio stop: %w", err)
	}
	return nil
}

func (p *portAudioBackend) close() error {
	var err error
	if p.stream != nil {
		err = p.stream.Close()
		p.stream = nil
	}
	if p.inited {
		paTerminate()
		p.inited = false
	}
	return err
}

func (p *portAudioBackend) info() map[string]any {
	if p.device == nil {
		return map[string]any{"backend": "portaudio"}
	}
	return map[string]any{
		"backend":             "portaudio",
		"device_name":         p.device.Name,
		"max_input_channels":  p.device.MaxInputChannels,
		"default_sample_rate": p.device.DefaultSampleRate,
	}
}

// paInputDevice resolves an input device index, -1 meaning the default.
func paInputDevice(deviceID int) (*portaudio.DeviceInfo, error) {
	if deviceID < 0 {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("portaudio default input: %w", err)
		}
		return device, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio devices: %w", err)
	}
	if deviceID >= len(devices) {
		return nil, fmt.Errorf("%w: device ID %d", ErrInvalidArgument, deviceID)
	}
	return devices[deviceID], nil
}

// Device describes an input device for listing UIs.
type Device struct {
	ID                int
	Name              string
	MaxInputChannels  int
	DefaultSampleRate float64
}

// ListDevices enumerates capture-capable devices through PortAudio; the
// malgo back-end is not consulted.
func ListDevices() ([]Device, error) {
	if err := paInitialize(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedEnvironment, err)
	}
	defer paTerminate()

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedEnvironment, err)
	}

	devices := make([]Device, 0, len(infos))
	for i, info := range infos {
		if info.MaxInputChannels == 0 {
			continue
		}
		devices = append(devices, Device{
			ID:                i,
			Name:              info.Name,
			MaxInputChannels:  info.MaxInputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
		})
	}
	return devices, nil
}
