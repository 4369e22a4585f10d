// SPDX-License-Identifier: MIT
package source

import (
	"fmt"

	"github.com/gen2brain/malgo"
)

// malgoBackend captures through miniaudio. It is the fallback when
// PortAudio fails to initialize; miniaudio talks to the same native
// systems (CoreAudio, PulseAudio, ALSA) with its own probing order.
//
// miniaudio hands the callback raw S16 little-endian bytes, so this is the
// one capture path that exercises the integer-PCM conversion table.
type malgoBackend struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	emit   func([]float32)
	buf    []float32
}

func newMalgoBackend() *malgoBackend {
	return &malgoBackend{}
}

func (m *malgoBackend) name() string { return "malgo" }

func (m *malgoBackend) open(format Format, opts CaptureOptions, emit func([]float32)) error {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("malgo context: %w", err)
	}
	m.ctx = ctx
	m.emit = emit
	m.buf = make([]float32, opts.FramesPerBuffer*format.Channels*2)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(opts.FramesPerBuffer)

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, pInput []byte, frameCount uint32) {
			need := int(frameCount) * format.Channels
			if need > len(m.buf) {
				m.buf = make([]float32, need)
			}
			n := DecodeS16LE(m.buf[:need], pInput)
			m.emit(m.buf[:n])
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		m.close()
		return fmt.Errorf("malgo device: %w", err)
	}
	m.device = device
	return nil
}

func (m *malgoBackend) start() error {
	if err := m.device.Start(); err != nil {
		return fmt.Errorf("malgo start: %w", err)
	}
	return nil
}

func (m *malgoBackend) stop() error {
	if m.device == nil {
		return nil
	}
	if err := m.device.Stop(); err != nil {
		return fmt.Errorf("malgo stop: %w", err)
	}
	return nil
}

func (m *malgoBackend) close() error {
	if m.device != nil {
		m.device.Uninit()
		m.device = nil
	}
	if m.ctx != nil {
		_ = m.ctx.Uninit()
		m.ctx.Free()
		m.ctx = nil
	}
	return nil
}

func (m *malgoBackend) info() map[string]any {
	return map[string]any{"backend": "malgo"}
}
