// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"encoding/binary"
	"sync"
	"time"

	applog "termviz/internal/log"
)

// packetMagic identifies frame packets on the wire.
const packetMagic = uint32(0x54565A46) // "TVZF"

// Publisher packs magnitude spectra into binary packets and sends them at
// a bounded rate. It satisfies the transport.Transport interface: Send
// accepts the analyzer's frame payloads and ignores everything else.
type Publisher struct {
	sender   *Sender
	interval time.Duration

	mu          sync.Mutex
	lastSend    time.Time
	sequenceNum uint32
	packetBuf   *bytes.Buffer
	f32Buf      []float32
}

// NewPublisher wraps a Sender with packing and rate limiting. Intervals
// <= 0 default to ~60 Hz.
func NewPublisher(sender *Sender, interval time.Duration) *Publisher {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	return &Publisher{
		sender:    sender,
		interval:  interval,
		packetBuf: new(bytes.Buffer),
	}
}

// FramePayload is the subset of an analysis frame the publisher packs.
type FramePayload struct {
	Magnitudes []float64
	SampleRate float64
	FFTSize    int
}

// Send packs and transmits a FramePayload. Non-frame data (band energy,
// events) is skipped silently; the datagram feed carries spectra only.
func (p *Publisher) Send(data any) error {
	frame, ok := data.(FramePayload)
	if !ok {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if now.Sub(p.lastSend) < p.interval {
		return nil
	}
	p.lastSend = now

	if cap(p.f32Buf) < len(frame.Magnitudes) {
		p.f32Buf = make([]float32, len(frame.Magnitudes))
	}
	f32 := p.f32Buf[:len(frame.Magnitudes)]
	for i, m := range frame.Magnitudes {
		f32[i] = float32(m)
	}

	p.sequenceNum++
	p.packetBuf.Reset()

	// Header: magic, sequence, sample rate, fft size, bin count.
	binary.Write(p.packetBuf, binary.LittleEndian, packetMagic)
	binary.Write(p.packetBuf, binary.LittleEndian, p.sequenceNum)
	binary.Write(p.packetBuf, binary.LittleEndian, float32(frame.SampleRate))
	binary.Write(p.packetBuf, binary.LittleEndian, uint32(frame.FFTSize))
	binary.Write(p.packetBuf, binary.LittleEndian, uint32(len(f32)))
	binary.Write(p.packetBuf, binary.LittleEndian, f32)

	if err := p.sender.Send(p.packetBuf.Bytes()); err != nil {
		applog.Debugf("transport: UDP publish: %v", err)
		return err
	}
	return nil
}

// Close shuts the underlying sender down.
func (p *Publisher) Close() error {
	return p.sender.Close()
}
