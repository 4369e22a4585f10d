// SPDX-License-Identifier: MIT
/*
Package pipeline wires the capture-to-analysis path together: source
producers feed the main audio buffer, the analyzer goroutine drains it
through the control chain into the FFT, and analyzed frames fan out to
the registered callbacks and transports.

Thread model at steady state: the source's producer (an OS audio callback
thread or a file reader goroutine), the analyzer goroutine owned here,
and the caller's goroutine driving the public surface.
*/
package pipeline

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"termviz/internal/analysis"
	"termviz/internal/buffer"
	"termviz/internal/config"
	"termviz/internal/dsp"
	applog "termviz/internal/log"
	"termviz/internal/source"
	"termviz/internal/transport"
	"termviz/internal/transport/udp"
)

// analyzerReadTimeout bounds each drain of the main buffer so the stop
// flag is observed promptly even on a silent source.
const analyzerReadTimeout = 50 * time.Millisecond

// shutdownJoinTimeout bounds how long Stop waits for the analyzer
// goroutine.
const shutdownJoinTimeout = 3 * time.Second

// Pipeline owns the components and the analyzer goroutine.
type Pipeline struct {
	cfg      *config.Config
	format   source.Format
	buffers  *buffer.Manager
	sources  *source.Manager
	controls *dsp.Controls
	analyzer *analysis.Analyzer
	bands    *analysis.BandEnergyProcessor
	beat     *analysis.BeatDetector

	transports []transport.Transport

	audioMu        sync.Mutex
	audioCallbacks []func([]float32)

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
	startMu sync.Mutex

	monoBuf []float32
}

// New constructs and wires the pipeline from configuration. The initial
// source named by cfg.Audio.Source is created and switched in but not
// started.
func New(cfg *config.Config) (*Pipeline, error) {
	format, err := source.NewFormat(cfg.Audio.SampleRate, cfg.Audio.Channels, cfg.Audio.SampleWidthBits)
	if err != nil {
		return nil, err
	}

	window, err := analysis.ParseWindow(cfg.Analysis.Window)
	if err != nil {
		return nil, err
	}
	analyzer, err := analysis.NewAnalyzer(cfg.Audio.SampleRate, cfg.Analysis.FFTSize, cfg.Analysis.Overlap, window)
	if err != nil {
		return nil, err
	}

	buffers := buffer.NewManager()
	sources, err := source.NewManager(buffers, format)
	if err != nil {
		return nil, err
	}

	controls := dsp.NewControls()
	if err := controls.ApplyPreset(cfg.DSP.Preset); err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:      cfg,
		format:   format,
		buffers:  buffers,
		sources:  sources,
		controls: controls,
		analyzer: analyzer,
		monoBuf:  make([]float32, 0, cfg.Audio.FramesPerBuffer),
	}

	if cfg.Transport.WebSocketEnabled {
		p.transports = append(p.transports,
			transport.NewWebSocketTransport(cfg.Transport.WebSocketPort, cfg.Transport.SendInterval))
	}
	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			return nil, err
		}
		p.transports = append(p.transports, udp.NewPublisher(sender, cfg.Transport.SendInterval))
	}

	var sink transport.Transport = transport.Null{}
	if len(p.transports) > 0 {
		sink = p.transports[0]
	}
	p.bands = analysis.NewBandEnergyProcessor(sink, cfg.Audio.SampleRate)
	p.beat = analysis.NewBeatDetector(0.05, 1.5, sink)

	analyzer.OnFrequencyData(p.publishFrame)

	if err := p.wireInitialSource(); err != nil {
		return nil, err
	}
	return p, nil
}

// wireInitialSource creates and switches in the source named by config.
func (p *Pipeline) wireInitialSource() error {
	spec := p.cfg.Audio.Source
	opts := source.Options{
		Format: p.format,
		Capture: source.CaptureOptions{
			DeviceID:        p.cfg.Audio.InputDevice,
			FramesPerBuffer: p.cfg.Audio.FramesPerBuffer,
			LowLatency:      p.cfg.Audio.LowLatency,
		},
	}

	if path, ok := strings.CutPrefix(spec, "file:"); ok {
		return p.sources.SwitchToFile(path, opts, 0)
	}
	if spec == "system" || spec == "" {
		return p.sources.SwitchToSystemAudio(opts, 0)
	}
	return fmt.Errorf("%w: unknown source %q", source.ErrInvalidArgument, spec)
}

// publishFrame fans an analyzed frame out to transports and the band
// processor.
func (p *Pipeline) publishFrame(frame analysis.Frame) {
	for _, t := range p.transports {
		payload := map[string]any{
			"type":        "spectrum",
			"frequencies": frame.Frequencies,
			"magnitudes":  frame.Magnitudes,
			"phases":      frame.Phases,
			"sample_rate": frame.SampleRate,
			"fft_size":    frame.FFTSize,
		}
		if pub, ok := t.(*udp.Publisher); ok {
			_ = pub.Send(udp.FramePayload{
				Magnitudes: frame.Magnitudes,
				SampleRate: frame.SampleRate,
				FFTSize:    frame.FFTSize,
			})
			continue
		}
		if err := t.Send(payload); err != nil {
			applog.Debugf("pipeline: frame send: %v", err)
		}
	}
	p.bands.ProcessFrame(frame)
}

// OnAudioData registers a callback receiving control-chain output.
func (p *Pipeline) OnAudioData(fn func([]float32)) {
	p.audioMu.Lock()
	p.audioCallbacks = append(p.audioCallbacks, fn)
	p.audioMu.Unlock()
}

// OnFrequencyData registers a callback receiving analyzed frames.
func (p *Pipeline) OnFrequencyData(fn analysis.FrameFunc) {
	p.analyzer.OnFrequencyData(fn)
}

// Start begins capture/playback and launches the analyzer goroutine.
func (p *Pipeline) Start() error {
	p.startMu.Lock()
	defer p.startMu.Unlock()
	if p.started {
		return nil
	}

	if err := p.sources.Start(); err != nil {
		return err
	}

	p.stopCh = make(chan struct{})
	p.wg.Add(1)
	go p.analyzerLoop(p.stopCh)
	p.started = true
	applog.Infof("pipeline: running (%.0f Hz, %d ch, fft %d)",
		p.format.SampleRate, p.format.Channels, p.analyzer.FFTSize())
	return nil
}

// analyzerLoop drains main_audio in windows: timed read, control chain,
// downmix, FFT. A source error shows up as persistent short reads; the
// loop idles on those rather than exiting; no frames are produced until
// samples arrive again, e.g. after the caller switches sources.
func (p *Pipeline) analyzerLoop(stopCh chan struct{}) {
	defer p.wg.Done()

	consumer := p.buffers.NewConsumer(source.MainBufferName)
	readSize := p.analyzer.Hop() * p.format.Channels

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		samples, err := consumer.ReadTimeout(readSize, analyzerReadTimeout)
		if err != nil {
			// Buffer closed: shutdown is in progress.
			return
		}
		if len(samples) == 0 {
			continue
		}

		processed := p.controls.Process(samples)

		p.audioMu.Lock()
		callbacks := make([]func([]float32), len(p.audioCallbacks))
		copy(callbacks, p.audioCallbacks)
		p.audioMu.Unlock()
		for _, cb := range callbacks {
			cb(processed)
		}

		p.beat.Process(processed)
		p.analyzer.ProcessSamples(p.downmix(processed))
	}
}

// downmix reduces interleaved stereo to a single channel for analysis by
// taking the left sample of each frame. Mono passes through untouched.
func (p *Pipeline) downmix(samples []float32) []float32 {
	if p.format.Channels == 1 {
		return samples
	}
	frames := len(samples) / p.format.Channels
	if cap(p.monoBuf) < frames {
		p.monoBuf = make([]float32, frames)
	}
	mono := p.monoBuf[:frames]
	for i := 0; i < frames; i++ {
		mono[i] = samples[i*p.format.Channels]
	}
	return mono
}

// Stop shuts the pipeline down: sources first, then the analyzer
// goroutine with a bounded join, then the buffers.
func (p *Pipeline) Stop() error {
	p.startMu.Lock()
	defer p.startMu.Unlock()
	if !p.started {
		return nil
	}
	p.started = false

	err := p.sources.Stop()

	close(p.stopCh)
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownJoinTimeout):
		applog.Warnf("pipeline: analyzer did not stop within %s", shutdownJoinTimeout)
	}

	if main := p.buffers.Get(source.MainBufferName); main != nil {
		main.Clear()
	}
	return err
}

// Close stops the pipeline and tears down sources, transports, and
// buffers.
func (p *Pipeline) Close() error {
	err := p.Stop()
	p.sources.Close()
	for _, t := range p.transports {
		_ = t.Close()
	}
	p.buffers.Close()
	return err
}

// Pause suspends the current source.
func (p *Pipeline) Pause() error { return p.sources.Pause() }

// Resume continues the current source.
func (p *Pipeline) Resume() error { return p.sources.Resume() }

// Switch changes the producer feeding the pipeline.
func (p *Pipeline) Switch(sourceID string, fadeMS int) error {
	return p.sources.SwitchToSource(sourceID, fadeMS)
}

// Sources exposes the source manager for registration and inspection.
func (p *Pipeline) Sources() *source.Manager { return p.sources }

// Controls exposes the DSP chain.
func (p *Pipeline) Controls() *dsp.Controls { return p.controls }

// Buffers exposes the buffer manager for health monitoring.
func (p *Pipeline) Buffers() *buffer.Manager { return p.buffers }
