// SPDX-License-Identifier: MIT
package source

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	applog "termviz/internal/log"
)

// playableExtensions whitelists what the decoder chain can handle.
var playableExtensions = map[string]bool{
	"mp3": true, "wav": true, "flac": true, "m4a": true, "aac": true, "ogg": true,
}

// playerChunkFrames is how many frames the reader pulls per decoder call.
// At 44.1 kHz this is ~23 ms, small enough to keep pause and stop snappy.
const playerChunkFrames = 1024

// stopJoinTimeout bounds how long Stop waits for the reader goroutine.
const stopJoinTimeout = 3 * time.Second

// FilePlayer decodes an audio file and streams it through the source
// contract at real-time pace. Decoding prefers the in-process decoders and
// falls back to an external decoder subprocess (ffmpeg family first, then
// sox) for formats Go cannot decode or when the stream must be resampled.
type FilePlayer struct {
	baseSource
	path string
	ext  string
	tool string // external decoder path, "" when only native decoding is possible

	duration *float64 // probed seconds, nil when no metadata tool worked

	playMu   sync.Mutex // serializes start/stop/seek
	decClose func()     // closes the active decoder exactly once
	stopCh   chan struct{}
	done     chan struct{}
	position float64 // seconds, guarded by baseSource.mu
}

var _ Source = (*FilePlayer)(nil)

// NewFilePlayer validates the path and probes duration. Construction fails
// with ErrUnsupportedEnvironment when neither a native decoder nor an
// external decoder tool can handle the file.
func NewFilePlayer(path string, format Format) (*FilePlayer, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if !playableExtensions[ext] {
		return nil, fmt.Errorf("%w: unsupported extension %q", ErrInvalidArgument, ext)
	}

	tool, haveTool := findDecoderTool()
	if !haveTool && !nativeDecodable(ext) {
		return nil, fmt.Errorf("%w: no decoder available for .%s", ErrUnsupportedEnvironment, ext)
	}

	p := &FilePlayer{
		baseSource: newBaseSource(format),
		path:       path,
		ext:        ext,
		tool:       tool,
	}
	if d, ok := probeDuration(path); ok {
		p.duration = &d
	}
	return p, nil
}

func nativeDecodable(ext string) bool {
	return ext == "wav" || ext == "mp3" || ext == "ogg"
}

// openDecoder builds the decoder chain for the current position.
func (p *FilePlayer) openDecoder(skipSeconds float64) (decoder, error) {
	if nativeDecodable(p.ext) {
		dec, err := newNativeDecoder(p.ext, p.path, p.format, skipSeconds)
		if err == nil {
			return dec, nil
		}
		applog.Debugf("fileplayer: native decoder unavailable (%v), using subprocess", err)
	}
	if p.tool == "" {
		return nil, fmt.Errorf("%w: no decoder available for .%s", ErrUnsupportedEnvironment, p.ext)
	}
	return newSubprocessDecoder(p.tool, p.path, p.format, skipSeconds)
}

// Start launches the decoder and the reader goroutine.
func (p *FilePlayer) Start() error {
	if p.Status() == StatusRunning {
		return ErrAlreadyRunning
	}
	if !p.transition(StatusStarting, StatusStopped) {
		return fmt.Errorf("%w: cannot start from %s", ErrSourceError, p.Status())
	}

	p.playMu.Lock()
	defer p.playMu.Unlock()

	dec, err := p.openDecoder(p.Position())
	if err != nil {
		p.fail(err.Error())
		return fmt.Errorf("%w: %v", ErrSourceError, err)
	}

	p.decClose = sync.OnceFunc(func() { _ = dec.Close() })
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	p.transition(StatusRunning, StatusStarting)

	go p.readLoop(dec, p.decClose, p.stopCh, p.done)
	return nil
}

// readLoop pulls fixed chunks from the decoder, converts frame counts to
// seconds for position tracking, and paces delivery to real time so the
// ring buffer is not flooded by a decoder running faster than playback.
func (p *FilePlayer) readLoop(dec decoder, decClose func(), stopCh, done chan struct{}) {
	defer close(done)

	chunk := make([]float32, playerChunkFrames*p.format.Channels)
	next := time.Now()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		if p.Status() == StatusPaused {
			// Suspend reading without killing the decoder.
			time.Sleep(10 * time.Millisecond)
			next = time.Now()
			continue
		}

		n, err := dec.ReadChunk(chunk)
		if n > 0 {
			p.emit(chunk[:n])
			seconds := float64(n) / float64(p.format.Channels) / p.format.SampleRate
			p.mu.Lock()
			p.position += seconds
			p.mu.Unlock()

			// Real-time pacing: sleep off the decoded duration, with the
			// deadline carried across chunks to avoid drift.
			next = next.Add(time.Duration(seconds * float64(time.Second)))
			if wait := time.Until(next); wait > 0 {
				select {
				case <-stopCh:
					return
				case <-time.After(wait):
				}
			}
		}
		if err == io.EOF {
			applog.Infof("fileplayer: end of %s", filepath.Base(p.path))
			decClose()
			p.transition(StatusStopped, StatusRunning, StatusPaused)
			return
		}
		if err != nil {
			applog.Errorf("fileplayer: decoder failed: %v", err)
			decClose()
			p.fail(fmt.Sprintf("decoder failed: %v", err))
			return
		}
	}
}

// Stop signals the reader, joins it with a bounded timeout, then tears the
// decoder down (force-terminating a subprocess if needed).
func (p *FilePlayer) Stop() error {
	if !p.transition(StatusStopping, StatusRunning, StatusPaused, StatusStarting) {
		return nil
	}

	p.playMu.Lock()
	defer p.playMu.Unlock()

	if p.stopCh != nil {
		close(p.stopCh)
		select {
		case <-p.done:
		case <-time.After(stopJoinTimeout):
			applog.Warnf("fileplayer: reader did not stop within %s", stopJoinTimeout)
		}
		p.stopCh = nil
	}
	if p.decClose != nil {
		p.decClose()
		p.decClose = nil
	}

	p.transition(StatusStopped, StatusStopping)
	p.mu.Lock()
	p.position = 0
	p.mu.Unlock()
	return nil
}

// Pause suspends reading; the decoder subprocess stays alive.
func (p *FilePlayer) Pause() error {
	if !p.transition(StatusPaused, StatusRunning) {
		return fmt.Errorf("%w: cannot pause from %s", ErrSourceError, p.Status())
	}
	return nil
}

// Resume continues reading from where Pause left off.
func (p *FilePlayer) Resume() error {
	if !p.transition(StatusRunning, StatusPaused) {
		return fmt.Errorf("%w: cannot resume from %s", ErrSourceError, p.Status())
	}
	return nil
}

// Seek moves playback to the given position by relaunching the decoder
// with a skip. Safe while stopped (the position applies on next Start) or
// while playing.
func (p *FilePlayer) Seek(seconds float64) error {
	if seconds < 0 {
		return fmt.Errorf("%w: negative seek", ErrInvalidArgument)
	}

	wasPlaying := p.Status() == StatusRunning || p.Status() == StatusPaused
	if wasPlaying {
		if err := p.Stop(); err != nil {
			return err
		}
	}
	p.mu.Lock()
	p.position = seconds
	p.mu.Unlock()
	if wasPlaying {
		return p.Start()
	}
	return nil
}

// Position returns the playback position in seconds.
func (p *FilePlayer) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// Duration returns the probed duration, or nil when no metadata tool was
// usable.
func (p *FilePlayer) Duration() *float64 {
	return p.duration
}

// Path returns the file being played.
func (p *FilePlayer) Path() string {
	return p.path
}

// DeviceInfo describes the file and decoder chain.
func (p *FilePlayer) DeviceInfo() map[string]any {
	info := map[string]any{
		"type":        "file",
		"file_path":   p.path,
		"extension":   p.ext,
		"sample_rate": p.format.SampleRate,
		"channels":    p.format.Channels,
		"position":    p.Position(),
	}
	if p.duration != nil {
		info["duration"] = *p.duration
	}
	if p.tool != "" {
		info["decoder_tool"] = p.tool
	}
	return info
}
