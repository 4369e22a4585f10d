// SPDX-License-Identifier: MIT
package source

import (
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	applog "termviz/internal/log"
)

// decoder produces interleaved float32 PCM from an audio file. ReadChunk
// fills dst and returns the sample count; io.EOF signals end of stream.
type decoder interface {
	ReadChunk(dst []float32) (int, error)
	Close() error
}

// decoderWaitTimeout bounds how long Close waits for a decoder subprocess
// before force-terminating it.
const decoderWaitTimeout = 2 * time.Second

// lookPath is swapped in tests to simulate missing tools.
var lookPath = exec.LookPath

// findDecoderTool locates the external decoder, preferring the ffmpeg
// family over the sox family. Either suffices at runtime.
func findDecoderTool() (string, bool) {
	for _, tool := range []string{"ffmpeg", "avconv", "sox"} {
		if path, err := lookPath(tool); err == nil {
			return path, true
		}
	}
	return "", false
}

// probeDuration asks the metadata tools for the file duration in seconds.
// ffprobe is tried first, then soxi; ok is false when neither is usable.
func probeDuration(path string) (seconds float64, ok bool) {
	if tool, err := lookPath("ffprobe"); err == nil {
		out, err := exec.Command(tool,
			"-v", "error",
			"-show_entries", "format=duration",
			"-of", "default=noprint_wrappers=1:nokey=1",
			path).Output()
		if err == nil {
			if d, perr := strconv.ParseFloat(strings.TrimSpace(string(out)), 64); perr == nil && d > 0 {
				return d, true
			}
		}
	}
	if tool, err := lookPath("soxi"); err == nil {
		out, err := exec.Command(tool, "-D", path).Output()
		if err == nil {
			if d, perr := strconv.ParseFloat(strings.TrimSpace(string(out)), 64); perr == nil && d > 0 {
				return d, true
			}
		}
	}
	return 0, false
}

// subprocessDecoder streams s16le PCM from an external decoder's stdout.
// stdin is closed; stderr is informational only.
type subprocessDecoder struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	raw    []byte
}

// newSubprocessDecoder launches the decoder tool, instructed to skip
// skipSeconds and emit signed 16-bit little-endian interleaved PCM at the
// requested rate and channel count.
func newSubprocessDecoder(tool, path string, format Format, skipSeconds float64) (*subprocessDecoder, error) {
	var args []string
	if strings.Contains(tool, "sox") {
		args = []string{
			path,
			"-t", "raw",
			"-b", "16",
			"-e", "signed-integer",
			"-L",
			"-r", strconv.Itoa(int(format.SampleRate)),
			"-c", strconv.Itoa(format.Channels),
			"-",
		}
		if skipSeconds > 0 {
			args = append(args, "trim", strconv.FormatFloat(skipSeconds, 'f', 3, 64))
		}
	} else {
		args = []string{"-v", "error"}
		if skipSeconds > 0 {
			args = append(args, "-ss", strconv.FormatFloat(skipSeconds, 'f', 3, 64))
		}
		args = append(args,
			"-i", path,
			"-f", "s16le",
			"-acodec", "pcm_s16le",
			"-ar", strconv.Itoa(int(format.SampleRate)),
			"-ac", strconv.Itoa(format.Channels),
			"-",
		)
	}

	cmd := exec.Command(tool, args...)
	cmd.Stdin = nil
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("decoder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("decoder start: %w", err)
	}
	applog.Debugf("decoder: launched %s for %s (skip %.3fs)", tool, path, skipSeconds)

	return &subprocessDecoder{cmd: cmd, stdout: stdout}, nil
}

func (d *subprocessDecoder) ReadChunk(dst []float32) (int, error) {
	need := len(dst) * 2
	if cap(d.raw) < need {
		d.raw = make([]byte, need)
	}
	raw := d.raw[:need]

	n, err := io.ReadFull(d.stdout, raw)
	if n == 0 {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return 0, err
	}
	samples := DecodeS16LE(dst, raw[:n-n%2])
	if err == io.ErrUnexpectedEOF {
		// Partial final chunk: deliver it, EOF comes on the next call.
		return samples, nil
	}
	return samples, err
}

// Close terminates the subprocess. A well-behaved decoder exits once its
// stdout is closed; a stuck one is killed after the wait timeout.
func (d *subprocessDecoder) Close() error {
	_ = d.stdout.Close()

	done := make(chan error, 1)
	go func() { done <- d.cmd.Wait() }()

	select {
	case <-done:
		return nil
	case <-time.After(decoderWaitTimeout):
		_ = d.cmd.Process.Kill()
		<-done
		return nil
	}
}
