// SPDX-License-Identifier: MIT
package source

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	mp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"

	applog "termviz/internal/log"
)

// errFormatMismatch means a native decoder can open the file but its
// stream parameters differ from the requested format. The caller falls
// back to the subprocess adapter, which resamples.
var errFormatMismatch = errors.New("native decoder format mismatch")

// newNativeDecoder opens an in-process decoder for formats Go can decode
// without spawning a subprocess. The native path is only taken when the
// file's own rate and channel count match the requested format; anything
// else needs the external decoder's resampler.
func newNativeDecoder(ext, path string, format Format, skipSeconds float64) (decoder, error) {
	switch ext {
	case "wav":
		return newWavDecoder(path, format, skipSeconds)
	case "mp3":
		return newMP3Decoder(path, format, skipSeconds)
	case "ogg":
		return newOggDecoder(path, format, skipSeconds)
	default:
		return nil, fmt.Errorf("%w: no native decoder for .%s", errFormatMismatch, ext)
	}
}

// wavDecoder decodes RIFF/WAVE through go-audio.
type wavDecoder struct {
	file     *os.File
	dec      *wav.Decoder
	intBuf   *audio.IntBuffer
	bitDepth int
}

func newWavDecoder(path string, format Format, skipSeconds float64) (*wavDecoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("not a valid wav file: %s", path)
	}
	if float64(dec.SampleRate) != format.SampleRate || int(dec.NumChans) != format.Channels {
		f.Close()
		return nil, errFormatMismatch
	}

	d := &wavDecoder{
		file:     f,
		dec:      dec,
		bitDepth: int(dec.BitDepth),
		intBuf: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: int(dec.NumChans),
				SampleRate:  int(dec.SampleRate),
			},
		},
	}
	if skipSeconds > 0 {
		if err := d.discard(int(skipSeconds * format.SampleRate * float64(format.Channels))); err != nil {
			f.Close()
			return nil, err
		}
	}
	applog.Debugf("decoder: native wav decoder for %s (%d-bit)", path, d.bitDepth)
	return d, nil
}

// discard decodes and drops samples to implement seek.
func (d *wavDecoder) discard(samples int) error {
	scratch := make([]float32, 4096)
	for samples > 0 {
		n := len(scratch)
		if n > samples {
			n = samples
		}
		read, err := d.ReadChunk(scratch[:n])
		if err != nil {
			return err
		}
		samples -= read
	}
	return nil
}

func (d *wavDecoder) ReadChunk(dst []float32) (int, error) {
	if cap(d.intBuf.Data) < len(dst) {
		d.intBuf.Data = make([]int, len(dst))
	}
	d.intBuf.Data = d.intBuf.Data[:len(dst)]

	n, err := d.dec.PCMBuffer(d.intBuf)
	if n == 0 {
		if err == nil {
			err = io.EOF
		}
		return 0, err
	}

	// go-audio hands back raw integer samples at the file's bit depth.
	// 8-bit WAV is unsigned; everything else is signed.
	scale := float32(int64(1) << (d.bitDepth - 1))
	for i := 0; i < n; i++ {
		v := d.intBuf.Data[i]
		if d.bitDepth == 8 {
			v -= 128
		}
		dst[i] = float32(v) / scale
	}
	return n, nil
}

func (d *wavDecoder) Close() error {
	return d.file.Close()
}

// mp3Decoder decodes MPEG layer 3 through go-mp3, which exposes the
// decoded stream as s16le stereo bytes.
type mp3Decoder struct {
	file *os.File
	dec  *mp3.Decoder
	raw  []byte
}

func newMP3Decoder(path string, format Format, skipSeconds float64) (*mp3Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mp3 decoder: %w", err)
	}
	// go-mp3 always produces two channels at the stream rate.
	if float64(dec.SampleRate()) != format.SampleRate || format.Channels != 2 {
		f.Close()
		return nil, errFormatMismatch
	}
	if skipSeconds > 0 {
		// 4 bytes per frame: two s16 channels.
		offset := int64(skipSeconds*float64(dec.SampleRate())) * 4
		if _, err := dec.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("mp3 seek: %w", err)
		}
	}
	applog.Debugf("decoder: native mp3 decoder for %s", path)
	return &mp3Decoder{file: f, dec: dec}, nil
}

func (d *mp3Decoder) ReadChunk(dst []float32) (int, error) {
	need := len(dst) * 2
	if cap(d.raw) < need {
		d.raw = make([]byte, need)
	}
	raw := d.raw[:need]

	n, err := io.ReadFull(d.dec, raw)
	if n == 0 {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return 0, err
	}
	samples := DecodeS16LE(dst, raw[:n-n%2])
	if err == io.ErrUnexpectedEOF {
		return samples, nil
	}
	return samples, err
}

func (d *mp3Decoder) Close() error {
	return d.file.Close()
}

// oggDecoder decodes Ogg Vorbis through jfreymuth/oggvorbis, the one
// native decoder that already produces float32.
type oggDecoder struct {
	file *os.File
	r    *oggvorbis.Reader
}

func newOggDecoder(path string, format Format, skipSeconds float64) (*oggDecoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := oggvorbis.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ogg decoder: %w", err)
	}
	if float64(r.SampleRate()) != format.SampleRate || r.Channels() != format.Channels {
		f.Close()
		return nil, errFormatMismatch
	}
	if skipSeconds > 0 {
		if err := r.SetPosition(int64(skipSeconds * float64(r.SampleRate()))); err != nil {
			f.Close()
			return nil, fmt.Errorf("ogg seek: %w", err)
		}
	}
	applog.Debugf("decoder: native ogg decoder for %s", path)
	return &oggDecoder{file: f, r: r}, nil
}

func (d *oggDecoder) ReadChunk(dst []float32) (int, error) {
	n, err := d.r.Read(dst)
	if n == 0 && err == nil {
		err = io.EOF
	}
	return n, err
}

func (d *oggDecoder) Close() error {
	return d.file.Close()
}
