// Package wavfile implements [audio.Device] on top of WAV files, for
// self-tests and profiling without audio hardware.
//
// Capture replays the .wav files of a directory in lexical order, looping
// forever. Each file is decoded, down-mixed to mono and resampled to the
// device rate once at Open. Playback is appended to a single output WAV file
// (16-bit PCM) or discarded when no output path is configured.
//
// Replay runs as fast as the caller reads; there is no real-time pacing.
package wavfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/parrot/internal/dsp"
	"github.com/MrWong99/parrot/pkg/audio"
)

// DecodeFile reads the WAV file at path and returns its samples as mono
// float64 in [-1, 1] at sampleRate.
func DecodeFile(path string, sampleRate int) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("wavfile: %s is not a valid wav file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wavfile: decode %s: %w", path, err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("wavfile: %s has no sample rate", path)
	}

	depth := buf.SourceBitDepth
	if depth <= 0 {
		depth = int(dec.BitDepth)
	}
	if depth <= 0 || depth > 32 {
		return nil, fmt.Errorf("wavfile: %s: unsupported bit depth %d", path, depth)
	}
	scale := float64(int64(1) << (depth - 1))
	samples := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float64(v) / scale
	}
	mono := audio.DownmixInterleaved(samples, buf.Format.NumChannels)

	out, err := dsp.Resample(mono, float64(buf.Format.SampleRate), float64(sampleRate))
	if err != nil {
		return nil, fmt.Errorf("wavfile: %s: %w", path, err)
	}
	return out, nil
}

// Device is a file-backed [audio.Device]. It is not safe for concurrent use;
// the listening loop owns it.
type Device struct {
	format audio.Format

	signal    []int16
	pos       int
	capturing bool

	out     *os.File
	enc     *wav.Encoder
	written int

	closeOnce sync.Once
	closeErr  error
}

// Open decodes every .wav file in dir for replay and, if outputPath is not
// empty, creates the output WAV file for playback.
func Open(dir, outputPath string, format audio.Format) (*Device, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.wav"))
	if err != nil {
		return nil, fmt.Errorf("wavfile: glob %s: %w", dir, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("wavfile: no .wav files in %s", dir)
	}
	slices.Sort(paths)

	var all []float64
	for _, p := range paths {
		s, err := DecodeFile(p, format.SampleRate)
		if err != nil {
			return nil, err
		}
		all = append(all, s...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("wavfile: %s contains only empty files", dir)
	}

	d := &Device{format: format, signal: audio.Float64ToInt16(all)}
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("wavfile: create output: %w", err)
		}
		d.out = f
		d.enc = wav.NewEncoder(f, format.SampleRate, 16, format.Channels, 1)
	}

	slog.Info("wavfile device opened",
		"dir", dir,
		"files", len(paths),
		"duration", time.Duration(len(d.signal))*time.Second/time.Duration(format.SampleRate),
		"output", outputPath,
	)
	return d, nil
}

// Format implements [audio.Device].
func (d *Device) Format() audio.Format { return d.format }

// Start implements [audio.Capture].
func (d *Device) Start() error {
	d.capturing = true
	return nil
}

// Stop implements [audio.Capture].
func (d *Device) Stop() error {
	d.capturing = false
	return nil
}

// Read implements [audio.Capture]. Replay wraps around at the end of the
// decoded material.
func (d *Device) Read(buf []int16) error {
	if !d.capturing {
		return fmt.Errorf("%w: read while capture is stopped", audio.ErrDeviceIO)
	}
	for i := range buf {
		buf[i] = d.signal[d.pos]
		d.pos++
		if d.pos == len(d.signal) {
			d.pos = 0
		}
	}
	return nil
}

// Write implements [audio.Playback].
func (d *Device) Write(pcm []int16) error {
	d.written += len(pcm)
	if d.enc == nil {
		return nil
	}
	data := make([]int, len(pcm))
	for i, v := range pcm {
		data[i] = int(v)
	}
	err := d.enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: d.format.Channels, SampleRate: d.format.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	})
	if err != nil {
		return fmt.Errorf("%w: write: %w", audio.ErrDeviceIO, err)
	}
	return nil
}

// Written returns the number of samples passed to Write so far.
func (d *Device) Written() int { return d.written }

// Close finalises the output file.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		if d.enc == nil {
			return
		}
		d.closeErr = errors.Join(d.enc.Close(), d.out.Close())
	})
	return d.closeErr
}

// Ensure Device implements audio.Device at compile time.
var _ audio.Device = (*Device)(nil)
