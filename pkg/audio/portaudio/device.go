// Package portaudio implements [audio.Device] on top of the PortAudio
// blocking stream API.
//
// Two default-device streams are opened. The input stream is started and
// stopped to follow the half-duplex direction. The output stream runs only
// for the duration of a Write and is stopped afterwards, which blocks until
// every queued buffer has reached the speaker.
package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/parrot/pkg/audio"
)

// stream is the subset of [portaudio.Stream] the device drives.
type stream interface {
	Start() error
	Stop() error
	Read() error
	Write() error
	Close() error
}

// Device is a PortAudio backed [audio.Device]. It is not safe for concurrent
// use; the listening loop owns it.
type Device struct {
	format audio.Format

	in     stream
	out    stream
	inBuf  []int16
	outBuf []int16

	capturing bool
	playing   bool

	warnedOverflow  sync.Once
	warnedUnderflow sync.Once
	closeOnce       sync.Once
	closeErr        error
}

// Open initialises PortAudio and opens the default input and output devices
// with the given format. The capture side starts stopped.
func Open(format audio.Format) (*Device, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}

	d := &Device{
		format: format,
		inBuf:  make([]int16, format.FramesPerBuffer),
		outBuf: make([]int16, format.FramesPerBuffer),
	}

	in, err := portaudio.OpenDefaultStream(format.Channels, 0, float64(format.SampleRate), format.FramesPerBuffer, d.inBuf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: open input stream: %w", err)
	}
	out, err := portaudio.OpenDefaultStream(0, format.Channels, float64(format.SampleRate), format.FramesPerBuffer, d.outBuf)
	if err != nil {
		_ = in.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: open output stream: %w", err)
	}
	d.in, d.out = in, out

	slog.Info("portaudio device opened", "format", format.String())
	return d, nil
}

// Format implements [audio.Device].
func (d *Device) Format() audio.Format { return d.format }

// Start implements [audio.Capture].
func (d *Device) Start() error {
	if d.capturing {
		return nil
	}
	if err := d.in.Start(); err != nil {
		return fmt.Errorf("%w: start capture: %w", audio.ErrDeviceIO, err)
	}
	d.capturing = true
	return nil
}

// Stop implements [audio.Capture].
func (d *Device) Stop() error {
	if !d.capturing {
		return nil
	}
	if err := d.in.Stop(); err != nil {
		return fmt.Errorf("%w: stop capture: %w", audio.ErrDeviceIO, err)
	}
	d.capturing = false
	return nil
}

// Read implements [audio.Capture]. Input overflows are logged once and
// otherwise ignored; the block is still delivered.
func (d *Device) Read(buf []int16) error {
	if len(buf) != len(d.inBuf) {
		return fmt.Errorf("%w: read of %d samples, device block is %d", audio.ErrDeviceIO, len(buf), len(d.inBuf))
	}
	if err := d.in.Read(); err != nil {
		if !errors.Is(err, portaudio.InputOverflowed) {
			return fmt.Errorf("%w: read: %w", audio.ErrDeviceIO, err)
		}
		d.warnedOverflow.Do(func() {
			slog.Warn("portaudio: input overflowed, audio was dropped by the device")
		})
	}
	copy(buf, d.inBuf)
	return nil
}

// Write implements [audio.Playback]. pcm is written in FramesPerBuffer blocks;
// the final partial block is padded with silence. Write returns once the
// output stream has drained, so the last sample has been played when
// capture resumes.
func (d *Device) Write(pcm []int16) error {
	if len(pcm) == 0 {
		return nil
	}
	if !d.playing {
		if err := d.out.Start(); err != nil {
			return fmt.Errorf("%w: start playback: %w", audio.ErrDeviceIO, err)
		}
		d.playing = true
	}
	err := d.writeBlocks(pcm)
	if stopErr := d.drain(); stopErr != nil && err == nil {
		err = stopErr
	}
	return err
}

func (d *Device) writeBlocks(pcm []int16) error {
	for off := 0; off < len(pcm); off += len(d.outBuf) {
		n := copy(d.outBuf, pcm[off:])
		clear(d.outBuf[n:])
		if err := d.out.Write(); err != nil {
			if !errors.Is(err, portaudio.OutputUnderflowed) {
				return fmt.Errorf("%w: write: %w", audio.ErrDeviceIO, err)
			}
			d.warnedUnderflow.Do(func() {
				slog.Warn("portaudio: output underflowed")
			})
		}
	}
	return nil
}

// drain stops the output stream. Pa_StopStream returns only after all
// buffers queued on the stream have been played.
func (d *Device) drain() error {
	if !d.playing {
		return nil
	}
	d.playing = false
	if err := d.out.Stop(); err != nil {
		return fmt.Errorf("%w: drain playback: %w", audio.ErrDeviceIO, err)
	}
	return nil
}

// Close stops and closes both streams and terminates PortAudio.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		var errs []error
		if d.capturing {
			errs = append(errs, d.in.Stop())
		}
		if d.playing {
			errs = append(errs, d.out.Stop())
		}
		errs = append(errs, d.in.Close(), d.out.Close(), portaudio.Terminate())
		d.closeErr = errors.Join(errs...)
	})
	return d.closeErr
}

// Ensure Device implements audio.Device at compile time.
var _ audio.Device = (*Device)(nil)
