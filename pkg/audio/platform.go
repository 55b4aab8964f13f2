// Package audio defines the interfaces and types for the sound device that
// parrot listens and speaks through.
//
// The device is strictly half-duplex from the application's point of view:
//
//   - [Capture]: the microphone side. It is started and stopped explicitly
//     and delivers fixed-size blocks of mono int16 PCM on demand.
//   - [Playback]: the speaker side. Writes block until the audio has been
//     handed to the hardware.
//
// Implementations live in adapter packages (audio/portaudio, audio/wavfile)
// and an in-memory double lives in audio/mock. The format is negotiated once
// at construction and is never renegotiated while running.
//
// This package lives under pkg/ because external code (other device
// backends) is expected to implement [Device].
package audio

import (
	"errors"
	"fmt"
	"time"
)

// ErrDeviceIO marks a failure reading from or writing to the sound device.
// Device I/O errors are fatal to the listening loop: audio timing cannot be
// caught up, so callers never retry.
var ErrDeviceIO = errors.New("audio: device i/o error")

// Format describes the fixed PCM layout of a device.
type Format struct {
	// SampleRate in Hz (e.g. 16000).
	SampleRate int

	// Channels is the channel count. parrot only processes mono audio.
	Channels int

	// FramesPerBuffer is the number of samples delivered by a single
	// [Capture.Read] call. One such block is a Frame.
	FramesPerBuffer int
}

// FrameDuration returns the wall-clock duration of one Frame.
func (f Format) FrameDuration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.FramesPerBuffer) * time.Second / time.Duration(f.SampleRate)
}

// Validate reports whether f describes a usable mono device format.
func (f Format) Validate() error {
	var errs []error
	if f.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio: sample rate %d must be positive", f.SampleRate))
	}
	if f.Channels != 1 {
		errs = append(errs, fmt.Errorf("audio: %d channels requested, only mono is supported", f.Channels))
	}
	if f.FramesPerBuffer <= 0 {
		errs = append(errs, fmt.Errorf("audio: frames per buffer %d must be positive", f.FramesPerBuffer))
	}
	return errors.Join(errs...)
}

// String returns a human-readable description such as "16000Hz mono/512".
func (f Format) String() string {
	return fmt.Sprintf("%s/%d", formatString(f.SampleRate, f.Channels), f.FramesPerBuffer)
}

// Capture is the microphone side of a [Device].
type Capture interface {
	// Start begins capturing. Starting an already started capture is a no-op.
	Start() error

	// Stop pauses capturing. Audio arriving while stopped is discarded by the
	// device. Stopping an already stopped capture is a no-op.
	Stop() error

	// Read blocks until len(buf) samples have been captured and copies them
	// into buf. len(buf) must equal Format().FramesPerBuffer. Failures wrap
	// [ErrDeviceIO].
	Read(buf []int16) error
}

// Playback is the speaker side of a [Device].
type Playback interface {
	// Write blocks until pcm has been fully handed to the output. Failures
	// wrap [ErrDeviceIO].
	Write(pcm []int16) error
}

// Device is a half-duplex mono sound device.
//
// Implementations need not be safe for concurrent use: the listening loop
// owns the device exclusively.
type Device interface {
	Capture
	Playback

	// Format returns the negotiated PCM format.
	Format() Format

	// Close releases the device. Calling Close more than once is safe.
	Close() error
}
