// Package vad defines the Engine interface for speech-likelihood backends.
//
// An Engine wraps a frame-level speech detector (e.g., Silero VAD) and turns
// one fixed-size frame of float32 PCM into a speech probability in [0, 1].
// Recurrent detectors carry hidden state and a short rolling context of past
// samples between calls; that state lives in a caller-owned [State] rather
// than in the engine, so a single engine can serve several independent streams
// and resetting a stream is an explicit, cheap operation.
//
// Supported configurations are 512 samples at 16 kHz and 256 samples at 8 kHz.
// Inference is synchronous and never retried: a failed call returns an error
// wrapping [ErrInference] and leaves the State untouched.
package vad

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidFrameSize is returned when a frame does not have exactly
	// FrameSize(sampleRate) samples.
	ErrInvalidFrameSize = errors.New("vad: invalid frame size")

	// ErrInvalidSampleRate is returned for sample rates other than 8000 and
	// 16000 Hz.
	ErrInvalidSampleRate = errors.New("vad: invalid sample rate")

	// ErrInference is returned when the underlying model fails to produce a
	// probability.
	ErrInference = errors.New("vad: inference failure")
)

// Engine is a speech-likelihood detector.
//
// Implementations must be safe for concurrent use with distinct States. A
// single State must not be shared between goroutines.
type Engine interface {
	// Infer returns the speech probability of frame. frame must contain exactly
	// FrameSize(sampleRate) mono samples in [-1, 1]. st carries the recurrent
	// state and rolling context across calls; if st was last used at a
	// different sample rate (or never), it is reset first. On success st is
	// advanced; on failure it is left as it was.
	Infer(st *State, frame []float32, sampleRate int) (float64, error)

	// Close releases all resources held by the engine. Calling Close more than
	// once is safe.
	Close() error
}

// FrameSize returns the number of samples per inference call at sampleRate,
// or 0 if the rate is not supported.
func FrameSize(sampleRate int) int {
	switch sampleRate {
	case 16000:
		return 512
	case 8000:
		return 256
	}
	return 0
}

// ContextSize returns the number of trailing samples of the previous frame
// prepended to each inference input at sampleRate, or 0 if the rate is not
// supported.
func ContextSize(sampleRate int) int {
	switch sampleRate {
	case 16000:
		return 64
	case 8000:
		return 32
	}
	return 0
}

// Validate checks that frame has the size required at sampleRate.
func Validate(frame []float32, sampleRate int) error {
	want := FrameSize(sampleRate)
	if want == 0 {
		return fmt.Errorf("%w: %d Hz (supported: 8000, 16000)", ErrInvalidSampleRate, sampleRate)
	}
	if len(frame) != want {
		return fmt.Errorf("%w: got %d samples, want %d at %d Hz", ErrInvalidFrameSize, len(frame), want, sampleRate)
	}
	return nil
}
