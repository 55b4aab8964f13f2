package audio

import "time"

// Frame is a single block of captured audio converted to float32 samples in
// [-1, 1]. Frames are the unit of I/O with the device and are never mutated
// after being read.
type Frame struct {
	// Samples holds Format.FramesPerBuffer mono samples.
	Samples []float32

	// Timestamp marks when the frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the wall-clock length of the frame at sampleRate.
func (f Frame) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(sampleRate)
}
