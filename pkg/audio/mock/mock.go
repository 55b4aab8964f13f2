// Package mock provides an in-memory implementation of [audio.Device] for use
// in unit tests.
//
// The Device plays back a scripted capture signal, records every call in an
// ordered event log and advances a fake [Clock] by the duration of each block
// it "captures", so that time-based behaviour (idle timers) can be tested
// deterministically without sleeping.
//
// Typical usage:
//
//	clock := mock.NewClock(time.Unix(0, 0))
//	dev := &mock.Device{
//	    DeviceFormat: audio.Format{SampleRate: 16000, Channels: 1, FramesPerBuffer: 512},
//	    Signal:       samples,
//	    Clock:        clock,
//	}
//	_ = dev.Start()
//	_ = dev.Read(buf)
package mock

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/parrot/pkg/audio"
)

// ─── Clock ────────────────────────────────────────────────────────────────────

// Clock is a manually advanced time source. It is safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock starting at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ─── Device ───────────────────────────────────────────────────────────────────

// EventKind classifies a recorded device call.
type EventKind int

const (
	EventStart EventKind = iota
	EventStop
	EventRead
	EventWrite
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventStop:
		return "stop"
	case EventRead:
		return "read"
	case EventWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Event is a single recorded device call.
type Event struct {
	Kind EventKind

	// Samples is the number of samples read or written.
	Samples int

	// At is the fake clock time when the call was made (zero without a Clock).
	At time.Time
}

// ErrNotCapturing is returned by Read when the capture side is stopped. A real
// device would block forever in that situation.
var ErrNotCapturing = errors.New("mock: read while capture is stopped")

// Device is a mock implementation of [audio.Device].
// Set the exported fields before use; inspect Events and Written after.
type Device struct {
	mu sync.Mutex

	// DeviceFormat is returned by Format.
	DeviceFormat audio.Format

	// Signal is the capture signal. Reads consume it sequentially; once it is
	// exhausted reads return silence, or loop when Loop is true.
	Signal []int16

	// Loop restarts Signal from the beginning once exhausted.
	Loop bool

	// Clock, if non-nil, is advanced by the duration of every block read.
	Clock *Clock

	// ReadErr, if non-nil, is returned (wrapped in audio.ErrDeviceIO) by Read.
	ReadErr error

	// WriteErr, if non-nil, is returned (wrapped in audio.ErrDeviceIO) by Write.
	WriteErr error

	// --- Call records ---

	// Events records every Start, Stop, Read and Write in order.
	Events []Event

	// Written holds a copy of every buffer passed to Write.
	Written [][]int16

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	capturing bool
	pos       int
}

// Format implements [audio.Device].
func (d *Device) Format() audio.Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.DeviceFormat
}

// Start implements [audio.Capture].
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(EventStart, 0)
	d.capturing = true
	return nil
}

// Stop implements [audio.Capture].
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(EventStop, 0)
	d.capturing = false
	return nil
}

// Read implements [audio.Capture]. It fills buf from Signal.
func (d *Device) Read(buf []int16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ReadErr != nil {
		return fmt.Errorf("%w: %w", audio.ErrDeviceIO, d.ReadErr)
	}
	if !d.capturing {
		return fmt.Errorf("%w: %w", audio.ErrDeviceIO, ErrNotCapturing)
	}
	for i := range buf {
		if d.pos >= len(d.Signal) && d.Loop && len(d.Signal) > 0 {
			d.pos = 0
		}
		if d.pos < len(d.Signal) {
			buf[i] = d.Signal[d.pos]
			d.pos++
		} else {
			buf[i] = 0
		}
	}
	d.record(EventRead, len(buf))
	if d.Clock != nil && d.DeviceFormat.SampleRate > 0 {
		d.Clock.Advance(time.Duration(len(buf)) * time.Second / time.Duration(d.DeviceFormat.SampleRate))
	}
	return nil
}

// Write implements [audio.Playback]. The buffer is copied into Written.
func (d *Device) Write(pcm []int16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.WriteErr != nil {
		return fmt.Errorf("%w: %w", audio.ErrDeviceIO, d.WriteErr)
	}
	cp := make([]int16, len(pcm))
	copy(cp, pcm)
	d.Written = append(d.Written, cp)
	d.record(EventWrite, len(pcm))
	return nil
}

// Close implements [audio.Device].
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CloseCallCount++
	return nil
}

// Capturing reports whether the capture side is currently started.
func (d *Device) Capturing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.capturing
}

// Snapshot returns a copy of the recorded events. Thread-safe.
func (d *Device) Snapshot() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Event, len(d.Events))
	copy(out, d.Events)
	return out
}

// WriteCount returns the number of Write calls. Thread-safe.
func (d *Device) WriteCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Written)
}

// record appends an event. Must be called with d.mu held.
func (d *Device) record(kind EventKind, n int) {
	var at time.Time
	if d.Clock != nil {
		at = d.Clock.Now()
	}
	d.Events = append(d.Events, Event{Kind: kind, Samples: n, At: at})
}

// Ensure Device implements audio.Device at compile time.
var _ audio.Device = (*Device)(nil)
