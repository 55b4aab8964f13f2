// Package duplex arbitrates the direction of a half-duplex audio device.
//
// The device is either listening (capture started, indicator on) or speaking
// (capture stopped, indicator off). A speaking window is opened with
// [Coordinator.Speak]; writes outside a window are refused with
// [ErrNotSpeaking] and reads inside one with [ErrNotListening], so capture
// and playback can never overlap.
package duplex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/parrot/internal/indicator"
	"github.com/MrWong99/parrot/internal/observe"
	"github.com/MrWong99/parrot/pkg/audio"
)

var (
	// ErrNotSpeaking is returned by Write outside a speaking window.
	ErrNotSpeaking = errors.New("duplex: write outside speaking window")

	// ErrNotListening is returned by Read while speaking or before Listen.
	ErrNotListening = errors.New("duplex: read while not listening")
)

// Option is a functional option for [New].
type Option func(*Coordinator)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// Coordinator owns the direction of one [audio.Device]. All methods are safe
// for concurrent use, but Speak windows are serialised.
type Coordinator struct {
	dev     audio.Device
	ind     indicator.Indicator
	metrics *observe.Metrics

	// window serialises speaking windows.
	window sync.Mutex

	mu        sync.Mutex
	listening bool
	speaking  bool
}

// New returns a Coordinator for dev and ind. Capture is not started until
// [Coordinator.Listen] is called.
func New(dev audio.Device, ind indicator.Indicator, opts ...Option) *Coordinator {
	if ind == nil {
		ind = indicator.Noop{}
	}
	c := &Coordinator{dev: dev, ind: ind}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Listen starts capture and switches the indicator on.
func (c *Coordinator) Listen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listenLocked()
}

func (c *Coordinator) listenLocked() error {
	if c.listening {
		return nil
	}
	if err := c.dev.Start(); err != nil {
		return fmt.Errorf("duplex: start capture: %w", err)
	}
	c.listening = true
	if err := c.ind.Set(true); err != nil {
		slog.Warn("duplex: indicator on failed", "err", err)
	}
	return nil
}

// Read reads captured audio. It fails with [ErrNotListening] inside a
// speaking window.
func (c *Coordinator) Read(buf []int16) error {
	c.mu.Lock()
	listening := c.listening && !c.speaking
	c.mu.Unlock()
	if !listening {
		return ErrNotListening
	}
	return c.dev.Read(buf)
}

// Speak opens a speaking window, runs fn and closes the window once fn has
// returned: capture is stopped and the indicator switched off before fn runs,
// and both are restored after. A Speak call from inside fn runs its function
// in the already open window.
//
// If capture cannot be resumed the error wraps [audio.ErrDeviceIO].
func (c *Coordinator) Speak(ctx context.Context, fn func() error) (err error) {
	c.mu.Lock()
	nested := c.speaking
	c.mu.Unlock()
	if nested {
		return fn()
	}

	c.window.Lock()
	defer c.window.Unlock()

	c.mu.Lock()
	resume := c.listening
	if err := c.ind.Set(false); err != nil {
		slog.Warn("duplex: indicator off failed", "err", err)
	}
	if c.listening {
		if err := c.dev.Stop(); err != nil {
			c.mu.Unlock()
			return fmt.Errorf("duplex: stop capture: %w", err)
		}
		c.listening = false
	}
	c.speaking = true
	c.mu.Unlock()
	c.metrics.Speaking.Add(ctx, 1)

	defer func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.speaking = false
		c.metrics.Speaking.Add(ctx, -1)
		if resume {
			if lerr := c.listenLocked(); lerr != nil {
				err = errors.Join(err, lerr)
			}
		}
	}()
	return fn()
}

// Write renders pcm. It must be called inside a speaking window.
func (c *Coordinator) Write(pcm []int16) error {
	c.mu.Lock()
	speaking := c.speaking
	c.mu.Unlock()
	if !speaking {
		return ErrNotSpeaking
	}
	return c.dev.Write(pcm)
}

// Play writes pcm inside a speaking window.
func (c *Coordinator) Play(ctx context.Context, pcm []int16) error {
	return c.Speak(ctx, func() error { return c.dev.Write(pcm) })
}

// Speaking reports whether a speaking window is open.
func (c *Coordinator) Speaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking
}

// Listening reports whether capture is running.
func (c *Coordinator) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening
}

// Close stops capture and switches the indicator off. The device itself is
// not closed.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	if c.listening {
		errs = append(errs, c.dev.Stop())
		c.listening = false
	}
	errs = append(errs, c.ind.Set(false))
	return errors.Join(errs...)
}
