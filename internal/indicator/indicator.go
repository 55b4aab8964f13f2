// Package indicator drives the two-state status light that shows whether the
// device is listening (on) or speaking (off).
//
// Three implementations exist: [Noop] for headless runs, [Log] which logs
// state changes, and [GPIO] which toggles a line on a GPIO character device.
// [New] picks one by name and degrades to Noop when the hardware is
// unavailable.
package indicator

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// Indicator is a two-state actuator.
type Indicator interface {
	// Set switches the indicator on or off.
	Set(on bool) error

	// Close switches the indicator off and releases the hardware.
	Close() error
}

// Kind names an Indicator implementation.
type Kind string

const (
	KindNone Kind = "none"
	KindLog  Kind = "log"
	KindGPIO Kind = "gpio"
)

// IsValid reports whether k is a known indicator kind. The empty kind is
// treated as [KindNone].
func (k Kind) IsValid() bool {
	switch k {
	case "", KindNone, KindLog, KindGPIO:
		return true
	}
	return false
}

// Noop ignores every call.
type Noop struct{}

// Set implements [Indicator].
func (Noop) Set(bool) error { return nil }

// Close implements [Indicator].
func (Noop) Close() error { return nil }

// Log reports state changes through slog.
type Log struct {
	mu    sync.Mutex
	on    bool
	known bool
}

// Set implements [Indicator]. Repeated calls with the same state are not
// logged.
func (l *Log) Set(on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.known && l.on == on {
		return nil
	}
	l.on, l.known = on, true
	slog.Info("indicator", "on", on)
	return nil
}

// Close implements [Indicator].
func (l *Log) Close() error { return l.Set(false) }

// DefaultChip is the GPIO character device that carries the header pins on
// a Raspberry Pi.
const DefaultChip = "gpiochip0"

// Line is a requested GPIO output line.
type Line interface {
	SetValue(value int) error
	Close() error
}

// LineRequester requests offset on chip as an output driven low.
type LineRequester func(chip string, offset int) (Line, error)

func requestLine(chip string, offset int) (Line, error) {
	l, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(0), gpiocdev.WithConsumer("parrot"))
	if err != nil {
		return nil, err
	}
	return l, nil
}

// GPIOOption configures [OpenGPIO].
type GPIOOption func(*gpioOptions)

type gpioOptions struct {
	request LineRequester
}

// WithLineRequester replaces the GPIO character device request, for tests
// and boards that need a custom line setup.
func WithLineRequester(r LineRequester) GPIOOption {
	return func(o *gpioOptions) { o.request = r }
}

// GPIO drives a single output line through the Linux GPIO character device.
type GPIO struct {
	chip string
	pin  int

	mu   sync.Mutex
	line Line
}

// OpenGPIO requests line pin on chip (normally [DefaultChip]) as an output
// that starts off.
func OpenGPIO(chip string, pin int, opts ...GPIOOption) (*GPIO, error) {
	if pin < 0 {
		return nil, fmt.Errorf("indicator: invalid gpio pin %d", pin)
	}
	o := gpioOptions{request: requestLine}
	for _, opt := range opts {
		opt(&o)
	}
	l, err := o.request(chip, pin)
	if err != nil {
		return nil, fmt.Errorf("indicator: request %s line %d: %w", chip, pin, err)
	}
	return &GPIO{chip: chip, pin: pin, line: l}, nil
}

// Set implements [Indicator].
func (g *GPIO) Set(on bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.line == nil {
		return fmt.Errorf("indicator: gpio %d closed", g.pin)
	}
	v := 0
	if on {
		v = 1
	}
	if err := g.line.SetValue(v); err != nil {
		return fmt.Errorf("indicator: gpio %d set: %w", g.pin, err)
	}
	return nil
}

// Close implements [Indicator]. The line is driven low before it is
// released.
func (g *GPIO) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.line == nil {
		return nil
	}
	err := errors.Join(g.line.SetValue(0), g.line.Close())
	g.line = nil
	if err != nil {
		return fmt.Errorf("indicator: gpio %d close: %w", g.pin, err)
	}
	return nil
}

// New returns the indicator for kind. A GPIO indicator that cannot be opened
// is replaced by [Noop] with a warning.
func New(kind Kind, chip string, pin int, opts ...GPIOOption) Indicator {
	switch kind {
	case KindLog:
		return &Log{}
	case KindGPIO:
		if chip == "" {
			chip = DefaultChip
		}
		g, err := OpenGPIO(chip, pin, opts...)
		if err != nil {
			slog.Warn("indicator: gpio unavailable, continuing without status light", "chip", chip, "pin", pin, "err", err)
			return Noop{}
		}
		return g
	default:
		return Noop{}
	}
}

// Compile-time interface assertions.
var (
	_ Indicator = Noop{}
	_ Indicator = (*Log)(nil)
	_ Indicator = (*GPIO)(nil)
)
