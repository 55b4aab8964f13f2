package indicator_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/parrot/internal/indicator"
)

// fakeLine records every value driven onto it.
type fakeLine struct {
	values   []int
	closed   bool
	setErr   error
	closeErr error
}

func (l *fakeLine) SetValue(v int) error {
	if l.setErr != nil {
		return l.setErr
	}
	l.values = append(l.values, v)
	return nil
}

func (l *fakeLine) Close() error {
	l.closed = true
	return l.closeErr
}

// requester returns a LineRequester handing out line and recording the
// requested chip and offset.
func requester(line *fakeLine, gotChip *string, gotPin *int) indicator.LineRequester {
	return func(chip string, offset int) (indicator.Line, error) {
		*gotChip, *gotPin = chip, offset
		return line, nil
	}
}

func TestGPIO_SetDrivesLine(t *testing.T) {
	t.Parallel()

	line := &fakeLine{}
	var chip string
	var pin int
	g, err := indicator.OpenGPIO("gpiochip0", 26, indicator.WithLineRequester(requester(line, &chip, &pin)))
	if err != nil {
		t.Fatalf("OpenGPIO: %v", err)
	}
	if chip != "gpiochip0" || pin != 26 {
		t.Errorf("requested %s line %d, want gpiochip0 line 26", chip, pin)
	}

	for _, on := range []bool{true, false, true} {
		if err := g.Set(on); err != nil {
			t.Fatalf("Set(%v): %v", on, err)
		}
	}
	if err := g.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if want := []int{1, 0, 1, 0}; !slices.Equal(line.values, want) {
		t.Errorf("values = %v, want %v", line.values, want)
	}
	if !line.closed {
		t.Error("line not released on Close")
	}
	if err := g.Set(true); err == nil {
		t.Error("Set after Close should fail")
	}
	if err := g.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func TestGPIO_Errors(t *testing.T) {
	t.Parallel()

	if _, err := indicator.OpenGPIO("gpiochip0", -1); err == nil {
		t.Error("expected error for negative pin")
	}

	busy := errors.New("device or resource busy")
	line := &fakeLine{setErr: busy, closeErr: errors.New("bad fd")}
	var chip string
	var pin int
	g, err := indicator.OpenGPIO("gpiochip0", 26, indicator.WithLineRequester(requester(line, &chip, &pin)))
	if err != nil {
		t.Fatalf("OpenGPIO: %v", err)
	}
	if err := g.Set(true); !errors.Is(err, busy) {
		t.Errorf("Set error = %v, want wrapped %v", err, busy)
	}
	if err := g.Close(); !errors.Is(err, busy) {
		t.Errorf("Close error = %v, want joined %v", err, busy)
	}
	if !line.closed {
		t.Error("line not released after failed SetValue")
	}
}

func TestNew_DegradesToNoop(t *testing.T) {
	t.Parallel()

	failing := indicator.WithLineRequester(func(string, int) (indicator.Line, error) {
		return nil, errors.New("no such file or directory")
	})
	ind := indicator.New(indicator.KindGPIO, "", 26, failing)
	if _, ok := ind.(indicator.Noop); !ok {
		t.Fatalf("New(gpio) with unavailable chip = %T, want Noop", ind)
	}
	if err := ind.Set(true); err != nil {
		t.Errorf("Noop.Set = %v", err)
	}
}

func TestNew_GPIODefaultsChip(t *testing.T) {
	t.Parallel()

	line := &fakeLine{}
	var chip string
	var pin int
	ind := indicator.New(indicator.KindGPIO, "", 26, indicator.WithLineRequester(requester(line, &chip, &pin)))
	if _, ok := ind.(*indicator.GPIO); !ok {
		t.Fatalf("New(gpio) = %T, want *GPIO", ind)
	}
	if chip != indicator.DefaultChip {
		t.Errorf("chip = %q, want %q", chip, indicator.DefaultChip)
	}
}

func TestNew_Kinds(t *testing.T) {
	t.Parallel()

	if _, ok := indicator.New(indicator.KindLog, "", 0).(*indicator.Log); !ok {
		t.Error("New(log) is not *Log")
	}
	if _, ok := indicator.New("", "", 0).(indicator.Noop); !ok {
		t.Error("New(\"\") is not Noop")
	}
	if indicator.Kind("blink").IsValid() {
		t.Error("unknown kind reported valid")
	}
}

func TestLog_SetIsIdempotent(t *testing.T) {
	t.Parallel()

	var l indicator.Log
	for _, on := range []bool{true, true, false} {
		if err := l.Set(on); err != nil {
			t.Fatalf("Set(%v): %v", on, err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
