package dsp

import (
	"fmt"
	"math"
)

// Biquad is a second-order IIR section with a0 normalised to 1. First-order
// sections set B2 and A2 to zero.
type Biquad struct {
	B0, B1, B2 float64
	A1, A2     float64
}

// dcGain returns the section's gain at 0 Hz.
func (q Biquad) dcGain() float64 {
	return (q.B0 + q.B1 + q.B2) / (1 + q.A1 + q.A2)
}

// steadyState returns the transposed direct form II state that the section
// settles into for a constant unit input.
func (q Biquad) steadyState() (z1, z2 float64) {
	y := q.dcGain()
	z2 = q.B2 - q.A2*y
	z1 = q.B1 - q.A1*y + z2
	return z1, z2
}

// Filter is a cascade of second-order sections.
type Filter []Biquad

// FilterKind selects the Butterworth response.
type FilterKind string

const (
	HighPass FilterKind = "highpass"
	LowPass  FilterKind = "lowpass"
	BandPass FilterKind = "bandpass"
)

// IsValid reports whether k is a recognised filter kind.
func (k FilterKind) IsValid() bool {
	switch k {
	case HighPass, LowPass, BandPass:
		return true
	}
	return false
}

// Butterworth designs a digital Butterworth filter of the given order.
// For [HighPass] only low is used, for [LowPass] only high; [BandPass] is a
// high-pass at low cascaded with a low-pass at high, each of the given order.
func Butterworth(kind FilterKind, order int, low, high float64, sampleRate int) (Filter, error) {
	switch kind {
	case HighPass:
		return butterworth(false, order, low, sampleRate)
	case LowPass:
		return butterworth(true, order, high, sampleRate)
	case BandPass:
		if low >= high {
			return nil, fmt.Errorf("dsp: band-pass low cutoff %.1f Hz must be below high cutoff %.1f Hz", low, high)
		}
		hp, err := butterworth(false, order, low, sampleRate)
		if err != nil {
			return nil, err
		}
		lp, err := butterworth(true, order, high, sampleRate)
		if err != nil {
			return nil, err
		}
		return append(hp, lp...), nil
	default:
		return nil, fmt.Errorf("dsp: unknown filter kind %q", kind)
	}
}

// butterworth builds the low- or high-pass cascade. The analog prototype
// poles are grouped into conjugate pairs, each realised as a bilinear
// transformed biquad pre-warped at the cutoff; odd orders add one first-order
// section for the real pole.
func butterworth(lowpass bool, order int, cutoff float64, sampleRate int) (Filter, error) {
	if order < 1 {
		return nil, fmt.Errorf("dsp: filter order %d must be at least 1", order)
	}
	nyquist := float64(sampleRate) / 2
	if cutoff <= 0 || cutoff >= nyquist {
		return nil, fmt.Errorf("dsp: cutoff %.1f Hz outside (0, %.1f) Hz", cutoff, nyquist)
	}

	w0 := 2 * math.Pi * cutoff / float64(sampleRate)
	cosw, sinw := math.Cos(w0), math.Sin(w0)

	f := make(Filter, 0, (order+1)/2)
	for k := range order / 2 {
		q := 1 / (2 * math.Sin(math.Pi*float64(2*k+1)/float64(2*order)))
		alpha := sinw / (2 * q)
		a0 := 1 + alpha
		var s Biquad
		if lowpass {
			s.B0 = (1 - cosw) / 2 / a0
			s.B1 = (1 - cosw) / a0
			s.B2 = s.B0
		} else {
			s.B0 = (1 + cosw) / 2 / a0
			s.B1 = -(1 + cosw) / a0
			s.B2 = s.B0
		}
		s.A1 = -2 * cosw / a0
		s.A2 = (1 - alpha) / a0
		f = append(f, s)
	}
	if order%2 == 1 {
		k := math.Tan(w0 / 2)
		s := Biquad{A1: (k - 1) / (k + 1)}
		if lowpass {
			s.B0 = k / (k + 1)
			s.B1 = s.B0
		} else {
			s.B0 = 1 / (k + 1)
			s.B1 = -s.B0
		}
		f = append(f, s)
	}
	return f, nil
}

// Apply runs x through the cascade once with zero initial state and returns
// the filtered copy.
func (f Filter) Apply(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	for _, s := range f {
		s.run(out, 0, 0)
	}
	return out
}

// run filters x in place with the given initial state.
func (q Biquad) run(x []float64, z1, z2 float64) {
	for i, in := range x {
		y := q.B0*in + z1
		z1 = q.B1*in - q.A1*y + z2
		z2 = q.B2*in - q.A2*y
		x[i] = y
	}
}

// runSteady filters x in place starting from the steady state for a constant
// input equal to x[0].
func (f Filter) runSteady(x []float64) {
	if len(x) == 0 {
		return
	}
	for _, s := range f {
		u := x[0]
		z1, z2 := s.steadyState()
		s.run(x, z1*u, z2*u)
	}
}

// PadLen returns the edge extension used by [Filter.FiltFilt].
func (f Filter) PadLen() int {
	return 3 * (2*len(f) + 1)
}

// FiltFilt applies the cascade forward and then backward, cancelling the
// phase response. The signal is extended at both ends by odd reflection and
// each pass starts from steady-state initial conditions, which suppresses
// edge transients.
func (f Filter) FiltFilt(x []float64) []float64 {
	n := len(x)
	if n == 0 {
		return nil
	}
	pad := min(f.PadLen(), n-1)

	ext := make([]float64, n+2*pad)
	for i := range pad {
		ext[i] = 2*x[0] - x[pad-i]
		ext[n+pad+i] = 2*x[n-1] - x[n-2-i]
	}
	copy(ext[pad:], x)

	f.runSteady(ext)
	reverse(ext)
	f.runSteady(ext)
	reverse(ext)

	out := make([]float64, n)
	copy(out, ext[pad:pad+n])
	return out
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
