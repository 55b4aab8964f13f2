// Package dsp implements the signal transforms used to condition captured
// utterances: Butterworth filtering with zero-phase application, short-time
// Fourier analysis, stationary spectral noise gating, dynamic range
// compression, phase-vocoder time stretching, pitch shifting and resampling.
//
// All functions operate on mono float64 samples nominally in [-1, 1]. None of
// the types here are safe for concurrent use; create one per goroutine.
package dsp

import (
	"errors"
	"fmt"
	"math"
)

// ErrEmptySignal is returned by transforms that cannot operate on zero samples.
var ErrEmptySignal = errors.New("dsp: empty signal")

// ErrNonFinite is returned when a transform produced NaN or infinite samples.
var ErrNonFinite = errors.New("dsp: non-finite sample")

// Peak returns the largest absolute sample value of x.
func Peak(x []float64) float64 {
	var peak float64
	for _, v := range x {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	return peak
}

// Normalize scales x in place so that its peak absolute value is 1. A signal
// whose peak is zero is left untouched, so silence stays silence.
func Normalize(x []float64) {
	peak := Peak(x)
	if peak == 0 || math.IsInf(peak, 0) || math.IsNaN(peak) {
		return
	}
	scale := 1 / peak
	for i := range x {
		x[i] *= scale
	}
}

// CheckFinite returns an error wrapping [ErrNonFinite] if any sample of x is
// NaN or infinite.
func CheckFinite(x []float64) error {
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w at index %d", ErrNonFinite, i)
		}
	}
	return nil
}

// FitLength returns x truncated or zero-padded to exactly n samples.
func FitLength(x []float64, n int) []float64 {
	if len(x) == n {
		return x
	}
	if len(x) > n {
		return x[:n]
	}
	out := make([]float64, n)
	copy(out, x)
	return out
}

// DBToAmplitude converts a decibel value to a linear amplitude ratio.
func DBToAmplitude(db float64) float64 {
	return math.Pow(10, db/20)
}

// AmplitudeToDB converts a linear amplitude ratio to decibels.
func AmplitudeToDB(a float64) float64 {
	return 20 * math.Log10(a)
}
