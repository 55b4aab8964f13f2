package dsp

import (
	"fmt"
	"math"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"
)

// resamplePad is the silence, in seconds, placed on both sides of the input
// so the filter ramps in before x starts and drains after it ends.
const resamplePad = 0.1

type ratePair struct{ from, to float64 }

// offsets caches, per rate pair, the index in the padded output where input
// sample 0 lands.
var offsets sync.Map

// Resample converts mono x from rate from to rate to and returns a new slice
// of round(len(x)*to/from) samples. Equal rates return a copy. Output sample
// j is aligned with input time j/to; the resampler's group delay is removed.
func Resample(x []float64, from, to float64) ([]float64, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("dsp: resample rates must be positive, got %.1f -> %.1f", from, to)
	}
	want := int(float64(len(x))*to/from + 0.5)
	if from == to {
		out := make([]float64, len(x))
		copy(out, x)
		return out, nil
	}
	if len(x) == 0 {
		return []float64{}, nil
	}

	off, err := outputOffset(from, to)
	if err != nil {
		return nil, err
	}
	out, err := resamplePadded(x, from, to)
	if err != nil {
		return nil, err
	}

	aligned := make([]float64, want)
	if off < len(out) {
		copy(aligned, out[max(off, 0):])
	}
	return aligned, nil
}

func resamplePadded(x []float64, from, to float64) ([]float64, error) {
	r, err := resampling.New(&resampling.Config{
		InputRate:  from,
		OutputRate: to,
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("dsp: create resampler: %w", err)
	}

	pad := int(from * resamplePad)
	in := make([]float64, pad+len(x)+pad)
	copy(in[pad:], x)
	out, err := r.Process(in)
	if err != nil {
		return nil, fmt.Errorf("dsp: resample: %w", err)
	}
	rest, err := r.Flush()
	if err != nil {
		return nil, fmt.Errorf("dsp: resample flush: %w", err)
	}
	return append(out, rest...), nil
}

// outputOffset measures where a unit impulse comes out of the padded
// resampler and derives the output index of input sample 0.
func outputOffset(from, to float64) (int, error) {
	key := ratePair{from: from, to: to}
	if v, ok := offsets.Load(key); ok {
		return v.(int), nil
	}

	at := int(from * resamplePad)
	impulse := make([]float64, 2*at)
	impulse[at] = 1
	out, err := resamplePadded(impulse, from, to)
	if err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("dsp: resampler produced no output for %.1f -> %.1f", from, to)
	}
	off := int(math.Round(peakPosition(out) - float64(at)*to/from))
	offsets.Store(key, off)
	return off, nil
}

// peakPosition returns the fractional index of the largest magnitude in x,
// refined by a parabola through its neighbours.
func peakPosition(x []float64) float64 {
	best := 0
	for i, v := range x {
		if math.Abs(v) > math.Abs(x[best]) {
			best = i
		}
	}
	if best == 0 || best == len(x)-1 {
		return float64(best)
	}
	a, b, c := x[best-1], x[best], x[best+1]
	den := a - 2*b + c
	if den == 0 {
		return float64(best)
	}
	return float64(best) + 0.5*(a-c)/den
}
