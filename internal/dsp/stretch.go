package dsp

import (
	"fmt"
	"math"
	"math/cmplx"
)

// Phase vocoder geometry used by [TimeStretch] and [PitchShift].
const (
	VocoderNFFT = 2048
	VocoderHop  = 512
)

// TimeStretch changes the duration of x by 1/rate without changing its
// pitch, using a phase vocoder. rate > 1 speeds up, rate < 1 slows down.
// A rate of exactly 1 returns a copy.
func TimeStretch(x []float64, rate float64) ([]float64, error) {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return nil, fmt.Errorf("dsp: stretch rate %v must be positive", rate)
	}
	if len(x) == 0 {
		return nil, ErrEmptySignal
	}
	if rate == 1 {
		out := make([]float64, len(x))
		copy(out, x)
		return out, nil
	}

	st, err := NewSTFT(VocoderNFFT, VocoderHop)
	if err != nil {
		return nil, err
	}
	spec := st.Forward(x)
	stretched := vocode(spec, rate, st.Bins(), st.Hop())
	length := int(math.Round(float64(len(x)) / rate))
	out := st.Inverse(stretched, length)
	if err := CheckFinite(out); err != nil {
		return nil, err
	}
	return out, nil
}

// vocode resamples the spectrogram in time by rate, interpolating magnitudes
// between neighbouring frames and accumulating phase from the measured
// instantaneous frequency of each bin.
func vocode(spec [][]complex128, rate float64, bins, hop int) [][]complex128 {
	n := len(spec)
	advance := make([]float64, bins)
	for k := range bins {
		advance[k] = math.Pi * float64(hop) * float64(k) / float64(bins-1)
	}

	zero := make([]complex128, bins)
	frame := func(i int) []complex128 {
		if i < n {
			return spec[i]
		}
		return zero
	}

	acc := make([]float64, bins)
	for k := range bins {
		acc[k] = Phase(spec[0][k])
	}

	var out [][]complex128
	for step := 0.0; step < float64(n); step += rate {
		i := int(step)
		alpha := step - float64(i)
		c0, c1 := frame(i), frame(i+1)

		f := make([]complex128, bins)
		for k := range bins {
			mag := (1-alpha)*Magnitude(c0[k]) + alpha*Magnitude(c1[k])
			f[k] = cmplx.Rect(mag, acc[k])

			d := Phase(c1[k]) - Phase(c0[k]) - advance[k]
			d -= 2 * math.Pi * math.Round(d/(2*math.Pi))
			acc[k] += advance[k] + d
		}
		out = append(out, f)
	}
	return out
}

// PitchShift raises x by semitones (negative lowers) while preserving its
// duration: the signal is time-stretched by 2^(-semitones/12) and then
// resampled back to its original length at sampleRate.
func PitchShift(x []float64, sampleRate int, semitones float64) ([]float64, error) {
	if len(x) == 0 {
		return nil, ErrEmptySignal
	}
	if semitones == 0 {
		out := make([]float64, len(x))
		copy(out, x)
		return out, nil
	}
	rate := math.Pow(2, -semitones/12)
	stretched, err := TimeStretch(x, rate)
	if err != nil {
		return nil, fmt.Errorf("dsp: pitch shift: %w", err)
	}
	sr := float64(sampleRate)
	shifted, err := Resample(stretched, sr/rate, sr)
	if err != nil {
		return nil, fmt.Errorf("dsp: pitch shift: %w", err)
	}
	return FitLength(shifted, len(x)), nil
}
