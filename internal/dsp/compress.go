package dsp

import (
	"fmt"
	"math"
)

// CompressorConfig tunes [Compressor]. The zero value is not valid; see
// [DefaultCompressor].
type CompressorConfig struct {
	// ThresholdDB is the RMS level, in dBFS, above which gain is reduced.
	ThresholdDB float64

	// Ratio is the input/output level ratio above the threshold.
	Ratio float64

	// AttackMs is the time, in milliseconds, over which the attenuation reaches
	// its target once the level exceeds the threshold. It is also the RMS
	// window length.
	AttackMs float64

	// ReleaseMs is the time, in milliseconds, over which attenuation falls
	// back to zero once the level drops below the threshold.
	ReleaseMs float64
}

// DefaultCompressor returns -30 dBFS, 6:1, 5 ms attack and 20 ms release.
func DefaultCompressor() CompressorConfig {
	return CompressorConfig{ThresholdDB: -30, Ratio: 6, AttackMs: 5, ReleaseMs: 20}
}

// Validate reports whether the settings can be used.
func (c CompressorConfig) Validate() error {
	switch {
	case c.ThresholdDB > 0:
		return fmt.Errorf("dsp: compressor threshold %.1f dBFS must not be positive", c.ThresholdDB)
	case c.Ratio < 1:
		return fmt.Errorf("dsp: compressor ratio %.2f must be at least 1", c.Ratio)
	case c.AttackMs <= 0 || c.ReleaseMs <= 0:
		return fmt.Errorf("dsp: compressor attack and release must be positive")
	}
	return nil
}

// Compress applies feed-forward dynamic range compression to x and returns
// the result. The detector is the RMS of the previous AttackMs of input;
// attenuation ramps linearly towards its target over AttackMs when rising and
// over ReleaseMs when falling. Compress never amplifies.
func Compress(x []float64, sampleRate int, cfg CompressorConfig) ([]float64, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	out := make([]float64, len(x))
	if len(x) == 0 {
		return out, nil
	}

	window := max(1, int(cfg.AttackMs*float64(sampleRate)/1000))
	attackStep := 1 / (cfg.AttackMs * float64(sampleRate) / 1000)
	releaseStep := 1 / (cfg.ReleaseMs * float64(sampleRate) / 1000)
	slope := 1 - 1/cfg.Ratio

	// attenuation in dB is tracked as a fraction of the current target so the
	// ramp times stay independent of how far over the threshold the input is.
	var (
		sumSq    float64
		atten    float64
		progress float64
	)
	for i, v := range x {
		sumSq += v * v
		if i >= window {
			old := x[i-window]
			sumSq -= old * old
		}
		n := min(i+1, window)
		rms := math.Sqrt(math.Max(sumSq, 0) / float64(n))

		var target float64
		if rms > 0 {
			if over := AmplitudeToDB(rms) - cfg.ThresholdDB; over > 0 {
				target = over * slope
			}
		}
		if target > 0 {
			progress = math.Min(1, progress+attackStep)
			atten = target * progress
		} else {
			progress = math.Max(0, progress-releaseStep)
			atten = math.Min(atten, atten*progressRatio(progress, releaseStep))
		}
		out[i] = v * DBToAmplitude(-atten)
	}
	return out, nil
}

// progressRatio returns the fraction of the previous attenuation that remains
// after one release step ending at progress p.
func progressRatio(p, step float64) float64 {
	prev := p + step
	if prev <= 0 {
		return 0
	}
	return p / prev
}
