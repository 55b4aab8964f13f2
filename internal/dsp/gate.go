package dsp

import (
	"fmt"
	"math"
)

// GateConfig tunes [SpectralGate].
type GateConfig struct {
	// NFFT is the analysis window length in samples.
	NFFT int

	// Hop is the hop length in samples. Zero means NFFT/4.
	Hop int

	// ThresholdStd is the number of standard deviations above the mean noise
	// level (in dB, per frequency bin) a bin must exceed to be kept. Zero
	// means 1.5.
	ThresholdStd float64

	// PropDecrease is the proportion by which gated bins are reduced, in
	// [0, 1]. Zero means 1 (full suppression).
	PropDecrease float64

	// FreqSmoothHz and TimeSmoothMs set the extent of the triangular mask
	// smoothing kernel. Zero means 500 Hz and 50 ms.
	FreqSmoothHz float64
	TimeSmoothMs float64
}

func (c GateConfig) withDefaults() GateConfig {
	if c.Hop <= 0 {
		c.Hop = c.NFFT / 4
	}
	if c.ThresholdStd == 0 {
		c.ThresholdStd = 1.5
	}
	if c.PropDecrease == 0 {
		c.PropDecrease = 1
	}
	if c.FreqSmoothHz == 0 {
		c.FreqSmoothHz = 500
	}
	if c.TimeSmoothMs == 0 {
		c.TimeSmoothMs = 50
	}
	return c
}

// topDB bounds the dynamic range of magnitude spectra converted to dB.
const topDB = 80

// SpectralGate performs stationary spectral noise gating. Per frequency bin
// the mean and standard deviation of the noise level in dB are estimated from
// noise; every time-frequency bin of x below mean+ThresholdStd*std is
// attenuated, using a smoothed mask to avoid musical noise. If noise is nil
// the statistics are estimated from x itself.
type SpectralGate struct {
	cfg        GateConfig
	sampleRate int
	stft       *STFT
	kernelF    []float64
	kernelT    []float64
}

// NewSpectralGate builds a gate for audio at sampleRate.
func NewSpectralGate(cfg GateConfig, sampleRate int) (*SpectralGate, error) {
	cfg = cfg.withDefaults()
	if cfg.PropDecrease < 0 || cfg.PropDecrease > 1 {
		return nil, fmt.Errorf("dsp: prop decrease %.2f outside [0, 1]", cfg.PropDecrease)
	}
	st, err := NewSTFT(cfg.NFFT, cfg.Hop)
	if err != nil {
		return nil, err
	}
	binHz := float64(sampleRate) / float64(cfg.NFFT)
	hopMs := float64(cfg.Hop) / float64(sampleRate) * 1000
	return &SpectralGate{
		cfg:        cfg,
		sampleRate: sampleRate,
		stft:       st,
		kernelF:    triangle(int(cfg.FreqSmoothHz / (2 * binHz))),
		kernelT:    triangle(int(cfg.TimeSmoothMs / hopMs)),
	}, nil
}

// triangle returns a normalised symmetric triangular kernel with n rising
// steps on each side of the centre tap.
func triangle(n int) []float64 {
	if n < 1 {
		return []float64{1}
	}
	k := make([]float64, 2*n+1)
	var sum float64
	for i := range k {
		d := i - n
		if d < 0 {
			d = -d
		}
		k[i] = float64(n+1-d) / float64(n+1)
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// Reduce returns the gated copy of x. noise may be nil.
func (g *SpectralGate) Reduce(x, noise []float64) ([]float64, error) {
	if len(x) == 0 {
		return nil, ErrEmptySignal
	}
	if noise == nil {
		noise = x
	}

	noiseDB := spectrumDB(g.stft.Forward(noise))
	bins := g.stft.Bins()
	thresh := make([]float64, bins)
	for b := range bins {
		var mean float64
		for t := range noiseDB {
			mean += noiseDB[t][b]
		}
		mean /= float64(len(noiseDB))
		var variance float64
		for t := range noiseDB {
			d := noiseDB[t][b] - mean
			variance += d * d
		}
		variance /= float64(len(noiseDB))
		thresh[b] = mean + g.cfg.ThresholdStd*math.Sqrt(variance)
	}

	spec := g.stft.Forward(x)
	sigDB := spectrumDB(spec)
	mask := make([][]float64, len(spec))
	keep := 1 - g.cfg.PropDecrease
	for t := range spec {
		mask[t] = make([]float64, bins)
		for b := range bins {
			if sigDB[t][b] > thresh[b] {
				mask[t][b] = 1
			} else {
				mask[t][b] = keep
			}
		}
	}
	mask = smooth2D(mask, g.kernelT, g.kernelF)

	for t := range spec {
		for b := range bins {
			spec[t][b] *= complex(mask[t][b], 0)
		}
	}
	out := g.stft.Inverse(spec, len(x))
	if err := CheckFinite(out); err != nil {
		return nil, err
	}
	return out, nil
}

// spectrumDB converts a spectrogram to dB, clamped to topDB below its peak.
func spectrumDB(spec [][]complex128) [][]float64 {
	const eps = 1e-10
	out := make([][]float64, len(spec))
	peak := math.Inf(-1)
	for t, f := range spec {
		out[t] = make([]float64, len(f))
		for b, c := range f {
			db := AmplitudeToDB(math.Max(Magnitude(c), eps))
			out[t][b] = db
			peak = math.Max(peak, db)
		}
	}
	floor := peak - topDB
	for t := range out {
		for b := range out[t] {
			out[t][b] = math.Max(out[t][b], floor)
		}
	}
	return out
}

// smooth2D convolves m with the separable kernel kt (time) ⊗ kf (frequency)
// and returns a same-sized result. Samples outside m are treated as zero.
func smooth2D(m [][]float64, kt, kf []float64) [][]float64 {
	if len(m) == 0 {
		return m
	}
	nt, nb := len(m), len(m[0])
	ht, hf := len(kt)/2, len(kf)/2

	tmp := make([][]float64, nt)
	for t := range nt {
		tmp[t] = make([]float64, nb)
		for b := range nb {
			var acc float64
			for k, w := range kf {
				j := b + k - hf
				if j >= 0 && j < nb {
					acc += w * m[t][j]
				}
			}
			tmp[t][b] = acc
		}
	}
	out := make([][]float64, nt)
	for t := range nt {
		out[t] = make([]float64, nb)
		for k, w := range kt {
			j := t + k - ht
			if j < 0 || j >= nt {
				continue
			}
			for b := range nb {
				out[t][b] += w * tmp[j][b]
			}
		}
	}
	return out
}
