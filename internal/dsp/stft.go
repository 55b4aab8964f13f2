package dsp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// STFT performs centred short-time Fourier analysis and overlap-add
// synthesis with a periodic Hann window.
type STFT struct {
	nfft   int
	hop    int
	window []float64
	fft    *fourier.FFT

	frame []float64
	coeff []complex128
}

// NewSTFT returns an analyser with window length nfft and hop length hop.
func NewSTFT(nfft, hop int) (*STFT, error) {
	if nfft < 2 || hop < 1 || hop > nfft {
		return nil, fmt.Errorf("dsp: invalid stft geometry nfft=%d hop=%d", nfft, hop)
	}
	w := make([]float64, nfft)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(nfft))
	}
	return &STFT{
		nfft:   nfft,
		hop:    hop,
		window: w,
		fft:    fourier.NewFFT(nfft),
		frame:  make([]float64, nfft),
		coeff:  make([]complex128, nfft/2+1),
	}, nil
}

// Bins returns the number of frequency bins per frame.
func (s *STFT) Bins() int { return s.nfft/2 + 1 }

// Hop returns the hop length in samples.
func (s *STFT) Hop() int { return s.hop }

// Forward returns the spectrogram of x as frames[t][bin]. The signal is
// zero-padded by nfft/2 on both sides so that frame t is centred on sample
// t*hop.
func (s *STFT) Forward(x []float64) [][]complex128 {
	half := s.nfft / 2
	padded := make([]float64, len(x)+2*half)
	copy(padded[half:], x)

	n := 1 + (len(padded)-s.nfft)/s.hop
	frames := make([][]complex128, n)
	for t := range n {
		off := t * s.hop
		for i := range s.nfft {
			s.frame[i] = padded[off+i] * s.window[i]
		}
		frames[t] = s.fft.Coefficients(nil, s.frame)
	}
	return frames
}

// Inverse synthesises a signal of the given length from frames produced by
// [STFT.Forward] (or a modification of them) using weighted overlap-add.
func (s *STFT) Inverse(frames [][]complex128, length int) []float64 {
	half := s.nfft / 2
	total := s.nfft + (len(frames)-1)*s.hop
	if len(frames) == 0 {
		total = 0
	}
	acc := make([]float64, total)
	norm := make([]float64, total)
	scale := 1 / float64(s.nfft)

	for t, f := range frames {
		copy(s.coeff, f)
		seq := s.fft.Sequence(s.frame, s.coeff)
		off := t * s.hop
		for i := range s.nfft {
			w := s.window[i]
			acc[off+i] += seq[i] * scale * w
			norm[off+i] += w * w
		}
	}
	for i := range acc {
		if norm[i] > 1e-10 {
			acc[i] /= norm[i]
		}
	}

	out := make([]float64, length)
	if total > half {
		copy(out, acc[half:])
	}
	return out
}

// Magnitude returns |c|.
func Magnitude(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}

// Phase returns the argument of c.
func Phase(c complex128) float64 {
	return math.Atan2(imag(c), real(c))
}
