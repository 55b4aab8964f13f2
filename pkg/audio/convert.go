package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Int16ToFloat32 converts 16-bit PCM samples to float32 samples normalised to
// the range [-1.0, 1.0]. If dst has enough capacity it is reused.
func Int16ToFloat32(dst []float32, pcm []int16) []float32 {
	if cap(dst) < len(pcm) {
		dst = make([]float32, len(pcm))
	}
	dst = dst[:len(pcm)]
	for i, s := range pcm {
		dst[i] = float32(s) / 32768.0
	}
	return dst
}

// Float32ToInt16 converts float samples in [-1.0, 1.0] to 16-bit PCM. Values
// outside the range are clamped rather than wrapped.
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = clampInt16(float64(s) * 32767.0)
	}
	return out
}

// Float64ToInt16 is [Float32ToInt16] for float64 input.
func Float64ToInt16(samples []float64) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = clampInt16(s * 32767.0)
	}
	return out
}

func clampInt16(v float64) int16 {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// PCMBytes encodes samples as little-endian 16-bit PCM.
func PCMBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// PCMSamples decodes little-endian 16-bit PCM. A trailing odd byte is ignored.
func PCMSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// DownmixInterleaved averages interleaved multi-channel samples into mono.
// If channels is 1 the input is returned unchanged.
func DownmixInterleaved(samples []float64, channels int) []float64 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	mono := make([]float64, frames)
	for i := range frames {
		var sum float64
		for ch := range channels {
			sum += samples[i*channels+ch]
		}
		mono[i] = sum / float64(channels)
	}
	return mono
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "16000Hz mono".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
