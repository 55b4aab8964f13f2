// Package segment implements the segmentation state machine: it reads Bits
// of captured audio, classifies each one with a speech-likelihood engine,
// tracks the most recent pure-noise Bit, accumulates consecutive non-silent
// Bits into an Utterance and hands completed Utterances to conditioning and
// playback.
//
// The machine runs on a single goroutine and owns all mutable state (engine
// hidden state, noise reference, pending utterance). Nothing in this package
// is safe for concurrent use.
package segment

import "strings"

// Classification is the set of labels assigned to one Bit. Speech and Silent
// are mutually exclusive; Noise may be combined with either.
type Classification uint8

const (
	// Speech is set when at least one sub-frame probability exceeds the
	// speech threshold.
	Speech Classification = 1 << iota

	// Silent is set when no sub-frame probability exceeds the speech
	// threshold.
	Silent

	// Noise is set when every sub-frame probability is below the noise
	// threshold.
	Noise
)

// Has reports whether c contains every label in flag.
func (c Classification) Has(flag Classification) bool {
	return c&flag == flag
}

// String returns the labels joined by "|", e.g. "silent|noise".
func (c Classification) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	if c.Has(Speech) {
		parts = append(parts, "speech")
	}
	if c.Has(Silent) {
		parts = append(parts, "silent")
	}
	if c.Has(Noise) {
		parts = append(parts, "noise")
	}
	return strings.Join(parts, "|")
}

// Classify applies the dual-threshold rule to the sub-frame probabilities of
// one Bit. An empty probability set classifies as Silent|Noise.
func Classify(probs []float64, speechThreshold, noiseThreshold float64) Classification {
	c := Silent
	noise := true
	for _, p := range probs {
		if p > speechThreshold {
			c = Speech
		}
		if p >= noiseThreshold {
			noise = false
		}
	}
	if noise {
		c |= Noise
	}
	return c
}
