package vad

// StateSize is the number of float32 values in the recurrent hidden state,
// laid out as (2, batch=1, 128).
const StateSize = 2 * 1 * 128

// State is the per-stream memory of a recurrent detector: its hidden state
// and the trailing samples of the previous frame. The zero value is ready to
// use; the first Infer call initialises it.
type State struct {
	// Hidden is the recurrent state, StateSize values.
	Hidden []float32

	// Context holds the last ContextSize(SampleRate) samples of the previous
	// input.
	Context []float32

	// SampleRate is the rate the state was built for. Zero means the state
	// has never been used.
	SampleRate int
}

// Reset zeroes the hidden state and context and binds the state to
// sampleRate. Buffers are reused when they are already the right size.
func (s *State) Reset(sampleRate int) {
	if len(s.Hidden) != StateSize {
		s.Hidden = make([]float32, StateSize)
	} else {
		clear(s.Hidden)
	}
	n := ContextSize(sampleRate)
	if len(s.Context) != n {
		s.Context = make([]float32, n)
	} else {
		clear(s.Context)
	}
	s.SampleRate = sampleRate
}

// Ready reports whether the state is bound to sampleRate. Engines call Reset
// when it is not.
func (s *State) Ready(sampleRate int) bool {
	return s.SampleRate == sampleRate && len(s.Hidden) == StateSize && len(s.Context) == ContextSize(sampleRate)
}

// Advance stores the hidden state produced by an inference over input
// (context followed by frame) and keeps the trailing context samples.
func (s *State) Advance(hidden, input []float32) {
	copy(s.Hidden, hidden)
	copy(s.Context, input[len(input)-len(s.Context):])
}
