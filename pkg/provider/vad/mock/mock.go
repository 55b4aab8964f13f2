// Package mock provides a test double for the vad.Engine interface.
//
// Engine answers each Infer call from ProbabilityFunc (or Probability when it
// is nil), records every call, and maintains the caller's vad.State exactly
// like a real engine would: the state is reset on first use or sample-rate
// change and its context advanced after every successful call.
//
// Example:
//
//	eng := &mock.Engine{
//	    ProbabilityFunc: mock.EnergyProbability(0.01, 0.9, 0.05),
//	}
package mock

import (
	"math"
	"sync"

	"github.com/MrWong99/parrot/pkg/provider/vad"
)

// InferCall records a single invocation of Engine.Infer.
type InferCall struct {
	// Frame is a copy of the samples passed to Infer.
	Frame []float32

	// SampleRate is the rate passed to Infer.
	SampleRate int

	// Reset reports whether the state was reset before this call.
	Reset bool
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Probability is returned by Infer when ProbabilityFunc is nil.
	Probability float64

	// ProbabilityFunc, if set, computes the probability for each frame. call
	// is the zero-based index of the Infer call.
	ProbabilityFunc func(call int, frame []float32) float64

	// InferErr, if non-nil, is returned by every Infer call after validation.
	InferErr error

	// InferErrFunc, if set, decides per call whether to fail. It takes
	// precedence over InferErr.
	InferErrFunc func(call int) error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// InferCalls records every call to Infer that passed validation, in order.
	InferCalls []InferCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Infer validates the frame, records the call and returns the scripted
// probability or error.
func (e *Engine) Infer(st *vad.State, frame []float32, sampleRate int) (float64, error) {
	if err := vad.Validate(frame, sampleRate); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	reset := !st.Ready(sampleRate)
	if reset {
		st.Reset(sampleRate)
	}
	call := len(e.InferCalls)
	cp := make([]float32, len(frame))
	copy(cp, frame)
	e.InferCalls = append(e.InferCalls, InferCall{Frame: cp, SampleRate: sampleRate, Reset: reset})

	err := e.InferErr
	if e.InferErrFunc != nil {
		err = e.InferErrFunc(call)
	}
	if err != nil {
		return 0, err
	}

	p := e.Probability
	if e.ProbabilityFunc != nil {
		p = e.ProbabilityFunc(call, frame)
	}
	input := append(append([]float32(nil), st.Context...), frame...)
	st.Advance(st.Hidden, input)
	return p, nil
}

// Close records the call and returns CloseErr.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CloseCallCount++
	return e.CloseErr
}

// CallCount returns the number of recorded Infer calls. Thread-safe.
func (e *Engine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.InferCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.InferCalls = nil
	e.CloseCallCount = 0
}

// EnergyProbability returns a ProbabilityFunc that reports speech for frames
// whose RMS exceeds threshold and silence otherwise.
func EnergyProbability(threshold, speech, silence float64) func(int, []float32) float64 {
	return func(_ int, frame []float32) float64 {
		var sum float64
		for _, v := range frame {
			sum += float64(v) * float64(v)
		}
		if math.Sqrt(sum/float64(len(frame))) > threshold {
			return speech
		}
		return silence
	}
}

// Sequence returns a ProbabilityFunc that replays probs in order and then
// repeats the last value.
func Sequence(probs ...float64) func(int, []float32) float64 {
	return func(call int, _ []float32) float64 {
		if len(probs) == 0 {
			return 0
		}
		return probs[min(call, len(probs)-1)]
	}
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)
