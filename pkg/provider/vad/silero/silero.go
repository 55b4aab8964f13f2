// Package silero implements [vad.Engine] with the Silero VAD ONNX model
// running on ONNX Runtime via github.com/yalue/onnxruntime_go.
//
// One ONNX session is created per supported sample rate on first use, each
// with pre-allocated input and output tensors sized for that rate. Sessions
// run on the CPU with a single intra-op and inter-op thread.
//
// The ONNX Runtime shared library is located via [WithLibraryPath], falling
// back to the ONNXRUNTIME_SHARED_LIBRARY_PATH environment variable and then to
// the onnxruntime_go default.
package silero

import (
	"errors"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/MrWong99/parrot/pkg/provider/vad"
)

// EnvLibraryPath names the environment variable consulted for the ONNX
// Runtime shared library when no explicit path is configured.
const EnvLibraryPath = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

// Option is a functional option for [New].
type Option func(*Engine)

// WithLibraryPath sets the path of the ONNX Runtime shared library.
func WithLibraryPath(path string) Option {
	return func(e *Engine) { e.libPath = path }
}

// Engine runs Silero VAD. It implements [vad.Engine]. Infer calls are
// serialised because each session owns a single set of tensors.
type Engine struct {
	modelPath string
	libPath   string

	mu       sync.Mutex
	sessions map[int]*session
	closed   bool
}

// session bundles an ONNX session with the tensors bound to it.
type session struct {
	sess     *ort.AdvancedSession
	input    *ort.Tensor[float32]
	state    *ort.Tensor[float32]
	sr       *ort.Scalar[int64]
	output   *ort.Tensor[float32]
	stateOut *ort.Tensor[float32]
}

var initOnce sync.Once
var initErr error

// New loads the model at modelPath and initialises the ONNX Runtime
// environment if needed.
func New(modelPath string, opts ...Option) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("silero: model path is required")
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("silero: model: %w", err)
	}
	e := &Engine{
		modelPath: modelPath,
		sessions:  make(map[int]*session),
	}
	for _, o := range opts {
		o(e)
	}
	if e.libPath == "" {
		e.libPath = os.Getenv(EnvLibraryPath)
	}

	initOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		if e.libPath != "" {
			ort.SetSharedLibraryPath(e.libPath)
		}
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, fmt.Errorf("silero: initialize onnxruntime: %w", initErr)
	}
	return e, nil
}

// newSession builds the session and tensors for sampleRate.
func (e *Engine) newSession(sampleRate int) (_ *session, err error) {
	frame, ctx := vad.FrameSize(sampleRate), vad.ContextSize(sampleRate)
	s := &session{}
	defer func() {
		if err != nil {
			_ = s.destroy()
		}
	}()

	if s.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(ctx+frame))); err != nil {
		return nil, fmt.Errorf("silero: input tensor: %w", err)
	}
	if s.state, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 128)); err != nil {
		return nil, fmt.Errorf("silero: state tensor: %w", err)
	}
	if s.sr, err = ort.NewScalar(int64(sampleRate)); err != nil {
		return nil, fmt.Errorf("silero: sample rate scalar: %w", err)
	}
	if s.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1)); err != nil {
		return nil, fmt.Errorf("silero: output tensor: %w", err)
	}
	if s.stateOut, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 128)); err != nil {
		return nil, fmt.Errorf("silero: state output tensor: %w", err)
	}

	so, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("silero: session options: %w", err)
	}
	defer so.Destroy()
	if err = so.SetIntraOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("silero: intra-op threads: %w", err)
	}
	if err = so.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("silero: inter-op threads: %w", err)
	}

	s.sess, err = ort.NewAdvancedSession(e.modelPath,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		[]ort.Value{s.input, s.state, s.sr},
		[]ort.Value{s.output, s.stateOut},
		so,
	)
	if err != nil {
		return nil, fmt.Errorf("silero: create session: %w", err)
	}
	return s, nil
}

// destroy releases whatever has been allocated for the session.
func (s *session) destroy() error {
	var errs []error
	if s.sess != nil {
		errs = append(errs, s.sess.Destroy())
	}
	if s.input != nil {
		errs = append(errs, s.input.Destroy())
	}
	if s.state != nil {
		errs = append(errs, s.state.Destroy())
	}
	if s.sr != nil {
		errs = append(errs, s.sr.Destroy())
	}
	if s.output != nil {
		errs = append(errs, s.output.Destroy())
	}
	if s.stateOut != nil {
		errs = append(errs, s.stateOut.Destroy())
	}
	return errors.Join(errs...)
}

// Infer implements [vad.Engine].
func (e *Engine) Infer(st *vad.State, frame []float32, sampleRate int) (float64, error) {
	if err := vad.Validate(frame, sampleRate); err != nil {
		return 0, err
	}
	if !st.Ready(sampleRate) {
		st.Reset(sampleRate)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, fmt.Errorf("%w: engine closed", vad.ErrInference)
	}
	s, ok := e.sessions[sampleRate]
	if !ok {
		var err error
		if s, err = e.newSession(sampleRate); err != nil {
			return 0, fmt.Errorf("%w: %w", vad.ErrInference, err)
		}
		e.sessions[sampleRate] = s
	}

	in := s.input.GetData()
	n := copy(in, st.Context)
	copy(in[n:], frame)
	copy(s.state.GetData(), st.Hidden)

	if err := s.sess.Run(); err != nil {
		return 0, fmt.Errorf("%w: %w", vad.ErrInference, err)
	}
	p := float64(s.output.GetData()[0])
	if p < 0 || p > 1 || p != p {
		return 0, fmt.Errorf("%w: probability %v out of range", vad.ErrInference, p)
	}
	st.Advance(s.stateOut.GetData(), in)
	return p, nil
}

// Close implements [vad.Engine]. The ONNX Runtime environment is left
// initialised for the lifetime of the process.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	var errs []error
	for sr, s := range e.sessions {
		errs = append(errs, s.destroy())
		delete(e.sessions, sr)
	}
	return errors.Join(errs...)
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)
