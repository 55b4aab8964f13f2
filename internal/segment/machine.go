package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/MrWong99/parrot/internal/observe"
	"github.com/MrWong99/parrot/pkg/audio"
	"github.com/MrWong99/parrot/pkg/provider/vad"
)

// State is the position of the [Machine] in its cycle.
type State int

const (
	// Listening waits for the next Bit.
	Listening State = iota

	// Accumulating has at least one non-silent Bit pending.
	Accumulating

	// UtteranceComplete conditions and plays back the pending Utterance.
	UtteranceComplete

	// IdleCheck evaluates the idle timer after a silent Bit.
	IdleCheck
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Listening:
		return "listening"
	case Accumulating:
		return "accumulating"
	case UtteranceComplete:
		return "utterance_complete"
	case IdleCheck:
		return "idle_check"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrTooManyFailures is returned by [Machine.Run] when more consecutive Bits
// than allowed failed classification.
var ErrTooManyFailures = errors.New("segment: too many consecutive inference failures")

// Duplex is the device side of the machine: captured audio is read from it
// and playback happens inside a speaking window opened with Speak.
type Duplex interface {
	// Read fills buf with captured samples, blocking until they are available.
	Read(buf []int16) error

	// Speak suspends capture, runs fn and resumes capture once fn returns.
	Speak(ctx context.Context, fn func() error) error

	// Write renders pcm. Only valid inside a speaking window.
	Write(pcm []int16) error
}

// Conditioner transforms a completed Utterance into playable PCM. noise is
// the current noise reference, or nil when none has been observed.
type Conditioner interface {
	Condition(ctx context.Context, utterance, noise []float32) ([]int16, error)
}

// Scheduler decides on clip playback around utterances and idle periods.
type Scheduler interface {
	// ResetIdle restarts the idle timer.
	ResetIdle()

	// CheckIdle runs the idle-chatter path if the idle timer has reached its
	// bound.
	CheckIdle(ctx context.Context) error

	// AfterUtterance runs the reactive-clip path after an utterance was
	// played back.
	AfterUtterance(ctx context.Context) error
}

// Config holds the tunables of a [Machine].
type Config struct {
	// Format is the capture format. Bits are built from Format.FramesPerBuffer
	// blocks.
	Format audio.Format

	// BitDuration is the nominal length of one Bit. The actual length is
	// rounded to a whole number of device blocks.
	BitDuration time.Duration

	// MaxUtterance caps the length of an Utterance; reaching it forces
	// completion.
	MaxUtterance time.Duration

	// SpeechThreshold and NoiseThreshold are the dual classification
	// thresholds.
	SpeechThreshold float64
	NoiseThreshold  float64

	// MaxConsecutiveFailures is the number of consecutive Bits that may fail
	// classification before Run gives up. Zero disables the limit.
	MaxConsecutiveFailures int
}

// Option is a functional option for [New].
type Option func(*Machine)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(mc *Machine) { mc.metrics = m }
}

// WithCycleHook sets a function called after every completed Bit-cycle.
func WithCycleHook(fn func()) Option {
	return func(mc *Machine) { mc.onCycle = fn }
}

// Machine is the segmentation state machine.
type Machine struct {
	cfg   Config
	dev   Duplex
	eng   vad.Engine
	cond  Conditioner
	sched Scheduler

	metrics *observe.Metrics
	onCycle func()

	framesPerBit int
	bitSamples   int
	vadFrame     int
	maxBits      int

	state    State
	vadState vad.State
	noise    NoiseTracker
	block    []int16
	bitPCM   []int16
	probs    []float64
	pending  []float32
	bits     int
	failures int
}

// New validates cfg and builds a Machine. The number of samples per Bit must
// be a whole multiple of the engine frame size for the configured sample rate.
func New(cfg Config, dev Duplex, eng vad.Engine, cond Conditioner, sched Scheduler, opts ...Option) (*Machine, error) {
	if err := cfg.Format.Validate(); err != nil {
		return nil, fmt.Errorf("segment: %w", err)
	}
	rate := cfg.Format.SampleRate
	vadFrame := vad.FrameSize(rate)
	if vadFrame == 0 {
		return nil, fmt.Errorf("segment: %w: %d Hz", vad.ErrInvalidSampleRate, rate)
	}
	if cfg.BitDuration <= 0 {
		return nil, fmt.Errorf("segment: bit duration %v must be positive", cfg.BitDuration)
	}
	if cfg.MaxUtterance < cfg.BitDuration {
		return nil, fmt.Errorf("segment: max utterance %v shorter than one bit (%v)", cfg.MaxUtterance, cfg.BitDuration)
	}
	if cfg.NoiseThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("segment: noise threshold %.2f above speech threshold %.2f", cfg.NoiseThreshold, cfg.SpeechThreshold)
	}

	frames := int(math.Round(cfg.BitDuration.Seconds() / cfg.Format.FrameDuration().Seconds()))
	frames = max(frames, 1)
	bitSamples := frames * cfg.Format.FramesPerBuffer
	if bitSamples%vadFrame != 0 {
		return nil, fmt.Errorf("segment: %w: bit of %d samples is not a multiple of %d", vad.ErrInvalidFrameSize, bitSamples, vadFrame)
	}

	m := &Machine{
		cfg:          cfg,
		dev:          dev,
		eng:          eng,
		cond:         cond,
		sched:        sched,
		framesPerBit: frames,
		bitSamples:   bitSamples,
		vadFrame:     vadFrame,
		maxBits:      max(1, int(cfg.MaxUtterance/cfg.BitDuration)),
		block:        make([]int16, cfg.Format.FramesPerBuffer),
		bitPCM:       make([]int16, bitSamples),
		probs:        make([]float64, 0, bitSamples/vadFrame),
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	m.vadState.Reset(rate)
	return m, nil
}

// BitSamples returns the number of samples in one Bit.
func (m *Machine) BitSamples() int { return m.bitSamples }

// BitLength returns the audio duration of one Bit.
func (m *Machine) BitLength() time.Duration {
	return time.Duration(m.bitSamples) * time.Second / time.Duration(m.cfg.Format.SampleRate)
}

// MaxBits returns the Utterance length cap in Bits.
func (m *Machine) MaxBits() int { return m.maxBits }

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Noise returns the noise tracker owned by the machine.
func (m *Machine) Noise() *NoiseTracker { return &m.noise }

// Run executes Bit-cycles until ctx is done or, when cycles > 0, exactly
// cycles Bit-cycles have completed. ctx is only checked between cycles; an
// utterance that has started playing back always finishes.
//
// Classification and conditioning failures are logged and the loop
// continues. Device errors, and more than MaxConsecutiveFailures failed
// classifications in a row, end the run with an error.
func (m *Machine) Run(ctx context.Context, cycles int) error {
	m.sched.ResetIdle()
	for n := 0; cycles <= 0 || n < cycles; n++ {
		if ctx.Err() != nil {
			return nil
		}
		if err := m.cycle(ctx); err != nil {
			return err
		}
		if m.onCycle != nil {
			m.onCycle()
		}
	}
	return nil
}

// cycle reads, classifies and acts on one Bit.
func (m *Machine) cycle(ctx context.Context) error {
	m.state = Listening
	bit, err := m.readBit()
	if err != nil {
		m.metrics.RecordError(ctx, "device")
		return fmt.Errorf("segment: read bit: %w", err)
	}

	class, err := m.classify(ctx, bit)
	if err != nil {
		m.failures++
		m.metrics.RecordError(ctx, "inference")
		slog.Warn("segment: bit classification failed", "err", err, "consecutive", m.failures)
		if m.cfg.MaxConsecutiveFailures > 0 && m.failures > m.cfg.MaxConsecutiveFailures {
			return fmt.Errorf("%w: %d in a row: %w", ErrTooManyFailures, m.failures, err)
		}
		m.restoreState()
		return nil
	}
	m.failures = 0
	m.metrics.RecordBit(ctx, class.String())

	if class.Has(Noise) {
		m.noise.Update(bit)
		m.metrics.NoiseReferenceUpdates.Add(ctx, 1)
	}

	if class.Has(Silent) {
		if m.bits > 0 {
			if err := m.complete(ctx, "silence"); err != nil {
				return err
			}
		}
		m.state = IdleCheck
		if err := m.sched.CheckIdle(ctx); err != nil {
			if errors.Is(err, audio.ErrDeviceIO) {
				return fmt.Errorf("segment: idle chatter: %w", err)
			}
			m.metrics.RecordError(ctx, "playback")
			slog.Warn("segment: idle chatter failed", "err", err)
		}
		m.state = Listening
		return nil
	}

	m.pending = append(m.pending, bit...)
	m.bits++
	m.sched.ResetIdle()
	m.state = Accumulating
	if m.bits >= m.maxBits {
		return m.complete(ctx, "max_length")
	}
	return nil
}

// restoreState returns to Accumulating when an utterance is still pending.
func (m *Machine) restoreState() {
	if m.bits > 0 {
		m.state = Accumulating
	} else {
		m.state = Listening
	}
}

// readBit reads framesPerBit device blocks and returns them as float32.
func (m *Machine) readBit() ([]float32, error) {
	for f := range m.framesPerBit {
		if err := m.dev.Read(m.block); err != nil {
			return nil, err
		}
		copy(m.bitPCM[f*len(m.block):], m.block)
	}
	return audio.Int16ToFloat32(nil, m.bitPCM), nil
}

// classify runs the engine over every sub-frame of bit. Any failed inference
// aborts the whole Bit.
func (m *Machine) classify(ctx context.Context, bit []float32) (Classification, error) {
	m.probs = m.probs[:0]
	rate := m.cfg.Format.SampleRate
	for off := 0; off < len(bit); off += m.vadFrame {
		start := time.Now()
		p, err := m.eng.Infer(&m.vadState, bit[off:off+m.vadFrame], rate)
		m.metrics.InferenceDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			return 0, err
		}
		m.probs = append(m.probs, p)
	}
	return Classify(m.probs, m.cfg.SpeechThreshold, m.cfg.NoiseThreshold), nil
}

// complete conditions the pending utterance and plays it back, followed by
// the reactive-clip decision, all inside one speaking window.
func (m *Machine) complete(ctx context.Context, reason string) error {
	m.state = UtteranceComplete
	utterance, bits := m.pending, m.bits
	m.pending, m.bits = m.pending[:0:0], 0
	defer func() { m.state = Listening }()

	seconds := float64(len(utterance)) / float64(m.cfg.Format.SampleRate)
	ctx, span := observe.StartUtterance(ctx, reason, bits, seconds)
	defer span.End()
	log := observe.Logger(ctx)

	m.metrics.RecordUtterance(ctx, reason, seconds)
	log.Debug("utterance complete", "reason", reason, "bits", bits, "seconds", seconds)

	noise, _ := m.noise.Current()
	var clipErr error
	err := m.dev.Speak(ctx, func() error {
		pcm, err := m.cond.Condition(ctx, utterance, noise)
		if err != nil {
			return err
		}
		if err := m.dev.Write(pcm); err != nil {
			return err
		}
		if err := m.sched.AfterUtterance(ctx); err != nil {
			if errors.Is(err, audio.ErrDeviceIO) {
				return err
			}
			clipErr = err
		}
		return nil
	})
	m.sched.ResetIdle()
	if clipErr != nil {
		m.metrics.RecordError(ctx, "playback")
		log.Warn("segment: reactive clip failed", "err", clipErr)
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, audio.ErrDeviceIO):
		observe.FailSpan(span, "device", err)
		m.metrics.RecordError(ctx, "device")
		return fmt.Errorf("segment: utterance playback: %w", err)
	default:
		observe.FailSpan(span, "conditioning", err)
		m.metrics.RecordError(ctx, "conditioning")
		log.Warn("segment: utterance dropped", "err", err)
		return nil
	}
}
