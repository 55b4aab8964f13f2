// Package condition turns a captured utterance into the audio that is played
// back: optional pre-filtering, spectral noise gating against the current
// noise reference, dynamic range compression, pitch shifting and time
// stretching, with peak normalisation between scale-changing stages.
//
// A stage that fails aborts the whole utterance with an error wrapping
// [ErrConditioning]; audio is never passed through unconditioned.
package condition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/parrot/internal/dsp"
	"github.com/MrWong99/parrot/internal/observe"
	"github.com/MrWong99/parrot/pkg/audio"
	"github.com/MrWong99/parrot/pkg/provider/vad"
)

// ErrConditioning is wrapped by every error returned from
// [Pipeline.Condition].
var ErrConditioning = errors.New("condition: conditioning failed")

// PreFilter configures the optional Butterworth stage applied before noise
// suppression.
type PreFilter struct {
	Enabled bool
	Kind    dsp.FilterKind
	LowHz   float64
	HighHz  float64
	Order   int
}

// Config holds the pipeline settings.
type Config struct {
	PreFilter PreFilter

	// NoiseSuppression enables the spectral gate.
	NoiseSuppression bool

	// Gate tunes the spectral gate. A zero NFFT uses the speech engine frame
	// size for the sample rate.
	Gate dsp.GateConfig

	Compressor dsp.CompressorConfig

	// PitchSemitones is the pitch shift. Zero disables the stage.
	PitchSemitones float64

	// StretchRate is the time-stretch rate. 1 disables the stage.
	StretchRate float64
}

// DefaultConfig returns the stock settings: no pre-filter, noise
// suppression on, -30 dBFS 6:1 compression, +2.1 semitones and no stretch.
func DefaultConfig() Config {
	return Config{
		PreFilter: PreFilter{
			Kind:   dsp.HighPass,
			LowHz:  300,
			HighHz: 6000,
			Order:  5,
		},
		NoiseSuppression: true,
		Compressor:       dsp.DefaultCompressor(),
		PitchSemitones:   2.1,
		StretchRate:      1,
	}
}

// Option is a functional option for [New].
type Option func(*Pipeline)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline conditions utterances at one sample rate. It is safe for
// concurrent use; calls are serialised.
type Pipeline struct {
	cfg        Config
	sampleRate int
	filter     dsp.Filter
	gate       *dsp.SpectralGate
	metrics    *observe.Metrics

	mu sync.Mutex
}

// New validates cfg and prepares the filter and gate for sampleRate.
func New(cfg Config, sampleRate int, opts ...Option) (*Pipeline, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("condition: sample rate %d must be positive", sampleRate)
	}
	if err := cfg.Compressor.Validate(); err != nil {
		return nil, fmt.Errorf("condition: %w", err)
	}
	if cfg.StretchRate <= 0 {
		return nil, fmt.Errorf("condition: stretch rate %v must be positive", cfg.StretchRate)
	}

	p := &Pipeline{cfg: cfg, sampleRate: sampleRate}
	if cfg.PreFilter.Enabled {
		f, err := dsp.Butterworth(cfg.PreFilter.Kind, cfg.PreFilter.Order, cfg.PreFilter.LowHz, cfg.PreFilter.HighHz, sampleRate)
		if err != nil {
			return nil, fmt.Errorf("condition: pre-filter: %w", err)
		}
		p.filter = f
	}
	if cfg.NoiseSuppression {
		gc := cfg.Gate
		if gc.NFFT == 0 {
			gc.NFFT = vad.FrameSize(sampleRate)
		}
		if gc.NFFT == 0 {
			gc.NFFT = 512
		}
		g, err := dsp.NewSpectralGate(gc, sampleRate)
		if err != nil {
			return nil, fmt.Errorf("condition: noise gate: %w", err)
		}
		p.gate = g
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p, nil
}

// SampleRate returns the rate the pipeline was built for.
func (p *Pipeline) SampleRate() int { return p.sampleRate }

// Condition runs every enabled stage over utterance and returns 16-bit PCM
// of the same duration (modulo time stretching). noise is the current noise
// reference; when nil the gate estimates noise from the utterance itself.
// Silence conditions to silence.
func (p *Pipeline) Condition(ctx context.Context, utterance, noise []float32) ([]int16, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	defer func() {
		p.metrics.ConditioningDuration.Record(ctx, time.Since(start).Seconds())
	}()

	if len(utterance) == 0 {
		return nil, stageErr("input", dsp.ErrEmptySignal)
	}
	x := toFloat64(utterance)
	if err := dsp.CheckFinite(x); err != nil {
		return nil, stageErr("input", err)
	}
	var ref []float64
	if len(noise) > 0 {
		ref = toFloat64(noise)
	}

	if p.filter != nil {
		x = p.filter.FiltFilt(x)
		if ref != nil {
			ref = p.filter.FiltFilt(ref)
		}
	}

	if p.gate != nil {
		gated, err := p.gate.Reduce(x, ref)
		if err != nil {
			return nil, stageErr("noise suppression", err)
		}
		x = gated
	}
	dsp.Normalize(x)

	compressed, err := dsp.Compress(x, p.sampleRate, p.cfg.Compressor)
	if err != nil {
		return nil, stageErr("compression", err)
	}
	x = compressed
	dsp.Normalize(x)

	if p.cfg.PitchSemitones != 0 {
		if x, err = dsp.PitchShift(x, p.sampleRate, p.cfg.PitchSemitones); err != nil {
			return nil, stageErr("pitch shift", err)
		}
	}
	if p.cfg.StretchRate != 1 {
		if x, err = dsp.TimeStretch(x, p.cfg.StretchRate); err != nil {
			return nil, stageErr("time stretch", err)
		}
	}
	dsp.Normalize(x)

	if err := dsp.CheckFinite(x); err != nil {
		return nil, stageErr("output", err)
	}
	return audio.Float64ToInt16(x), nil
}

// WarmUp runs one frame of silence through the pipeline so that first-use
// allocations happen before the listening loop starts.
func (p *Pipeline) WarmUp(ctx context.Context) error {
	n := vad.FrameSize(p.sampleRate)
	if n == 0 {
		n = 512
	}
	_, err := p.Condition(ctx, make([]float32, n), nil)
	return err
}

func stageErr(stage string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrConditioning, stage, err)
}

func toFloat64(x []float32) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = float64(v)
	}
	return out
}
