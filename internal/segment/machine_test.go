package segment_test

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/MrWong99/parrot/internal/condition"
	"github.com/MrWong99/parrot/internal/duplex"
	"github.com/MrWong99/parrot/internal/indicator"
	"github.com/MrWong99/parrot/internal/observe"
	"github.com/MrWong99/parrot/internal/playback"
	playbackmock "github.com/MrWong99/parrot/internal/playback/mock"
	"github.com/MrWong99/parrot/internal/segment"
	"github.com/MrWong99/parrot/pkg/audio"
	audiomock "github.com/MrWong99/parrot/pkg/audio/mock"
	"github.com/MrWong99/parrot/pkg/provider/vad"
	vadmock "github.com/MrWong99/parrot/pkg/provider/vad/mock"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const (
	rate      = 16000
	bitLength = 8192
)

var format = audio.Format{SampleRate: rate, Channels: 1, FramesPerBuffer: 512}

func newMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func machineConfig() segment.Config {
	return segment.Config{
		Format:                 format,
		BitDuration:            500 * time.Millisecond,
		MaxUtterance:           15 * time.Second,
		SpeechThreshold:        0.5,
		NoiseThreshold:         0.2,
		MaxConsecutiveFailures: 50,
	}
}

func toneSignal(toneSamples, silenceSamples int) []int16 {
	out := make([]int16, toneSamples+silenceSamples)
	for i := range toneSamples {
		out[i] = int16(12000 * math.Sin(2*math.Pi*440*float64(i)/rate))
	}
	return out
}

// recordingConditioner returns the utterance unchanged as PCM.
type recordingConditioner struct {
	err        error
	utterances [][]float32
	noise      [][]float32
}

func (c *recordingConditioner) Condition(_ context.Context, utterance, noise []float32) ([]int16, error) {
	c.utterances = append(c.utterances, append([]float32(nil), utterance...))
	c.noise = append(c.noise, append([]float32(nil), noise...))
	if c.err != nil {
		return nil, c.err
	}
	return audio.Float32ToInt16(utterance), nil
}

type rig struct {
	clock     *audiomock.Clock
	dev       *audiomock.Device
	coord     *duplex.Coordinator
	eng       *vadmock.Engine
	sched     *playback.Scheduler
	reactions *playbackmock.Clips
	sentences *playbackmock.Clips
	machine   *segment.Machine
}

func newRig(t *testing.T, signal []int16, pcfg playback.Config, cond segment.Conditioner) *rig {
	t.Helper()
	m := newMetrics(t)
	r := &rig{
		clock:     audiomock.NewClock(time.Unix(0, 0)),
		eng:       &vadmock.Engine{ProbabilityFunc: vadmock.EnergyProbability(0.01, 0.9, 0.05)},
		reactions: playbackmock.NewClips(3, 160),
		sentences: playbackmock.NewClips(2, 320),
	}
	r.dev = &audiomock.Device{DeviceFormat: format, Signal: signal, Clock: r.clock}
	r.coord = duplex.New(r.dev, indicator.Noop{}, duplex.WithMetrics(m))
	var err error
	r.sched, err = playback.New(pcfg, r.coord, r.reactions, r.sentences,
		playback.WithRand(rand.New(rand.NewPCG(1, 2))),
		playback.WithClock(r.clock.Now),
		playback.WithMetrics(m),
	)
	if err != nil {
		t.Fatalf("playback.New: %v", err)
	}
	r.machine, err = segment.New(machineConfig(), r.coord, r.eng, cond, r.sched, segment.WithMetrics(m))
	if err != nil {
		t.Fatalf("segment.New: %v", err)
	}
	if err := r.coord.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	return r
}

func quietPlayback() playback.Config {
	return playback.Config{
		ReactionProbability: 0,
		IdleProbability:     0,
		SentenceShare:       0.5,
		IdleMin:             time.Hour,
		IdleMax:             time.Hour,
	}
}

func TestNew_BitGeometry(t *testing.T) {
	t.Parallel()

	r := newRig(t, nil, quietPlayback(), &recordingConditioner{})
	if got := r.machine.BitSamples(); got != bitLength {
		t.Errorf("BitSamples = %d, want %d", got, bitLength)
	}
	if got := r.machine.BitLength(); got != 512*time.Millisecond {
		t.Errorf("BitLength = %v, want 512ms", got)
	}
	if got := r.machine.MaxBits(); got != 30 {
		t.Errorf("MaxBits = %d, want 30", got)
	}
	if r.machine.State() != segment.Listening {
		t.Errorf("State = %v, want listening", r.machine.State())
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*segment.Config)
		wantErr error
	}{
		{name: "unsupported rate", mutate: func(c *segment.Config) { c.Format.SampleRate = 44100 }, wantErr: vad.ErrInvalidSampleRate},
		{name: "bit not multiple of engine frame", mutate: func(c *segment.Config) { c.Format.FramesPerBuffer = 100 }, wantErr: vad.ErrInvalidFrameSize},
		{name: "noise above speech", mutate: func(c *segment.Config) { c.NoiseThreshold = 0.8 }},
		{name: "max shorter than bit", mutate: func(c *segment.Config) { c.MaxUtterance = 100 * time.Millisecond }},
		{name: "zero bit", mutate: func(c *segment.Config) { c.BitDuration = 0 }},
		{name: "stereo", mutate: func(c *segment.Config) { c.Format.Channels = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := machineConfig()
			tt.mutate(&cfg)
			_, err := segment.New(cfg, nil, &vadmock.Engine{}, &recordingConditioner{}, nil)
			if err == nil {
				t.Fatal("New succeeded, want error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRun_ToneThenSilenceEmitsOneUtterance(t *testing.T) {
	t.Parallel()

	pipe, err := condition.New(condition.DefaultConfig(), rate, condition.WithMetrics(newMetrics(t)))
	if err != nil {
		t.Fatalf("condition.New: %v", err)
	}
	r := newRig(t, toneSignal(8000, 24000), quietPlayback(), pipe)

	if err := r.machine.Run(context.Background(), 4); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := r.dev.WriteCount(); got != 1 {
		t.Fatalf("writes = %d, want 1", got)
	}
	if got := len(r.dev.Written[0]); got != bitLength {
		t.Errorf("written %d samples, want one bit (%d)", got, bitLength)
	}
	var nonZero bool
	for _, v := range r.dev.Written[0] {
		if v != 0 {
			nonZero = true
			break
		}
	}
	if !nonZero {
		t.Error("written buffer is silent")
	}
	if got := r.eng.CallCount(); got != 4*16 {
		t.Errorf("engine calls = %d, want %d", got, 4*16)
	}
}

func TestRun_UtteranceCarriesNoiseReference(t *testing.T) {
	t.Parallel()

	cond := &recordingConditioner{}
	// silence, tone, silence
	signal := append(make([]int16, bitLength), toneSignal(bitLength, bitLength)...)
	r := newRig(t, signal, quietPlayback(), cond)

	if err := r.machine.Run(context.Background(), 3); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(cond.utterances) != 1 {
		t.Fatalf("utterances = %d, want 1", len(cond.utterances))
	}
	if len(cond.utterances[0]) != bitLength {
		t.Errorf("utterance length = %d, want %d", len(cond.utterances[0]), bitLength)
	}
	if len(cond.noise[0]) != bitLength {
		t.Errorf("noise reference length = %d, want %d", len(cond.noise[0]), bitLength)
	}
	if ref, ok := r.machine.Noise().Current(); !ok || len(ref) != bitLength {
		t.Errorf("noise reference missing after silent bits")
	}
}

func TestRun_ForcedCompletionAtMaxLength(t *testing.T) {
	t.Parallel()

	cond := &recordingConditioner{}
	r := newRig(t, nil, quietPlayback(), cond)
	r.eng.ProbabilityFunc = nil
	r.eng.Probability = 0.9

	if err := r.machine.Run(context.Background(), 60); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(cond.utterances) != 2 {
		t.Fatalf("utterances = %d, want 2", len(cond.utterances))
	}
	for i, u := range cond.utterances {
		if len(u) != r.machine.MaxBits()*bitLength {
			t.Errorf("utterance %d length = %d, want %d", i, len(u), r.machine.MaxBits()*bitLength)
		}
	}
}

func TestRun_IdleChatterEveryBound(t *testing.T) {
	t.Parallel()

	cfg := playback.Config{
		ReactionProbability: 1,
		IdleProbability:     1,
		SentenceShare:       1,
		IdleMin:             5 * time.Second,
		IdleMax:             5 * time.Second,
	}
	r := newRig(t, nil, cfg, &recordingConditioner{})

	// 40 bits of 512 ms cover 20.48 s.
	if err := r.machine.Run(context.Background(), 40); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := r.sentences.PickCount(); got != 4 {
		t.Errorf("sentence picks = %d, want 4", got)
	}
	if got := r.dev.WriteCount(); got != 4 {
		t.Errorf("writes = %d, want 4", got)
	}
	if r.reactions.PickCount() != 0 {
		t.Errorf("reaction picks = %d, want 0", r.reactions.PickCount())
	}
}

func TestRun_HalfDuplexNeverOverlaps(t *testing.T) {
	t.Parallel()

	cfg := playback.Config{
		ReactionProbability: 1,
		IdleProbability:     1,
		SentenceShare:       0.5,
		IdleMin:             time.Second,
		IdleMax:             3 * time.Second,
	}
	// one bit of tone, two of silence, repeated
	r := newRig(t, toneSignal(bitLength, 2*bitLength), cfg, &recordingConditioner{})
	r.dev.Loop = true

	if err := r.machine.Run(context.Background(), 100); err != nil {
		t.Fatalf("Run: %v", err)
	}

	capturing := false
	var writes int
	for i, e := range r.dev.Snapshot() {
		switch e.Kind {
		case audiomock.EventStart:
			capturing = true
		case audiomock.EventStop:
			capturing = false
		case audiomock.EventRead:
			if !capturing {
				t.Fatalf("event %d: read while capture stopped", i)
			}
		case audiomock.EventWrite:
			writes++
			if capturing {
				t.Fatalf("event %d: write while capturing", i)
			}
		}
	}
	if writes == 0 {
		t.Fatal("no playback happened")
	}
	if !r.dev.Capturing() {
		t.Error("capture not running after Run")
	}
}

func TestRun_InferenceFailures(t *testing.T) {
	t.Parallel()

	t.Run("transient", func(t *testing.T) {
		t.Parallel()
		r := newRig(t, nil, quietPlayback(), &recordingConditioner{})
		r.eng.InferErrFunc = func(call int) error {
			if call == 0 {
				return vad.ErrInference
			}
			return nil
		}
		if err := r.machine.Run(context.Background(), 3); err != nil {
			t.Fatalf("Run: %v", err)
		}
	})

	t.Run("persistent", func(t *testing.T) {
		t.Parallel()
		cfg := machineConfig()
		cfg.MaxConsecutiveFailures = 3
		r := newRig(t, nil, quietPlayback(), &recordingConditioner{})
		m, err := segment.New(cfg, r.coord, r.eng, &recordingConditioner{}, r.sched)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		r.eng.InferErr = vad.ErrInference
		err = m.Run(context.Background(), 10)
		if !errors.Is(err, segment.ErrTooManyFailures) || !errors.Is(err, vad.ErrInference) {
			t.Fatalf("Run = %v, want ErrTooManyFailures wrapping ErrInference", err)
		}
		if got := r.eng.CallCount(); got != 4 {
			t.Errorf("engine calls = %d, want 4 (one per failed bit)", got)
		}
	})
}

func TestRun_ConditioningFailureDropsUtterance(t *testing.T) {
	t.Parallel()

	cond := &recordingConditioner{err: condition.ErrConditioning}
	r := newRig(t, toneSignal(bitLength, 2*bitLength), quietPlayback(), cond)

	if err := r.machine.Run(context.Background(), 3); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(cond.utterances) != 1 {
		t.Errorf("utterances = %d, want 1", len(cond.utterances))
	}
	if r.dev.WriteCount() != 0 {
		t.Errorf("writes = %d, want 0", r.dev.WriteCount())
	}
	if !r.dev.Capturing() {
		t.Error("capture not resumed after dropped utterance")
	}
}

func TestRun_DeviceErrorIsFatal(t *testing.T) {
	t.Parallel()

	r := newRig(t, nil, quietPlayback(), &recordingConditioner{})
	r.dev.ReadErr = errors.New("unplugged")
	if err := r.machine.Run(context.Background(), 5); !errors.Is(err, audio.ErrDeviceIO) {
		t.Fatalf("Run = %v, want ErrDeviceIO", err)
	}

	r = newRig(t, toneSignal(bitLength, bitLength), quietPlayback(), &recordingConditioner{})
	r.dev.WriteErr = errors.New("unplugged")
	if err := r.machine.Run(context.Background(), 2); !errors.Is(err, audio.ErrDeviceIO) {
		t.Fatalf("Run = %v, want ErrDeviceIO from playback", err)
	}
}

func TestRun_StopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	r := newRig(t, nil, quietPlayback(), &recordingConditioner{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.machine.Run(ctx, 0); err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}
	if r.eng.CallCount() != 0 {
		t.Errorf("engine called %d times after cancel", r.eng.CallCount())
	}
}

func TestRun_CycleHook(t *testing.T) {
	t.Parallel()

	r := newRig(t, nil, quietPlayback(), &recordingConditioner{})
	var cycles int
	m, err := segment.New(machineConfig(), r.coord, r.eng, &recordingConditioner{}, r.sched,
		segment.WithCycleHook(func() { cycles++ }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Run(context.Background(), 7); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if cycles != 7 {
		t.Errorf("hook calls = %d, want 7", cycles)
	}
}
