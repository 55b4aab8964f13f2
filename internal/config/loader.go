package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/parrot/internal/dsp"
	"github.com/MrWong99/parrot/pkg/provider/vad"
)

// ValidBackendNames lists known implementation names per backend kind.
// Used by [Validate] to warn about unrecognised names.
var ValidBackendNames = map[string][]string{
	"audio": {"portaudio", "wavfile"},
	"vad":   {"silero"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Default] and validates
// the result. Unknown keys are rejected. An empty document yields the
// defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.Server.Traces.IsValid() {
		errs = append(errs, fmt.Errorf("server.traces %q is invalid; valid values: none, stdout", cfg.Server.Traces))
	}

	// Audio
	a := cfg.Audio
	if a.Backend == "" {
		errs = append(errs, errors.New("audio.backend is required"))
	}
	validateBackendName("audio", a.Backend)
	if vad.FrameSize(a.SampleRate) == 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is unsupported; valid values: 8000, 16000", a.SampleRate))
	}
	if a.Channels != 1 {
		errs = append(errs, fmt.Errorf("audio.channels %d is unsupported; only mono (1) is processed", a.Channels))
	}
	if a.FramesPerBuffer <= 0 {
		errs = append(errs, fmt.Errorf("audio.frames_per_buffer %d must be positive", a.FramesPerBuffer))
	}
	if a.Backend == "wavfile" && a.ReplayDir == "" {
		errs = append(errs, errors.New("audio.replay_dir is required when backend is wavfile"))
	}

	// VAD
	v := cfg.VAD
	if v.Engine == "" {
		errs = append(errs, errors.New("vad.engine is required"))
	}
	validateBackendName("vad", v.Engine)
	if v.Engine == "silero" && v.ModelPath == "" {
		errs = append(errs, errors.New("vad.model_path is required when engine is silero"))
	}
	if v.SpeechThreshold <= 0 || v.SpeechThreshold >= 1 {
		errs = append(errs, fmt.Errorf("vad.speech_threshold %.2f is out of range (0, 1)", v.SpeechThreshold))
	}
	if v.NoiseThreshold < 0 || v.NoiseThreshold > v.SpeechThreshold {
		errs = append(errs, fmt.Errorf("vad.noise_threshold %.2f must be in [0, speech_threshold]", v.NoiseThreshold))
	}
	if v.MaxConsecutiveFailures < 0 {
		errs = append(errs, fmt.Errorf("vad.max_consecutive_failures %d must not be negative", v.MaxConsecutiveFailures))
	}

	// Segment
	s := cfg.Segment
	if s.BitDuration <= 0 {
		errs = append(errs, fmt.Errorf("segment.bit_duration %v must be positive", s.BitDuration))
	}
	if s.MaxUtterance < s.BitDuration {
		errs = append(errs, fmt.Errorf("segment.max_utterance %v must be at least bit_duration %v", s.MaxUtterance, s.BitDuration))
	}

	// Conditioning
	c := cfg.Conditioning
	if c.PreFilter.Enabled {
		pf := c.PreFilter
		if pf.Mode == dsp.LowPass || !pf.Mode.IsValid() {
			errs = append(errs, fmt.Errorf("conditioning.pre_filter.mode %q is invalid; valid values: highpass, bandpass", pf.Mode))
		}
		if pf.Order < 1 || pf.Order > 10 {
			errs = append(errs, fmt.Errorf("conditioning.pre_filter.order %d is out of range [1, 10]", pf.Order))
		}
		nyquist := float64(a.SampleRate) / 2
		if pf.LowHz <= 0 || pf.LowHz >= nyquist {
			errs = append(errs, fmt.Errorf("conditioning.pre_filter.low_hz %.1f must be in (0, %.1f)", pf.LowHz, nyquist))
		}
		if pf.Mode == dsp.BandPass && (pf.HighHz <= pf.LowHz || pf.HighHz >= nyquist) {
			errs = append(errs, fmt.Errorf("conditioning.pre_filter.high_hz %.1f must be in (low_hz, %.1f)", pf.HighHz, nyquist))
		}
	}
	if c.PitchSemitones < -12 || c.PitchSemitones > 12 {
		errs = append(errs, fmt.Errorf("conditioning.pitch_semitones %.2f is out of range [-12, 12]", c.PitchSemitones))
	}
	if c.StretchRate < 0.25 || c.StretchRate > 4 {
		errs = append(errs, fmt.Errorf("conditioning.stretch_rate %.2f is out of range [0.25, 4]", c.StretchRate))
	}
	if err := cfg.PipelineConfig().Compressor.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("conditioning.compressor: %w", err))
	}

	// Playback
	if err := cfg.SchedulerConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Playback.ReactionDir == "" && cfg.Playback.ReactionProbability > 0 {
		slog.Warn("playback.reaction_dir is empty; reactive clips are disabled")
	}

	// Indicator
	if !cfg.Indicator.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("indicator.kind %q is invalid; valid values: none, log, gpio", cfg.Indicator.Kind))
	}
	if cfg.Indicator.Kind == "gpio" && cfg.Indicator.GPIOPin < 0 {
		errs = append(errs, fmt.Errorf("indicator.gpio_pin %d must not be negative", cfg.Indicator.GPIOPin))
	}

	return errors.Join(errs...)
}

// validateBackendName logs a warning if name is non-empty and not found in
// the [ValidBackendNames] list for the given kind.
func validateBackendName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidBackendNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown backend name, may be a typo or third-party implementation",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
