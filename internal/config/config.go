// Package config provides the configuration schema, loader, hot-reload
// watcher and backend registry for parrot.
package config

import (
	"time"

	"github.com/MrWong99/parrot/internal/condition"
	"github.com/MrWong99/parrot/internal/dsp"
	"github.com/MrWong99/parrot/internal/indicator"
	"github.com/MrWong99/parrot/internal/observe"
	"github.com/MrWong99/parrot/internal/playback"
	"github.com/MrWong99/parrot/internal/segment"
	"github.com/MrWong99/parrot/pkg/audio"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for parrot.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader];
// keys missing from the file keep their [Default] values.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Audio        AudioConfig        `yaml:"audio"`
	VAD          VADConfig          `yaml:"vad"`
	Segment      SegmentConfig      `yaml:"segment"`
	Conditioning ConditioningConfig `yaml:"conditioning"`
	Playback     PlaybackConfig     `yaml:"playback"`
	Indicator    IndicatorConfig    `yaml:"indicator"`
}

// ServerConfig holds the observability endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /metrics, /healthz and /readyz
	// (e.g., ":9090"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// Traces selects where finished spans go: "none" or "stdout".
	Traces observe.TraceExport `yaml:"traces"`
}

// AudioConfig selects and configures the sound device.
type AudioConfig struct {
	// Backend selects the registered device implementation ("portaudio" or
	// "wavfile").
	Backend string `yaml:"backend"`

	SampleRate      int `yaml:"sample_rate"`
	Channels        int `yaml:"channels"`
	FramesPerBuffer int `yaml:"frames_per_buffer"`

	// ReplayDir is the directory of .wav files replayed by the wavfile
	// backend.
	ReplayDir string `yaml:"replay_dir"`

	// OutputPath receives playback from the wavfile backend. Empty discards
	// playback.
	OutputPath string `yaml:"output_path"`
}

// Format returns the device format described by c.
func (c AudioConfig) Format() audio.Format {
	return audio.Format{SampleRate: c.SampleRate, Channels: c.Channels, FramesPerBuffer: c.FramesPerBuffer}
}

// VADConfig configures the speech-likelihood engine and the classification
// thresholds.
type VADConfig struct {
	// Engine selects the registered engine implementation.
	Engine string `yaml:"engine"`

	// ModelPath is the path to the Silero ONNX model.
	ModelPath string `yaml:"model_path"`

	// ONNXLibrary is the path to the ONNX Runtime shared library. Empty uses
	// $ONNXRUNTIME_SHARED_LIBRARY_PATH or the platform default.
	ONNXLibrary string `yaml:"onnx_library"`

	// SpeechThreshold: a Bit is speech if any sub-frame probability exceeds
	// it.
	SpeechThreshold float64 `yaml:"speech_threshold"`

	// NoiseThreshold: a Bit is noise if every sub-frame probability is below
	// it.
	NoiseThreshold float64 `yaml:"noise_threshold"`

	// MaxConsecutiveFailures is the number of Bits in a row that may fail
	// inference before the process stops. Zero disables the limit.
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`
}

// SegmentConfig sizes Bits and Utterances.
type SegmentConfig struct {
	BitDuration  time.Duration `yaml:"bit_duration"`
	MaxUtterance time.Duration `yaml:"max_utterance"`
}

// ConditioningConfig configures the utterance conditioning pipeline.
type ConditioningConfig struct {
	PreFilter        PreFilterConfig  `yaml:"pre_filter"`
	NoiseSuppression bool             `yaml:"noise_suppression"`
	Compressor       CompressorConfig `yaml:"compressor"`
	PitchSemitones   float64          `yaml:"pitch_semitones"`
	StretchRate      float64          `yaml:"stretch_rate"`
}

// PreFilterConfig configures the optional Butterworth pre-filter.
type PreFilterConfig struct {
	Enabled bool           `yaml:"enabled"`
	Mode    dsp.FilterKind `yaml:"mode"`
	LowHz   float64        `yaml:"low_hz"`
	HighHz  float64        `yaml:"high_hz"`
	Order   int            `yaml:"order"`
}

// CompressorConfig configures dynamic range compression.
type CompressorConfig struct {
	ThresholdDB float64       `yaml:"threshold_db"`
	Ratio       float64       `yaml:"ratio"`
	Attack      time.Duration `yaml:"attack"`
	Release     time.Duration `yaml:"release"`
}

// PlaybackConfig configures clip collections and the clip scheduler. Every
// field except the directories and Seed is hot-reloadable.
type PlaybackConfig struct {
	ReactionDir string `yaml:"reaction_dir"`
	SentenceDir string `yaml:"sentence_dir"`

	ReactionProbability float64       `yaml:"reaction_probability"`
	IdleProbability     float64       `yaml:"idle_probability"`
	SentenceShare       float64       `yaml:"sentence_share"`
	IdleMin             time.Duration `yaml:"idle_min"`
	IdleMax             time.Duration `yaml:"idle_max"`
	ClipDelay           time.Duration `yaml:"clip_delay"`

	// Seed makes clip decisions reproducible. Zero seeds randomly.
	Seed uint64 `yaml:"seed"`
}

// IndicatorConfig configures the status indicator.
type IndicatorConfig struct {
	Kind     indicator.Kind `yaml:"kind"`
	GPIOChip string         `yaml:"gpio_chip"`
	GPIOPin  int            `yaml:"gpio_pin"`
}

// Default returns the stock configuration.
func Default() *Config {
	pipe := condition.DefaultConfig()
	comp := pipe.Compressor
	sched := playback.DefaultConfig()
	return &Config{
		Server: ServerConfig{LogLevel: LogInfo, Traces: observe.TracesNone},
		Audio: AudioConfig{
			Backend:         "portaudio",
			SampleRate:      16000,
			Channels:        1,
			FramesPerBuffer: 512,
		},
		VAD: VADConfig{
			Engine:                 "silero",
			ModelPath:              "silero_vad.onnx",
			SpeechThreshold:        0.5,
			NoiseThreshold:         0.2,
			MaxConsecutiveFailures: 50,
		},
		Segment: SegmentConfig{
			BitDuration:  500 * time.Millisecond,
			MaxUtterance: 15 * time.Second,
		},
		Conditioning: ConditioningConfig{
			PreFilter: PreFilterConfig{
				Mode:   pipe.PreFilter.Kind,
				LowHz:  pipe.PreFilter.LowHz,
				HighHz: pipe.PreFilter.HighHz,
				Order:  pipe.PreFilter.Order,
			},
			NoiseSuppression: pipe.NoiseSuppression,
			Compressor: CompressorConfig{
				ThresholdDB: comp.ThresholdDB,
				Ratio:       comp.Ratio,
				Attack:      msDuration(comp.AttackMs),
				Release:     msDuration(comp.ReleaseMs),
			},
			PitchSemitones: pipe.PitchSemitones,
			StretchRate:    pipe.StretchRate,
		},
		Playback: PlaybackConfig{
			ReactionDir:         "sounds/reactions",
			SentenceDir:         "sounds/sentences",
			ReactionProbability: sched.ReactionProbability,
			IdleProbability:     sched.IdleProbability,
			SentenceShare:       sched.SentenceShare,
			IdleMin:             sched.IdleMin,
			IdleMax:             sched.IdleMax,
			ClipDelay:           sched.ClipDelay,
		},
		Indicator: IndicatorConfig{
			Kind:     indicator.KindLog,
			GPIOChip: indicator.DefaultChip,
			GPIOPin:  26,
		},
	}
}

func msDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// MachineConfig returns the segmentation settings.
func (c *Config) MachineConfig() segment.Config {
	return segment.Config{
		Format:                 c.Audio.Format(),
		BitDuration:            c.Segment.BitDuration,
		MaxUtterance:           c.Segment.MaxUtterance,
		SpeechThreshold:        c.VAD.SpeechThreshold,
		NoiseThreshold:         c.VAD.NoiseThreshold,
		MaxConsecutiveFailures: c.VAD.MaxConsecutiveFailures,
	}
}

// PipelineConfig returns the conditioning settings.
func (c *Config) PipelineConfig() condition.Config {
	cc := c.Conditioning
	return condition.Config{
		PreFilter: condition.PreFilter{
			Enabled: cc.PreFilter.Enabled,
			Kind:    cc.PreFilter.Mode,
			LowHz:   cc.PreFilter.LowHz,
			HighHz:  cc.PreFilter.HighHz,
			Order:   cc.PreFilter.Order,
		},
		NoiseSuppression: cc.NoiseSuppression,
		Compressor: dsp.CompressorConfig{
			ThresholdDB: cc.Compressor.ThresholdDB,
			Ratio:       cc.Compressor.Ratio,
			AttackMs:    durationMs(cc.Compressor.Attack),
			ReleaseMs:   durationMs(cc.Compressor.Release),
		},
		PitchSemitones: cc.PitchSemitones,
		StretchRate:    cc.StretchRate,
	}
}

// SchedulerConfig returns the clip scheduling settings.
func (c *Config) SchedulerConfig() playback.Config {
	p := c.Playback
	return playback.Config{
		ReactionProbability: p.ReactionProbability,
		IdleProbability:     p.IdleProbability,
		SentenceShare:       p.SentenceShare,
		IdleMin:             p.IdleMin,
		IdleMax:             p.IdleMax,
		ClipDelay:           p.ClipDelay,
	}
}
