package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/parrot/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string // substring; empty means valid
	}{
		{name: "defaults", yaml: ""},
		{name: "bad log level", yaml: "server:\n  log_level: loud\n", wantErr: "server.log_level"},
		{name: "stdout traces", yaml: "server:\n  traces: stdout\n"},
		{name: "unknown traces", yaml: "server:\n  traces: jaeger\n", wantErr: "server.traces"},
		{name: "unsupported rate", yaml: "audio:\n  sample_rate: 44100\n", wantErr: "audio.sample_rate"},
		{name: "8 kHz", yaml: "audio:\n  sample_rate: 8000\n  frames_per_buffer: 256\n"},
		{name: "stereo", yaml: "audio:\n  channels: 2\n", wantErr: "audio.channels"},
		{name: "zero frames", yaml: "audio:\n  frames_per_buffer: 0\n", wantErr: "audio.frames_per_buffer"},
		{name: "wavfile without dir", yaml: "audio:\n  backend: wavfile\n", wantErr: "audio.replay_dir"},
		{name: "empty backend", yaml: "audio:\n  backend: \"\"\n", wantErr: "audio.backend"},
		{name: "silero without model", yaml: "vad:\n  model_path: \"\"\n", wantErr: "vad.model_path"},
		{name: "speech threshold one", yaml: "vad:\n  speech_threshold: 1\n", wantErr: "vad.speech_threshold"},
		{name: "noise above speech", yaml: "vad:\n  noise_threshold: 0.7\n", wantErr: "vad.noise_threshold"},
		{name: "negative failure budget", yaml: "vad:\n  max_consecutive_failures: -1\n", wantErr: "vad.max_consecutive_failures"},
		{name: "zero bit", yaml: "segment:\n  bit_duration: 0s\n", wantErr: "segment.bit_duration"},
		{name: "max below bit", yaml: "segment:\n  max_utterance: 100ms\n", wantErr: "segment.max_utterance"},
		{name: "lowpass pre-filter", yaml: "conditioning:\n  pre_filter:\n    enabled: true\n    mode: lowpass\n", wantErr: "pre_filter.mode"},
		{name: "disabled pre-filter not checked", yaml: "conditioning:\n  pre_filter:\n    mode: lowpass\n"},
		{name: "bandpass inverted", yaml: "conditioning:\n  pre_filter:\n    enabled: true\n    mode: bandpass\n    low_hz: 3000\n    high_hz: 2000\n", wantErr: "pre_filter.high_hz"},
		{name: "cutoff above nyquist", yaml: "conditioning:\n  pre_filter:\n    enabled: true\n    low_hz: 9000\n", wantErr: "pre_filter.low_hz"},
		{name: "order zero", yaml: "conditioning:\n  pre_filter:\n    enabled: true\n    order: 0\n", wantErr: "pre_filter.order"},
		{name: "pitch out of range", yaml: "conditioning:\n  pitch_semitones: 24\n", wantErr: "pitch_semitones"},
		{name: "stretch out of range", yaml: "conditioning:\n  stretch_rate: 0\n", wantErr: "stretch_rate"},
		{name: "compressor ratio", yaml: "conditioning:\n  compressor:\n    ratio: 0.5\n", wantErr: "conditioning.compressor"},
		{name: "probability", yaml: "playback:\n  idle_probability: 2\n", wantErr: "idle probability"},
		{name: "idle range", yaml: "playback:\n  idle_min: 5m\n  idle_max: 1m\n", wantErr: "idle max"},
		{name: "indicator kind", yaml: "indicator:\n  kind: lamp\n", wantErr: "indicator.kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should mention %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_ReportsAllFailures(t *testing.T) {
	t.Parallel()

	yaml := `
server:
  log_level: loud
audio:
  channels: 2
indicator:
  kind: lamp
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"server.log_level", "audio.channels", "indicator.kind"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_UnknownBackendOnlyWarns(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Audio.Backend = "alsa"
	if err := config.Validate(cfg); err != nil {
		t.Errorf("unknown backend should only warn, got: %v", err)
	}
}
