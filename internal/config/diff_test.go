package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/parrot/internal/config"
	"github.com/MrWong99/parrot/internal/observe"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()

	d := config.Diff(config.Default(), config.Default())
	if d.Changed() {
		t.Errorf("Diff of identical configs = %+v, want no changes", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()

	old, new := config.Default(), config.Default()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %+v", d)
	}
	if d.PlaybackChanged || len(d.RestartRequired) > 0 {
		t.Errorf("unexpected extra changes: %+v", d)
	}
}

func TestDiff_PlaybackTunables(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.PlaybackConfig)
	}{
		{name: "reaction probability", mutate: func(p *config.PlaybackConfig) { p.ReactionProbability = 0.9 }},
		{name: "idle probability", mutate: func(p *config.PlaybackConfig) { p.IdleProbability = 0 }},
		{name: "sentence share", mutate: func(p *config.PlaybackConfig) { p.SentenceShare = 1 }},
		{name: "idle bounds", mutate: func(p *config.PlaybackConfig) { p.IdleMin, p.IdleMax = time.Second, 2 * time.Second }},
		{name: "clip delay", mutate: func(p *config.PlaybackConfig) { p.ClipDelay = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := config.Default(), config.Default()
			tt.mutate(&new.Playback)
			d := config.Diff(old, new)
			if !d.PlaybackChanged {
				t.Error("PlaybackChanged = false")
			}
			if len(d.RestartRequired) > 0 {
				t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		section string
	}{
		{name: "listen addr", mutate: func(c *config.Config) { c.Server.ListenAddr = ":1" }, section: "server"},
		{name: "traces", mutate: func(c *config.Config) { c.Server.Traces = observe.TracesStdout }, section: "server"},
		{name: "sample rate", mutate: func(c *config.Config) { c.Audio.SampleRate = 8000 }, section: "audio"},
		{name: "threshold", mutate: func(c *config.Config) { c.VAD.SpeechThreshold = 0.7 }, section: "vad"},
		{name: "bit duration", mutate: func(c *config.Config) { c.Segment.BitDuration = time.Second }, section: "segment"},
		{name: "pitch", mutate: func(c *config.Config) { c.Conditioning.PitchSemitones = 0 }, section: "conditioning"},
		{name: "clip dir", mutate: func(c *config.Config) { c.Playback.SentenceDir = "elsewhere" }, section: "playback"},
		{name: "seed", mutate: func(c *config.Config) { c.Playback.Seed = 7 }, section: "playback"},
		{name: "gpio pin", mutate: func(c *config.Config) { c.Indicator.GPIOPin = 4 }, section: "indicator"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := config.Default(), config.Default()
			tt.mutate(new)
			d := config.Diff(old, new)
			if !slices.Contains(d.RestartRequired, tt.section) {
				t.Errorf("RestartRequired = %v, want %q", d.RestartRequired, tt.section)
			}
			if d.PlaybackChanged {
				t.Error("restart-only change reported as hot-reloadable")
			}
		})
	}
}
