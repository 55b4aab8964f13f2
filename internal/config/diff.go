package config

// ConfigDiff describes what changed between two configs.
// Hot-reloadable changes are reported individually; everything else is
// listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PlaybackChanged is true if any scheduler tunable changed.
	PlaybackChanged bool

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Changed reports whether d contains any difference.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.PlaybackChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.SchedulerConfig() != new.SchedulerConfig() {
		d.PlaybackChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.Traces != new.Server.Traces {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.VAD != new.VAD {
		d.RestartRequired = append(d.RestartRequired, "vad")
	}
	if old.Segment != new.Segment {
		d.RestartRequired = append(d.RestartRequired, "segment")
	}
	if old.Conditioning != new.Conditioning {
		d.RestartRequired = append(d.RestartRequired, "conditioning")
	}
	op, np := old.Playback, new.Playback
	if op.ReactionDir != np.ReactionDir || op.SentenceDir != np.SentenceDir || op.Seed != np.Seed {
		d.RestartRequired = append(d.RestartRequired, "playback")
	}
	if old.Indicator != new.Indicator {
		d.RestartRequired = append(d.RestartRequired, "indicator")
	}

	return d
}
