package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// requires a restart and is deliberately ignored here.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TriggersChanged is set when any broadcast segmentation threshold
	// changed. New sessions pick the new values up; live sessions keep the
	// thresholds they started with.
	TriggersChanged bool
	NewTriggers     BroadcastConfig
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Broadcast != new.Broadcast {
		d.TriggersChanged = true
		d.NewTriggers = new.Broadcast
	}

	return d
}

// Empty reports whether the diff carries no hot-reloadable change.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.TriggersChanged
}
