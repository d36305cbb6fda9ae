package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; storage and
// server settings require a restart and are deliberately absent.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ThresholdChanged bool
	NewThreshold     int

	// CacheChanged is true when the passage list or the source endpoint
	// changed, signalling that a new population pass is worthwhile.
	CacheChanged bool

	RefreshIntervalChanged bool
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.ThresholdChanged || d.CacheChanged || d.RefreshIntervalChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Correction.Threshold != new.Correction.Threshold {
		d.ThresholdChanged = true
		d.NewThreshold = new.Correction.Threshold
	}

	if old.Cache.SourceURL != new.Cache.SourceURL ||
		old.Cache.Edition != new.Cache.Edition ||
		!passagesEqual(old.Cache.Passages, new.Cache.Passages) {
		d.CacheChanged = true
	}

	if old.Connectivity.RefreshInterval != new.Connectivity.RefreshInterval {
		d.RefreshIntervalChanged = true
	}

	return d
}

func passagesEqual(a, b []PassageConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
