package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AlignerChanged is true if any aligner tuning field changed. New
	// sessions pick up the new aligner; running sessions keep theirs.
	AlignerChanged bool

	RealtimeChanged bool
	NewRealtime     bool

	// ReferenceChanged is true if reference.path changed.
	ReferenceChanged bool
}

// Changed reports whether any hot-reloadable field differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.AlignerChanged || d.RealtimeChanged || d.ReferenceChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.AlignerChanged = !alignerEqual(old.Aligner, new.Aligner)

	if old.Recitation.Realtime() != new.Recitation.Realtime() {
		d.RealtimeChanged = true
		d.NewRealtime = new.Recitation.Realtime()
	}

	d.ReferenceChanged = old.Reference.Path != new.Reference.Path

	return d
}

func alignerEqual(a, b AlignerConfig) bool {
	if a.Strictness != b.Strictness ||
		a.OmissionRatio != b.OmissionRatio ||
		a.ConsecutiveErrorThreshold != b.ConsecutiveErrorThreshold {
		return false
	}
	if (a.Lookahead == nil) != (b.Lookahead == nil) {
		return false
	}
	if a.Lookahead != nil && *a.Lookahead != *b.Lookahead {
		return false
	}
	return slices.Equal(a.FillerWords, b.FillerWords) && slices.Equal(a.Scripts, b.Scripts)
}
