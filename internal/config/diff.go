package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	StreamsChanged  bool         // true if any stream was added, removed, or modified
	StreamChanges   []StreamDiff // per-stream diffs
	LogLevelChanged bool
	NewLogLevel     LogLevel
}

// StreamDiff describes what changed for a single stream between two configs.
type StreamDiff struct {
	ID             string
	URLChanged     bool
	EnabledChanged bool
	Enabled        bool
	Added          bool
	Removed        bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart: stream
// registrations and the log level. Provider or backbone changes require a
// restart and are deliberately not reported here.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Build stream lookup maps keyed by ID.
	oldStreams := make(map[string]*StreamConfig, len(old.Streams))
	for i := range old.Streams {
		oldStreams[old.Streams[i].ID] = &old.Streams[i]
	}
	newStreams := make(map[string]*StreamConfig, len(new.Streams))
	for i := range new.Streams {
		newStreams[new.Streams[i].ID] = &new.Streams[i]
	}

	// Detect modified and removed streams.
	for id, oldS := range oldStreams {
		newS, exists := newStreams[id]
		if !exists {
			d.StreamChanges = append(d.StreamChanges, StreamDiff{
				ID:      id,
				Removed: true,
			})
			d.StreamsChanged = true
			continue
		}
		sd := StreamDiff{ID: id, Enabled: newS.Enabled}
		if oldS.URL != newS.URL || oldS.Protocol != newS.Protocol {
			sd.URLChanged = true
		}
		if oldS.Enabled != newS.Enabled {
			sd.EnabledChanged = true
		}
		if sd.URLChanged || sd.EnabledChanged {
			d.StreamChanges = append(d.StreamChanges, sd)
			d.StreamsChanged = true
		}
	}

	// Detect added streams.
	for id, newS := range newStreams {
		if _, exists := oldStreams[id]; !exists {
			d.StreamChanges = append(d.StreamChanges, StreamDiff{
				ID:      id,
				Added:   true,
				Enabled: newS.Enabled,
			})
			d.StreamsChanged = true
		}
	}

	return d
}
