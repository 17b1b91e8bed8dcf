package sensormap

import "strings"

// Store provides read-only typed access to the loaded sensor map.
type Store struct {
	scriptsDir string
	sensors    []SensorEntry
}

// NewStore builds a Store from already validated entries. The entries are
// copied so later changes by the caller are not observed.
func NewStore(scriptsDir string, sensors []SensorEntry) *Store {
	return &Store{
		scriptsDir: scriptsDir,
		sensors:    cloneEntries(sensors),
	}
}

// Lookup returns every entry whose id equals id, in document order. An unknown
// id yields an empty slice.
func (s *Store) Lookup(id string) []SensorEntry {
	var matches []SensorEntry
	for _, e := range s.sensors {
		if e.ID == id {
			matches = append(matches, cloneEntry(e))
		}
	}
	return matches
}

// ResolvePath joins the scripts directory and a configured script filename
// with a single separator. The result is not cleaned, so shell fragments and
// ".." segments pass through unchanged.
func (s *Store) ResolvePath(scriptFilename string) string {
	return s.scriptsDir + "/" + scriptFilename
}

// ScriptsDirectory returns the base directory scripts are resolved against.
func (s *Store) ScriptsDirectory() string {
	return s.scriptsDir
}

// Config returns a copy of the full configuration.
func (s *Store) Config() SensorConfig {
	return SensorConfig{
		ScriptsDirectory: s.scriptsDir,
		Sensors:          cloneEntries(s.sensors),
	}
}

// Len returns the number of sensor entries.
func (s *Store) Len() int {
	return len(s.sensors)
}

// IDs returns the distinct sensor ids in first-seen order.
func (s *Store) IDs() []string {
	seen := make(map[string]bool, len(s.sensors))
	ids := make([]string, 0, len(s.sensors))
	for _, e := range s.sensors {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		ids = append(ids, e.ID)
	}
	return ids
}

// ScriptCommand returns the first word of a configured script, which is the
// file the shell will try to execute.
func ScriptCommand(scriptFilename string) string {
	fields := strings.Fields(scriptFilename)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func cloneEntries(in []SensorEntry) []SensorEntry {
	out := make([]SensorEntry, len(in))
	for i, e := range in {
		out[i] = cloneEntry(e)
	}
	return out
}

func cloneEntry(e SensorEntry) SensorEntry {
	scripts := make([]string, len(e.Scripts))
	copy(scripts, e.Scripts)
	return SensorEntry{ID: e.ID, Scripts: scripts}
}
