package sensormap

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the configuration document at path, verifies it against a
// .checksums manifest when one exists, and builds a Store rooted at scriptsDir.
func Load(path, scriptsDir string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigUnreadable, path, err)
	}

	if _, err := VerifyIntegrity(path); err != nil {
		return nil, err
	}

	sensors, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return NewStore(scriptsDir, sensors), nil
}

// Parse converts a configuration document into sensor entries. Only the first
// YAML document is considered. Every entry must be a mapping with a string id
// and a sequence of string scripts; anything else is ErrConfigMalformed.
func Parse(data []byte) ([]SensorEntry, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigMalformed, err)
	}

	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, malformed("document is empty; expected top-level key \"sensors\"")
	}

	top := resolve(root.Content[0])
	if top.Kind != yaml.MappingNode {
		return nil, malformed("top level must be a mapping with key \"sensors\"")
	}

	sensorsNode := lookupKey(top, "sensors")
	if sensorsNode == nil {
		return nil, malformed("missing top-level key \"sensors\"")
	}
	if sensorsNode.Kind != yaml.SequenceNode {
		return nil, malformed("\"sensors\" must be a sequence (line %d)", sensorsNode.Line)
	}

	entries := make([]SensorEntry, 0, len(sensorsNode.Content))
	for i, item := range sensorsNode.Content {
		entry, err := parseEntry(i, resolve(item))
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func parseEntry(i int, node *yaml.Node) (SensorEntry, error) {
	if node.Kind != yaml.MappingNode {
		return SensorEntry{}, malformed("sensors[%d] must be a mapping with \"id\" and \"scripts\" (line %d)", i, node.Line)
	}

	idNode := lookupKey(node, "id")
	if idNode == nil {
		return SensorEntry{}, malformed("sensors[%d].id is required (line %d)", i, node.Line)
	}
	if !isString(idNode) {
		return SensorEntry{}, malformed("sensors[%d].id must be a string (line %d)", i, idNode.Line)
	}

	scriptsNode := lookupKey(node, "scripts")
	if scriptsNode == nil {
		return SensorEntry{}, malformed("sensors[%d].scripts is required (line %d)", i, node.Line)
	}
	if scriptsNode.Kind != yaml.SequenceNode {
		return SensorEntry{}, malformed("sensors[%d].scripts must be a sequence (line %d)", i, scriptsNode.Line)
	}

	entry := SensorEntry{
		ID:      idNode.Value,
		Scripts: make([]string, 0, len(scriptsNode.Content)),
	}
	for j, s := range scriptsNode.Content {
		s = resolve(s)
		if !isString(s) {
			return SensorEntry{}, malformed("sensors[%d].scripts[%d] must be a string (line %d)", i, j, s.Line)
		}
		entry.Scripts = append(entry.Scripts, s.Value)
	}

	return entry, nil
}

// lookupKey returns the value node for key in a mapping node, or nil.
func lookupKey(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return resolve(mapping.Content[i+1])
		}
	}
	return nil
}

func resolve(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

func isString(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.ShortTag() == "!!str"
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfigMalformed, fmt.Sprintf(format, args...))
}
