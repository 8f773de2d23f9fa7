// Package config loads optional YAML configuration for the agent and
// viewer, layered under CLI flags (flags always win).
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// PathList is a list of filesystem paths. Each YAML entry may be a bare
// string ("/etc") or a single-key mapping ({path: /etc}), so a config
// file can start simple and grow per-path metadata later without a
// breaking format change.
type PathList []string

func (p *PathList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return fmt.Errorf("config: expected a YAML sequence for a path list, got kind %v", value.Kind)
	}
	out := make(PathList, 0, len(value.Content))
	for _, item := range value.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			out = append(out, item.Value)
		case yaml.MappingNode:
			var m struct {
				Path string `yaml:"path"`
			}
			if err := item.Decode(&m); err != nil {
				return fmt.Errorf("config: decode path list entry: %w", err)
			}
			if m.Path == "" {
				return fmt.Errorf("config: path list mapping entry missing \"path\" key")
			}
			out = append(out, m.Path)
		default:
			return fmt.Errorf("config: unsupported path list entry kind %v", item.Kind)
		}
	}
	*p = out
	return nil
}

func (p PathList) MarshalYAML() (any, error) {
	return []string(p), nil
}
