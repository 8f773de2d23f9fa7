package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ViewerConfig is the optional ~/.spacegraph/viewer.yaml file.
type ViewerConfig struct {
	SocketPath  string `yaml:"socket_path,omitempty"`
	LogLevel    string `yaml:"log_level,omitempty"`
	LogFile     string `yaml:"log_file,omitempty"`
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	LayoutForce              *bool    `yaml:"layout_force,omitempty"`
	LinkDistance             *float64 `yaml:"link_distance,omitempty"`
	Repulsion                *float64 `yaml:"repulsion,omitempty"`
	Damping                  *float64 `yaml:"damping,omitempty"`
	MaxStep                  *float64 `yaml:"max_step,omitempty"`
	Radius                   *float64 `yaml:"radius,omitempty"`
	MaxVisibleNodes          *int     `yaml:"max_visible_nodes,omitempty"`
	ProgressiveNodesPerFrame *int     `yaml:"progressive_nodes_per_frame,omitempty"`
	GCEnabled                *bool    `yaml:"gc_enabled,omitempty"`
}

func LoadViewerConfig(path string) (*ViewerConfig, error) {
	cfg := &ViewerConfig{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

func DefaultViewerConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "viewer.yaml"
	}
	return filepath.Join(home, ".spacegraph", "viewer.yaml")
}
