package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/spacegraph-dev/spacegraph/internal/agent"
)

// AgentConfig is the optional ~/.spacegraph/agent.yaml file, layered
// under CLI flags. Every field has a sensible default so the file is
// entirely optional.
type AgentConfig struct {
	Mode        string   `yaml:"mode,omitempty"`
	NodeID      string   `yaml:"node_id,omitempty"`
	SocketPath  string   `yaml:"socket_path,omitempty"`
	Includes    PathList `yaml:"includes,omitempty"`
	Excludes    PathList `yaml:"excludes,omitempty"`
	LogLevel    string   `yaml:"log_level,omitempty"`
	LogFile     string   `yaml:"log_file,omitempty"`
	MetricsAddr string   `yaml:"metrics_addr,omitempty"`
}

// LoadAgentConfig reads path if it exists; a missing file returns a
// zero-value config and a nil error, matching how the original wing
// config treats an absent YAML file as "use defaults".
func LoadAgentConfig(path string) (*AgentConfig, error) {
	cfg := &AgentConfig{}
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

// DefaultAgentConfigPath is ~/.spacegraph/agent.yaml, best-effort
// (falls back to "agent.yaml" in the working directory if $HOME can't
// be resolved — a config file that can't be found just means defaults
// apply).
func DefaultAgentConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "agent.yaml"
	}
	return filepath.Join(home, ".spacegraph", "agent.yaml")
}

// SocketPath resolves the agent's Unix Domain Socket path: an explicit
// override wins, otherwise $XDG_RUNTIME_DIR/spacegraph.sock, falling
// back to /tmp/spacegraph-<uid>.sock so a non-systemd host still gets a
// stable, per-user path.
func SocketPath(override string) string {
	if override != "" {
		return override
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "spacegraph.sock")
	}
	return fmt.Sprintf("/tmp/spacegraph-%d.sock", os.Getuid())
}

// NodeID resolves the agent's node identifier: an explicit override
// wins, then $SPACEGRAPH_NODE_ID, then the OS hostname, then the
// literal "node" if even that fails.
func NodeID(override string) string {
	if override != "" {
		return override
	}
	if env := os.Getenv("SPACEGRAPH_NODE_ID"); env != "" {
		return env
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "node"
}

// EffectiveIncludes/EffectiveExcludes fall back to the mode's defaults
// when the config (and any CLI flags layered over it by the caller)
// left the list empty.
func EffectiveIncludes(mode agent.Mode, configured []string) []string {
	if len(configured) > 0 {
		return configured
	}
	return agent.DefaultIncludes(mode)
}

func EffectiveExcludes(mode agent.Mode, configured []string) []string {
	if len(configured) > 0 {
		return configured
	}
	return agent.DefaultExcludes(mode)
}
