package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spacegraph-dev/spacegraph/internal/agent"
)

func TestLoadAgentConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadAgentConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != "" || cfg.NodeID != "" {
		t.Fatalf("expected zero-value config, got %+v", cfg)
	}
}

func TestLoadAgentConfigParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	body := "mode: privileged\nnode_id: host1\nincludes:\n  - /etc\n  - /home\nexcludes:\n  - /proc\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadAgentConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != "privileged" || cfg.NodeID != "host1" {
		t.Fatalf("got %+v", cfg)
	}
	if len(cfg.Includes) != 2 || len(cfg.Excludes) != 1 {
		t.Fatalf("got %+v", cfg)
	}
}

func TestSocketPathPrefersOverrideThenXDGThenTmp(t *testing.T) {
	if got := SocketPath("/custom.sock"); got != "/custom.sock" {
		t.Fatalf("got %q", got)
	}

	old := os.Getenv("XDG_RUNTIME_DIR")
	os.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	t.Cleanup(func() { os.Setenv("XDG_RUNTIME_DIR", old) })
	if got := SocketPath(""); got != "/run/user/1000/spacegraph.sock" {
		t.Fatalf("got %q", got)
	}

	os.Unsetenv("XDG_RUNTIME_DIR")
	got := SocketPath("")
	if filepath.Dir(got) != "/tmp" {
		t.Fatalf("expected fallback under /tmp, got %q", got)
	}
}

func TestNodeIDPrefersOverrideThenEnvThenHostname(t *testing.T) {
	if got := NodeID("explicit"); got != "explicit" {
		t.Fatalf("got %q", got)
	}

	old := os.Getenv("SPACEGRAPH_NODE_ID")
	os.Setenv("SPACEGRAPH_NODE_ID", "from-env")
	t.Cleanup(func() { os.Setenv("SPACEGRAPH_NODE_ID", old) })
	if got := NodeID(""); got != "from-env" {
		t.Fatalf("got %q", got)
	}

	os.Unsetenv("SPACEGRAPH_NODE_ID")
	if host, err := os.Hostname(); err == nil && host != "" {
		if got := NodeID(""); got != host {
			t.Fatalf("expected hostname %q, got %q", host, got)
		}
	}
}

func TestEffectiveIncludesExcludesFallBackToModeDefaults(t *testing.T) {
	if got := EffectiveIncludes(agent.ModeUser, nil); len(got) == 0 {
		t.Fatal("expected mode defaults when nothing configured")
	}
	if got := EffectiveIncludes(agent.ModeUser, []string{"/x"}); len(got) != 1 || got[0] != "/x" {
		t.Fatalf("got %v", got)
	}
	if got := EffectiveExcludes(agent.ModeUser, nil); len(got) == 0 {
		t.Fatal("expected mode default excludes when nothing configured")
	}
	if got := EffectiveExcludes(agent.ModeUser, []string{"/y"}); len(got) != 1 || got[0] != "/y" {
		t.Fatalf("got %v", got)
	}
}
