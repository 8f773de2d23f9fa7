package config

import (
	"testing"

	"gopkg.in/yaml.v3"
)

type pathListHolder struct {
	Paths PathList `yaml:"paths"`
}

func mustUnmarshalPaths(t *testing.T, input string) PathList {
	t.Helper()
	var h pathListHolder
	if err := yaml.Unmarshal([]byte(input), &h); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return h.Paths
}

func TestPathListUnmarshalMixedScalarsAndMappings(t *testing.T) {
	got := mustUnmarshalPaths(t, "paths:\n  - /etc\n  - path: /home\n")
	if len(got) != 2 {
		t.Fatalf("expected 2 paths, got %d: %v", len(got), got)
	}
	if got[0] != "/etc" || got[1] != "/home" {
		t.Fatalf("got %v", got)
	}
}

func TestPathListMarshalRoundTrip(t *testing.T) {
	h := pathListHolder{Paths: PathList{"/etc", "/home", "/var"}}
	data, err := yaml.Marshal(h)
	if err != nil {
		t.Fatal(err)
	}
	var back pathListHolder
	if err := yaml.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if len(back.Paths) != 3 || back.Paths[0] != "/etc" {
		t.Fatalf("got %v", back.Paths)
	}
}

func TestPathListRejectsNonSequence(t *testing.T) {
	var h pathListHolder
	err := yaml.Unmarshal([]byte("paths: /etc\n"), &h)
	if err == nil {
		t.Fatal("expected an error for a scalar where a sequence was required")
	}
}
