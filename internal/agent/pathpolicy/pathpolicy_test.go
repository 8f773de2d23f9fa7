package pathpolicy

import "testing"

func TestExcludesOverrideIncludes(t *testing.T) {
	p := New([]string{"/etc"}, []string{"/etc/cni"})
	if p.ShouldWatch("/etc/cni/net.d/10-flannel.conf") {
		t.Fatal("exclude should override an overlapping include")
	}
	if !p.ShouldWatch("/etc/hosts") {
		t.Fatal("path under the include but not the exclude should still watch")
	}
}

func TestDefaultIncludesEmptyMeansAllExceptExcludes(t *testing.T) {
	p := New(nil, []string{"/proc", "/sys"})
	if !p.ShouldWatch("/home/alice/.bashrc") {
		t.Fatal("empty includes should watch everything not excluded")
	}
	if p.ShouldWatch("/proc/1/status") {
		t.Fatal("excluded path should never watch even with empty includes")
	}
}

func TestPrefixMatchingWorks(t *testing.T) {
	p := New([]string{"/var/log"}, nil)
	if !p.ShouldWatch("/var/log/syslog") {
		t.Fatal("path under an include prefix should watch")
	}
	if p.ShouldWatch("/var/logrotate.conf") {
		t.Fatal("prefix match must respect path component boundaries")
	}
	if p.ShouldWatch("/var/local/foo") {
		t.Fatal("unrelated sibling path should not watch")
	}
}

func TestCanonicalizeBestEffortKeepsNonexistentPaths(t *testing.T) {
	p := New([]string{"/this/path/does/not/exist/on/disk"}, nil)
	if !p.ShouldWatch("/this/path/does/not/exist/on/disk/child") {
		t.Fatal("nonexistent include path should be kept as-is and still match its children")
	}
}

func TestRelativeExcludesMatchByComponent(t *testing.T) {
	p := New(nil, []string{"node_modules"})
	if p.ShouldWatch("/home/alice/project/node_modules/left-pad/index.js") {
		t.Fatal("relative exclude should match anywhere in the path by component")
	}
	if !p.ShouldWatch("/home/alice/project/src/index.js") {
		t.Fatal("path without the excluded component should still watch")
	}
}

func TestIsIncludedAndIsExcludedDirectly(t *testing.T) {
	p := New([]string{"/etc", "/home"}, []string{"/etc/shadow"})
	if !p.IsIncluded("/home/bob") {
		t.Fatal("expected /home/bob to be included")
	}
	if p.IsIncluded("/tmp/foo") {
		t.Fatal("did not expect /tmp/foo to be included")
	}
	if !p.IsExcluded("/etc/shadow") {
		t.Fatal("expected /etc/shadow to be excluded")
	}
}
