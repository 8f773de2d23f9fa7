package procfs

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/spacegraph-dev/spacegraph/internal/core"
)

func withFixtureProcRoot(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old := Root
	Root = dir
	t.Cleanup(func() { Root = old })
	return dir
}

func TestListPidsIgnoresNonNumericEntries(t *testing.T) {
	dir := withFixtureProcRoot(t)
	for _, name := range []string{"1", "42", "self", "net", "1000"} {
		if err := os.Mkdir(filepath.Join(dir, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	pids, err := ListPids()
	if err != nil {
		t.Fatal(err)
	}
	got := map[int32]bool{}
	for _, p := range pids {
		got[p] = true
	}
	for _, want := range []int32{1, 42, 1000} {
		if !got[want] {
			t.Fatalf("expected pid %d in %v", want, pids)
		}
	}
	if len(pids) != 3 {
		t.Fatalf("expected exactly 3 numeric pids, got %v", pids)
	}
}

func TestFileKindFromPath(t *testing.T) {
	cases := map[string]core.FileKind{
		"socket:[12345]": core.FileKindSocket,
		"pipe:[6789]":    core.FileKindPipe,
		"/dev/null":      core.FileKindDevice,
		"/etc/hosts":     core.FileKindRegular,
		"anon_inode:foo": core.FileKindUnknown,
	}
	for path, want := range cases {
		if got := FileKindFromPath(path); got != want {
			t.Errorf("FileKindFromPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestFdMode(t *testing.T) {
	if got := FdMode(unix.O_RDONLY); got != core.FdModeRead {
		t.Errorf("O_RDONLY: got %q", got)
	}
	if got := FdMode(unix.O_WRONLY); got != core.FdModeWrite {
		t.Errorf("O_WRONLY: got %q", got)
	}
	if got := FdMode(unix.O_RDWR); got != core.FdModeReadWrite {
		t.Errorf("O_RDWR: got %q", got)
	}
}

func TestFdFlagsParsesOctalAndDecimal(t *testing.T) {
	dir := withFixtureProcRoot(t)
	mustWriteFdinfo := func(pid, fd int32, body string) {
		p := filepath.Join(dir, strconv.Itoa(int(pid)), "fdinfo")
		if err := os.MkdirAll(p, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(p, strconv.Itoa(int(fd))), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	mustWriteFdinfo(1, 3, "pos:\t0\nflags:\t0102\n")
	mustWriteFdinfo(1, 4, "pos:\t0\nflags:\t2\n")

	got, err := FdFlags(1, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0o102 {
		t.Errorf("octal flags: got %o want %o", got, 0o102)
	}

	got, err = FdFlags(1, 4)
	if err != nil {
		t.Fatal(err)
	}
	if got != 2 {
		t.Errorf("decimal flags: got %d want %d", got, 2)
	}
}

func TestParsePasswd(t *testing.T) {
	dir := t.TempDir()
	passwdPath := filepath.Join(dir, "passwd")
	body := "root:x:0:0:root:/root:/bin/bash\nalice:x:1000:1000:Alice:/home/alice:/bin/bash\n# comment\n\n"
	if err := os.WriteFile(passwdPath, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	old := PasswdPath
	PasswdPath = passwdPath
	t.Cleanup(func() { PasswdPath = old })

	got, err := ParsePasswd()
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != "root" || got[1000] != "alice" {
		t.Fatalf("got %v", got)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries (comment/blank skipped), got %d", len(got))
	}
}

func TestParsePasswdPermissionDeniedYieldsEmptyMap(t *testing.T) {
	dir := t.TempDir()
	passwdPath := filepath.Join(dir, "passwd")
	if err := os.WriteFile(passwdPath, []byte("root:x:0:0:root:/root:/bin/bash\n"), 0o000); err != nil {
		t.Fatal(err)
	}
	if os.Geteuid() == 0 {
		t.Skip("running as root: permission bits do not apply")
	}
	old := PasswdPath
	PasswdPath = passwdPath
	t.Cleanup(func() { PasswdPath = old })

	got, err := ParsePasswd()
	if err != nil {
		t.Fatalf("expected nil error on permission denied, got %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty map, got %v", got)
	}
}
