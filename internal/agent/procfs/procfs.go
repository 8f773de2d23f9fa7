// Package procfs reads process, file-descriptor, and account information
// out of /proc and /etc/passwd for the snapshot builder and the process
// watcher.
package procfs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/spacegraph-dev/spacegraph/internal/core"
)

// Root is the /proc mount point. A field (not a constant) so tests can
// point it at a fixture tree.
var Root = "/proc"

// ListPids lists every process currently visible under Root by reading
// its numeric-named entries, the same approach the original watcher uses
// instead of a syscall-level process enumeration.
func ListPids() ([]int32, error) {
	entries, err := os.ReadDir(Root)
	if err != nil {
		return nil, fmt.Errorf("procfs: read %s: %w", Root, err)
	}
	pids := make([]int32, 0, len(entries))
	for _, e := range entries {
		pid, err := strconv.ParseInt(e.Name(), 10, 32)
		if err != nil {
			continue
		}
		pids = append(pids, int32(pid))
	}
	return pids, nil
}

// ProcessInfo is the subset of /proc/<pid>/* fields the graph cares
// about.
type ProcessInfo struct {
	Pid     int32
	Exe     string
	Cmdline string
	Uid     uint32
}

// ReadProcess reads exe, cmdline, and owning uid for pid. A process that
// exits mid-read (common under /proc) returns an error the caller should
// treat as "process is gone", not a fatal condition.
func ReadProcess(pid int32) (ProcessInfo, error) {
	dir := filepath.Join(Root, strconv.Itoa(int(pid)))

	exe, err := os.Readlink(filepath.Join(dir, "exe"))
	if err != nil {
		exe = "<unknown>"
	}

	cmdlineRaw, err := os.ReadFile(filepath.Join(dir, "cmdline"))
	var cmdline string
	if err != nil || len(cmdlineRaw) == 0 {
		cmdline = "<unknown>"
	} else {
		cmdline = strings.ReplaceAll(strings.TrimRight(string(cmdlineRaw), "\x00"), "\x00", " ")
	}

	var st unix.Stat_t
	if err := unix.Stat(dir, &st); err != nil {
		return ProcessInfo{}, fmt.Errorf("procfs: stat %s: %w", dir, err)
	}

	return ProcessInfo{Pid: pid, Exe: exe, Cmdline: cmdline, Uid: st.Uid}, nil
}

// PasswdPath is the passwd file to read. A field (not a constant) so
// tests can point it at a fixture file.
var PasswdPath = "/etc/passwd"

// ParsePasswd reads PasswdPath into a uid -> username map. Permission
// denied (not expected on most systems, but possible in a locked-down
// container) yields an empty map and a nil error, so callers cannot tell
// it apart from an empty file and nothing is logged for it.
func ParsePasswd() (map[uint32]string, error) {
	f, err := os.Open(PasswdPath)
	if err != nil {
		if os.IsPermission(err) {
			return map[uint32]string{}, nil
		}
		return nil, fmt.Errorf("procfs: open %s: %w", PasswdPath, err)
	}
	defer f.Close()

	out := make(map[uint32]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 3 {
			continue
		}
		uid, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			continue
		}
		out[uint32(uid)] = fields[0]
	}
	return out, scanner.Err()
}

// FileKindFromPath classifies a path heuristically when no stat
// information is available, matching the original agent's fallback
// since a watched path may vanish before it can be stat'd.
func FileKindFromPath(path string) core.FileKind {
	switch {
	case strings.HasPrefix(path, "socket:"):
		return core.FileKindSocket
	case strings.HasPrefix(path, "pipe:"):
		return core.FileKindPipe
	case strings.HasPrefix(path, "/dev/"):
		return core.FileKindDevice
	case strings.HasPrefix(path, "/"):
		return core.FileKindRegular
	default:
		return core.FileKindUnknown
	}
}

// InodeForPath stats path and returns its inode number. No package in
// the agent calls it; File nodes are keyed by path alone.
func InodeForPath(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, fmt.Errorf("procfs: stat %s: %w", path, err)
	}
	return st.Ino, nil
}

// FdMode maps an open(2) access-mode flag (the low two bits of the fd's
// open flags) to the r/w/rw classification the graph displays.
func FdMode(flags int) core.FdMode {
	switch flags & 3 {
	case unix.O_RDONLY:
		return core.FdModeRead
	case unix.O_WRONLY:
		return core.FdModeWrite
	case unix.O_RDWR:
		return core.FdModeReadWrite
	default:
		return core.FdModeUnknown
	}
}

// FdFlags reads /proc/<pid>/fdinfo/<fd>'s "flags:" line and returns the
// raw flags value. The kernel writes it in octal in some fdinfo formats
// and decimal in others depending on arch/version, so both are tried.
func FdFlags(pid, fd int32) (int, error) {
	path := filepath.Join(Root, strconv.Itoa(int(pid)), "fdinfo", strconv.Itoa(int(fd)))
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("procfs: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		rest, ok := strings.CutPrefix(line, "flags:")
		if !ok {
			continue
		}
		rest = strings.TrimSpace(rest)
		if v, err := strconv.ParseInt(rest, 8, 64); err == nil {
			return int(v), nil
		}
		if v, err := strconv.ParseInt(rest, 10, 64); err == nil {
			return int(v), nil
		}
		return 0, fmt.Errorf("procfs: unparseable flags value %q in %s", rest, path)
	}
	return 0, fmt.Errorf("procfs: no flags line in %s", path)
}

// OpenFds lists a process's open file descriptors as fd -> target path
// (the symlink in /proc/<pid>/fd). Entries the kernel races away under
// us are silently skipped.
func OpenFds(pid int32) (map[int32]string, error) {
	dir := filepath.Join(Root, strconv.Itoa(int(pid)), "fd")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("procfs: read %s: %w", dir, err)
	}
	out := make(map[int32]string, len(entries))
	for _, e := range entries {
		fd, err := strconv.ParseInt(e.Name(), 10, 32)
		if err != nil {
			continue
		}
		target, err := os.Readlink(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		out[int32(fd)] = target
	}
	return out, nil
}
