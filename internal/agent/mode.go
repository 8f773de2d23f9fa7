// Package agent holds the types shared across the agent's sub-packages
// (pathpolicy, procfs, snapshot, watchfs, watchproc, bus, server) that
// don't belong to any single one of them.
package agent

import "fmt"

// Mode selects how aggressively the agent inspects other users'
// processes and files. User mode only has visibility into the
// operator's own account; Privileged mode (normally run as root) can
// see everything /proc and the filesystem expose.
type Mode string

const (
	ModeUser       Mode = "user"
	ModePrivileged Mode = "privileged"
)

// ParseMode validates a --mode flag value.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeUser:
		return ModeUser, nil
	case ModePrivileged:
		return ModePrivileged, nil
	default:
		return "", fmt.Errorf("agent: invalid mode %q (want %q or %q)", s, ModeUser, ModePrivileged)
	}
}

// DefaultIncludes returns the stock watch roots for a mode. Both modes
// watch the same three directories; the difference between modes is in
// exclusions and in how much of /proc is visible, not in includes.
func DefaultIncludes(mode Mode) []string {
	return []string{"/etc", "/home", "/var"}
}

// DefaultExcludes returns the stock exclusion list for a mode. Both
// modes exclude the volatile kernel-exposed trees; User mode also
// excludes /run and the CNI bookkeeping directory, both of which churn
// constantly under container runtimes and are rarely actionable signal
// for an unprivileged viewer.
func DefaultExcludes(mode Mode) []string {
	excludes := []string{"/proc", "/sys", "/dev"}
	if mode == ModeUser {
		excludes = append(excludes, "/run", "/etc/cni/net.d")
	}
	return excludes
}

// ShouldWarnPrivilegedWithoutRoot reports whether the agent was asked to
// run in Privileged mode but the process euid suggests it won't actually
// have the access that mode implies.
func ShouldWarnPrivilegedWithoutRoot(mode Mode, euid int) bool {
	return mode == ModePrivileged && euid != 0
}
