// Package snapshot builds the one-shot full graph the agent sends to
// each freshly connected viewer, by walking /proc once.
package snapshot

import (
	"log/slog"

	"github.com/spacegraph-dev/spacegraph/internal/agent/pathpolicy"
	"github.com/spacegraph-dev/spacegraph/internal/agent/procfs"
	"github.com/spacegraph-dev/spacegraph/internal/core"
)

// Result is the full node/edge set as of one point in time.
type Result struct {
	Nodes []core.Node
	Edges []core.Edge
}

// shouldKeepPath mirrors the original agent's filter: only paths that
// look like real filesystem paths are worth a File node. Pseudo-targets
// like "socket:[123]" or "pipe:[456]" are skipped entirely rather than
// rendered as unresolvable files.
func shouldKeepPath(path string) bool {
	return len(path) > 0 && path[0] == '/'
}

// Build walks every process currently visible under /proc and returns
// the Process/File/User nodes and Opens/Execs/RunsAs edges they imply,
// restricted to paths policy admits. log receives one debug summary of
// the scan; a process, fd or flags read that fails for any reason
// (raced away or permission denied) is skipped without being logged.
func Build(nodeID string, policy *pathpolicy.Policy, log *slog.Logger) (Result, error) {
	passwd, err := procfs.ParsePasswd()
	if err != nil {
		return Result{}, err
	}

	var res Result
	seenUsers := make(map[uint32]bool)
	seenFiles := make(map[string]bool)

	addUser := func(uid uint32) core.NodeId {
		id := core.IDUser(nodeID, uid)
		if seenUsers[uid] {
			return id
		}
		seenUsers[uid] = true
		name, ok := passwd[uid]
		if !ok {
			name = "<unknown>"
		}
		res.Nodes = append(res.Nodes, core.NewUserNode(core.UserNode{ID: id, Uid: uid, Name: name}))
		return id
	}

	addFile := func(path string) (core.NodeId, bool) {
		if !shouldKeepPath(path) || !policy.ShouldWatch(path) {
			return "", false
		}
		id := core.IDFile(nodeID, path)
		if seenFiles[path] {
			return id, true
		}
		seenFiles[path] = true
		res.Nodes = append(res.Nodes, core.NewFileNode(core.FileNode{ID: id, Path: path, Kind: procfs.FileKindFromPath(path)}))
		return id, true
	}

	pids, err := procfs.ListPids()
	if err != nil {
		return Result{}, err
	}

	for _, pid := range pids {
		info, err := procfs.ReadProcess(pid)
		if err != nil {
			// Process likely exited mid-scan; not worth logging.
			continue
		}
		procID := core.IDProcess(nodeID, pid)
		res.Nodes = append(res.Nodes, core.NewProcessNode(core.ProcessNode{
			ID: procID, Pid: pid, Exe: info.Exe, Cmdline: info.Cmdline, Uid: info.Uid,
		}))

		userID := addUser(info.Uid)
		res.Edges = append(res.Edges, core.Edge{From: procID, To: userID, Kind: core.RunsAs()})

		if info.Exe != "<unknown>" {
			if exeID, ok := addFile(info.Exe); ok {
				res.Edges = append(res.Edges, core.Edge{From: procID, To: exeID, Kind: core.Execs()})
			}
		}

		addFdEdges(procID, pid, addFile, &res)
	}

	log.Debug("snapshot built", "nodes", len(res.Nodes), "edges", len(res.Edges))
	return res, nil
}

// addFdEdges attaches one Opens edge per open, path-shaped file
// descriptor a process holds.
func addFdEdges(procID core.NodeId, pid int32, addFile func(string) (core.NodeId, bool), res *Result) {
	fds, err := procfs.OpenFds(pid)
	if err != nil {
		return
	}
	for fd, target := range fds {
		fileID, ok := addFile(target)
		if !ok {
			continue
		}
		flags, err := procfs.FdFlags(pid, fd)
		mode := core.FdModeUnknown
		if err == nil {
			mode = procfs.FdMode(flags)
		}
		res.Edges = append(res.Edges, core.Edge{From: procID, To: fileID, Kind: core.Opens(fd, mode)})
	}
}
