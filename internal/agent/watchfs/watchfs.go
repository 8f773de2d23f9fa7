// Package watchfs watches policy-selected directories for file
// create/write/remove activity and coalesces bursts of events into
// batched graph deltas.
package watchfs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/spacegraph-dev/spacegraph/internal/agent/pathpolicy"
	"github.com/spacegraph-dev/spacegraph/internal/agent/procfs"
	"github.com/spacegraph-dev/spacegraph/internal/core"
)

// CoalesceWindow is how long pending per-path changes are batched before
// being flushed as a single set of deltas. Chosen so a burst of editor
// writes (write, rename-to-backup, write again) to the same path
// collapses into one visible change instead of a storm of glow events.
const CoalesceWindow = 250 * time.Millisecond

// pendingOp is the last-seen classification for a path within the
// current coalescing window. Later events overwrite earlier ones, so a
// remove followed by a later create is reported as a create: "remove
// dominates" only because it's usually the last event seen, not as a
// rule in its own right.
type pendingOp int

const (
	opUpsert pendingOp = iota
	opRemove
)

// Watcher recursively registers directories under policy-admitted roots
// with fsnotify (which itself only watches one level at a time) and
// coalesces raw events into batches of core.Delta.
type Watcher struct {
	nodeID string
	policy *pathpolicy.Policy
	fsw    *fsnotify.Watcher
	log    *slog.Logger

	mu          sync.Mutex
	pending     map[string]pendingOp
	watchedDirs map[string]bool

	nextBatchID uint64

	warnedOnce map[string]bool
}

// New creates a Watcher and registers roots (and their subdirectories)
// that policy admits.
func New(nodeID string, policy *pathpolicy.Policy, roots []string, log *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watchfs: create fsnotify watcher: %w", err)
	}
	w := &Watcher{
		nodeID:      nodeID,
		policy:      policy,
		fsw:         fsw,
		log:         log,
		pending:     make(map[string]pendingOp),
		watchedDirs: make(map[string]bool),
		nextBatchID: 10000,
		warnedOnce:  make(map[string]bool),
	}
	for _, root := range roots {
		w.registerTree(root)
	}
	return w, nil
}

// registerTree walks dir recursively, registering every subdirectory
// that policy admits. A directory policy rejects is skipped entirely
// (fsnotify.ErrSkipDir-equivalent via filepath.SkipDir).
func (w *Watcher) registerTree(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsPermission(err) {
				w.warnOnce(path, "permission denied walking path")
				return filepath.SkipDir
			}
			return nil //nolint:nilerr // best-effort walk, keep going
		}
		if !d.IsDir() {
			return nil
		}
		if !w.policy.ShouldWatch(path) {
			return filepath.SkipDir
		}
		w.registerDir(path)
		return nil
	})
}

func (w *Watcher) registerDir(path string) {
	w.mu.Lock()
	already := w.watchedDirs[path]
	w.mu.Unlock()
	if already {
		return
	}
	if err := w.fsw.Add(path); err != nil {
		if os.IsPermission(err) {
			w.warnOnce(path, "permission denied watching directory")
			return
		}
		w.log.Warn("watchfs: add watch failed", "path", path, "err", err)
		return
	}
	w.mu.Lock()
	w.watchedDirs[path] = true
	w.mu.Unlock()
}

func (w *Watcher) warnOnce(path, msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.warnedOnce[path] {
		return
	}
	w.warnedOnce[path] = true
	w.log.Warn("watchfs: " + msg, "path", path)
}

// Run consumes fsnotify events until ctx is cancelled, sending coalesced
// batches of deltas to out. Run owns out and closes it on return.
func (w *Watcher) Run(ctx context.Context, out chan<- []core.Delta) {
	defer close(out)
	defer w.fsw.Close()

	ticker := time.NewTicker(CoalesceWindow)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watchfs: fsnotify error", "err", err)
		case <-ticker.C:
			w.flush(out)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !w.policy.ShouldWatch(ev.Name) {
		return
	}

	if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.registerDir(ev.Name)
		}
	}

	w.mu.Lock()
	switch {
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.pending[ev.Name] = opRemove
	case ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Chmod) != 0:
		w.pending[ev.Name] = opUpsert
	}
	w.mu.Unlock()
}

func (w *Watcher) flush(out chan<- []core.Delta) {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	pending := w.pending
	w.pending = make(map[string]pendingOp)
	batchID := w.nextBatchID
	w.nextBatchID++
	w.mu.Unlock()

	deltas := make([]core.Delta, 0, len(pending)+2)
	deltas = append(deltas, core.BatchBegin(batchID))
	for path, op := range pending {
		id := core.IDFile(w.nodeID, path)
		switch op {
		case opUpsert:
			deltas = append(deltas, core.UpsertNode(core.NewFileNode(core.FileNode{
				ID: id, Path: path, Kind: procfs.FileKindFromPath(path),
			})))
		case opRemove:
			deltas = append(deltas, core.RemoveNode(id))
		}
	}
	deltas = append(deltas, core.BatchEnd(batchID))

	select {
	case out <- deltas:
	default:
		w.log.Warn("watchfs: dropped coalesced batch, consumer not keeping up", "batch_id", batchID, "paths", len(pending))
	}
}
