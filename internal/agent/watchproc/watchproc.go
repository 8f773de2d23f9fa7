// Package watchproc polls /proc for process creation/exit and emits
// batched graph deltas. It intentionally does cheap work per tick: a
// directory listing and a set diff, not a full process read, which the
// snapshot builder already covers at connect time.
package watchproc

import (
	"context"
	"log/slog"
	"time"

	"github.com/spacegraph-dev/spacegraph/internal/agent/procfs"
	"github.com/spacegraph-dev/spacegraph/internal/core"
)

// PollInterval is how often /proc is re-listed.
const PollInterval = 750 * time.Millisecond

// PasswdRefreshEvery is how many ticks elapse between /etc/passwd
// re-reads. The re-read only checks that the file is still readable (a
// failure is logged); the parsed map is discarded, and no User nodes are
// emitted from it.
const PasswdRefreshEvery = 80

// Watcher tracks which pids are currently alive and reports the diff
// each tick as a batch of UpsertNode/RemoveNode deltas.
type Watcher struct {
	nodeID string
	log    *slog.Logger

	known       map[int32]bool
	nextBatchID uint64
}

func New(nodeID string, log *slog.Logger) *Watcher {
	return &Watcher{
		nodeID:      nodeID,
		log:         log,
		known:       make(map[int32]bool),
		nextBatchID: 10000,
	}
}

// Run polls until ctx is cancelled, sending one batch per tick that saw
// a change. Run owns out and closes it on return.
func (w *Watcher) Run(ctx context.Context, out chan<- []core.Delta) {
	defer close(out)

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			if tick%PasswdRefreshEvery == 0 {
				if _, err := procfs.ParsePasswd(); err != nil {
					w.log.Warn("watchproc: re-read passwd failed", "err", err)
				}
			}
			w.pollOnce(out)
		}
	}
}

func (w *Watcher) pollOnce(out chan<- []core.Delta) {
	pids, err := procfs.ListPids()
	if err != nil {
		w.log.Warn("watchproc: list pids failed", "err", err)
		return
	}

	seen := make(map[int32]bool, len(pids))
	var deltas []core.Delta

	for _, pid := range pids {
		seen[pid] = true
		if w.known[pid] {
			continue
		}
		w.known[pid] = true
		deltas = append(deltas, core.UpsertNode(placeholderProcess(w.nodeID, pid)))
	}

	for pid := range w.known {
		if seen[pid] {
			continue
		}
		delete(w.known, pid)
		deltas = append(deltas, core.RemoveNode(core.IDProcess(w.nodeID, pid)))
	}

	if len(deltas) == 0 {
		return
	}

	batchID := w.nextBatchID
	w.nextBatchID++
	batch := make([]core.Delta, 0, len(deltas)+2)
	batch = append(batch, core.BatchBegin(batchID))
	batch = append(batch, deltas...)
	batch = append(batch, core.BatchEnd(batchID))

	select {
	case out <- batch:
	default:
		w.log.Warn("watchproc: dropped batch, consumer not keeping up", "batch_id", batchID, "deltas", len(deltas))
	}
}

// placeholderProcess is the minimal node emitted for a pid the watcher
// has only just noticed. The watcher never reads the process's
// exe/cmdline/uid; only a viewer that connects later gets them, from
// its full snapshot.
func placeholderProcess(nodeID string, pid int32) core.Node {
	return core.NewProcessNode(core.ProcessNode{
		ID:      core.IDProcess(nodeID, pid),
		Pid:     pid,
		Exe:     "<unknown>",
		Cmdline: "<new>",
		Uid:     0,
	})
}
