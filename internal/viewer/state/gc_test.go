package state

import (
	"testing"
	"time"

	"github.com/spacegraph-dev/spacegraph/internal/core"
)

func TestGCRemovesOrphanFileAfterTTL(t *testing.T) {
	st := New()
	fileID := core.IDFile("h", "/tmp/test")
	now := time.Now()

	st.Model.UpsertNode(core.NewFileNode(core.FileNode{ID: fileID, Path: "/tmp/test", Kind: core.FileKindRegular}), now.Add(-10*time.Second))
	st.Cfg.GCTTL = 5 * time.Second
	st.Perf.GCLastRun = now.Add(-st.Cfg.GCInterval - time.Millisecond)

	st.TickGC(now)

	if _, ok := st.Model.Node(fileID); ok {
		t.Fatal("expected the orphaned, stale file node to be removed")
	}
}

func TestGCSkipsWhenBelowTTL(t *testing.T) {
	st := New()
	fileID := core.IDFile("h", "/tmp/fresh")
	now := time.Now()

	st.Model.UpsertNode(core.NewFileNode(core.FileNode{ID: fileID, Path: "/tmp/fresh", Kind: core.FileKindRegular}), now)
	st.Cfg.GCTTL = 30 * time.Second
	st.Perf.GCLastRun = now.Add(-st.Cfg.GCInterval - time.Millisecond)

	st.TickGC(now)

	if _, ok := st.Model.Node(fileID); !ok {
		t.Fatal("expected a recently-touched orphan to survive GC")
	}
}

func TestGCSkipsNonOrphanFiles(t *testing.T) {
	st := New()
	now := time.Now()
	fileID := core.IDFile("h", "/tmp/open")
	procID := core.IDProcess("h", 1)

	st.Model.UpsertNode(core.NewFileNode(core.FileNode{ID: fileID, Path: "/tmp/open", Kind: core.FileKindRegular}), now.Add(-time.Minute))
	st.Model.UpsertNode(core.NewProcessNode(core.ProcessNode{ID: procID, Pid: 1}), now)
	st.Model.UpsertEdge(core.Edge{From: procID, To: fileID, Kind: core.Opens(3, core.FdModeRead)}, now)

	st.Cfg.GCTTL = 5 * time.Second
	st.Perf.GCLastRun = now.Add(-st.Cfg.GCInterval - time.Millisecond)

	st.TickGC(now)

	if _, ok := st.Model.Node(fileID); !ok {
		t.Fatal("expected a file with a live edge to survive GC regardless of age")
	}
}

func TestGCRespectsDisabledFlag(t *testing.T) {
	st := New()
	now := time.Now()
	fileID := core.IDFile("h", "/tmp/test")
	st.Model.UpsertNode(core.NewFileNode(core.FileNode{ID: fileID, Path: "/tmp/test", Kind: core.FileKindRegular}), now.Add(-time.Hour))
	st.Cfg.GCEnabled = false
	st.Cfg.GCTTL = time.Second
	st.Perf.GCLastRun = now.Add(-st.Cfg.GCInterval - time.Millisecond)

	st.TickGC(now)

	if _, ok := st.Model.Node(fileID); !ok {
		t.Fatal("expected GC to be a no-op while disabled")
	}
}

func TestTickGlowDropsExpiredEntries(t *testing.T) {
	st := New()
	now := time.Now()
	id := core.IDFile("h", "/tmp/glow")
	st.Spatial.GlowNodes[id] = now.Add(-time.Millisecond)

	other := core.IDFile("h", "/tmp/still-glowing")
	st.Spatial.GlowNodes[other] = now.Add(time.Hour)

	st.TickGlow(now)

	if st.NodeIsGlowing(id) {
		t.Fatal("expected the expired glow entry to be dropped")
	}
	if !st.NodeIsGlowing(other) {
		t.Fatal("expected the still-active glow entry to survive")
	}
}
