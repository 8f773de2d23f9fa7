package graph

import (
	"testing"
	"time"

	"github.com/spacegraph-dev/spacegraph/internal/core"
)

func mkProc(pid int32) core.Node {
	return core.NewProcessNode(core.ProcessNode{ID: core.IDProcess("h", pid), Pid: pid, Exe: "/bin/x"})
}

func mkFile(path string) core.Node {
	return core.NewFileNode(core.FileNode{ID: core.IDFile("h", path), Path: path, Kind: core.FileKindRegular})
}

func TestUpsertEdgeIsIdempotentOnRawSet(t *testing.T) {
	m := NewGraphModel()
	now := time.Now()
	p := mkProc(1)
	f := mkFile("/etc/hosts")
	m.UpsertNode(p, now)
	m.UpsertNode(f, now)

	e := core.Edge{From: p.ID(), To: f.ID(), Kind: core.Opens(3, core.FdModeRead)}
	m.UpsertEdge(e, now)
	m.UpsertEdge(e, now.Add(time.Second))
	m.UpsertEdge(e, now.Add(2*time.Second))

	aggs := m.AggregatedEdges()
	if len(aggs) != 1 {
		t.Fatalf("expected 1 aggregated bucket, got %d: %+v", len(aggs), aggs)
	}
	if aggs[0].Count != 3 || aggs[0].LiveCount != 1 {
		t.Fatalf("expected count=3 live_count=1, got %+v", aggs[0])
	}
	if m.LiveEdgeCount() != 1 {
		t.Fatalf("expected 1 live raw edge (upserts of the same triple are idempotent), got %d", m.LiveEdgeCount())
	}
}

func TestRemoveEdgeDeletesAggBucketAtZero(t *testing.T) {
	m := NewGraphModel()
	now := time.Now()
	p, f := mkProc(1), mkFile("/etc/hosts")
	m.UpsertNode(p, now)
	m.UpsertNode(f, now)
	e := core.Edge{From: p.ID(), To: f.ID(), Kind: core.Execs()}
	m.UpsertEdge(e, now)

	if !m.RemoveEdge(e) {
		t.Fatal("expected RemoveEdge to find and remove the edge")
	}
	aggs := m.AggregatedEdges()
	if len(aggs) != 0 {
		t.Fatalf("expected the agg bucket to be deleted once live_count reaches 0, got %+v", aggs)
	}
	if m.LiveEdgeCount() != 0 {
		t.Fatalf("expected 0 live raw edges, got %d", m.LiveEdgeCount())
	}
}

func TestRemoveNodeRemovesIncidentEdgesAndReturnsThem(t *testing.T) {
	m := NewGraphModel()
	now := time.Now()
	p, f, u := mkProc(1), mkFile("/etc/hosts"), core.NewUserNode(core.UserNode{ID: core.IDUser("h", 0), Uid: 0, Name: "root"})
	m.UpsertNode(p, now)
	m.UpsertNode(f, now)
	m.UpsertNode(u, now)
	m.UpsertEdge(core.Edge{From: p.ID(), To: f.ID(), Kind: core.Execs()}, now)
	m.UpsertEdge(core.Edge{From: p.ID(), To: u.ID(), Kind: core.RunsAs()}, now)

	removed := m.RemoveNode(p.ID())
	if len(removed) != 2 {
		t.Fatalf("expected 2 removed edges, got %d: %+v", len(removed), removed)
	}
	if _, ok := m.Node(p.ID()); ok {
		t.Fatal("expected process node to be gone")
	}
	if m.LiveEdgeCount() != 0 {
		t.Fatalf("expected 0 live edges after removing the only endpoint shared by both, got %d", m.LiveEdgeCount())
	}
	if m.Degree(f.ID()) != 0 {
		t.Fatalf("expected file node to have degree 0 after its only edge's process was removed, got %d", m.Degree(f.ID()))
	}
}

func TestNeighborsIsBidirectional(t *testing.T) {
	m := NewGraphModel()
	now := time.Now()
	p, f := mkProc(1), mkFile("/etc/hosts")
	m.UpsertNode(p, now)
	m.UpsertNode(f, now)
	m.UpsertEdge(core.Edge{From: p.ID(), To: f.ID(), Kind: core.Execs()}, now)

	pn := m.Neighbors(p.ID())
	fn := m.Neighbors(f.ID())
	if len(pn) != 1 || pn[0] != f.ID() {
		t.Fatalf("got %v", pn)
	}
	if len(fn) != 1 || fn[0] != p.ID() {
		t.Fatalf("got %v", fn)
	}
}

func TestOpensEdgesWithDifferentFdsShareAggBucketButStayDistinctRaw(t *testing.T) {
	m := NewGraphModel()
	now := time.Now()
	p, f := mkProc(1), mkFile("/etc/hosts")
	m.UpsertNode(p, now)
	m.UpsertNode(f, now)
	m.UpsertEdge(core.Edge{From: p.ID(), To: f.ID(), Kind: core.Opens(3, core.FdModeRead)}, now)
	m.UpsertEdge(core.Edge{From: p.ID(), To: f.ID(), Kind: core.Opens(4, core.FdModeWrite)}, now)

	aggs := m.AggregatedEdges()
	if len(aggs) != 1 {
		t.Fatalf("expected 1 aggregation bucket keyed by class only, got %d: %+v", len(aggs), aggs)
	}
	if aggs[0].Count != 2 || aggs[0].LiveCount != 2 {
		t.Fatalf("expected count=2 live_count=2, got %+v", aggs[0])
	}
	if m.LiveEdgeCount() != 2 {
		t.Fatalf("expected 2 distinct raw edges (different fds), got %d", m.LiveEdgeCount())
	}
}
