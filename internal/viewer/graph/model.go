// Package graph holds the viewer's live copy of the agent's graph: the
// GraphModel (nodes, raw edges, aggregation index). The GraphState engine
// built on top of it lives in package state.
package graph

import (
	"fmt"
	"time"

	"github.com/spacegraph-dev/spacegraph/internal/core"
)

// aggKey identifies one aggregated-edge bucket. Buckets are keyed by
// class only: (from, to, kind) erases the fd/mode payload, so every
// Opens edge between the same two nodes shares one bucket regardless of
// which fd opened it. The fd/mode distinction lives in the raw edge set,
// not the aggregation index.
type aggKey struct {
	From core.NodeId
	To   core.NodeId
	Kind core.EdgeKindTag
}

func aggKeyFor(e core.Edge) aggKey {
	return aggKey{From: e.From, To: e.To, Kind: e.Kind.Kind}
}

// rawEdgeKey identifies one raw edge instance for dedup: Opens edges
// distinguish by fd (fd=-1 used as "not applicable" for Execs/RunsAs)
// since two different file descriptors opening the same file are
// different activity, not the same one repeated. Upserting the same
// (from, to, kind[, fd]) triple again is idempotent against this key.
type rawEdgeKey struct {
	From core.NodeId
	To   core.NodeId
	Kind core.EdgeKindTag
	Fd   int32
}

func rawKeyFor(e core.Edge) rawEdgeKey {
	fd := int32(-1)
	if e.Kind.Kind == core.EdgeKindOpens {
		fd = e.Kind.Fd
	}
	return rawEdgeKey{From: e.From, To: e.To, Kind: e.Kind.Kind, Fd: fd}
}

// edgeSlot is one raw edge instance still considered "live" (not yet
// individually removed).
type edgeSlot struct {
	edge core.Edge
	live bool
}

// GraphModel is the viewer's structural view of the graph: what nodes
// and edges currently exist, an adjacency index for neighbor/BFS
// queries, and an aggregation index summarizing repeated edges. It has
// no notion of layout, time, or UI selection — see GraphState for that.
type GraphModel struct {
	nodes map[core.NodeId]core.Node
	edges []edgeSlot
	// adjacency maps a node to the indices (into edges) of every edge
	// touching it, in either direction.
	adjacency map[core.NodeId][]int
	// rawIndex maps a raw edge's identity to its slot in edges, so a
	// repeated upsert of the same triple reuses that slot (marking it
	// live again if it was removed) instead of appending a duplicate.
	rawIndex map[rawEdgeKey]int
	agg      map[aggKey]*core.AggregatedEdge
	lastSeen map[core.NodeId]time.Time
}

func NewGraphModel() *GraphModel {
	return &GraphModel{
		nodes:     make(map[core.NodeId]core.Node),
		adjacency: make(map[core.NodeId][]int),
		rawIndex:  make(map[rawEdgeKey]int),
		agg:       make(map[aggKey]*core.AggregatedEdge),
		lastSeen:  make(map[core.NodeId]time.Time),
	}
}

func (m *GraphModel) Node(id core.NodeId) (core.Node, bool) {
	n, ok := m.nodes[id]
	return n, ok
}

func (m *GraphModel) NodeCount() int { return len(m.nodes) }

func (m *GraphModel) LiveEdgeCount() int {
	n := 0
	for _, s := range m.edges {
		if s.live {
			n++
		}
	}
	return n
}

// Nodes returns every node currently in the model, in no particular
// order; callers that need stable output should sort by id themselves.
func (m *GraphModel) Nodes() []core.Node {
	out := make([]core.Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n)
	}
	return out
}

// Each calls fn once per node currently in the model, in no particular
// order.
func (m *GraphModel) Each(fn func(id core.NodeId, n core.Node)) {
	for id, n := range m.nodes {
		fn(id, n)
	}
}

// Clear empties the model entirely (used when the viewer reconnects and
// needs to discard its prior view before loading a fresh snapshot).
func (m *GraphModel) Clear() {
	m.nodes = make(map[core.NodeId]core.Node)
	m.edges = nil
	m.adjacency = make(map[core.NodeId][]int)
	m.rawIndex = make(map[rawEdgeKey]int)
	m.agg = make(map[aggKey]*core.AggregatedEdge)
	m.lastSeen = make(map[core.NodeId]time.Time)
}

// LoadSnapshot replaces the model's contents with a freshly received
// snapshot, touching every node/edge's last-seen time to now.
func (m *GraphModel) LoadSnapshot(nodes []core.Node, edges []core.Edge, now time.Time) {
	m.Clear()
	for _, n := range nodes {
		m.UpsertNode(n, now)
	}
	for _, e := range edges {
		m.UpsertEdge(e, now)
	}
}

func (m *GraphModel) UpsertNode(n core.Node, now time.Time) {
	m.nodes[n.ID()] = n
	m.touchNode(n.ID(), now)
}

func (m *GraphModel) touchNode(id core.NodeId, now time.Time) {
	m.lastSeen[id] = now
}

// TouchNode updates id's last-seen time without otherwise touching the
// node or its edges (used when an edge endpoint's activity should bump
// last-seen without a node-level upsert).
func (m *GraphModel) TouchNode(id core.NodeId, now time.Time) {
	m.touchNode(id, now)
}

func (m *GraphModel) LastSeen(id core.NodeId) (time.Time, bool) {
	t, ok := m.lastSeen[id]
	return t, ok
}

// RemoveNode deletes id and every edge touching it, returning the
// removed edges so the caller (GraphState) can clear their spatial/glow
// state too.
func (m *GraphModel) RemoveNode(id core.NodeId) []core.Edge {
	delete(m.nodes, id)
	delete(m.lastSeen, id)

	indices := m.adjacency[id]
	delete(m.adjacency, id)

	var removed []core.Edge
	for _, idx := range indices {
		slot := &m.edges[idx]
		if !slot.live {
			continue
		}
		slot.live = false
		removed = append(removed, slot.edge)
		m.detachFromOtherEnd(idx, id)
		m.decrementAgg(slot.edge)
	}
	return removed
}

// detachFromOtherEnd removes idx from the other endpoint's adjacency
// list once one side has already processed it, so a later RemoveNode
// of the other endpoint doesn't double-count it.
func (m *GraphModel) detachFromOtherEnd(idx int, removedID core.NodeId) {
	e := m.edges[idx].edge
	other := e.To
	if other == removedID {
		other = e.From
	}
	list := m.adjacency[other]
	for i, v := range list {
		if v == idx {
			m.adjacency[other] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// UpsertEdge is idempotent on the raw edge set: upserting the same
// (from, to, kind[, fd]) triple again finds its existing slot instead of
// appending a duplicate, and only re-marks it live (bumping the agg
// bucket's LiveCount) if it wasn't already live. The agg bucket's Count
// and LastKind advance on every call regardless, since they track total
// occurrences and the most recent payload, not raw-set membership.
func (m *GraphModel) UpsertEdge(e core.Edge, now time.Time) {
	m.touchNode(e.From, now)
	m.touchNode(e.To, now)

	rk := rawKeyFor(e)
	newlyLive := false
	if idx, ok := m.rawIndex[rk]; ok {
		slot := &m.edges[idx]
		slot.edge = e
		if !slot.live {
			slot.live = true
			m.adjacency[e.From] = append(m.adjacency[e.From], idx)
			if e.To != e.From {
				m.adjacency[e.To] = append(m.adjacency[e.To], idx)
			}
			newlyLive = true
		}
	} else {
		idx := len(m.edges)
		m.edges = append(m.edges, edgeSlot{edge: e, live: true})
		m.rawIndex[rk] = idx
		m.adjacency[e.From] = append(m.adjacency[e.From], idx)
		if e.To != e.From {
			m.adjacency[e.To] = append(m.adjacency[e.To], idx)
		}
		newlyLive = true
	}

	k := aggKeyFor(e)
	a, ok := m.agg[k]
	if !ok {
		a = &core.AggregatedEdge{From: e.From, To: e.To, Kind: e.Kind.Kind, FirstTs: now.UnixNano()}
		m.agg[k] = a
	}
	a.Count++
	if newlyLive {
		a.LiveCount++
	}
	a.LastTs = now.UnixNano()
	a.LastKind = e.Kind
}

// RemoveEdge removes the still-live raw edge matching e's
// (from, to, kind[, fd]) triple. No-op if none match.
func (m *GraphModel) RemoveEdge(e core.Edge) bool {
	idx, ok := m.rawIndex[rawKeyFor(e)]
	if !ok {
		return false
	}
	slot := &m.edges[idx]
	if !slot.live {
		return false
	}
	slot.live = false
	m.adjacency[e.From] = removeIndex(m.adjacency[e.From], idx)
	if e.To != e.From {
		m.adjacency[e.To] = removeIndex(m.adjacency[e.To], idx)
	}
	m.decrementAgg(slot.edge)
	return true
}

// decrementAgg drops the bucket's LiveCount for e's removal, deleting
// the bucket once no live raw edges remain in it.
func (m *GraphModel) decrementAgg(e core.Edge) {
	k := aggKeyFor(e)
	a, ok := m.agg[k]
	if !ok {
		return
	}
	if a.LiveCount > 0 {
		a.LiveCount--
	}
	if a.LiveCount == 0 {
		delete(m.agg, k)
	}
}

func removeIndex(s []int, v int) []int {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

// AggregatedEdges returns every aggregated-edge bucket. A bucket is
// deleted once its LiveCount reaches zero, so each one returned holds at
// least one live raw edge.
func (m *GraphModel) AggregatedEdges() []core.AggregatedEdge {
	out := make([]core.AggregatedEdge, 0, len(m.agg))
	for _, a := range m.agg {
		out = append(out, *a)
	}
	return out
}

// Degree returns how many live edges touch id, counting a self-loop
// once (used by the orphan-file GC pass).
func (m *GraphModel) Degree(id core.NodeId) int {
	n := 0
	for _, idx := range m.adjacency[id] {
		if m.edges[idx].live {
			n++
		}
	}
	return n
}

// Neighbors returns the set of node ids directly reachable from id over
// a live edge, in either direction.
func (m *GraphModel) Neighbors(id core.NodeId) []core.NodeId {
	var out []core.NodeId
	for _, idx := range m.adjacency[id] {
		slot := m.edges[idx]
		if !slot.live {
			continue
		}
		other := slot.edge.To
		if other == id {
			other = slot.edge.From
		}
		out = append(out, other)
	}
	return out
}

// EdgesForNode returns every live edge touching id, for callers (like
// explain's BFS) that need the edge itself, not just the neighbor id.
func (m *GraphModel) EdgesForNode(id core.NodeId) []core.Edge {
	var out []core.Edge
	for _, idx := range m.adjacency[id] {
		if m.edges[idx].live {
			out = append(out, m.edges[idx].edge)
		}
	}
	return out
}

// EdgeExplain renders a short human-readable description of an edge
// kind. No command of the viewer CLI calls it at present.
func EdgeExplain(k core.EdgeKind) string {
	switch k.Kind {
	case core.EdgeKindOpens:
		return fmt.Sprintf("opened file (fd=%d, mode=%s)", k.Fd, k.Mode)
	case core.EdgeKindExecs:
		return "executed file"
	case core.EdgeKindRunsAs:
		return "runs as user"
	default:
		return string(k.Kind)
	}
}

// NodeLabelShort renders a compact one-line label for a node.
func NodeLabelShort(n core.Node) string {
	switch n.Kind {
	case core.NodeKindProcess:
		return fmt.Sprintf("pid %d (%s)", n.Process.Pid, n.Process.Exe)
	case core.NodeKindFile:
		return n.File.Path
	case core.NodeKindUser:
		return n.User.Name
	default:
		return string(n.ID())
	}
}

// NodeLabelLong renders a fuller, multi-field label for a node.
func NodeLabelLong(n core.Node) string {
	switch n.Kind {
	case core.NodeKindProcess:
		return fmt.Sprintf("pid=%d uid=%d exe=%s cmdline=%s", n.Process.Pid, n.Process.Uid, n.Process.Exe, n.Process.Cmdline)
	case core.NodeKindFile:
		return fmt.Sprintf("path=%s kind=%s", n.File.Path, n.File.Kind)
	case core.NodeKindUser:
		return fmt.Sprintf("uid=%d name=%s", n.User.Uid, n.User.Name)
	default:
		return string(n.ID())
	}
}
