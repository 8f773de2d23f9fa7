// Package state is the viewer's engine: it owns the live GraphModel plus
// everything layered on top of it (spatial positions for the
// force-directed layout, the timeline, UI selection/search state, perf
// counters, and tunable config), and is the single place deltas coming
// off the wire get applied.
package state

import (
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spacegraph-dev/spacegraph/internal/core"
	"github.com/spacegraph-dev/spacegraph/internal/viewer/explain"
	"github.com/spacegraph-dev/spacegraph/internal/viewer/graph"
	"github.com/spacegraph-dev/spacegraph/internal/viewer/timeline"
	"github.com/spacegraph-dev/spacegraph/internal/wire"
)

type ViewMode string

const (
	ViewModeSpatial  ViewMode = "Spatial"
	ViewModeTimeline ViewMode = "Timeline"
)

// SpatialState holds the force-directed layout's working set: node
// positions/velocities, which nodes/edges were touched during the batch
// currently in flight, and the glow timers batches leave behind so the
// viewer can highlight what just changed.
type SpatialState struct {
	Positions  map[core.NodeId]graph.Vec3
	Velocities map[core.NodeId]graph.Vec3

	InBatch      bool
	TouchedNodes map[core.NodeId]bool
	TouchedEdges map[core.Edge]bool
	GlowNodes    map[core.NodeId]time.Time
	GlowEdges    map[core.Edge]time.Time
	LastBatchID  *uint64

	ActiveVisCache    []core.NodeId
	ProgressiveCursor int
	DirtyLayout       bool
}

func newSpatialState() SpatialState {
	return SpatialState{
		Positions:    make(map[core.NodeId]graph.Vec3),
		Velocities:   make(map[core.NodeId]graph.Vec3),
		TouchedNodes: make(map[core.NodeId]bool),
		TouchedEdges: make(map[core.Edge]bool),
		GlowNodes:    make(map[core.NodeId]time.Time),
		GlowEdges:    make(map[core.Edge]time.Time),
		DirtyLayout:  true,
	}
}

// UiState is the viewer's selection/search/focus state, independent of
// whatever actually renders it (graphical viewer, or the headless CLI's
// find/explain commands).
type UiState struct {
	Filter    string
	Show3D    bool
	ShowEdges bool

	Focus     *core.NodeId
	FocusHops int

	Hovered   *core.NodeId
	Selected  *core.NodeId
	SelectedA *core.NodeId
	SelectedB *core.NodeId

	SearchOpen  bool
	SearchQuery string
	SearchHits  []core.NodeId
	JumpTo      *core.NodeId

	ViewMode ViewMode
}

func newUiState() UiState {
	return UiState{
		Show3D:    true,
		ShowEdges: true,
		FocusHops: 2,
		ViewMode:  ViewModeSpatial,
	}
}

// ExplainCache memoizes the last shortest-path query for a short TTL so
// repeatedly re-rendering the same selection doesn't re-run BFS every
// frame.
type ExplainCache struct {
	A, B  core.NodeId
	Focus *core.NodeId
	Ts    time.Time
	Path  []explain.PathStep
	Found bool
}

const explainCacheTTL = 200 * time.Millisecond

// PerfState tracks counters the CLI's status view and metrics exporter
// read from; nothing here feeds back into layout or delta application.
type PerfState struct {
	FPS              float64
	EventRate        float64
	VisibleNodes     int
	VisibleEdges     int
	VisibleRawEdges  int
	VisibleAggEdges  int
	EventTotal       uint64
	EvWindow         []time.Time
	GCLastRun        time.Time
}

// CfgState is the set of tunables a user can adjust at runtime (layout
// physics, visibility caps, GC); defaults mirror what a freshly
// connected viewer starts with.
type CfgState struct {
	LayoutForce  bool
	LinkDistance float64
	Repulsion    float64
	Damping      float64
	MaxStep      float64

	Radius  float64
	YSpread float64

	GlowDuration time.Duration

	MaxVisibleNodes          int
	ProgressiveNodesPerFrame int

	GCEnabled  bool
	GCTTL      time.Duration
	GCInterval time.Duration

	ShowRawEdges    bool
	ShowAggEdges    bool
	ExplainMaxDepth int
}

func defaultCfgState() CfgState {
	return CfgState{
		LayoutForce:              true,
		LinkDistance:             6.0,
		Repulsion:                22.0,
		Damping:                  0.92,
		MaxStep:                  0.35,
		Radius:                   25.0,
		YSpread:                  6.0,
		GlowDuration:             900 * time.Millisecond,
		MaxVisibleNodes:          1200,
		ProgressiveNodesPerFrame: 250,
		GCEnabled:                true,
		GCTTL:                    30 * time.Second,
		GCInterval:               1 * time.Second,
		ShowRawEdges:             false,
		ShowAggEdges:             true,
		ExplainMaxDepth:          4,
	}
}

// GraphState ties the structural GraphModel together with layout,
// timeline, UI, perf, and config substates, and is the sole entry point
// for applying incoming wire messages.
type GraphState struct {
	Model    *graph.GraphModel
	Spatial  SpatialState
	Timeline *timeline.State
	Ui       UiState
	Perf     PerfState
	Cfg      CfgState

	ExplainCache *ExplainCache

	NeedsRedraw atomic.Bool
}

func New() *GraphState {
	st := &GraphState{
		Model:    graph.NewGraphModel(),
		Spatial:  newSpatialState(),
		Timeline: timeline.NewState(),
		Ui:       newUiState(),
		Perf:     PerfState{GCLastRun: time.Now()},
		Cfg:      defaultCfgState(),
	}
	st.NeedsRedraw.Store(true)
	return st
}

// Clear discards all graph, spatial, timeline, and selection state —
// used when reconnecting to an agent, since the next snapshot replaces
// everything anyway.
func (s *GraphState) Clear() {
	s.Model.Clear()
	s.Spatial = newSpatialState()
	s.Timeline = timeline.NewState()
	s.Ui.Focus = nil
	s.Ui.Hovered = nil
	s.Ui.Selected = nil
	s.Ui.SelectedA = nil
	s.Ui.SelectedB = nil
	s.Ui.SearchOpen = false
	s.Ui.SearchQuery = ""
	s.Ui.SearchHits = nil
	s.Ui.JumpTo = nil
	s.Perf.EvWindow = nil
	s.Perf.EventTotal = 0
	s.ExplainCache = nil
	s.NeedsRedraw.Store(true)
}

// Apply applies a message received off the wire: a full Snapshot
// replaces the model outright, an Event applies one delta. Other
// message kinds (Hello, Ping/Pong, ...) are session-handshake plumbing
// the netclient layer deals with and have no graph-state effect here.
func (s *GraphState) Apply(msg wire.Msg, now time.Time) {
	s.onMessage(now)
	switch msg.Kind {
	case wire.MsgSnapshot:
		if msg.Snapshot == nil {
			return
		}
		s.Model.LoadSnapshot(msg.Snapshot.Nodes, msg.Snapshot.Edges, now)
		s.Model.Each(func(id core.NodeId, _ core.Node) {
			s.Timeline.RecordNodeUpsert(id, now)
		})
		s.MarkDirtyAll()
	case wire.MsgEvent:
		if msg.Event == nil {
			return
		}
		s.applyDelta(*msg.Event, now)
	}
}

func (s *GraphState) onMessage(now time.Time) {
	s.Perf.EventTotal++
	s.Perf.EvWindow = append(s.Perf.EvWindow, now)
	cutoff := now.Add(-1 * time.Second)
	i := 0
	for i < len(s.Perf.EvWindow) && s.Perf.EvWindow[i].Before(cutoff) {
		i++
	}
	s.Perf.EvWindow = s.Perf.EvWindow[i:]
	s.Perf.EventRate = float64(len(s.Perf.EvWindow))
}

func (s *GraphState) applyDelta(d core.Delta, ts time.Time) {
	switch d.Kind {
	case core.DeltaBatchBegin:
		s.Spatial.InBatch = true
		id := d.BatchID
		s.Spatial.LastBatchID = &id
		s.Spatial.TouchedNodes = make(map[core.NodeId]bool)
		s.Spatial.TouchedEdges = make(map[core.Edge]bool)
		s.Timeline.Push(timeline.Event{Ts: ts, Kind: timeline.EventBatchBegin, BatchID: d.BatchID})

	case core.DeltaBatchEnd:
		s.Spatial.InBatch = false
		until := ts.Add(s.Cfg.GlowDuration)
		for id := range s.Spatial.TouchedNodes {
			s.Spatial.GlowNodes[id] = until
		}
		for e := range s.Spatial.TouchedEdges {
			s.Spatial.GlowEdges[e] = until
		}
		s.Timeline.Push(timeline.Event{Ts: ts, Kind: timeline.EventBatchEnd, BatchID: d.BatchID})
		s.NeedsRedraw.Store(true)

	case core.DeltaUpsertNode:
		if d.Node == nil {
			return
		}
		id := d.Node.ID()
		s.Model.UpsertNode(*d.Node, ts)
		s.Spatial.DirtyLayout = true
		s.Timeline.Push(timeline.Event{Ts: ts, Kind: timeline.EventNodeUpsert, A: id})
		if s.Spatial.InBatch {
			s.Spatial.TouchedNodes[id] = true
		} else {
			s.Spatial.GlowNodes[id] = ts.Add(s.Cfg.GlowDuration)
		}
		s.NeedsRedraw.Store(true)

	case core.DeltaRemoveNode:
		id := d.NodeID
		removed := s.Model.RemoveNode(id)
		delete(s.Spatial.Positions, id)
		delete(s.Spatial.Velocities, id)
		delete(s.Spatial.GlowNodes, id)
		for _, e := range removed {
			delete(s.Spatial.GlowEdges, e)
			delete(s.Spatial.TouchedEdges, e)
		}
		s.clearSelectionOf(id)
		s.Timeline.Push(timeline.Event{Ts: ts, Kind: timeline.EventNodeRemove, A: id})
		s.Spatial.DirtyLayout = true
		if s.Spatial.InBatch {
			s.Spatial.TouchedNodes[id] = true
		}
		s.NeedsRedraw.Store(true)

	case core.DeltaUpsertEdge:
		if d.Edge == nil {
			return
		}
		e := *d.Edge
		s.Model.UpsertEdge(e, ts)
		s.touchNodeAt(e.From, ts)
		s.touchNodeAt(e.To, ts)
		s.Spatial.DirtyLayout = true
		s.Timeline.Push(timeline.Event{Ts: ts, Kind: timeline.EventEdgeUpsert, A: e.From, B: e.To, EdgeKnd: e.Kind.Kind})
		if s.Spatial.InBatch {
			s.Spatial.TouchedEdges[e] = true
			s.Spatial.TouchedNodes[e.From] = true
			s.Spatial.TouchedNodes[e.To] = true
		} else {
			s.Spatial.GlowEdges[e] = ts.Add(s.Cfg.GlowDuration)
		}
		s.NeedsRedraw.Store(true)

	case core.DeltaRemoveEdge:
		if d.Edge == nil {
			return
		}
		e := *d.Edge
		s.Model.RemoveEdge(e)
		delete(s.Spatial.GlowEdges, e)
		s.Timeline.Push(timeline.Event{Ts: ts, Kind: timeline.EventEdgeRemove, A: e.From, B: e.To, EdgeKnd: e.Kind.Kind})
		s.NeedsRedraw.Store(true)
	}
}

func (s *GraphState) clearSelectionOf(id core.NodeId) {
	if s.Ui.Focus != nil && *s.Ui.Focus == id {
		s.Ui.Focus = nil
	}
	if s.Ui.Selected != nil && *s.Ui.Selected == id {
		s.Ui.Selected = nil
	}
	if s.Ui.SelectedA != nil && *s.Ui.SelectedA == id {
		s.Ui.SelectedA = nil
	}
	if s.Ui.SelectedB != nil && *s.Ui.SelectedB == id {
		s.Ui.SelectedB = nil
	}
	if s.Ui.Hovered != nil && *s.Ui.Hovered == id {
		s.Ui.Hovered = nil
	}
}

func (s *GraphState) touchNodeAt(id core.NodeId, ts time.Time) {
	s.Model.TouchNode(id, ts)
}

// NodeTooltipLines renders the lines a tooltip/inspect view would show
// for id: a short label with the id, then the long-form fields.
func (s *GraphState) NodeTooltipLines(id core.NodeId) []string {
	n, ok := s.Model.Node(id)
	if !ok {
		return []string{string(id)}
	}
	out := []string{graph.NodeLabelShort(n) + " (" + string(id) + ")"}
	out = append(out, graph.NodeLabelLong(n))
	return out
}

// RecomputeSearchHits refreshes Ui.SearchHits from Ui.SearchQuery:
// case-insensitive substring match over the node id and its
// type-specific fields (path, cmdline/exe, name), sorted lexicographically
// by id and capped at limit (never less than 1).
func (s *GraphState) RecomputeSearchHits(limit int) {
	s.Ui.SearchHits = nil
	q := strings.ToLower(strings.TrimSpace(s.Ui.SearchQuery))
	if q == "" {
		return
	}

	var hits []core.NodeId
	s.Model.Each(func(id core.NodeId, n core.Node) {
		idOk := strings.Contains(strings.ToLower(string(id)), q)
		nodeOk := false
		switch n.Kind {
		case core.NodeKindFile:
			nodeOk = strings.Contains(strings.ToLower(n.File.Path), q)
		case core.NodeKindProcess:
			nodeOk = strings.Contains(strings.ToLower(n.Process.Cmdline), q) || strings.Contains(strings.ToLower(n.Process.Exe), q)
		case core.NodeKindUser:
			nodeOk = strings.Contains(strings.ToLower(n.User.Name), q)
		}
		if idOk || nodeOk {
			hits = append(hits, id)
		}
	})

	sort.Slice(hits, func(i, j int) bool { return hits[i] < hits[j] })
	if limit < 1 {
		limit = 1
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	s.Ui.SearchHits = hits
}

func (s *GraphState) RequestJump(id core.NodeId) {
	s.Ui.JumpTo = &id
}

func (s *GraphState) NodeIsGlowing(id core.NodeId) bool {
	_, ok := s.Spatial.GlowNodes[id]
	return ok
}

func (s *GraphState) EdgeIsGlowing(e core.Edge) bool {
	_, ok := s.Spatial.GlowEdges[e]
	return ok
}

// ExplainPathCached returns the shortest path between a and b, reusing
// the last result if it's for the same (a, b, focus) and still within
// the cache's TTL.
func (s *GraphState) ExplainPathCached(a, b core.NodeId, allowed map[core.NodeId]bool, now time.Time) ([]explain.PathStep, bool) {
	focus := s.Ui.Focus
	if c := s.ExplainCache; c != nil && c.A == a && c.B == b && samePtr(c.Focus, focus) && now.Sub(c.Ts) <= explainCacheTTL {
		return c.Path, c.Found
	}

	depth := s.Cfg.ExplainMaxDepth
	if depth < 1 {
		depth = 1
	}
	path, found := explain.ShortestPath(s.Model, a, b, depth, allowed)
	s.ExplainCache = &ExplainCache{A: a, B: b, Focus: focus, Ts: now, Path: path, Found: found}
	return path, found
}

func samePtr(a, b *core.NodeId) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *GraphState) NodeLabelWithID(id core.NodeId) string {
	if n, ok := s.Model.Node(id); ok {
		return graph.NodeLabelShort(n) + " (" + string(id) + ")"
	}
	return string(id)
}
