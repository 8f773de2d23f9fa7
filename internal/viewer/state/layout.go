package state

import (
	"math"
	"sort"
	"strings"

	"github.com/spacegraph-dev/spacegraph/internal/core"
	"github.com/spacegraph-dev/spacegraph/internal/viewer/graph"
)

// MarkDirtyAll forces the next layout pass to rebuild the visible-node
// cache and walk it from the start (used after a full snapshot load,
// since nothing in the old active-vis cache is trustworthy anymore).
// Nodes that already have a position keep it.
func (s *GraphState) MarkDirtyAll() {
	s.Spatial.DirtyLayout = true
	s.Spatial.ActiveVisCache = nil
	s.Spatial.ProgressiveCursor = 0
	s.ExplainCache = nil
	s.NeedsRedraw.Store(true)
}

// PassesFilter reports whether node id/n matches the current text
// filter (empty filter matches everything).
func (s *GraphState) PassesFilter(id core.NodeId, n core.Node) bool {
	f := strings.ToLower(strings.TrimSpace(s.Ui.Filter))
	if f == "" {
		return true
	}
	contains := func(v string) bool { return strings.Contains(strings.ToLower(v), f) }
	if contains(string(id)) {
		return true
	}
	switch n.Kind {
	case core.NodeKindFile:
		return contains(n.File.Path)
	case core.NodeKindProcess:
		return contains(n.Process.Cmdline) || contains(n.Process.Exe)
	case core.NodeKindUser:
		return contains(n.User.Name)
	default:
		return false
	}
}

// VisibleSetCapped computes the set of nodes the layout/perf counters
// should consider "visible": everything passing the text filter, then
// narrowed to a BFS neighborhood around Ui.Focus (if set) out to
// FocusHops hops, then capped to Cfg.MaxVisibleNodes (keeping the
// lexicographically smallest ids when over the cap, for stable output
// across frames).
func (s *GraphState) VisibleSetCapped() map[core.NodeId]bool {
	base := make(map[core.NodeId]bool)
	s.Model.Each(func(id core.NodeId, n core.Node) {
		if s.PassesFilter(id, n) {
			base[id] = true
		}
	})

	if s.Ui.Focus != nil {
		focus := *s.Ui.Focus
		base[focus] = true
		hops := s.Ui.FocusHops
		if hops < 1 {
			hops = 1
		}

		vis := map[core.NodeId]bool{focus: true}
		type item struct {
			id    core.NodeId
			depth int
		}
		queue := []item{{focus, 0}}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			if cur.depth >= hops {
				continue
			}
			for _, nb := range s.Model.Neighbors(cur.id) {
				if !vis[nb] {
					vis[nb] = true
					queue = append(queue, item{nb, cur.depth + 1})
				}
				if len(vis) >= s.Cfg.MaxVisibleNodes {
					break
				}
			}
			if len(vis) >= s.Cfg.MaxVisibleNodes {
				break
			}
		}

		narrowed := make(map[core.NodeId]bool)
		for id := range vis {
			if base[id] {
				narrowed[id] = true
			}
		}
		base = narrowed
	}

	if len(base) > s.Cfg.MaxVisibleNodes {
		ids := make([]core.NodeId, 0, len(base))
		for id := range base {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		ids = ids[:s.Cfg.MaxVisibleNodes]
		capped := make(map[core.NodeId]bool, len(ids))
		for _, id := range ids {
			capped[id] = true
		}
		return capped
	}
	return base
}

func (s *GraphState) EdgeVisible(e core.Edge, vis map[core.NodeId]bool) bool {
	return vis[e.From] && vis[e.To]
}

func (s *GraphState) SetVisibleCounts(visNodes, rawEdges, aggEdges int) {
	s.Perf.VisibleNodes = visNodes
	s.Perf.VisibleRawEdges = rawEdges
	s.Perf.VisibleAggEdges = aggEdges
	s.Perf.VisibleEdges = rawEdges + aggEdges
}

// VisibleEdgeCounts counts raw and aggregated edges with both endpoints
// in vis. Raw edges are counted once (from the From side) to avoid
// double-counting the bidirectional adjacency index.
func (s *GraphState) VisibleEdgeCounts(vis map[core.NodeId]bool) (raw, agg int) {
	for id := range vis {
		for _, e := range s.Model.EdgesForNode(id) {
			if e.From != id {
				continue
			}
			if s.EdgeVisible(e, vis) {
				raw++
			}
		}
	}
	for _, a := range s.Model.AggregatedEdges() {
		if vis[a.From] && vis[a.To] {
			agg++
		}
	}
	return raw, agg
}

// ProgressivePrepare places newly visible nodes onto the layout a few at
// a time (Cfg.ProgressiveNodesPerFrame per call) instead of all at once,
// so a large snapshot doesn't stall the first frame. Existing positions
// are left untouched; only nodes without one yet are placed, in three
// concentric rings by node kind.
func (s *GraphState) ProgressivePrepare(vis map[core.NodeId]bool) {
	if len(s.Spatial.ActiveVisCache) == 0 || s.Spatial.DirtyLayout {
		ids := make([]core.NodeId, 0, len(vis))
		for id := range vis {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		s.Spatial.ActiveVisCache = ids
		s.Spatial.ProgressiveCursor = 0
	}

	radius := s.Cfg.Radius
	if radius <= 0 {
		radius = 25.0
	}
	ySpread := s.Cfg.YSpread

	take := s.Cfg.ProgressiveNodesPerFrame
	if take < 1 {
		take = 1
	}
	start := s.Spatial.ProgressiveCursor
	end := start + take
	if end > len(s.Spatial.ActiveVisCache) {
		end = len(s.Spatial.ActiveVisCache)
	}

	var procIDs, fileIDs, userIDs []core.NodeId
	for _, id := range s.Spatial.ActiveVisCache[start:end] {
		if _, ok := s.Spatial.Positions[id]; ok {
			continue
		}
		n, ok := s.Model.Node(id)
		if !ok {
			continue
		}
		switch n.Kind {
		case core.NodeKindProcess:
			procIDs = append(procIDs, id)
		case core.NodeKindFile:
			fileIDs = append(fileIDs, id)
		case core.NodeKindUser:
			userIDs = append(userIDs, id)
		}
	}

	placeRing(s.Spatial.Positions, procIDs, radius*0.7, 0, ySpread)
	placeRing(s.Spatial.Positions, fileIDs, radius*1.2, 0, ySpread)
	placeRing(s.Spatial.Positions, userIDs, radius*0.35, 0, ySpread)

	for _, id := range s.Spatial.ActiveVisCache[start:end] {
		if _, ok := s.Spatial.Velocities[id]; !ok {
			s.Spatial.Velocities[id] = graph.Vec3{}
		}
		if !s.Ui.Show3D {
			if p, ok := s.Spatial.Positions[id]; ok {
				p.Y = 0
				s.Spatial.Positions[id] = p
			}
		}
	}

	s.Spatial.ProgressiveCursor = end
	if s.Spatial.ProgressiveCursor >= len(s.Spatial.ActiveVisCache) {
		s.Spatial.DirtyLayout = false
	}
	s.NeedsRedraw.Store(true)
}

// ForceStep advances the spring/repulsion simulation by dt seconds over
// every currently-positioned visible node: pairwise inverse-square
// repulsion, spring attraction along visible edges toward
// Cfg.LinkDistance, damped velocity integration clamped to Cfg.MaxStep
// per step.
func (s *GraphState) ForceStep(vis map[core.NodeId]bool, dt float64) {
	if !s.Cfg.LayoutForce {
		return
	}

	var ids []core.NodeId
	for id := range vis {
		if _, ok := s.Spatial.Positions[id]; ok {
			ids = append(ids, id)
		}
	}
	if len(ids) <= 1 {
		return
	}

	linkDist := math.Max(s.Cfg.LinkDistance, 0.1)
	repulsion := math.Max(s.Cfg.Repulsion, 0)
	damping := clamp(s.Cfg.Damping, 0, 1)
	maxStep := math.Max(s.Cfg.MaxStep, 0.001)

	forces := make(map[core.NodeId]graph.Vec3, len(ids))
	for _, id := range ids {
		forces[id] = graph.Vec3{}
	}

	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, b := ids[i], ids[j]
			pa, pb := s.Spatial.Positions[a], s.Spatial.Positions[b]
			dir := pa.Sub(pb)
			if !s.Ui.Show3D {
				dir.Y = 0
			}
			dist2 := math.Max(dir.LengthSquared(), 0.01)
			f := dir.NormalizeOrZero().Scale(repulsion / dist2)
			forces[a] = forces[a].Add(f)
			forces[b] = forces[b].Sub(f)
		}
	}

	for id := range vis {
		for _, e := range s.Model.EdgesForNode(id) {
			if e.From != id {
				continue
			}
			if !s.EdgeVisible(e, vis) {
				continue
			}
			pa, okA := s.Spatial.Positions[e.From]
			pb, okB := s.Spatial.Positions[e.To]
			if !okA || !okB {
				continue
			}
			d := pb.Sub(pa)
			if !s.Ui.Show3D {
				d.Y = 0
			}
			length := math.Max(d.Length(), 0.001)
			dir := d.Scale(1 / length)
			const k = 0.6
			stretch := length - linkDist
			f := dir.Scale(k * stretch)
			forces[e.From] = forces[e.From].Add(f)
			forces[e.To] = forces[e.To].Sub(f)
		}
	}

	for _, id := range ids {
		v := s.Spatial.Velocities[id]
		f := forces[id]
		v = v.Add(f.Scale(dt)).Scale(damping)

		step := v.Scale(dt)
		if step.Length() > maxStep {
			step = step.NormalizeOrZero().Scale(maxStep)
		}

		p := s.Spatial.Positions[id].Add(step)
		if !s.Ui.Show3D {
			p.Y = 0
		}
		s.Spatial.Positions[id] = p
		s.Spatial.Velocities[id] = v
	}

	s.NeedsRedraw.Store(true)
}

// placeRing arranges ids evenly around a circle of radius r, leaving any
// id that already has a position untouched.
func placeRing(pos map[core.NodeId]graph.Vec3, ids []core.NodeId, r, yBase, ySpread float64) {
	n := float64(len(ids))
	if n < 1 {
		n = 1
	}
	for i, id := range ids {
		if _, ok := pos[id]; ok {
			continue
		}
		t := float64(i) / n * 2 * math.Pi
		x := r * math.Cos(t)
		z := r * math.Sin(t)
		y := yBase
		if ySpread > 0 {
			y += math.Mod(float64(i), 7) / 7 * ySpread
		}
		pos[id] = graph.Vec3{X: x, Y: y, Z: z}
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
