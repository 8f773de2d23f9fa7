package state

import (
	"time"

	"github.com/spacegraph-dev/spacegraph/internal/core"
)

// TickGlow drops any glow timer (node or edge) whose until time has
// passed, so highlight state doesn't accumulate forever.
func (s *GraphState) TickGlow(now time.Time) {
	beforeN := len(s.Spatial.GlowNodes)
	beforeE := len(s.Spatial.GlowEdges)

	for id, until := range s.Spatial.GlowNodes {
		if !until.After(now) {
			delete(s.Spatial.GlowNodes, id)
		}
	}
	for e, until := range s.Spatial.GlowEdges {
		if !until.After(now) {
			delete(s.Spatial.GlowEdges, e)
		}
	}

	if len(s.Spatial.GlowNodes) != beforeN || len(s.Spatial.GlowEdges) != beforeE {
		s.NeedsRedraw.Store(true)
	}
}

// TickGC removes File nodes that have become orphaned (no live edges)
// and stale (untouched for Cfg.GCTTL), at most once per Cfg.GCInterval.
// Process and User nodes are never GC'd here — they disappear only via
// an explicit RemoveNode delta from the agent.
func (s *GraphState) TickGC(now time.Time) {
	if !s.Cfg.GCEnabled {
		return
	}
	if now.Sub(s.Perf.GCLastRun) < s.Cfg.GCInterval {
		return
	}
	s.Perf.GCLastRun = now

	var toRemove []core.NodeId
	s.Model.Each(func(id core.NodeId, n core.Node) {
		if n.Kind != core.NodeKindFile {
			return
		}
		if s.Model.Degree(id) != 0 {
			return
		}
		last, ok := s.Model.LastSeen(id)
		if !ok {
			last = now
		}
		if now.Sub(last) >= s.Cfg.GCTTL {
			toRemove = append(toRemove, id)
		}
	})

	if len(toRemove) == 0 {
		return
	}

	for _, id := range toRemove {
		s.Model.RemoveNode(id)
		delete(s.Spatial.Positions, id)
		delete(s.Spatial.Velocities, id)
		delete(s.Spatial.GlowNodes, id)
		s.clearSelectionOf(id)
	}

	s.NeedsRedraw.Store(true)
}
