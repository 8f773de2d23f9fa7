// Package explain answers "how are these two nodes connected" with a
// shortest path over the live graph, restricted to whatever node set the
// viewer currently considers visible.
package explain

import (
	"github.com/spacegraph-dev/spacegraph/internal/core"
	"github.com/spacegraph-dev/spacegraph/internal/viewer/graph"
)

// PathStep is one hop of a resolved path.
type PathStep struct {
	From  core.NodeId
	To    core.NodeId
	Class core.EdgeKindTag
}

type cameFrom struct {
	node core.NodeId
	via  core.Edge
}

// ShortestPath finds the shortest sequence of hops connecting a and b,
// via breadth-first search over live edges, considering only nodes in
// allowed. maxDepth of 0 always fails to find a path (even a==b);
// a==b with maxDepth>0 trivially succeeds with an empty path.
func ShortestPath(model *graph.GraphModel, a, b core.NodeId, maxDepth int, allowed map[core.NodeId]bool) ([]PathStep, bool) {
	if maxDepth == 0 {
		return nil, false
	}
	if a == b {
		return []PathStep{}, true
	}
	if !allowed[a] || !allowed[b] {
		return nil, false
	}

	prev := map[core.NodeId]cameFrom{a: {}}
	depth := map[core.NodeId]int{a: 0}
	queue := []core.NodeId{a}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if depth[cur] >= maxDepth {
			continue
		}
		for _, e := range model.EdgesForNode(cur) {
			other := e.To
			if other == cur {
				other = e.From
			}
			if !allowed[other] {
				continue
			}
			if _, seen := prev[other]; seen {
				continue
			}
			prev[other] = cameFrom{node: cur, via: e}
			depth[other] = depth[cur] + 1
			if other == b {
				return reconstruct(prev, a, b), true
			}
			queue = append(queue, other)
		}
	}
	return nil, false
}

func reconstruct(prev map[core.NodeId]cameFrom, a, b core.NodeId) []PathStep {
	var steps []PathStep
	cur := b
	for cur != a {
		cf := prev[cur]
		steps = append([]PathStep{{From: cf.node, To: cur, Class: cf.via.Kind.Kind}}, steps...)
		cur = cf.node
	}
	return steps
}
