package motivation

import "github.com/abhisek/learngraph/internal/graph"

// PrerequisiteDepth is the length of the longest active prerequisite chain
// ending at nodeID.
func PrerequisiteDepth(v *graph.View, nodeID string) int {
	memo := make(map[string]int)
	var depth func(id string, onPath map[string]bool) int
	depth = func(id string, onPath map[string]bool) int {
		if d, ok := memo[id]; ok {
			return d
		}
		onPath[id] = true
		best := 0
		for _, e := range v.Incoming(id, graph.EdgePrerequisite) {
			n, ok := v.Node(e.SourceID)
			if !ok || !n.Active || onPath[e.SourceID] {
				continue
			}
			best = max(best, depth(e.SourceID, onPath)+1)
		}
		delete(onPath, id)
		memo[id] = best
		return best
	}
	return depth(nodeID, make(map[string]bool))
}
