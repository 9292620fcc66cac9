package graph

import (
	"cmp"
	"slices"
)

// View is a point-in-time snapshot of the shared content graph plus one
// learner's subgraph. It never blocks writers once taken.
type View struct {
	UserID string
	nodes  map[string]Node
	out    map[string][]Edge
	in     map[string][]Edge
	links  map[string]Edge
}

// View takes a snapshot under a brief shared lock.
func (g *Graph) View(userID string) *View {
	g.mu.RLock()
	defer g.mu.RUnlock()

	v := &View{
		UserID: userID,
		nodes:  make(map[string]Node, len(g.nodes)),
		out:    make(map[string][]Edge),
		in:     make(map[string][]Edge),
		links:  make(map[string]Edge),
	}
	for id, n := range g.nodes {
		if n.OwnerUserID == "" || n.OwnerUserID == userID {
			v.nodes[id] = *n.clone()
		}
	}
	for _, e := range g.edges {
		_, srcOK := v.nodes[e.SourceID]
		_, dstOK := v.nodes[e.TargetID]
		if !srcOK || !dstOK {
			continue
		}
		c := *e.clone()
		v.out[e.SourceID] = append(v.out[e.SourceID], c)
		v.in[e.TargetID] = append(v.in[e.TargetID], c)
		if e.Type == EdgeMasteryLink && e.SourceID == userID {
			v.links[e.TargetID] = c
		}
	}
	for _, m := range []map[string][]Edge{v.out, v.in} {
		for id := range m {
			slices.SortFunc(m[id], func(a, b Edge) int { return cmp.Compare(a.ID, b.ID) })
		}
	}
	return v
}

// Node returns the node if it is visible in the view.
func (v *View) Node(id string) (Node, bool) {
	n, ok := v.nodes[id]
	return n, ok
}

// Outgoing returns edges leaving id, optionally filtered by type.
func (v *View) Outgoing(id string, types ...EdgeType) []Edge {
	return filterEdges(v.out[id], types)
}

// Incoming returns edges entering id, optionally filtered by type.
func (v *View) Incoming(id string, types ...EdgeType) []Edge {
	return filterEdges(v.in[id], types)
}

// MasteryLink returns the learner's link to nodeID.
func (v *View) MasteryLink(nodeID string) (Edge, bool) {
	e, ok := v.links[nodeID]
	return e, ok
}

// MasteryLinks returns all of the learner's mastery links ordered by target
// id.
func (v *View) MasteryLinks() []Edge {
	out := make([]Edge, 0, len(v.links))
	for _, e := range v.links {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Edge) int { return cmp.Compare(a.TargetID, b.TargetID) })
	return out
}

func filterEdges(list []Edge, types []EdgeType) []Edge {
	if len(types) == 0 {
		return slices.Clone(list)
	}
	var out []Edge
	for _, e := range list {
		if slices.Contains(types, e.Type) {
			out = append(out, e)
		}
	}
	return out
}
