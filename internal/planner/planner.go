// Package planner recommends what a learner should study next toward a
// target concept or skill.
package planner

import (
	"cmp"
	"context"
	"slices"

	"github.com/abhisek/learngraph/internal/apperr"
	"github.com/abhisek/learngraph/internal/graph"
	"github.com/abhisek/learngraph/internal/mastery"
)

var (
	ErrCyclicPrerequisites = apperr.New(apperr.Structural, "cyclic_prerequisites", "prerequisite cycle in closure")
	ErrInvalidTarget       = apperr.New(apperr.Structural, "invalid_target", "target is not a concept or skill")
)

// Config holds planner defaults.
type Config struct {
	Threshold       float64 `yaml:"threshold" validate:"gt=0,lte=1"`
	DefaultMaxItems int     `yaml:"default_max_items" validate:"gte=1,lte=100"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{Threshold: 0.7, DefaultMaxItems: 5}
}

// Item is one recommended node.
type Item struct {
	NodeID string
	Title  string
	Type   graph.NodeType
	// Mastery is the learner's effective mastery at planning time.
	Mastery float64
	// Criticality is the strongest product of prerequisite weights along
	// any path from this node to the target. The target itself is 1.
	Criticality float64
}

// Recommendation is the planner's answer. AlreadyMastered is set, with no
// items, when the target and its whole closure meet the threshold.
type Recommendation struct {
	UserID          string
	TargetID        string
	Items           []Item
	AlreadyMastered bool
}

// IDs returns the recommended node ids in order.
func (r *Recommendation) IDs() []string {
	ids := make([]string, len(r.Items))
	for i, it := range r.Items {
		ids[i] = it.NodeID
	}
	return ids
}

// Planner is stateless apart from its configuration and safe for
// concurrent use.
type Planner struct {
	g   *graph.Graph
	eng *mastery.Engine
	cfg Config
}

// New returns a planner reading from g. Mastery values are decayed through
// eng without committing the decay.
func New(g *graph.Graph, eng *mastery.Engine, cfg Config) *Planner {
	return &Planner{g: g, eng: eng, cfg: cfg}
}

// Threshold returns the mastered cut-off.
func (p *Planner) Threshold() float64 { return p.cfg.Threshold }

type candidate struct {
	node        graph.Node
	mastery     float64
	criticality float64
}

// RecommendNext orders the unmet part of the target's prerequisite closure
// so that every node's prerequisites meet the threshold or come earlier.
// Among ready nodes, more critical nodes come first, then lower mastery,
// then earlier creation, then id. maxItems <= 0 uses the configured default.
func (p *Planner) RecommendNext(_ context.Context, userID, targetID string, maxItems int) (*Recommendation, error) {
	if maxItems <= 0 {
		maxItems = p.cfg.DefaultMaxItems
	}
	view := p.g.View(userID)
	target, ok := view.Node(targetID)
	if !ok {
		return nil, apperr.Wrap(graph.ErrNotFound, "target %q", targetID)
	}
	if !target.Type.Trackable() {
		return nil, apperr.Wrap(ErrInvalidTarget, "%q is a %s", targetID, target.Type)
	}

	closure := prerequisiteClosure(view, targetID)
	crit := criticality(view, targetID, closure)
	now := p.g.Now()

	var unmet []candidate
	for id := range closure {
		n, _ := view.Node(id)
		if !n.Type.Trackable() || !n.Active {
			continue
		}
		m := 0.0
		if link, ok := view.MasteryLink(id); ok {
			m = p.eng.Effective(link, now)
		}
		if m < p.cfg.Threshold {
			unmet = append(unmet, candidate{node: n, mastery: m, criticality: crit[id]})
		}
	}

	rec := &Recommendation{UserID: userID, TargetID: targetID}
	if len(unmet) == 0 {
		rec.AlreadyMastered = true
		return rec, nil
	}

	ordered, err := order(unmet, func(id string) []string {
		var parents []string
		for _, e := range view.Incoming(id, graph.EdgePrerequisite) {
			parents = append(parents, e.SourceID)
		}
		return parents
	})
	if err != nil {
		return nil, err
	}
	for _, c := range ordered[:min(maxItems, len(ordered))] {
		rec.Items = append(rec.Items, Item{
			NodeID:      c.node.ID,
			Title:       c.node.Title(),
			Type:        c.node.Type,
			Mastery:     c.mastery,
			Criticality: c.criticality,
		})
	}
	return rec, nil
}

// prerequisiteClosure collects the target and every active node it
// transitively requires.
func prerequisiteClosure(view *graph.View, targetID string) map[string]bool {
	closure := map[string]bool{targetID: true}
	queue := []string{targetID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range view.Incoming(id, graph.EdgePrerequisite) {
			if closure[e.SourceID] {
				continue
			}
			if n, ok := view.Node(e.SourceID); !ok || !n.Active {
				continue
			}
			closure[e.SourceID] = true
			queue = append(queue, e.SourceID)
		}
	}
	return closure
}

// criticality computes, for each closure node, the maximum product of edge
// weights over paths to the target.
func criticality(view *graph.View, targetID string, closure map[string]bool) map[string]float64 {
	memo := map[string]float64{targetID: 1}
	var visit func(id string, onPath map[string]bool) float64
	visit = func(id string, onPath map[string]bool) float64 {
		if v, ok := memo[id]; ok {
			return v
		}
		if onPath[id] {
			return 0
		}
		onPath[id] = true
		best := 0.0
		for _, e := range view.Outgoing(id, graph.EdgePrerequisite) {
			if !closure[e.TargetID] {
				continue
			}
			w := max(e.Weight, 0)
			best = max(best, w*visit(e.TargetID, onPath))
		}
		delete(onPath, id)
		memo[id] = best
		return best
	}
	for id := range closure {
		visit(id, map[string]bool{})
	}
	return memo
}

// order is Kahn's algorithm over the candidates, restricted to prerequisite
// relations between candidates, picking the best ready candidate each step.
func order(cands []candidate, parentsOf func(id string) []string) ([]candidate, error) {
	byID := make(map[string]candidate, len(cands))
	for _, c := range cands {
		byID[c.node.ID] = c
	}
	indeg := make(map[string]int, len(cands))
	children := make(map[string][]string)
	for _, c := range cands {
		for _, parent := range parentsOf(c.node.ID) {
			if _, ok := byID[parent]; !ok {
				continue
			}
			indeg[c.node.ID]++
			children[parent] = append(children[parent], c.node.ID)
		}
	}

	var ready []candidate
	for _, c := range cands {
		if indeg[c.node.ID] == 0 {
			ready = append(ready, c)
		}
	}
	out := make([]candidate, 0, len(cands))
	for len(ready) > 0 {
		slices.SortFunc(ready, compare)
		next := ready[0]
		ready = ready[1:]
		out = append(out, next)
		for _, child := range children[next.node.ID] {
			indeg[child]--
			if indeg[child] == 0 {
				ready = append(ready, byID[child])
			}
		}
	}
	if len(out) != len(cands) {
		return nil, apperr.Wrap(ErrCyclicPrerequisites, "%d of %d nodes unordered", len(cands)-len(out), len(cands))
	}
	return out, nil
}

func compare(a, b candidate) int {
	if c := cmp.Compare(b.criticality, a.criticality); c != 0 {
		return c
	}
	if c := cmp.Compare(a.mastery, b.mastery); c != 0 {
		return c
	}
	if c := cmp.Compare(a.node.Seq, b.node.Seq); c != 0 {
		return c
	}
	return cmp.Compare(a.node.ID, b.node.ID)
}
