package curriculum

import (
	"context"
	"errors"
	"fmt"

	"github.com/abhisek/learngraph/internal/graph"
)

// Result counts what Apply changed.
type Result struct {
	NodesAdded   int
	EdgesAdded   int
	NodesSkipped int
}

// Apply adds the curriculum's nodes and edges to g. It is idempotent:
// nodes whose id already exists are left alone (their type must match),
// and edges already present between the same endpoints are skipped.
// Apply stops at the first structural error, such as a prerequisite cycle;
// anything added before it stays.
func Apply(ctx context.Context, g *graph.Graph, c *Curriculum) (Result, error) {
	var res Result

	addNode := func(n graph.Node) error {
		existing, err := g.GetNode(n.ID)
		if err == nil {
			if existing.Type != n.Type {
				return fmt.Errorf("node %q exists as %s, curriculum declares %s", n.ID, existing.Type, n.Type)
			}
			res.NodesSkipped++
			return nil
		}
		if !errors.Is(err, graph.ErrNotFound) {
			return err
		}
		if _, err := g.AddNode(ctx, n); err != nil {
			return fmt.Errorf("add %s %q: %w", n.Type, n.ID, err)
		}
		res.NodesAdded++
		return nil
	}

	for _, cc := range c.Concepts {
		typ := graph.NodeConcept
		if cc.Type == "skill" {
			typ = graph.NodeSkill
		}
		attrs := map[string]any{"title": cc.Title, "curriculum": c.Name}
		setIf(attrs, "description", cc.Description)
		setIf(attrs, "difficulty", cc.Difficulty)
		setIf(attrs, "body", cc.Body)
		if len(cc.Items) > 0 {
			attrs["items"] = itemsAttr(cc.Items)
		}
		if err := addNode(graph.Node{ID: cc.ID, Type: typ, Attributes: attrs}); err != nil {
			return res, err
		}
	}

	materials := []struct {
		typ   graph.NodeType
		items []Material
	}{
		{graph.NodeLesson, c.Lessons},
		{graph.NodeQuiz, c.Quizzes},
	}
	for _, group := range materials {
		for _, m := range group.items {
			attrs := map[string]any{"concept": m.Concept, "curriculum": c.Name}
			setIf(attrs, "title", m.Title)
			setIf(attrs, "body", m.Body)
			if len(m.Items) > 0 {
				attrs["items"] = itemsAttr(m.Items)
			}
			if err := addNode(graph.Node{ID: m.ID, Type: group.typ, Attributes: attrs}); err != nil {
				return res, err
			}
		}
	}

	for _, cc := range c.Concepts {
		for _, p := range cc.Requires {
			w := 1.0
			if p.Weight != nil {
				w = *p.Weight
			}
			added, err := addEdge(ctx, g, graph.Edge{
				SourceID: p.ID, TargetID: cc.ID, Type: graph.EdgePrerequisite, Weight: w,
			})
			if err != nil {
				return res, err
			}
			if added {
				res.EdgesAdded++
			}
		}
	}
	for _, r := range c.Similar {
		added, err := addEdge(ctx, g, graph.Edge{
			SourceID: r.A, TargetID: r.B, Type: graph.EdgeSimilarity, Weight: r.Weight,
		})
		if err != nil {
			return res, err
		}
		if added {
			res.EdgesAdded++
		}
	}
	return res, nil
}

func addEdge(ctx context.Context, g *graph.Graph, e graph.Edge) (bool, error) {
	existing, err := g.OutgoingEdges(e.SourceID, e.Type)
	if err != nil {
		return false, err
	}
	for _, x := range existing {
		if x.TargetID == e.TargetID {
			return false, nil
		}
	}
	if _, err := g.AddEdge(ctx, e); err != nil {
		return false, fmt.Errorf("add %s %s -> %s: %w", e.Type, e.SourceID, e.TargetID, err)
	}
	return true, nil
}

// itemsAttr stores items in the same shape JSON decoding produces, so
// freshly applied and reloaded graphs look alike.
func itemsAttr(items []Item) []any {
	out := make([]any, len(items))
	for i, it := range items {
		m := map[string]any{
			"id":          it.ID,
			"prompt":      it.Prompt,
			"answer":      it.Answer,
			"answer_type": it.AnswerType,
		}
		if it.AnswerType == "" {
			m["answer_type"] = "text"
		}
		if it.Explanation != "" {
			m["explanation"] = it.Explanation
		}
		if len(it.Choices) > 0 {
			choices := make([]any, len(it.Choices))
			for j, c := range it.Choices {
				choices[j] = c
			}
			m["choices"] = choices
		}
		out[i] = m
	}
	return out
}

func setIf(m map[string]any, key, v string) {
	if v != "" {
		m[key] = v
	}
}
