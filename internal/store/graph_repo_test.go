package store

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/abhisek/learngraph/internal/graph"
	"github.com/abhisek/learngraph/internal/mastery"
	"github.com/abhisek/learngraph/internal/progress"
)

func buildPersistedGraph(t *testing.T, repo *GraphRepo) *graph.Graph {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := graph.New(graph.WithPersister(repo), graph.WithClock(func() time.Time { return now }))

	nodes := []graph.Node{
		{ID: "u1", Type: graph.NodeUser},
		{ID: "count", Type: graph.NodeConcept, Attributes: map[string]any{"title": "Counting"}},
		{ID: "add", Type: graph.NodeConcept, Attributes: map[string]any{"title": "Addition"}},
	}
	for _, n := range nodes {
		if _, err := g.AddNode(ctx, n); err != nil {
			t.Fatalf("add node %s: %v", n.ID, err)
		}
	}
	if _, err := g.AddEdge(ctx, graph.Edge{
		SourceID: "count", TargetID: "add", Type: graph.EdgePrerequisite, Weight: 0.8,
	}); err != nil {
		t.Fatalf("add edge: %v", err)
	}

	eng := mastery.NewEngine(g, mastery.DefaultConfig(), nil)
	if _, err := eng.RecordOutcome(ctx, "u1", "add", 0.4, 1); err != nil {
		t.Fatalf("record outcome: %v", err)
	}
	return g
}

func TestGraphRepo_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	buildPersistedGraph(t, s.GraphRepo())

	loaded := graph.New(graph.WithPersister(s.GraphRepo()))
	if err := loaded.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	add, err := loaded.GetNode("add")
	if err != nil {
		t.Fatalf("get add: %v", err)
	}
	if add.Title() != "Addition" {
		t.Errorf("title = %q, want Addition", add.Title())
	}
	if !add.Active {
		t.Error("expected node to be active")
	}
	if add.CreatedAt.IsZero() {
		t.Error("created_at was not persisted")
	}

	prereqs, err := loaded.IncomingEdges("add", graph.EdgePrerequisite)
	if err != nil {
		t.Fatalf("incoming: %v", err)
	}
	if len(prereqs) != 1 || prereqs[0].SourceID != "count" || prereqs[0].Weight != 0.8 {
		t.Errorf("prerequisites = %+v", prereqs)
	}

	link, ok := loaded.MasteryLink("u1", "add")
	if !ok {
		t.Fatal("mastery link was not loaded")
	}
	if link.Weight != 0.4 {
		t.Errorf("mastery = %v, want 0.4", link.Weight)
	}
	if link.Time("evaluated_at").IsZero() {
		t.Error("evaluated_at property lost in round trip")
	}
}

func TestGraphRepo_UpsertReplaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	g := buildPersistedGraph(t, s.GraphRepo())

	if err := g.Deactivate(ctx, "count"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	var active, rows int
	err := s.DB().QueryRow("SELECT active, (SELECT COUNT(*) FROM nodes WHERE id = 'count') FROM nodes WHERE id = 'count'").
		Scan(&active, &rows)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if active != 0 || rows != 1 {
		t.Errorf("active = %d, rows = %d; want 0, 1", active, rows)
	}
}

func TestGraphRepo_DeleteLearner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	g := buildPersistedGraph(t, s.GraphRepo())

	if err := g.DeleteLearner(ctx, "u1"); err != nil {
		t.Fatalf("delete learner: %v", err)
	}

	nodes, edges, err := s.GraphRepo().LoadGraph(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(nodes) != 2 {
		t.Errorf("nodes = %d, want 2 content nodes", len(nodes))
	}
	for _, e := range edges {
		if e.Type == graph.EdgeMasteryLink {
			t.Errorf("mastery link %s survived learner deletion", e.ID)
		}
	}
	if len(edges) != 1 {
		t.Errorf("edges = %d, want the prerequisite only", len(edges))
	}
	changes, err := s.GraphRepo().LoadChanges(ctx)
	if err != nil {
		t.Fatalf("load changes: %v", err)
	}
	if len(changes) != 0 {
		t.Errorf("mastery history survived learner deletion: %+v", changes)
	}
}

func TestGraphRepo_TrendSurvivesReload(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := graph.WithClock(func() time.Time { return now })

	g := graph.New(graph.WithPersister(s.GraphRepo()), clock)
	for _, n := range []graph.Node{{ID: "u1", Type: graph.NodeUser}, {ID: "add", Type: graph.NodeConcept}} {
		if _, err := g.AddNode(ctx, n); err != nil {
			t.Fatalf("add node %s: %v", n.ID, err)
		}
	}
	eng := mastery.NewEngine(g, mastery.DefaultConfig(), nil)
	if _, err := eng.RecordOutcome(ctx, "u1", "add", 0.2, 1); err != nil {
		t.Fatal(err)
	}
	now = now.Add(time.Hour)
	if _, err := eng.RecordOutcome(ctx, "u1", "add", 0.9, 0.5); err != nil {
		t.Fatal(err)
	}

	// A fresh process sees the same history.
	loaded := graph.New(graph.WithPersister(s.GraphRepo()), clock)
	if err := loaded.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	eng = mastery.NewEngine(loaded, mastery.DefaultConfig(), nil)
	rep, err := progress.NewTracker(loaded, eng, progress.DefaultConfig()).GetTrend(ctx, "u1", 0)
	if err != nil {
		t.Fatal(err)
	}
	ct, ok := rep.Concept("add")
	if !ok {
		t.Fatal("no trend for add")
	}
	if ct.Updates != 2 || ct.Start != 0 || math.Abs(ct.Current-0.55) > 1e-9 ||
		math.Abs(ct.Delta-0.55) > 1e-9 {
		t.Errorf("trend = %+v, want start 0 current 0.55 over 2 updates", ct)
	}
}

func TestGraphRepo_LoadOrdersBySeq(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	buildPersistedGraph(t, s.GraphRepo())

	nodes, _, err := s.GraphRepo().LoadGraph(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for i := 1; i < len(nodes); i++ {
		if nodes[i-1].Seq >= nodes[i].Seq {
			t.Fatalf("nodes out of order at %d: %d then %d", i, nodes[i-1].Seq, nodes[i].Seq)
		}
	}
}
