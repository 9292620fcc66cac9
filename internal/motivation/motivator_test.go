package motivation

import (
	"context"
	"testing"

	"github.com/abhisek/learngraph/internal/graph"
	"github.com/abhisek/learngraph/internal/progress"
)

func kinds(awards []Award) []AwardKind {
	var out []AwardKind
	for _, a := range awards {
		out = append(out, a.Kind)
	}
	return out
}

func TestDecide(t *testing.T) {
	base := Input{NodeID: "frac", Title: "Fractions", PassScore: 0.6}
	with := func(fn func(*Input)) Input {
		in := base
		fn(&in)
		return in
	}

	tests := []struct {
		name       string
		in         Input
		wantTier   Tier
		wantStreak Streak
		wantAwards []AwardKind
	}{
		{
			name:       "pass extends streak",
			in:         with(func(in *Input) { in.Assessed, in.Score, in.PriorStreak = true, 0.75, 0 }),
			wantTier:   TierEncourage,
			wantStreak: Streak{Length: 1, Next: 3, Extended: true},
			wantAwards: []AwardKind{AwardSession},
		},
		{
			name:       "milestone streak celebrates",
			in:         with(func(in *Input) { in.Assessed, in.Score, in.PriorStreak = true, 0.7, 2 }),
			wantTier:   TierCelebrate,
			wantStreak: Streak{Length: 3, Next: 5, Extended: true},
			wantAwards: []AwardKind{AwardStreak, AwardSession},
		},
		{
			name:       "fail breaks streak",
			in:         with(func(in *Input) { in.Assessed, in.Score, in.PriorStreak = true, 0.5, 4 }),
			wantTier:   TierSupport,
			wantStreak: Streak{Length: 0, Next: 3, Broken: true},
		},
		{
			name:       "first fail is steady",
			in:         with(func(in *Input) { in.Assessed, in.Score = true, 0.5 }),
			wantTier:   TierSteady,
			wantStreak: Streak{Length: 0, Next: 3},
		},
		{
			name:       "very low score gets support",
			in:         with(func(in *Input) { in.Assessed, in.Score = true, 0.1 }),
			wantTier:   TierSupport,
			wantStreak: Streak{Length: 0, Next: 3},
		},
		{
			name:       "lesson keeps streak",
			in:         with(func(in *Input) { in.PriorStreak = 4 }),
			wantTier:   TierSteady,
			wantStreak: Streak{Length: 4, Next: 5},
		},
		{
			name: "mastery award",
			in: with(func(in *Input) {
				in.Assessed, in.Score, in.Mastered, in.Depth = true, 0.8, true, 3
			}),
			wantTier:   TierCelebrate,
			wantStreak: Streak{Length: 1, Next: 3, Extended: true},
			wantAwards: []AwardKind{AwardMastery, AwardSession},
		},
		{
			name:       "recovery beats mastery",
			in:         with(func(in *Input) { in.Assessed, in.Score, in.Mastered, in.Recovered = true, 0.8, true, true }),
			wantTier:   TierCelebrate,
			wantStreak: Streak{Length: 1, Next: 3, Extended: true},
			wantAwards: []AwardKind{AwardRecovery, AwardSession},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Decide(tt.in)
			if r.Tier != tt.wantTier {
				t.Errorf("tier = %s, want %s", r.Tier, tt.wantTier)
			}
			if r.Streak != tt.wantStreak {
				t.Errorf("streak = %+v, want %+v", r.Streak, tt.wantStreak)
			}
			got := kinds(r.Awards)
			if len(got) != len(tt.wantAwards) {
				t.Fatalf("awards = %v, want %v", got, tt.wantAwards)
			}
			for i := range got {
				if got[i] != tt.wantAwards[i] {
					t.Errorf("awards = %v, want %v", got, tt.wantAwards)
				}
			}
			if r.Message == "" {
				t.Error("empty message")
			}
		})
	}
}

func TestDecide_Points(t *testing.T) {
	r := Decide(Input{Title: "x", Assessed: true, Score: 0.7, PassScore: 0.6, PriorStreak: 2})
	// 7 for the score, 10 for a common streak award, 25 for a rare session award.
	if r.Points != 42 {
		t.Errorf("points = %d, want 42", r.Points)
	}
	if lesson := Decide(Input{Title: "x"}); lesson.Points != 5 {
		t.Errorf("lesson points = %d, want 5", lesson.Points)
	}
}

func TestDecide_StagnantConceptGetsSupport(t *testing.T) {
	trend := &progress.TrendReport{Stagnant: []string{"frac"}}
	r := Decide(Input{NodeID: "frac", Title: "Fractions", Assessed: true, Score: 0.5, PassScore: 0.6, Trend: trend})
	if r.Tier != TierSupport {
		t.Errorf("tier = %s, want support", r.Tier)
	}
}

func TestDecide_LessonWithPositiveTrendEncourages(t *testing.T) {
	r := Decide(Input{Title: "x", Trend: &progress.TrendReport{MeanDelta: 0.1}})
	if r.Tier != TierEncourage {
		t.Errorf("tier = %s, want encourage", r.Tier)
	}
}

func TestDecide_Deterministic(t *testing.T) {
	in := Input{NodeID: "a", Title: "A", Assessed: true, Score: 0.9, PassScore: 0.6, PriorStreak: 9, Depth: 2}
	first := Decide(in)
	for range 10 {
		again := Decide(in)
		if again.Tier != first.Tier || again.Points != first.Points || again.Message != first.Message || len(again.Awards) != len(first.Awards) {
			t.Fatal("Decide is not deterministic")
		}
	}
}

func TestPrerequisiteDepth(t *testing.T) {
	ctx := context.Background()
	g := graph.New()
	for _, id := range []string{"a", "b", "c", "d", "x"} {
		if _, err := g.AddNode(ctx, graph.Node{ID: id, Type: graph.NodeConcept}); err != nil {
			t.Fatal(err)
		}
	}
	for _, e := range [][2]string{{"a", "b"}, {"b", "c"}, {"c", "d"}, {"a", "d"}, {"x", "d"}} {
		if _, err := g.AddEdge(ctx, graph.Edge{SourceID: e[0], TargetID: e[1], Type: graph.EdgePrerequisite, Weight: 1}); err != nil {
			t.Fatal(err)
		}
	}
	v := g.View("")
	for id, want := range map[string]int{"a": 0, "b": 1, "c": 2, "d": 3, "x": 0} {
		if got := PrerequisiteDepth(v, id); got != want {
			t.Errorf("depth(%s) = %d, want %d", id, got, want)
		}
	}

	if err := g.Deactivate(ctx, "c"); err != nil {
		t.Fatal(err)
	}
	if got := PrerequisiteDepth(g.View(""), "d"); got != 1 {
		t.Errorf("depth(d) with c inactive = %d, want 1", got)
	}
}
