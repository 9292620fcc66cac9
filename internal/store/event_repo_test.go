package store

import (
	"context"
	"errors"
	"testing"

	"github.com/abhisek/learngraph/internal/llm"
	"github.com/abhisek/learngraph/internal/motivation"
)

func TestEventRepo_LLMEvents(t *testing.T) {
	s := openTestStore(t)
	repo := s.EventRepo()
	ctx := context.Background()

	events := []llm.RequestEvent{
		{Provider: "openai", Model: "gpt-4o-mini", Purpose: "quiz", InputTokens: 100, OutputTokens: 50, LatencyMs: 200, Success: true},
		{Provider: "openai", Model: "gpt-4o-mini", Purpose: "lesson", InputTokens: 80, OutputTokens: 300, LatencyMs: 400, Success: true},
		{Provider: "openai", Model: "gpt-4o-mini", Purpose: "quiz", LatencyMs: 30, ErrorMessage: "rate limited"},
	}
	for _, e := range events {
		if err := repo.AppendLLMRequest(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := repo.QueryLLMEvents(ctx, QueryOpts{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("events = %d, want 3", len(got))
	}
	if got[0].Sequence != 3 || got[2].Sequence != 1 {
		t.Errorf("order = %d..%d, want newest first", got[0].Sequence, got[2].Sequence)
	}
	if got[0].Success || got[0].ErrorMessage != "rate limited" {
		t.Errorf("failed event decoded as %+v", got[0].RequestEvent)
	}

	limited, err := repo.QueryLLMEvents(ctx, QueryOpts{Limit: 1, Before: 3})
	if err != nil {
		t.Fatalf("query limited: %v", err)
	}
	if len(limited) != 1 || limited[0].Sequence != 2 {
		t.Errorf("limited = %+v, want sequence 2", limited)
	}

	one, err := repo.GetLLMEvent(ctx, 2)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if one.Purpose != "lesson" {
		t.Errorf("purpose = %q, want lesson", one.Purpose)
	}
	if _, err := repo.GetLLMEvent(ctx, 99); !errors.Is(err, ErrEventNotFound) {
		t.Errorf("get missing = %v, want ErrEventNotFound", err)
	}

	usage, err := repo.LLMUsageByPurpose(ctx, QueryOpts{})
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if len(usage) != 2 {
		t.Fatalf("usage groups = %d, want 2", len(usage))
	}
	quiz := usage[1]
	if quiz.Key != "quiz" || quiz.Requests != 2 || quiz.Failures != 1 || quiz.InputTokens != 100 {
		t.Errorf("quiz usage = %+v", quiz)
	}
	if quiz.AvgLatencyMs != 115 {
		t.Errorf("avg latency = %v, want 115", quiz.AvgLatencyMs)
	}

	byModel, err := repo.LLMUsageByModel(ctx, QueryOpts{})
	if err != nil {
		t.Fatalf("usage by model: %v", err)
	}
	if len(byModel) != 1 || byModel[0].OutputTokens != 350 {
		t.Errorf("usage by model = %+v", byModel)
	}
}

func TestEventRepo_Awards(t *testing.T) {
	s := openTestStore(t)
	repo := s.EventRepo()
	ctx := context.Background()

	awards := []struct {
		user string
		a    motivation.Award
	}{
		{"u1", motivation.Award{Kind: motivation.AwardStreak, Rarity: motivation.RarityCommon, Reason: "3 in a row", Points: 10}},
		{"u2", motivation.Award{Kind: motivation.AwardSession, Rarity: motivation.RarityRare, Reason: "80%", Points: 25}},
		{"u1", motivation.Award{Kind: motivation.AwardMastery, Rarity: motivation.RarityEpic, NodeID: "add", Reason: "mastered", Points: 50}},
	}
	for _, aw := range awards {
		if err := repo.RecordAward(ctx, aw.user, "s1", aw.a); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := repo.QueryAwards(ctx, QueryOpts{UserID: "u1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("awards = %d, want 2", len(got))
	}
	if got[0].Kind != motivation.AwardMastery || got[0].NodeID != "add" || got[0].Rarity != motivation.RarityEpic {
		t.Errorf("newest award = %+v", got[0])
	}
	if got[1].SessionID != "s1" || got[1].Points != 10 {
		t.Errorf("oldest award = %+v", got[1])
	}
}

func TestEventRepo_SharedSequence(t *testing.T) {
	s := openTestStore(t)
	repo := s.EventRepo()
	ctx := context.Background()

	if err := repo.AppendLLMRequest(ctx, llm.RequestEvent{Provider: "mock", Model: "m", Purpose: "quiz"}); err != nil {
		t.Fatal(err)
	}
	if err := repo.RecordAward(ctx, "u1", "s1", motivation.Award{Kind: motivation.AwardSession, Rarity: motivation.RarityCommon}); err != nil {
		t.Fatal(err)
	}
	if err := repo.AppendLLMRequest(ctx, llm.RequestEvent{Provider: "mock", Model: "m", Purpose: "lesson"}); err != nil {
		t.Fatal(err)
	}

	llmEvents, _ := repo.QueryLLMEvents(ctx, QueryOpts{})
	awards, _ := repo.QueryAwards(ctx, QueryOpts{})
	if len(llmEvents) != 2 || len(awards) != 1 {
		t.Fatalf("llm = %d, awards = %d", len(llmEvents), len(awards))
	}
	if llmEvents[1].Sequence != 1 || awards[0].Sequence != 2 || llmEvents[0].Sequence != 3 {
		t.Errorf("sequences = %d, %d, %d; want 1, 2, 3",
			llmEvents[1].Sequence, awards[0].Sequence, llmEvents[0].Sequence)
	}
}
