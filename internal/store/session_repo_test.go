package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/abhisek/learngraph/internal/content"
	"github.com/abhisek/learngraph/internal/pipeline"
)

func archivedSession(id, user string, started time.Time, status pipeline.Status, streak int) *pipeline.Session {
	s := &pipeline.Session{
		ID:        id,
		UserID:    user,
		GoalIDs:   []string{"add"},
		Status:    status,
		Stage:     pipeline.StageComplete,
		TargetID:  "add",
		Kind:      content.KindQuiz,
		History:   pipeline.History{LastKind: content.KindQuiz, Streak: streak, Sessions: 1},
		StartedAt: started,
		UpdatedAt: started,
		Log: []pipeline.StageResult{
			{Seq: 1, SessionID: id, Stage: pipeline.StageOrchestrating, Outcome: pipeline.OutcomeOK, NodeID: "add"},
		},
	}
	if status.Terminal() {
		s.EndedAt = started.Add(time.Minute)
	}
	return s
}

func TestSessionRepo(t *testing.T) {
	s := openTestStore(t)
	repo := s.SessionRepo()
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	if _, err := repo.GetSession(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("get missing = %v, want ErrSessionNotFound", err)
	}
	h, err := repo.LatestHistory(ctx, "u1")
	if err != nil {
		t.Fatalf("latest history (empty): %v", err)
	}
	if h != (pipeline.History{}) {
		t.Errorf("history = %+v, want zero", h)
	}

	sessions := []*pipeline.Session{
		archivedSession("s1", "u1", base, pipeline.StatusComplete, 1),
		archivedSession("s2", "u1", base.Add(time.Hour), pipeline.StatusComplete, 2),
		archivedSession("s3", "u2", base.Add(2*time.Hour), pipeline.StatusFailed, 0),
		archivedSession("s4", "u1", base.Add(3*time.Hour), pipeline.StatusActive, 9),
	}
	for _, sess := range sessions {
		if err := repo.SaveSession(ctx, sess); err != nil {
			t.Fatalf("save %s: %v", sess.ID, err)
		}
	}

	got, err := repo.GetSession(ctx, "s2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UserID != "u1" || len(got.Log) != 1 || got.Log[0].Stage != pipeline.StageOrchestrating {
		t.Errorf("session = %+v", got)
	}
	if !got.StartedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("started_at = %v", got.StartedAt)
	}

	recent, err := repo.RecentSessions(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "s4" || recent[1].ID != "s2" {
		t.Errorf("recent = %v", ids(recent))
	}

	// The active session carries no settled history.
	h, err = repo.LatestHistory(ctx, "u1")
	if err != nil {
		t.Fatalf("latest history: %v", err)
	}
	if h.Streak != 2 {
		t.Errorf("streak = %d, want 2", h.Streak)
	}

	sessions[3].Status = pipeline.StatusAbandoned
	sessions[3].EndedAt = base.Add(4 * time.Hour)
	if err := repo.SaveSession(ctx, sessions[3]); err != nil {
		t.Fatalf("resave: %v", err)
	}
	got, _ = repo.GetSession(ctx, "s4")
	if got.Status != pipeline.StatusAbandoned {
		t.Errorf("status = %s after upsert", got.Status)
	}
}

func ids(ss []*pipeline.Session) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = s.ID
	}
	return out
}
