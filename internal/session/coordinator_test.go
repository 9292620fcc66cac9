package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/abhisek/learngraph/internal/content"
	"github.com/abhisek/learngraph/internal/graph"
	"github.com/abhisek/learngraph/internal/mastery"
	"github.com/abhisek/learngraph/internal/pipeline"
	"github.com/abhisek/learngraph/internal/planner"
	"github.com/abhisek/learngraph/internal/progress"
)

// The genai dependency chain starts an opencensus worker at init.
var ignoreOpenCensus = goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start")

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type memArchive struct {
	mu       sync.Mutex
	sessions map[string]pipeline.Session
	saves    int
}

func newMemArchive() *memArchive {
	return &memArchive{sessions: make(map[string]pipeline.Session)}
}

func (a *memArchive) SaveSession(_ context.Context, s *pipeline.Session) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[s.ID] = *s
	a.saves++
	return nil
}

func (a *memArchive) GetSession(_ context.Context, id string) (*pipeline.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[id]
	if !ok {
		return nil, errors.New("no such session")
	}
	return &s, nil
}

func (a *memArchive) LatestHistory(_ context.Context, userID string) (pipeline.History, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var (
		h      pipeline.History
		latest time.Time
	)
	for _, s := range a.sessions {
		if s.UserID == userID && s.Status.Terminal() && !s.EndedAt.Before(latest) {
			h, latest = s.History, s.EndedAt
		}
	}
	return h, nil
}

type world struct {
	t     *testing.T
	ctx   context.Context
	clock *clock
	g     *graph.Graph
	eng   *mastery.Engine
	pipe  *pipeline.Pipeline
}

func newWorld(t *testing.T) *world {
	t.Helper()
	clk := &clock{t: time.Date(2026, 5, 4, 15, 0, 0, 0, time.UTC)}
	g := graph.New(graph.WithClock(clk.Now))
	eng := mastery.NewEngine(g, mastery.DefaultConfig(), nil)
	pipe := pipeline.New(pipeline.Env{
		Graph:    g,
		Mastery:  eng,
		Planner:  planner.New(g, eng, planner.DefaultConfig()),
		Content:  content.NewService(content.NewStaticGenerator(), content.NewMemoryCache(), content.DefaultConfig(), nil, nil),
		Progress: progress.NewTracker(g, eng, progress.DefaultConfig()),
		Config:   pipeline.DefaultConfig(),
		Now:      clk.Now,
	}, nil)

	w := &world{t: t, ctx: context.Background(), clock: clk, g: g, eng: eng, pipe: pipe}
	_, err := g.AddNode(w.ctx, graph.Node{ID: "add", Type: graph.NodeConcept, Attributes: map[string]any{
		"title": "Addition",
		"body":  "Addition combines two numbers.",
		"items": []any{
			map[string]any{"id": "q1", "prompt": "2 + 3", "answer": "5", "answer_type": "integer"},
			map[string]any{"id": "q2", "prompt": "3 + 4", "answer": "7", "answer_type": "integer"},
		},
	}})
	require.NoError(t, err)
	return w
}

func (w *world) coordinator(opts ...Option) *Coordinator {
	opts = append([]Option{WithClock(w.clock.Now)}, opts...)
	return NewCoordinator(w.pipe, w.g, DefaultConfig(), opts...)
}

func (w *world) seed(userID string, score float64) {
	w.t.Helper()
	_, err := w.g.AddNode(w.ctx, graph.Node{ID: userID, Type: graph.NodeUser})
	require.NoError(w.t, err)
	_, err = w.eng.RecordOutcome(w.ctx, userID, "add", score, 1)
	require.NoError(w.t, err)
}

func (w *world) status(c *Coordinator, id string) *pipeline.Snapshot {
	w.t.Helper()
	snap, err := c.GetSessionStatus(w.ctx, id)
	require.NoError(w.t, err)
	return snap
}

var correct = pipeline.Response{Answers: map[string]string{"q1": "5", "q2": "7"}}

func TestCoordinator_StartAndComplete(t *testing.T) {
	w := newWorld(t)
	c := w.coordinator()

	id, err := c.StartSession(w.ctx, "u1", []string{"add"})
	require.NoError(t, err)

	node, err := w.g.GetNode("u1")
	require.NoError(t, err, "learner node should be created on first session")
	assert.Equal(t, graph.NodeUser, node.Type)

	snap := w.status(c, id)
	assert.Equal(t, pipeline.StatusActive, snap.Status)
	assert.Equal(t, pipeline.StageAwaitingResponse, snap.Stage)
	assert.Equal(t, 1, c.Live())

	res, err := c.SubmitResponse(w.ctx, id, pipeline.Response{Acknowledged: true})
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageMotivating, res.Stage)

	snap = w.status(c, id)
	assert.Equal(t, pipeline.StatusComplete, snap.Status)
	assert.Len(t, snap.Log, 5)
	assert.Equal(t, 0, c.Live())
}

func TestCoordinator_StatusIsIdempotent(t *testing.T) {
	w := newWorld(t)
	c := w.coordinator()
	id, err := c.StartSession(w.ctx, "u1", []string{"add"})
	require.NoError(t, err)

	first := w.status(c, id)
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, w.status(c, id))
	}
}

func TestCoordinator_ConcurrentSubmitsApplyOnce(t *testing.T) {
	w := newWorld(t)
	w.seed("u1", 0.65)
	c := w.coordinator()
	id, err := c.StartSession(w.ctx, "u1", []string{"add"})
	require.NoError(t, err)
	require.Equal(t, content.KindQuiz, w.status(c, id).Kind)

	const callers = 8
	results := make([]*pipeline.StageResult, callers)
	var eg errgroup.Group
	for i := range callers {
		eg.Go(func() error {
			r, err := c.SubmitResponse(w.ctx, id, correct)
			results[i] = r
			return err
		})
	}
	require.NoError(t, eg.Wait())

	for _, r := range results[1:] {
		assert.Equal(t, *results[0], *r)
	}
	m, _, err := w.eng.Mastery(w.ctx, "u1", "add")
	require.NoError(t, err)
	assert.InDelta(t, 0.825, m, 1e-9, "mastery must be updated exactly once")

	changes := w.g.Changes(graph.ChangeQuery{
		UserID: "u1", NodeID: "add", Kinds: []graph.ChangeKind{graph.ChangeMasteryUpdated},
	})
	assert.Len(t, changes, 2, "seed plus one evaluation")
}

func TestCoordinator_IdleSessionIsAbandoned(t *testing.T) {
	w := newWorld(t)
	c := w.coordinator()
	id, err := c.StartSession(w.ctx, "u1", []string{"add"})
	require.NoError(t, err)

	w.clock.Advance(31 * time.Minute)

	_, err = c.SubmitResponse(w.ctx, id, pipeline.Response{Acknowledged: true})
	require.ErrorIs(t, err, ErrSessionClosed)

	snap := w.status(c, id)
	assert.Equal(t, pipeline.StatusAbandoned, snap.Status)
	require.Len(t, snap.Log, 2)
	assert.Equal(t, pipeline.StageOrchestrating, snap.Log[0].Stage)
	assert.Equal(t, pipeline.StageCurating, snap.Log[1].Stage)

	_, linked, err := w.eng.Mastery(w.ctx, "u1", "add")
	require.NoError(t, err)
	assert.False(t, linked)

	_, err = c.SubmitResponse(w.ctx, id, pipeline.Response{Acknowledged: true})
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestCoordinator_NotIdleWithinTimeout(t *testing.T) {
	w := newWorld(t)
	c := w.coordinator()
	id, err := c.StartSession(w.ctx, "u1", []string{"add"})
	require.NoError(t, err)

	w.clock.Advance(29 * time.Minute)
	_, err = c.SubmitResponse(w.ctx, id, pipeline.Response{Acknowledged: true})
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusComplete, w.status(c, id).Status)
}

func TestCoordinator_Sweep(t *testing.T) {
	w := newWorld(t)
	c := w.coordinator()
	for _, u := range []string{"u1", "u2"} {
		_, err := c.StartSession(w.ctx, u, []string{"add"})
		require.NoError(t, err)
	}
	assert.Equal(t, 0, c.Sweep(w.ctx))

	w.clock.Advance(time.Hour)
	assert.Equal(t, 2, c.Sweep(w.ctx))
	assert.Equal(t, 0, c.Live())
	assert.Equal(t, 0, c.Sweep(w.ctx))
}

func TestCoordinator_Cancel(t *testing.T) {
	w := newWorld(t)
	c := w.coordinator()
	id, err := c.StartSession(w.ctx, "u1", []string{"add"})
	require.NoError(t, err)

	require.NoError(t, c.Cancel(w.ctx, id))
	assert.Equal(t, pipeline.StatusCancelled, w.status(c, id).Status)
	assert.NoError(t, c.Cancel(w.ctx, id), "cancel is idempotent")

	_, err = c.SubmitResponse(w.ctx, id, pipeline.Response{Acknowledged: true})
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestCoordinator_CancelFinishedSession(t *testing.T) {
	w := newWorld(t)
	c := w.coordinator()
	id, err := c.StartSession(w.ctx, "u1", []string{"add"})
	require.NoError(t, err)
	_, err = c.SubmitResponse(w.ctx, id, pipeline.Response{Acknowledged: true})
	require.NoError(t, err)

	assert.ErrorIs(t, c.Cancel(w.ctx, id), ErrSessionClosed)
}

func TestCoordinator_InvalidResponseKeepsSessionOpen(t *testing.T) {
	w := newWorld(t)
	c := w.coordinator()
	id, err := c.StartSession(w.ctx, "u1", []string{"add"})
	require.NoError(t, err)

	_, err = c.SubmitResponse(w.ctx, id, pipeline.Response{})
	require.ErrorIs(t, err, pipeline.ErrInvalidResponse)
	assert.Equal(t, pipeline.StageAwaitingResponse, w.status(c, id).Stage)

	_, err = c.SubmitResponse(w.ctx, id, pipeline.Response{Acknowledged: true})
	require.NoError(t, err)
}

func TestCoordinator_Errors(t *testing.T) {
	w := newWorld(t)
	c := w.coordinator()

	tests := []struct {
		name  string
		user  string
		goals []string
	}{
		{"no user", "", []string{"add"}},
		{"no goals", "u1", nil},
		{"blank goal", "u1", []string{""}},
		{"content node as learner", "add", []string{"add"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.StartSession(w.ctx, tt.user, tt.goals)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}

	_, err := c.GetSessionStatus(w.ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = c.SubmitResponse(w.ctx, "missing", correct)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCoordinator_HistoryCarriesAcrossSessions(t *testing.T) {
	w := newWorld(t)
	c := w.coordinator()

	first, err := c.StartSession(w.ctx, "u1", []string{"add"})
	require.NoError(t, err)
	require.Equal(t, content.KindLesson, w.status(c, first).Kind)
	_, err = c.SubmitResponse(w.ctx, first, pipeline.Response{Acknowledged: true})
	require.NoError(t, err)

	second, err := c.StartSession(w.ctx, "u1", []string{"add"})
	require.NoError(t, err)
	assert.Equal(t, content.KindQuiz, w.status(c, second).Kind)
}

func TestCoordinator_OverlappingSessionsShareHistory(t *testing.T) {
	w := newWorld(t)
	w.seed("u1", 0.65)
	c := w.coordinator()

	first, err := c.StartSession(w.ctx, "u1", []string{"add"})
	require.NoError(t, err)
	second, err := c.StartSession(w.ctx, "u1", []string{"add"})
	require.NoError(t, err)
	require.Equal(t, content.KindQuiz, w.status(c, first).Kind)
	require.Equal(t, content.KindQuiz, w.status(c, second).Kind)

	_, err = c.SubmitResponse(w.ctx, first, correct)
	require.NoError(t, err)
	_, err = c.SubmitResponse(w.ctx, second, correct)
	require.NoError(t, err)

	assert.Equal(t, 1, w.status(c, first).Reinforcement.Streak.Length)
	assert.Equal(t, 2, w.status(c, second).Reinforcement.Streak.Length)
	assert.Equal(t, pipeline.History{LastKind: content.KindQuiz, Streak: 2, Sessions: 2}, c.historyFor(w.ctx, "u1"))
}

func TestCoordinator_SinkSeesEveryStage(t *testing.T) {
	w := newWorld(t)
	var (
		mu  sync.Mutex
		got []pipeline.Stage
	)
	c := w.coordinator(WithSink(SinkFunc(func(r pipeline.StageResult) {
		mu.Lock()
		got = append(got, r.Stage)
		mu.Unlock()
	})))

	id, err := c.StartSession(w.ctx, "u1", []string{"add"})
	require.NoError(t, err)
	_, err = c.SubmitResponse(w.ctx, id, pipeline.Response{Acknowledged: true})
	require.NoError(t, err)

	assert.Equal(t, []pipeline.Stage{
		pipeline.StageOrchestrating, pipeline.StageCurating, pipeline.StageEvaluating,
		pipeline.StageTrackingProgress, pipeline.StageMotivating,
	}, got)
}

func TestCoordinator_Archive(t *testing.T) {
	w := newWorld(t)
	archive := newMemArchive()
	c := w.coordinator(WithArchive(archive))

	id, err := c.StartSession(w.ctx, "u1", []string{"add"})
	require.NoError(t, err)
	_, err = c.SubmitResponse(w.ctx, id, pipeline.Response{Acknowledged: true})
	require.NoError(t, err)
	assert.Equal(t, 2, archive.saves, "written through after each run")

	// A fresh coordinator serves the finished session and the learner's
	// history from the archive.
	fresh := w.coordinator(WithArchive(archive))
	snap := w.status(fresh, id)
	assert.Equal(t, pipeline.StatusComplete, snap.Status)

	next, err := fresh.StartSession(w.ctx, "u1", []string{"add"})
	require.NoError(t, err)
	assert.Equal(t, content.KindQuiz, w.status(fresh, next).Kind)
}

func TestCoordinator_AlreadyMasteredCompletesEarly(t *testing.T) {
	w := newWorld(t)
	w.seed("u1", 0.95)
	c := w.coordinator()

	id, err := c.StartSession(w.ctx, "u1", []string{"add"})
	require.NoError(t, err)
	snap := w.status(c, id)
	assert.Equal(t, pipeline.StatusComplete, snap.Status)
	require.Len(t, snap.Log, 1)
	assert.Equal(t, pipeline.OutcomeAlreadyMastered, snap.Log[0].Outcome)
}

func TestRunJanitor(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreOpenCensus)

	w := newWorld(t)
	c := w.coordinator()
	_, err := c.StartSession(w.ctx, "u1", []string{"add"})
	require.NoError(t, err)
	w.clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.RunJanitor(ctx, 5*time.Millisecond)
	}()

	require.Eventually(t, func() bool { return c.Live() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestRecent_EvictsOldest(t *testing.T) {
	r := newRecent(2)
	r.add("a", &entry{})
	r.add("b", &entry{})
	r.add("c", &entry{})

	_, ok := r.get("a")
	assert.False(t, ok)
	_, ok = r.get("c")
	assert.True(t, ok)

	none := newRecent(0)
	none.add("a", &entry{})
	_, ok = none.get("a")
	assert.False(t, ok)
}
