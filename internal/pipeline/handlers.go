package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/abhisek/learngraph/internal/apperr"
	"github.com/abhisek/learngraph/internal/content"
	"github.com/abhisek/learngraph/internal/diagnosis"
	"github.com/abhisek/learngraph/internal/graph"
	"github.com/abhisek/learngraph/internal/mastery"
	"github.com/abhisek/learngraph/internal/motivation"
)

// orchestrator picks the target concept and the kind of material.
type orchestrator struct{}

func (orchestrator) Stage() Stage { return StageOrchestrating }

func (orchestrator) Execute(ctx context.Context, s *Session, env *Env) (StageResult, error) {
	for _, goal := range s.GoalIDs {
		rec, err := env.Planner.RecommendNext(ctx, s.UserID, goal, env.Config.MaxItems)
		if err != nil {
			return StageResult{NodeID: goal}, fmt.Errorf("plan for goal %q: %w", goal, err)
		}
		if rec.AlreadyMastered || len(rec.Items) == 0 {
			continue
		}

		target := rec.Items[0]
		s.Recommendation = rec
		s.GoalID = goal
		s.TargetID = target.NodeID
		s.Kind = chooseKind(target.Mastery, env.Planner.Threshold(), env.Config.QuizMargin, s.History.LastKind)
		return StageResult{
			NodeID:  target.NodeID,
			Kind:    s.Kind,
			Message: fmt.Sprintf("%s on %q (%d items toward %q)", s.Kind, target.Title, len(rec.Items), goal),
		}, nil
	}
	return StageResult{Outcome: OutcomeAlreadyMastered, Message: "all goals mastered"},
		apperr.Wrap(ErrNoEligibleContent, "goals %s", strings.Join(s.GoalIDs, ", "))
}

// chooseKind goes straight to a quiz when mastery is near the threshold and
// otherwise alternates with the previous session's material.
func chooseKind(m, threshold, margin float64, last content.Kind) content.Kind {
	if m >= threshold-margin {
		return content.KindQuiz
	}
	if last == content.KindLesson {
		return content.KindQuiz
	}
	return content.KindLesson
}

// deliverer is the ContentCurator (lessons) and QuizMaster (quizzes).
type deliverer struct {
	stage Stage
	kind  content.Kind
}

func (d deliverer) Stage() Stage { return d.stage }

func (d deliverer) Execute(ctx context.Context, s *Session, env *Env) (StageResult, error) {
	res := StageResult{NodeID: s.TargetID, Kind: d.kind}
	in, err := contentInput(env, s.UserID, s.TargetID, d.kind)
	if err != nil {
		return res, err
	}
	p, err := env.Content.Fetch(ctx, in)
	if err != nil {
		return res, err
	}
	s.Payload = p
	res.Message = p.Title
	if p.Source == "cache" {
		res.Outcome = OutcomeFallback
	}
	return res, nil
}

// contentInput describes the target for the generator. Authored lesson or
// quiz nodes whose "concept" attribute names the target contribute their
// attributes over the concept's own.
func contentInput(env *Env, userID, nodeID string, kind content.Kind) (content.Input, error) {
	view := env.Graph.View(userID)
	n, ok := view.Node(nodeID)
	if !ok {
		return content.Input{}, apperr.Wrap(graph.ErrNotFound, "node %q", nodeID)
	}

	attrs := make(map[string]any, len(n.Attributes))
	for k, v := range n.Attributes {
		attrs[k] = v
	}
	authored := graph.NodeLesson
	if kind == content.KindQuiz {
		authored = graph.NodeQuiz
	}
	for _, c := range env.Graph.Nodes(authored) {
		if c.Active && c.Attr("concept") == nodeID {
			for k, v := range c.Attributes {
				attrs[k] = v
			}
			break
		}
	}

	var prereqs []string
	for _, e := range view.Incoming(nodeID, graph.EdgePrerequisite) {
		if p, ok := view.Node(e.SourceID); ok && p.Active {
			prereqs = append(prereqs, p.Title())
		}
	}

	m := 0.0
	if link, ok := view.MasteryLink(nodeID); ok {
		m = env.Mastery.Effective(link, env.Now())
	}
	return content.Input{
		NodeID:        nodeID,
		Kind:          kind,
		Difficulty:    content.DifficultyFor(m, env.Planner.Threshold()),
		Title:         n.Title(),
		Description:   n.Attr("description"),
		Attributes:    attrs,
		Prerequisites: prereqs,
	}, nil
}

var validate = validator.New()

func validateResponse(s *Session, r Response) error {
	if err := validate.Struct(r); err != nil {
		return apperr.WithCause(ErrInvalidResponse, err, "malformed response")
	}
	if s.Payload == nil {
		return apperr.Wrap(ErrMissingPayload, "session %s", s.ID)
	}
	known := make(map[string]bool, len(s.Payload.Items))
	for _, it := range s.Payload.Items {
		known[it.ID] = true
	}
	for id := range r.Answers {
		if !known[id] {
			return apperr.Wrap(ErrInvalidResponse, "unknown item %q", id)
		}
	}
	switch s.Kind {
	case content.KindQuiz:
		if len(r.Answers) == 0 {
			return apperr.Wrap(ErrInvalidResponse, "a quiz needs at least one answer")
		}
	case content.KindLesson:
		if !r.Acknowledged && len(r.Answers) == 0 {
			return apperr.Wrap(ErrInvalidResponse, "acknowledge the lesson or answer its questions")
		}
	}
	return nil
}

// evaluator scores the response and always commits the mastery update
// before it returns.
type evaluator struct{}

func (evaluator) Stage() Stage { return StageEvaluating }

func (evaluator) Execute(ctx context.Context, s *Session, env *Env) (StageResult, error) {
	res := StageResult{NodeID: s.TargetID, Kind: s.Kind}
	if s.Payload == nil || s.Response == nil {
		return res, apperr.Wrap(ErrMissingPayload, "nothing to evaluate")
	}

	ev := &Evaluation{}
	weight := env.Config.QuizWeight
	switch {
	case len(s.Response.Answers) > 0:
		score, correct := content.Score(s.Payload, s.Response.Answers)
		ev.Score, ev.Assessed = score, true
		ev.Feedback = feedback(s, env, correct)
		if s.Kind == content.KindLesson {
			weight = env.Config.LessonWeight
		}
	default:
		// Reading a lesson never lowers mastery.
		current := 0.0
		if rec := s.Recommendation; rec != nil && len(rec.Items) > 0 {
			current = rec.Items[0].Mastery
		}
		ev.Score = max(env.Config.LessonCredit, current)
		weight = env.Config.LessonWeight
	}
	ev.Passed = ev.Score >= env.Config.PassScore

	upd, err := env.Mastery.RecordOutcome(ctx, s.UserID, s.TargetID, ev.Score, weight)
	if err != nil {
		return res, fmt.Errorf("record outcome: %w", err)
	}
	ev.Update = upd
	// Evaluation is recorded even if propagation fails; the direct update
	// is already committed.
	s.Evaluation = ev
	score := ev.Score
	res.Score = &score

	prop, err := env.Mastery.Propagate(ctx, s.UserID, s.TargetID)
	ev.Propagated = prop
	if err != nil {
		return res, fmt.Errorf("propagate: %w", err)
	}
	recordCompletion(ctx, env, s, ev.Score)

	res.Message = fmt.Sprintf("mastery %.2f -> %.2f, %d propagated", upd.Old, upd.New, len(prop))
	return res, nil
}

// feedback reports every item, diagnosing the wrong ones.
func feedback(s *Session, env *Env, correct map[string]bool) []Feedback {
	items := s.Payload.Items
	right := 0
	for _, it := range items {
		if correct[it.ID] {
			right++
		}
	}
	var peak float64
	if link, ok := env.Graph.MasteryLink(s.UserID, s.TargetID); ok {
		peak = link.Float(mastery.PropPeak)
	}
	var perItem time.Duration
	if last, ok := s.Last(); ok && len(items) > 0 && !s.Response.ReceivedAt.IsZero() {
		delivered := last.StartedAt.Add(last.Duration)
		perItem = max(0, s.Response.ReceivedAt.Sub(delivered)) / time.Duration(len(items))
	}

	out := make([]Feedback, 0, len(items))
	for _, it := range items {
		fb := Feedback{
			ItemID:      it.ID,
			Correct:     correct[it.ID],
			Given:       s.Response.Answers[it.ID],
			Expected:    it.Answer,
			Explanation: it.Explanation,
		}
		if !fb.Correct {
			other := -1.0
			if len(items) > 1 {
				other = float64(right) / float64(len(items)-1)
			}
			fb.Diagnosis = diagnosis.Classify(diagnosis.Input{
				Given:         fb.Given,
				PerItem:       perItem,
				Peak:          peak,
				OtherAccuracy: other,
			}).Category
		}
		out = append(out, fb)
	}
	return out
}

// recordCompletion links the learner to the authored lesson or quiz node
// served, if there is one. Failures are logged only.
func recordCompletion(ctx context.Context, env *Env, s *Session, score float64) {
	authored := graph.NodeLesson
	if s.Kind == content.KindQuiz {
		authored = graph.NodeQuiz
	}
	for _, n := range env.Graph.Nodes(authored) {
		if !n.Active || n.Attr("concept") != s.TargetID {
			continue
		}
		_, err := env.Graph.AddEdge(ctx, graph.Edge{
			SourceID:   s.UserID,
			TargetID:   n.ID,
			Type:       graph.EdgeCompletion,
			Weight:     score,
			Properties: map[string]any{"session_id": s.ID},
		})
		if err != nil {
			env.Logger.Warn("record completion", zap.String("node_id", n.ID), zap.Error(err))
		}
		return
	}
}

// progressTracker computes trend analytics. It never mutates the graph.
type progressTracker struct{}

func (progressTracker) Stage() Stage { return StageTrackingProgress }

func (progressTracker) Execute(ctx context.Context, s *Session, env *Env) (StageResult, error) {
	trend, err := env.Progress.GetTrend(ctx, s.UserID, env.Config.TrendWindow)
	if err != nil {
		return StageResult{}, fmt.Errorf("trend: %w", err)
	}
	s.Trend = trend
	return StageResult{
		NodeID:  s.TargetID,
		Message: fmt.Sprintf("%d concepts, mean delta %+.2f, %d stagnant, %d gaps",
			len(trend.Concepts), trend.MeanDelta, len(trend.Stagnant), len(trend.Gaps)),
	}, nil
}

// motivator decides reinforcement. It only touches session counters and
// the award ledger.
type motivator struct{}

func (motivator) Stage() Stage { return StageMotivating }

func (motivator) Execute(ctx context.Context, s *Session, env *Env) (StageResult, error) {
	if s.Evaluation == nil {
		return StageResult{}, apperr.Wrap(ErrOutOfOrder, "motivating before evaluation")
	}
	ev := s.Evaluation
	in := motivation.Input{
		NodeID:      s.TargetID,
		Assessed:    ev.Assessed,
		Score:       ev.Score,
		PassScore:   env.Config.PassScore,
		PriorStreak: s.History.Streak,
		Trend:       s.Trend,
	}
	if s.Payload != nil {
		in.Title = s.Payload.Title
	}
	if t := ev.Update.Transition; t != nil && t.To == mastery.StateMastered {
		in.Recovered = t.From == mastery.StateRusty
		in.Mastered = !in.Recovered
	}
	if in.Mastered || in.Recovered {
		in.Depth = motivation.PrerequisiteDepth(env.Graph.View(s.UserID), s.TargetID)
	}

	r := motivation.Decide(in)
	s.Reinforcement = &r
	s.History.Streak = r.Streak.Length
	s.History.LastKind = s.Kind

	if env.Ledger != nil {
		for _, a := range r.Awards {
			if err := env.Ledger.RecordAward(ctx, s.UserID, s.ID, a); err != nil {
				env.Logger.Warn("record award",
					zap.String("session_id", s.ID), zap.String("award", string(a.Kind)), zap.Error(err))
			}
		}
	}
	return StageResult{NodeID: s.TargetID, Message: r.Message}, nil
}
