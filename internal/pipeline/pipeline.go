// Package pipeline runs one learning session through the fixed sequence of
// agent stages: Orchestrating, Curating or Quizzing, AwaitingResponse,
// Evaluating, TrackingProgress, Motivating and Complete.
//
// Each stage is a Handler. The pipeline picks the handler for the session's
// current stage, records its StageResult in the workflow log and moves to
// the next stage. Execution stops when a response is needed or the session
// reaches a terminal status.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/abhisek/learngraph/internal/apperr"
	"github.com/abhisek/learngraph/internal/content"
	"github.com/abhisek/learngraph/internal/graph"
	"github.com/abhisek/learngraph/internal/mastery"
	"github.com/abhisek/learngraph/internal/metrics"
	"github.com/abhisek/learngraph/internal/motivation"
	"github.com/abhisek/learngraph/internal/planner"
	"github.com/abhisek/learngraph/internal/progress"
)

// Config holds the stage policies.
type Config struct {
	// QuizMargin is how close to the mastery threshold a concept must be for
	// the orchestrator to skip straight to a quiz.
	QuizMargin float64 `yaml:"quiz_margin" validate:"gte=0,lte=1"`
	// QuizWeight and LessonWeight are the evidence weights passed to the
	// mastery engine.
	QuizWeight   float64 `yaml:"quiz_weight" validate:"gt=0,lte=1"`
	LessonWeight float64 `yaml:"lesson_weight" validate:"gt=0,lte=1"`
	// LessonCredit is the score credited for reading a lesson without
	// answering its check questions.
	LessonCredit float64       `yaml:"lesson_credit" validate:"gte=0,lte=1"`
	PassScore    float64       `yaml:"pass_score" validate:"gt=0,lte=1"`
	TrendWindow  time.Duration `yaml:"trend_window" validate:"gt=0"`
	MaxItems     int           `yaml:"max_items" validate:"gte=1,lte=100"`
}

func DefaultConfig() Config {
	return Config{
		QuizMargin:   0.1,
		QuizWeight:   0.5,
		LessonWeight: 0.25,
		LessonCredit: 0.6,
		PassScore:    0.6,
		TrendWindow:  7 * 24 * time.Hour,
		MaxItems:     5,
	}
}

// Env is what stage handlers read and write through.
type Env struct {
	Graph    *graph.Graph
	Mastery  *mastery.Engine
	Planner  *planner.Planner
	Content  *content.Service
	Progress *progress.Tracker
	// Ledger records awards. It may be nil.
	Ledger motivation.Ledger
	Config Config
	Logger *zap.Logger
	Now    func() time.Time
}

// Handler executes one stage. Execute returns the result to log; a non-nil
// error fails the session unless the result's outcome is recoverable.
type Handler interface {
	Stage() Stage
	Execute(ctx context.Context, s *Session, env *Env) (StageResult, error)
}

// Hooks let the caller observe and stop a run between stages.
type Hooks struct {
	// Cancelled is checked before every stage.
	Cancelled func() bool
	// Emit receives every StageResult as it is logged.
	Emit func(StageResult)
	// History, when set, runs fn on the learner's shared History while
	// holding that learner's lock. Without it the session's own copy is
	// used.
	History func(ctx context.Context, userID string, fn func(*History))
}

func (h Hooks) cancelled() bool { return h.Cancelled != nil && h.Cancelled() }

func (h Hooks) emit(r StageResult) {
	if h.Emit != nil {
		h.Emit(r)
	}
}

// withHistory runs fn with s.History holding the learner's current shared
// History and stores the result back under the same lock.
func (h Hooks) withHistory(ctx context.Context, s *Session, fn func()) {
	if h.History == nil {
		fn()
		return
	}
	h.History(ctx, s.UserID, func(shared *History) {
		s.History = *shared
		fn()
		*shared = s.History
	})
}

// Pipeline holds the stage handlers and their environment.
type Pipeline struct {
	env      Env
	handlers map[Stage]Handler
	metrics  *metrics.Collector
	tracer   trace.Tracer
}

// New returns a pipeline with the standard handlers. m may be nil.
func New(env Env, m *metrics.Collector) *Pipeline {
	if env.Logger == nil {
		env.Logger = zap.NewNop()
	}
	if env.Now == nil {
		env.Now = time.Now
	}
	p := &Pipeline{
		env:      env,
		handlers: make(map[Stage]Handler),
		metrics:  m,
		tracer:   otel.Tracer("github.com/abhisek/learngraph/internal/pipeline"),
	}
	for _, h := range []Handler{
		orchestrator{},
		deliverer{stage: StageCurating, kind: content.KindLesson},
		deliverer{stage: StageQuizzing, kind: content.KindQuiz},
		evaluator{},
		progressTracker{},
		motivator{},
	} {
		p.handlers[h.Stage()] = h
	}
	return p
}

// Config returns the stage policies.
func (p *Pipeline) Config() Config { return p.env.Config }

// NewSession returns a session positioned at Orchestrating.
func (p *Pipeline) NewSession(userID string, goalIDs []string, h History) *Session {
	now := p.env.Now()
	return &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		GoalIDs:   append([]string(nil), goalIDs...),
		Status:    StatusActive,
		Stage:     StageOrchestrating,
		History:   h,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// Advance runs stages from the session's current position until a
// response is needed or the session ends. Stage failures are recorded on
// the session, not returned; the error is reserved for misuse.
func (p *Pipeline) Advance(ctx context.Context, s *Session, hooks Hooks) ([]StageResult, error) {
	if s.Status.Terminal() {
		return nil, apperr.Wrap(ErrSessionClosed, "session %s is %s", s.ID, s.Status)
	}
	if s.Stage == StageAwaitingResponse {
		return nil, apperr.Wrap(ErrOutOfOrder, "session %s awaits a response", s.ID)
	}
	return p.run(ctx, s, hooks), nil
}

// Respond accepts the learner's response and runs Evaluating through
// Complete. A malformed response returns ErrInvalidResponse and leaves the
// session awaiting.
func (p *Pipeline) Respond(ctx context.Context, s *Session, r Response, hooks Hooks) ([]StageResult, error) {
	if s.Status.Terminal() {
		return nil, apperr.Wrap(ErrSessionClosed, "session %s is %s", s.ID, s.Status)
	}
	if s.Stage != StageAwaitingResponse {
		return nil, apperr.Wrap(ErrOutOfOrder, "session %s is %s, not awaiting a response", s.ID, s.Stage)
	}
	if err := validateResponse(s, r); err != nil {
		return nil, err
	}
	r.ReceivedAt = p.env.Now()
	s.Response = &r
	s.Stage = StageEvaluating
	s.UpdatedAt = p.env.Now()
	return p.run(ctx, s, hooks), nil
}

// Close ends an active session with a terminal status chosen by the caller
// (abandoned or cancelled). No stage runs and the log is kept as is.
func (p *Pipeline) Close(s *Session, status Status, reason string) {
	if s.Status.Terminal() {
		return
	}
	p.finish(s, status, reason)
}

func (p *Pipeline) run(ctx context.Context, s *Session, hooks Hooks) []StageResult {
	var out []StageResult
	for s.Status == StatusActive && s.Stage != StageAwaitingResponse {
		if s.Stage == StageComplete {
			p.complete(ctx, s, hooks)
			break
		}
		if hooks.cancelled() {
			p.finish(s, StatusCancelled, "cancelled")
			break
		}
		h, ok := p.handlers[s.Stage]
		if !ok {
			p.finish(s, StatusFailed, "no handler for stage "+string(s.Stage))
			break
		}

		var (
			res StageResult
			err error
		)
		if s.Stage == StageMotivating {
			hooks.withHistory(ctx, s, func() { res, err = p.execute(ctx, h, s) })
		} else {
			res, err = p.execute(ctx, h, s)
		}
		s.Log = append(s.Log, res)
		s.UpdatedAt = p.env.Now()
		hooks.emit(res)
		out = append(out, res)

		switch {
		case errors.Is(err, ErrNoEligibleContent):
			p.complete(ctx, s, hooks)
		case err != nil:
			p.env.Logger.Warn("stage failed",
				zap.String("session_id", s.ID), zap.String("user_id", s.UserID),
				zap.String("stage", string(res.Stage)), zap.Error(err))
			p.finish(s, StatusFailed, err.Error())
		default:
			s.Stage = next(s)
		}
	}
	return out
}

func (p *Pipeline) execute(ctx context.Context, h Handler, s *Session) (StageResult, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline."+string(h.Stage()), trace.WithAttributes(
		attribute.String("session.id", s.ID),
		attribute.String("user.id", s.UserID),
	))
	defer span.End()

	start := p.env.Now()
	res, err := h.Execute(ctx, s, &p.env)
	res.Seq = len(s.Log) + 1
	res.SessionID = s.ID
	res.Stage = h.Stage()
	res.StartedAt = start
	res.Duration = p.env.Now().Sub(start)
	if err != nil {
		if res.Outcome == "" {
			res.Outcome = OutcomeFailed
		}
		res.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.KindOf(err)))
	} else if res.Outcome == "" {
		res.Outcome = OutcomeOK
	}
	span.SetAttributes(attribute.String("stage.outcome", string(res.Outcome)))
	p.metrics.ObserveStage(string(res.Stage), string(res.Outcome), res.Duration)
	return res, err
}

func (p *Pipeline) complete(ctx context.Context, s *Session, hooks Hooks) {
	hooks.withHistory(ctx, s, func() {
		p.finish(s, StatusComplete, "")
		s.History.Sessions++
	})
}

func (p *Pipeline) finish(s *Session, status Status, reason string) {
	now := p.env.Now()
	s.Status = status
	s.EndedAt = now
	s.UpdatedAt = now
	s.Err = reason
	if status == StatusComplete {
		s.Stage = StageComplete
	}
}

func next(s *Session) Stage {
	switch s.Stage {
	case StageOrchestrating:
		if s.Kind == content.KindQuiz {
			return StageQuizzing
		}
		return StageCurating
	case StageCurating, StageQuizzing:
		return StageAwaitingResponse
	case StageEvaluating:
		return StageTrackingProgress
	case StageTrackingProgress:
		return StageMotivating
	}
	return StageComplete
}
