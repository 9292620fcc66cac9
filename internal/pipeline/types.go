package pipeline

import (
	"time"

	"github.com/abhisek/learngraph/internal/content"
	"github.com/abhisek/learngraph/internal/diagnosis"
	"github.com/abhisek/learngraph/internal/mastery"
	"github.com/abhisek/learngraph/internal/motivation"
	"github.com/abhisek/learngraph/internal/planner"
	"github.com/abhisek/learngraph/internal/progress"
)

// Stage is a position in the pipeline. Curating and Quizzing are
// alternatives for the same position.
type Stage string

const (
	StageOrchestrating    Stage = "orchestrating"
	StageCurating         Stage = "curating"
	StageQuizzing         Stage = "quizzing"
	StageAwaitingResponse Stage = "awaiting_response"
	StageEvaluating       Stage = "evaluating"
	StageTrackingProgress Stage = "tracking_progress"
	StageMotivating       Stage = "motivating"
	StageComplete         Stage = "complete"
)

// Position returns the stage's index in the fixed order.
func (s Stage) Position() int {
	switch s {
	case StageOrchestrating:
		return 0
	case StageCurating, StageQuizzing:
		return 1
	case StageAwaitingResponse:
		return 2
	case StageEvaluating:
		return 3
	case StageTrackingProgress:
		return 4
	case StageMotivating:
		return 5
	case StageComplete:
		return 6
	}
	return -1
}

// Status is the session lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusComplete  Status = "complete"
	StatusFailed    Status = "failed"
	StatusAbandoned Status = "abandoned"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are accepted.
func (s Status) Terminal() bool { return s != StatusActive }

// Outcome is how a stage ended.
type Outcome string

const (
	OutcomeOK              Outcome = "ok"
	OutcomeFallback        Outcome = "fallback"
	OutcomeAlreadyMastered Outcome = "already_mastered"
	OutcomeFailed          Outcome = "failed"
)

// StageResult is one workflow log entry. It is also the event handed to
// sinks as each stage finishes.
type StageResult struct {
	Seq       int           `json:"seq"`
	SessionID string        `json:"session_id"`
	Stage     Stage         `json:"stage"`
	Outcome   Outcome       `json:"outcome"`
	NodeID    string        `json:"node_id,omitempty"`
	Kind      content.Kind  `json:"kind,omitempty"`
	Score     *float64      `json:"score,omitempty"`
	Message   string        `json:"message,omitempty"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// History carries learner state across sessions. It holds the session-scoped
// gamification counters the motivator may change.
type History struct {
	LastKind content.Kind `json:"last_kind,omitempty"`
	Streak   int          `json:"streak"`
	Sessions int          `json:"sessions"`
}

// Response is a learner's submission for the pending material.
type Response struct {
	// Answers maps item id to the learner's answer.
	Answers map[string]string `json:"answers,omitempty" validate:"omitempty,dive,keys,required,max=64,endkeys,max=500"`
	// Acknowledged marks a lesson as read.
	Acknowledged bool `json:"acknowledged,omitempty"`
	// ReceivedAt is stamped by Respond.
	ReceivedAt time.Time `json:"received_at,omitzero"`
}

// Feedback reports the outcome of one answered item.
type Feedback struct {
	ItemID      string `json:"item_id"`
	Correct     bool   `json:"correct"`
	Given       string `json:"given"`
	Expected    string `json:"expected"`
	Explanation string `json:"explanation,omitempty"`
	// Diagnosis is the likely cause of a wrong answer.
	Diagnosis diagnosis.Category `json:"diagnosis,omitempty"`
}

// Evaluation is the evaluator's output.
type Evaluation struct {
	Score      float64          `json:"score"`
	Passed     bool             `json:"passed"`
	Assessed   bool             `json:"assessed"`
	Feedback   []Feedback       `json:"feedback,omitempty"`
	Update     mastery.Update   `json:"update"`
	Propagated []mastery.Update `json:"propagated,omitempty"`
}

// Session is one pass through the pipeline. A Session is not safe for
// concurrent use; the session coordinator serializes access.
type Session struct {
	ID       string   `json:"id"`
	UserID   string   `json:"user_id"`
	GoalIDs  []string `json:"goal_ids"`
	Status   Status   `json:"status"`
	Stage    Stage    `json:"stage"`
	TargetID string   `json:"target_id,omitempty"`
	GoalID   string   `json:"goal_id,omitempty"`

	// Kind is the material chosen by the orchestrator.
	Kind content.Kind `json:"kind,omitempty"`

	Recommendation *planner.Recommendation   `json:"recommendation,omitempty"`
	Payload        *content.Payload          `json:"payload,omitempty"`
	Response       *Response                 `json:"response,omitempty"`
	Evaluation     *Evaluation               `json:"evaluation,omitempty"`
	Trend          *progress.TrendReport     `json:"trend,omitempty"`
	Reinforcement  *motivation.Reinforcement `json:"reinforcement,omitempty"`

	History History       `json:"history"`
	Log     []StageResult `json:"log"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
	Err       string    `json:"error,omitempty"`
}

// Last returns the most recent log entry.
func (s *Session) Last() (StageResult, bool) {
	if len(s.Log) == 0 {
		return StageResult{}, false
	}
	return s.Log[len(s.Log)-1], true
}

// Snapshot is a read-only copy of a session for callers outside the core.
// While a response is pending, expected answers and explanations are
// withheld.
type Snapshot struct {
	ID            string                    `json:"id"`
	UserID        string                    `json:"user_id"`
	GoalIDs       []string                  `json:"goal_ids"`
	Status        Status                    `json:"status"`
	Stage         Stage                     `json:"stage"`
	TargetID      string                    `json:"target_id,omitempty"`
	Kind          content.Kind              `json:"kind,omitempty"`
	Payload       *content.Payload          `json:"payload,omitempty"`
	Evaluation    *Evaluation               `json:"evaluation,omitempty"`
	Reinforcement *motivation.Reinforcement `json:"reinforcement,omitempty"`
	Log           []StageResult             `json:"log"`
	StartedAt     time.Time                 `json:"started_at"`
	UpdatedAt     time.Time                 `json:"updated_at"`
	EndedAt       time.Time                 `json:"ended_at,omitzero"`
	Err           string                    `json:"error,omitempty"`
}

// Snapshot copies s.
func (s *Session) Snapshot() *Snapshot {
	snap := &Snapshot{
		ID:            s.ID,
		UserID:        s.UserID,
		GoalIDs:       append([]string(nil), s.GoalIDs...),
		Status:        s.Status,
		Stage:         s.Stage,
		TargetID:      s.TargetID,
		Kind:          s.Kind,
		Evaluation:    s.Evaluation.clone(),
		Log:           cloneLog(s.Log),
		StartedAt:     s.StartedAt,
		UpdatedAt:     s.UpdatedAt,
		EndedAt:       s.EndedAt,
		Err:           s.Err,
	}
	if s.Payload != nil {
		p := *s.Payload
		p.Items = append([]content.Item(nil), s.Payload.Items...)
		if s.Status == StatusActive && s.Stage == StageAwaitingResponse {
			for i := range p.Items {
				p.Items[i].Answer = ""
				p.Items[i].Explanation = ""
			}
		}
		snap.Payload = &p
	}
	if s.Reinforcement != nil {
		r := *s.Reinforcement
		r.Awards = append([]motivation.Award(nil), s.Reinforcement.Awards...)
		snap.Reinforcement = &r
	}
	return snap
}

func (e *Evaluation) clone() *Evaluation {
	if e == nil {
		return nil
	}
	c := *e
	c.Feedback = append([]Feedback(nil), e.Feedback...)
	c.Update = cloneUpdate(e.Update)
	if e.Propagated != nil {
		c.Propagated = make([]mastery.Update, len(e.Propagated))
		for i, u := range e.Propagated {
			c.Propagated[i] = cloneUpdate(u)
		}
	}
	return &c
}

func cloneLog(log []StageResult) []StageResult {
	out := append([]StageResult(nil), log...)
	for i := range out {
		if out[i].Score != nil {
			v := *out[i].Score
			out[i].Score = &v
		}
	}
	return out
}

func cloneUpdate(u mastery.Update) mastery.Update {
	if u.Transition != nil {
		t := *u.Transition
		u.Transition = &t
	}
	return u
}
