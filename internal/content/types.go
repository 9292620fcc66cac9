// Package content obtains lesson and quiz payloads for knowledge nodes from
// a pluggable generator. Generation is treated as slow and unreliable: every
// call is bounded by a timeout, retried once, guarded by a circuit breaker
// and backed by a cache of the last good payload per node.
package content

import (
	"context"
	"time"

	"github.com/abhisek/learngraph/internal/apperr"
)

// Kind is the payload flavor.
type Kind string

const (
	KindLesson Kind = "lesson"
	KindQuiz   Kind = "quiz"
)

// Difficulty is a hint passed to the generator.
type Difficulty string

const (
	Beginner     Difficulty = "beginner"
	Intermediate Difficulty = "intermediate"
	Advanced     Difficulty = "advanced"
)

// DifficultyFor maps a mastery score to a difficulty hint.
func DifficultyFor(mastery, threshold float64) Difficulty {
	switch {
	case mastery < 0.4:
		return Beginner
	case mastery < threshold:
		return Intermediate
	}
	return Advanced
}

// AnswerType tells the checker how to normalize answers.
type AnswerType string

const (
	AnswerInteger  AnswerType = "integer"
	AnswerDecimal  AnswerType = "decimal"
	AnswerFraction AnswerType = "fraction"
	AnswerText     AnswerType = "text"
)

// Item is one question. Choices is empty for free-response items.
type Item struct {
	ID          string     `json:"id"`
	Prompt      string     `json:"prompt"`
	Choices     []string   `json:"choices,omitempty"`
	Answer      string     `json:"answer"`
	AnswerType  AnswerType `json:"answer_type"`
	Explanation string     `json:"explanation,omitempty"`
}

// Payload is what the learner is shown. Lessons carry a Body and
// optionally practice Items; quizzes carry at least one Item.
type Payload struct {
	NodeID      string     `json:"node_id"`
	Kind        Kind       `json:"kind"`
	Difficulty  Difficulty `json:"difficulty"`
	Title       string     `json:"title"`
	Body        string     `json:"body,omitempty"`
	Items       []Item     `json:"items,omitempty"`
	GeneratedAt time.Time  `json:"generated_at"`
	// Source is set by the service: "generated" or "cache".
	Source string `json:"source,omitempty"`
}

// Input describes the node to generate for.
type Input struct {
	NodeID      string
	Kind        Kind
	Difficulty  Difficulty
	Title       string
	Description string
	// Attributes are the node's authored attributes.
	Attributes map[string]any
	// Prerequisites are titles of the node's prerequisites, for context.
	Prerequisites []string
}

// Generator produces payloads. Implementations may be slow and may fail.
type Generator interface {
	Generate(ctx context.Context, in Input) (*Payload, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, in Input) (*Payload, error)

func (f GeneratorFunc) Generate(ctx context.Context, in Input) (*Payload, error) {
	return f(ctx, in)
}

// Cache stores the most recent good payload per (node, kind).
type Cache interface {
	Get(ctx context.Context, nodeID string, kind Kind) (*Payload, error)
	Put(ctx context.Context, p *Payload) error
}

var (
	ErrContentUnavailable = apperr.New(apperr.Dependency, "content_unavailable", "content unavailable")
	ErrInvalidPayload     = apperr.New(apperr.Dependency, "invalid_payload", "generator returned an invalid payload")
)

// Validate checks the structural minimum of a payload of kind.
func (p *Payload) Validate() error {
	if p == nil {
		return apperr.Wrap(ErrInvalidPayload, "nil payload")
	}
	if p.Title == "" {
		return apperr.Wrap(ErrInvalidPayload, "missing title")
	}
	switch p.Kind {
	case KindLesson:
		if p.Body == "" {
			return apperr.Wrap(ErrInvalidPayload, "lesson %q has no body", p.NodeID)
		}
	case KindQuiz:
		if len(p.Items) == 0 {
			return apperr.Wrap(ErrInvalidPayload, "quiz %q has no items", p.NodeID)
		}
	default:
		return apperr.Wrap(ErrInvalidPayload, "unknown kind %q", p.Kind)
	}
	seen := make(map[string]bool, len(p.Items))
	for _, it := range p.Items {
		if it.ID == "" || it.Prompt == "" || it.Answer == "" {
			return apperr.Wrap(ErrInvalidPayload, "item %q is incomplete", it.ID)
		}
		if seen[it.ID] {
			return apperr.Wrap(ErrInvalidPayload, "duplicate item %q", it.ID)
		}
		seen[it.ID] = true
	}
	return nil
}
