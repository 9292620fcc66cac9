package content

import (
	"context"
	"fmt"
	"time"
)

// StaticGenerator serves authored material stored on node attributes:
// "body" for lessons and "items" for quizzes. It is used when no LLM
// provider is configured.
type StaticGenerator struct {
	now func() time.Time
}

// NewStaticGenerator returns a StaticGenerator.
func NewStaticGenerator() *StaticGenerator {
	return &StaticGenerator{now: time.Now}
}

func (s *StaticGenerator) Generate(_ context.Context, in Input) (*Payload, error) {
	p := &Payload{
		NodeID:      in.NodeID,
		Kind:        in.Kind,
		Difficulty:  in.Difficulty,
		Title:       in.Title,
		GeneratedAt: s.now(),
	}
	p.Items = authoredItems(in.Attributes["items"])

	switch in.Kind {
	case KindLesson:
		p.Body, _ = in.Attributes["body"].(string)
		if p.Body == "" {
			p.Body = in.Description
		}
		if p.Body == "" {
			return nil, fmt.Errorf("node %q has no authored lesson body", in.NodeID)
		}
	case KindQuiz:
		if len(p.Items) == 0 {
			return nil, fmt.Errorf("node %q has no authored quiz items", in.NodeID)
		}
	}
	return p, nil
}

// authoredItems decodes items from attribute values produced by YAML or
// JSON decoding ([]any of map[string]any) or set directly as []Item.
func authoredItems(v any) []Item {
	switch items := v.(type) {
	case []Item:
		return items
	case []any:
		var out []Item
		for i, raw := range items {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			it := Item{
				ID:          str(m["id"]),
				Prompt:      str(m["prompt"]),
				Answer:      str(m["answer"]),
				AnswerType:  AnswerType(str(m["answer_type"])),
				Explanation: str(m["explanation"]),
			}
			if it.ID == "" {
				it.ID = fmt.Sprintf("q%d", i+1)
			}
			if it.AnswerType == "" {
				it.AnswerType = AnswerText
			}
			if choices, ok := m["choices"].([]any); ok {
				for _, c := range choices {
					it.Choices = append(it.Choices, str(c))
				}
			}
			out = append(out, it)
		}
		return out
	}
	return nil
}

func str(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
