package content

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/abhisek/learngraph/internal/llm"
)

const systemPrompt = `You are a patient tutor writing study material for one concept of a larger curriculum. Keep language plain and concrete. Use plain ASCII for all math: no LaTeX, / for fractions, * for multiplication.`

// LLMConfig tunes LLM generation.
type LLMConfig struct {
	MaxTokens   int     `yaml:"max_tokens" validate:"gte=256"`
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=1"`
}

// DefaultLLMConfig returns generation defaults.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{MaxTokens: 2048, Temperature: 0.3}
}

// LLMGenerator generates payloads with an llm.Provider.
type LLMGenerator struct {
	provider llm.Provider
	cfg      LLMConfig
	now      func() time.Time
}

// NewLLMGenerator returns a generator backed by provider.
func NewLLMGenerator(provider llm.Provider, cfg LLMConfig) *LLMGenerator {
	return &LLMGenerator{provider: provider, cfg: cfg, now: time.Now}
}

type generatedOutput struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Items []struct {
		Prompt      string   `json:"prompt"`
		Choices     []string `json:"choices"`
		Answer      string   `json:"answer"`
		AnswerType  string   `json:"answer_type"`
		Explanation string   `json:"explanation"`
	} `json:"items"`
}

func (g *LLMGenerator) Generate(ctx context.Context, in Input) (*Payload, error) {
	schema := LessonSchema
	if in.Kind == KindQuiz {
		schema = QuizSchema
	}
	ctx = llm.WithPurpose(ctx, string(in.Kind))

	resp, err := g.provider.Generate(ctx, llm.Request{
		System:      systemPrompt,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: buildUserMessage(in)}},
		Schema:      schema,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("%s generation: %w", in.Kind, err)
	}

	var out generatedOutput
	if err := json.Unmarshal(resp.Content, &out); err != nil {
		return nil, fmt.Errorf("parse %s response: %w", in.Kind, err)
	}

	p := &Payload{
		NodeID:      in.NodeID,
		Kind:        in.Kind,
		Difficulty:  in.Difficulty,
		Title:       out.Title,
		Body:        out.Body,
		GeneratedAt: g.now(),
	}
	for i, it := range out.Items {
		p.Items = append(p.Items, Item{
			ID:          fmt.Sprintf("q%d", i+1),
			Prompt:      it.Prompt,
			Choices:     it.Choices,
			Answer:      it.Answer,
			AnswerType:  AnswerType(it.AnswerType),
			Explanation: it.Explanation,
		})
	}
	return p, nil
}

func buildUserMessage(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Concept: %s\n", in.Title)
	if in.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", in.Description)
	}
	fmt.Fprintf(&b, "Difficulty: %s\n", in.Difficulty)
	if len(in.Prerequisites) > 0 {
		fmt.Fprintf(&b, "Builds on: %s\n", strings.Join(in.Prerequisites, ", "))
	}

	b.WriteString("\nInstructions:\n")
	switch in.Kind {
	case KindQuiz:
		b.WriteString(`1. Write 3 to 5 questions that each test one idea of the concept.
2. Match the difficulty above. Beginner questions are single-step.
3. Every question has exactly one correct answer.
4. Use multiple choice only when a free response would be ambiguous.`)
	default:
		b.WriteString(`1. Explain the concept in 4-6 sentences.
2. Include one worked example with numbered steps.
3. Add up to two easy practice questions the learner can answer from the lesson alone.`)
	}
	return b.String()
}
