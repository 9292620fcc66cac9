package content

import "github.com/abhisek/learngraph/internal/llm"

var itemSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"prompt": map[string]any{
			"type":        "string",
			"description": "The question text shown to the learner",
		},
		"choices": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "Answer options for multiple choice; empty for free response",
		},
		"answer": map[string]any{
			"type":        "string",
			"description": "The correct answer. For multiple choice, the exact text of the correct choice",
		},
		"answer_type": map[string]any{
			"type": "string",
			"enum": []any{"integer", "decimal", "fraction", "text"},
		},
		"explanation": map[string]any{
			"type":        "string",
			"description": "One or two sentences explaining the answer",
		},
	},
	"required":             []any{"prompt", "choices", "answer", "answer_type", "explanation"},
	"additionalProperties": false,
}

// LessonSchema is the structured output for lesson generation.
var LessonSchema = &llm.Schema{
	Name:        "concept-lesson",
	Description: "A short lesson on one concept with optional practice questions",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{
				"type":        "string",
				"description": "Short title for the lesson (3-8 words)",
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Explanation of the concept with one worked example",
			},
			"items": map[string]any{
				"type":        "array",
				"items":       itemSchema,
				"description": "Zero to two practice questions",
			},
		},
		"required":             []any{"title", "body", "items"},
		"additionalProperties": false,
	},
}

// QuizSchema is the structured output for quiz generation.
var QuizSchema = &llm.Schema{
	Name:        "concept-quiz",
	Description: "A quiz of three to five questions on one concept",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{
				"type":        "string",
				"description": "Short title for the quiz",
			},
			"items": map[string]any{
				"type":        "array",
				"items":       itemSchema,
				"description": "Three to five questions",
			},
		},
		"required":             []any{"title", "items"},
		"additionalProperties": false,
	},
}
