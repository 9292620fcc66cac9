// Package diagnosis labels wrong answers with a likely cause so feedback
// can tell a slip from a knowledge gap. Classification is rule based and
// cheap enough to run inline in the evaluator.
package diagnosis

import "time"

// Category classifies a wrong answer.
type Category string

const (
	CategorySkipped      Category = "skipped"
	CategorySpeedRush    Category = "speed-rush"
	CategoryCareless     Category = "careless"
	CategoryUnclassified Category = "unclassified"
)

// Input holds what is known about one wrong answer.
type Input struct {
	Given string
	// PerItem is the response time divided by the number of items. Zero
	// means unknown.
	PerItem time.Duration
	// Peak is the highest mastery the learner ever reached on the concept.
	Peak float64
	// OtherAccuracy is the fraction of the session's other items answered
	// correctly, or -1 when the item is the only one.
	OtherAccuracy float64
}

// Result is the output of classifying a wrong answer.
type Result struct {
	Category   Category
	Confidence float64
	Classifier string
}
