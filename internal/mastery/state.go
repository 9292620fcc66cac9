package mastery

// MasteryState is the learner-facing label for a mastery score.
type MasteryState string

const (
	StateNew      MasteryState = "new"
	StateLearning MasteryState = "learning"
	StateMastered MasteryState = "mastered"
	// StateRusty marks a concept that was mastered and has since decayed
	// below the threshold.
	StateRusty MasteryState = "rusty"
)

// StateOf labels a score. wasMastered reports whether the learner ever
// reached the threshold on this concept.
func StateOf(score float64, linked, wasMastered bool, threshold float64) MasteryState {
	switch {
	case !linked:
		return StateNew
	case score >= threshold:
		return StateMastered
	case wasMastered:
		return StateRusty
	}
	return StateLearning
}

// StateTransition records a label change caused by an update.
type StateTransition struct {
	NodeID string
	From   MasteryState
	To     MasteryState
	// Trigger is "direct", "propagated" or "decay".
	Trigger string
}
