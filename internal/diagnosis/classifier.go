package diagnosis

// Classifier is a rule-based error classifier.
// Returns a category and confidence (0.0–1.0), or ("", 0) if the rule doesn't apply.
type Classifier interface {
	Name() string
	Classify(in *Input) (Category, float64)
}

// DefaultClassifiers returns classifiers in priority order. A blank answer
// says nothing about speed or care, and a fast wrong answer is more likely
// a rush than a slip, even for strong learners.
func DefaultClassifiers() []Classifier {
	return []Classifier{
		&SkippedClassifier{},
		&SpeedRushClassifier{},
		&CarelessClassifier{},
	}
}

// Run executes classifiers in order and returns the first match, or an
// unclassified result when no rule applies.
func Run(classifiers []Classifier, in *Input) Result {
	for _, c := range classifiers {
		if cat, conf := c.Classify(in); cat != "" {
			return Result{Category: cat, Confidence: conf, Classifier: c.Name()}
		}
	}
	return Result{Category: CategoryUnclassified, Classifier: "none"}
}

// Classify runs the default classifiers.
func Classify(in Input) Result {
	return Run(DefaultClassifiers(), &in)
}
