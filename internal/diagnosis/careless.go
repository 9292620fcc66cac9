package diagnosis

// CarelessAccuracyThreshold is the minimum accuracy (exclusive) for a wrong
// answer to be classified as a careless error.
const CarelessAccuracyThreshold = 0.80

// CarelessClassifier flags wrong answers from learners who have shown they
// know the material, either by an earlier peak in mastery or by getting the
// rest of the quiz right.
type CarelessClassifier struct{}

func (c *CarelessClassifier) Name() string { return "careless" }

func (c *CarelessClassifier) Classify(in *Input) (Category, float64) {
	if in.OtherAccuracy > CarelessAccuracyThreshold {
		return CategoryCareless, 0.8
	}
	if in.Peak > CarelessAccuracyThreshold {
		return CategoryCareless, 0.6
	}
	return "", 0
}
