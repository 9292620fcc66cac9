package diagnosis

import "time"

// SpeedRushThreshold is the maximum time per item (exclusive) for a wrong
// answer to be classified as a speed-rush.
const SpeedRushThreshold = 2 * time.Second

// SpeedRushClassifier flags answers submitted too quickly as speed-rush errors.
type SpeedRushClassifier struct{}

func (c *SpeedRushClassifier) Name() string { return "speed-rush" }

func (c *SpeedRushClassifier) Classify(in *Input) (Category, float64) {
	if in.PerItem > 0 && in.PerItem < SpeedRushThreshold {
		return CategorySpeedRush, 0.9
	}
	return "", 0
}
