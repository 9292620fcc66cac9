package diagnosis

import "strings"

// SkippedClassifier flags items left blank.
type SkippedClassifier struct{}

func (c *SkippedClassifier) Name() string { return "skipped" }

func (c *SkippedClassifier) Classify(in *Input) (Category, float64) {
	if strings.TrimSpace(in.Given) == "" {
		return CategorySkipped, 1
	}
	return "", 0
}
