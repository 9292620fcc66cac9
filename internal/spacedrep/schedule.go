// Package spacedrep schedules reviews of mastered concepts on an expanding
// interval. Review state is kept on the learner's mastery link, so it is
// persisted and deleted with the rest of the learner's data.
package spacedrep

// BaseIntervals defines the expanding interval schedule in days.
// Stage 0 is the first review after mastery.
var BaseIntervals = []int{1, 3, 7, 14, 30, 60}

// GraduationHits is the number of consecutive successful reviews after
// which a concept graduates.
const GraduationHits = 6

// GraduatedIntervalDays is the review interval for graduated concepts.
const GraduatedIntervalDays = 90

// Mastery link property keys.
const (
	PropStage      = "review_stage"
	PropHits       = "review_hits"
	PropGraduated  = "review_graduated"
	PropNextReview = "next_review_at"
	PropLastReview = "last_review_at"
)
