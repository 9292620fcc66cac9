package spacedrep

import (
	"time"

	"github.com/abhisek/learngraph/internal/graph"
)

// ReviewState is the schedule for one concept.
type ReviewState struct {
	NodeID     string
	Stage      int
	Hits       int
	Graduated  bool
	NextReview time.Time
	LastReview time.Time
}

// FromLink reads the schedule stored on a mastery link. ok is false for a
// concept that was never mastered.
func FromLink(link graph.Edge) (rs ReviewState, ok bool) {
	next := link.Time(PropNextReview)
	if next.IsZero() {
		return ReviewState{}, false
	}
	return ReviewState{
		NodeID:     link.TargetID,
		Stage:      int(link.Float(PropStage)),
		Hits:       int(link.Float(PropHits)),
		Graduated:  link.Properties[PropGraduated] == true,
		NextReview: next,
		LastReview: link.Time(PropLastReview),
	}, true
}

func (rs ReviewState) props() map[string]any {
	return map[string]any{
		PropStage:      float64(rs.Stage),
		PropHits:       float64(rs.Hits),
		PropGraduated:  rs.Graduated,
		PropNextReview: rs.NextReview.UTC().Format(time.RFC3339Nano),
		PropLastReview: rs.LastReview.UTC().Format(time.RFC3339Nano),
	}
}

// IsDue returns true if the concept is due for review (at or past the review date).
func (rs ReviewState) IsDue(now time.Time) bool {
	return !now.Before(rs.NextReview)
}

// OverdueDays returns how many days past due the concept is. Returns 0 if not yet due.
func (rs ReviewState) OverdueDays(now time.Time) float64 {
	if now.Before(rs.NextReview) {
		return 0
	}
	return now.Sub(rs.NextReview).Hours() / 24.0
}

// PastGrace reports whether the review is overdue by more than half its
// interval.
func (rs ReviewState) PastGrace(now time.Time) bool {
	if !rs.IsDue(now) {
		return false
	}
	grace := time.Duration(float64(rs.CurrentIntervalDays()) * 0.5 * 24 * float64(time.Hour))
	return now.After(rs.NextReview.Add(grace))
}

// CurrentIntervalDays returns the current interval in days.
func (rs ReviewState) CurrentIntervalDays() int {
	if rs.Graduated {
		return GraduatedIntervalDays
	}
	if rs.Stage >= len(BaseIntervals) {
		return BaseIntervals[len(BaseIntervals)-1]
	}
	return BaseIntervals[rs.Stage]
}

// ReviewStatus describes a concept's review status for display.
type ReviewStatus string

const (
	ReviewNotDue    ReviewStatus = "not_due"
	ReviewDue       ReviewStatus = "due"
	ReviewOverdue   ReviewStatus = "overdue"
	ReviewGraduated ReviewStatus = "graduated"
)

// Status returns the review status for display.
func (rs ReviewState) Status(now time.Time) ReviewStatus {
	switch {
	case rs.Graduated && !rs.IsDue(now):
		return ReviewGraduated
	case rs.PastGrace(now):
		return ReviewOverdue
	case rs.IsDue(now):
		return ReviewDue
	}
	return ReviewNotDue
}

// DaysUntilReview returns the number of days until the next review.
// Returns 0 if already due.
func (rs ReviewState) DaysUntilReview(now time.Time) int {
	if rs.IsDue(now) {
		return 0
	}
	return int(rs.NextReview.Sub(now).Hours()/24.0) + 1
}

// record advances the schedule after a review. A successful review moves to
// the next interval; a miss resets the hit count and leaves the concept due.
func (rs *ReviewState) record(passed bool, now time.Time) {
	rs.LastReview = now
	if !passed {
		rs.Hits = 0
		return
	}
	rs.Hits++
	if !rs.Graduated {
		rs.Stage++
		if rs.Hits >= GraduationHits {
			rs.Graduated = true
		}
	}
	rs.NextReview = now.AddDate(0, 0, rs.CurrentIntervalDays())
}

func initial(nodeID string, masteredAt time.Time) ReviewState {
	return ReviewState{
		NodeID:     nodeID,
		NextReview: masteredAt.AddDate(0, 0, BaseIntervals[0]),
		LastReview: masteredAt,
	}
}
