package spacedrep

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/abhisek/learngraph/internal/graph"
	"github.com/abhisek/learngraph/internal/mastery"
)

// Scheduler keeps review schedules in step with mastery updates.
type Scheduler struct {
	g         *graph.Graph
	threshold float64
	logger    *zap.Logger
}

// NewScheduler returns a scheduler that treats scores at or above
// threshold as mastered.
func NewScheduler(g *graph.Graph, threshold float64, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{g: g, threshold: threshold, logger: logger}
}

// Observe updates the schedule after an assessed outcome. The first time a
// concept reaches the threshold its first review is scheduled; afterwards
// every direct outcome counts as a review. Propagated and decay updates are
// ignored. Observe must not be called while holding the learner's lock.
func (s *Scheduler) Observe(ctx context.Context, u mastery.Update) error {
	if u.Ignored || u.Cause != "direct" {
		return nil
	}
	return s.g.WithLearner(ctx, u.UserID, func(tx *graph.LearnerTx) error {
		link, ok := tx.MasteryLink(u.NodeID)
		if !ok {
			return nil
		}
		now := s.g.Now()
		passed := u.New >= s.threshold
		rs, scheduled := FromLink(link)
		switch {
		case scheduled:
			rs.record(passed, now)
		case passed:
			rs = initial(u.NodeID, now)
		default:
			return nil
		}
		if _, err := tx.Annotate(u.NodeID, rs.props()); err != nil {
			return err
		}
		s.logger.Debug("review scheduled",
			zap.String("user_id", u.UserID), zap.String("node_id", u.NodeID),
			zap.Int("stage", rs.Stage), zap.Time("next_review", rs.NextReview))
		return nil
	})
}

// Observer adapts Observe to a mastery observer. Errors are logged.
func (s *Scheduler) Observer(ctx context.Context) mastery.Observer {
	return func(u mastery.Update) {
		if err := s.Observe(ctx, u); err != nil {
			s.logger.Warn("update review schedule",
				zap.String("user_id", u.UserID), zap.String("node_id", u.NodeID), zap.Error(err))
		}
	}
}

// Schedule returns every scheduled review for the learner, soonest first.
func (s *Scheduler) Schedule(userID string) []ReviewState {
	var out []ReviewState
	for _, link := range s.g.View(userID).MasteryLinks() {
		if rs, ok := FromLink(link); ok {
			out = append(out, rs)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextReview.Equal(out[j].NextReview) {
			return out[i].NextReview.Before(out[j].NextReview)
		}
		return out[i].NodeID < out[j].NodeID
	})
	return out
}

// Due returns the reviews due at now, most overdue first.
func (s *Scheduler) Due(userID string, now time.Time) []ReviewState {
	var due []ReviewState
	for _, rs := range s.Schedule(userID) {
		if rs.IsDue(now) {
			due = append(due, rs)
		}
	}
	return due
}
