package motivation

import (
	"fmt"
	"math"

	"github.com/abhisek/learngraph/internal/progress"
)

// Input is everything Decide looks at.
type Input struct {
	NodeID string
	Title  string
	// Assessed is false for lesson steps, which neither extend nor break
	// the streak.
	Assessed  bool
	Score     float64
	PassScore float64
	// PriorStreak is the learner's streak before this step.
	PriorStreak int
	// Mastered is set when this step lifted the concept to mastered for
	// the first time; Recovered when it was mastered before and had rusted.
	Mastered  bool
	Recovered bool
	// Depth is the concept's prerequisite depth, see PrerequisiteDepth.
	Depth int
	Trend *progress.TrendReport
}

// Decide computes the reinforcement for one completed step. It is a pure
// function of its input.
func Decide(in Input) Reinforcement {
	var r Reinforcement
	passed := in.Assessed && in.Score >= in.PassScore

	r.Streak.Length = in.PriorStreak
	switch {
	case passed:
		r.Streak.Length++
		r.Streak.Extended = true
	case in.Assessed:
		r.Streak.Length = 0
		r.Streak.Broken = in.PriorStreak > 0
	}
	r.Streak.Next = NextMilestone(r.Streak.Length)

	if r.Streak.Extended && IsMilestone(r.Streak.Length) {
		r.Awards = append(r.Awards, award(AwardStreak, StreakRarity(r.Streak.Length), "",
			fmt.Sprintf("%d passed in a row", r.Streak.Length)))
	}
	switch {
	case in.Recovered:
		r.Awards = append(r.Awards, award(AwardRecovery, DepthRarity(in.Depth), in.NodeID, "Recovered "+in.Title))
	case in.Mastered:
		r.Awards = append(r.Awards, award(AwardMastery, DepthRarity(in.Depth), in.NodeID, "Mastered "+in.Title))
	}
	if passed {
		r.Awards = append(r.Awards, award(AwardSession, SessionRarity(in.Score), "",
			fmt.Sprintf("Quiz passed with %.0f%%", in.Score*100)))
	}

	r.Points = 5
	if in.Assessed {
		r.Points = int(math.Round(in.Score * 10))
	}
	for _, a := range r.Awards {
		r.Points += a.Points
	}

	stagnant := in.Trend.IsStagnant(in.NodeID)
	switch {
	case in.Mastered || in.Recovered || (r.Streak.Extended && IsMilestone(r.Streak.Length)) || (in.Assessed && in.Score >= 0.9):
		r.Tier = TierCelebrate
	case in.Assessed && !passed && (r.Streak.Broken || stagnant || in.Score < 0.4):
		r.Tier = TierSupport
	case passed, !in.Assessed && in.Trend != nil && in.Trend.MeanDelta > 0:
		r.Tier = TierEncourage
	default:
		r.Tier = TierSteady
	}
	r.Message = message(r, in, stagnant)
	return r
}

func award(kind AwardKind, rarity Rarity, nodeID, reason string) Award {
	return Award{Kind: kind, Rarity: rarity, NodeID: nodeID, Reason: reason, Points: rarity.Points()}
}

func message(r Reinforcement, in Input, stagnant bool) string {
	switch r.Tier {
	case TierCelebrate:
		switch {
		case in.Recovered:
			return fmt.Sprintf("%s is back up to strength. Great recovery!", in.Title)
		case in.Mastered:
			return fmt.Sprintf("You mastered %s!", in.Title)
		case r.Streak.Extended && IsMilestone(r.Streak.Length):
			return fmt.Sprintf("%d in a row! Keep the streak alive.", r.Streak.Length)
		}
		return fmt.Sprintf("Excellent work on %s.", in.Title)
	case TierSupport:
		if stagnant {
			return fmt.Sprintf("%s is a tough one. A lesson on it next might help.", in.Title)
		}
		return fmt.Sprintf("Not there yet on %s. Every attempt counts.", in.Title)
	case TierEncourage:
		if !in.Assessed {
			return "Nice progress this week. Try a quiz next."
		}
		return fmt.Sprintf("Good job on %s. %d more for the next streak award.", in.Title, r.Streak.Next-r.Streak.Length)
	}
	if !in.Assessed {
		return fmt.Sprintf("Lesson on %s complete.", in.Title)
	}
	return fmt.Sprintf("Keep practising %s.", in.Title)
}
