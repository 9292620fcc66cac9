// Package motivation turns progress signals into reinforcement: an
// encouragement tier, streak status and awards. It never writes to the
// knowledge graph.
package motivation

import "context"

// Tier is the encouragement level of a reinforcement.
type Tier string

const (
	TierCelebrate Tier = "celebrate"
	TierEncourage Tier = "encourage"
	TierSteady    Tier = "steady"
	TierSupport   Tier = "support"
)

// AwardKind identifies what an award recognizes.
type AwardKind string

const (
	AwardMastery  AwardKind = "mastery"
	AwardRecovery AwardKind = "recovery"
	AwardStreak   AwardKind = "streak"
	AwardSession  AwardKind = "session"
)

func (k AwardKind) DisplayName() string {
	switch k {
	case AwardMastery:
		return "Mastery"
	case AwardRecovery:
		return "Recovery"
	case AwardStreak:
		return "Streak"
	case AwardSession:
		return "Session"
	}
	return string(k)
}

// Award is one earned achievement.
type Award struct {
	Kind   AwardKind `json:"kind"`
	Rarity Rarity    `json:"rarity"`
	// NodeID is empty for streak and session awards.
	NodeID string `json:"node_id,omitempty"`
	Reason string `json:"reason"`
	Points int    `json:"points"`
}

// Streak is the learner's run of passed assessments.
type Streak struct {
	Length int `json:"length"`
	// Next is the next milestone that earns a streak award.
	Next     int  `json:"next"`
	Extended bool `json:"extended"`
	Broken   bool `json:"broken"`
}

// Reinforcement is the Motivator's output.
type Reinforcement struct {
	Tier    Tier    `json:"tier"`
	Streak  Streak  `json:"streak"`
	Awards  []Award `json:"awards,omitempty"`
	Message string  `json:"message"`
	Points  int     `json:"points"`
}

// Ledger persists awards outside the knowledge graph.
type Ledger interface {
	RecordAward(ctx context.Context, userID, sessionID string, a Award) error
}
