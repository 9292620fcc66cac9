package motivation

// Rarity is the difficulty tier of an award.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// Points is the score added by an award of this rarity.
func (r Rarity) Points() int {
	switch r {
	case RarityRare:
		return 25
	case RarityEpic:
		return 50
	case RarityLegendary:
		return 100
	}
	return 10
}

// StreakRarity grades a streak milestone.
func StreakRarity(length int) Rarity {
	switch {
	case length >= 20:
		return RarityLegendary
	case length >= 10:
		return RarityEpic
	case length >= 5:
		return RarityRare
	}
	return RarityCommon
}

// SessionRarity grades an assessment score in [0,1].
func SessionRarity(score float64) Rarity {
	switch {
	case score >= 0.95:
		return RarityLegendary
	case score >= 0.85:
		return RarityEpic
	case score >= 0.7:
		return RarityRare
	}
	return RarityCommon
}

// DepthRarity grades a concept by its prerequisite depth: concepts built
// on longer chains are rarer to master.
func DepthRarity(depth int) Rarity {
	switch {
	case depth >= 4:
		return RarityLegendary
	case depth >= 3:
		return RarityEpic
	case depth >= 2:
		return RarityRare
	}
	return RarityCommon
}
