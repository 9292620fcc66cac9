package motivation

var streakMilestones = []int{3, 5, 10, 20}

// NextMilestone returns the first streak milestone above current. Past the
// last fixed milestone one is awarded every 10.
func NextMilestone(current int) int {
	for _, m := range streakMilestones {
		if m > current {
			return m
		}
	}
	return (current/10 + 1) * 10
}

// IsMilestone reports whether a streak of length n earns an award.
func IsMilestone(n int) bool {
	if n > streakMilestones[len(streakMilestones)-1] {
		return n%10 == 0
	}
	for _, m := range streakMilestones {
		if m == n {
			return true
		}
	}
	return false
}
