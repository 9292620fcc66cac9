// Package progress derives learning trends from the graph's change log and
// the learner's current mastery. It never writes to the graph.
package progress

import (
	"context"
	"math"
	"slices"
	"time"

	"github.com/abhisek/learngraph/internal/graph"
	"github.com/abhisek/learngraph/internal/mastery"
)

// Config tunes trend detection.
type Config struct {
	// Window is the default look-back when GetTrend is called with zero.
	Window time.Duration `yaml:"window" validate:"gt=0"`
	// StagnantUpdates is the minimum number of updates in the window before
	// a concept can be flagged stagnant.
	StagnantUpdates int `yaml:"stagnant_updates" validate:"gte=1"`
	// StagnantDelta is the largest absolute change still counted as flat.
	StagnantDelta float64 `yaml:"stagnant_delta" validate:"gte=0,lte=1"`
}

func DefaultConfig() Config {
	return Config{Window: 7 * 24 * time.Hour, StagnantUpdates: 3, StagnantDelta: 0.02}
}

// ConceptTrend is the movement of one concept over the window.
type ConceptTrend struct {
	NodeID  string
	Title   string
	Start   float64
	Current float64
	Delta   float64
	Updates int
	// Stagnant marks a concept practised repeatedly without progress while
	// still below the mastery threshold.
	Stagnant bool
	// Gap marks an unmastered prerequisite of a concept the learner has
	// already mastered.
	Gap bool
}

// TrendReport summarizes a learner's progress over a window.
type TrendReport struct {
	UserID    string
	Since     time.Time
	Until     time.Time
	Concepts  []ConceptTrend
	MeanDelta float64
	Stagnant  []string
	Gaps      []string
}

// Concept returns the trend for nodeID.
func (r *TrendReport) Concept(nodeID string) (ConceptTrend, bool) {
	for _, c := range r.Concepts {
		if c.NodeID == nodeID {
			return c, true
		}
	}
	return ConceptTrend{}, false
}

// IsStagnant reports whether nodeID was flagged stagnant.
func (r *TrendReport) IsStagnant(nodeID string) bool {
	return r != nil && slices.Contains(r.Stagnant, nodeID)
}

// Tracker computes trend reports.
type Tracker struct {
	g   *graph.Graph
	eng *mastery.Engine
	cfg Config
}

func NewTracker(g *graph.Graph, eng *mastery.Engine, cfg Config) *Tracker {
	return &Tracker{g: g, eng: eng, cfg: cfg}
}

// GetTrend reports, for every concept the learner is linked to, the
// mastery at the start of the window, the current effective mastery and the
// number of updates in between. A zero window uses the configured default.
func (t *Tracker) GetTrend(_ context.Context, userID string, window time.Duration) (*TrendReport, error) {
	if _, err := t.g.GetNode(userID); err != nil {
		return nil, err
	}
	if window <= 0 {
		window = t.cfg.Window
	}
	now := t.g.Now()
	rep := &TrendReport{UserID: userID, Since: now.Add(-window), Until: now}

	changes := t.g.Changes(graph.ChangeQuery{
		UserID: userID,
		Kinds:  []graph.ChangeKind{graph.ChangeMasteryUpdated},
		Since:  rep.Since,
		Until:  now,
	})
	byNode := make(map[string][]graph.Change)
	for _, c := range changes {
		byNode[c.NodeID] = append(byNode[c.NodeID], c)
	}

	view := t.g.View(userID)
	threshold := t.eng.Config().Threshold
	current := make(map[string]float64)
	for _, link := range view.MasteryLinks() {
		current[link.TargetID] = t.eng.Effective(link, now)
	}

	var sum float64
	for _, link := range view.MasteryLinks() {
		id := link.TargetID
		list := byNode[id]
		ct := ConceptTrend{NodeID: id, Current: current[id], Updates: len(list)}
		if n, ok := view.Node(id); ok {
			ct.Title = n.Title()
		}
		ct.Start = ct.Current
		if len(list) > 0 {
			ct.Start = list[0].Old
		}
		ct.Delta = ct.Current - ct.Start
		ct.Stagnant = t.stagnant(list, ct.Current, threshold)
		if ct.Current < threshold {
			for _, e := range view.Outgoing(id, graph.EdgePrerequisite) {
				if m, ok := current[e.TargetID]; ok && m >= threshold {
					ct.Gap = true
					break
				}
			}
		}

		sum += ct.Delta
		if ct.Stagnant {
			rep.Stagnant = append(rep.Stagnant, id)
		}
		if ct.Gap {
			rep.Gaps = append(rep.Gaps, id)
		}
		rep.Concepts = append(rep.Concepts, ct)
	}
	if len(rep.Concepts) > 0 {
		rep.MeanDelta = sum / float64(len(rep.Concepts))
	}
	return rep, nil
}

// stagnant looks only at the last StagnantUpdates entries, so an early jump
// such as first contact does not hide a later plateau.
func (t *Tracker) stagnant(list []graph.Change, current, threshold float64) bool {
	n := t.cfg.StagnantUpdates
	if len(list) < n || current >= threshold {
		return false
	}
	return math.Abs(current-list[len(list)-n].Old) < t.cfg.StagnantDelta
}
