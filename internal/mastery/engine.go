// Package mastery maintains per-learner mastery scores on the knowledge
// graph. A score lives on the learner's mastery link edge; the engine owns
// the update rule, the bounded propagation along prerequisite edges and the
// half-life forgetting curve.
package mastery

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/abhisek/learngraph/internal/apperr"
	"github.com/abhisek/learngraph/internal/graph"
)

// Mastery link property keys.
const (
	PropEvaluatedAt   = "evaluated_at"
	PropDecayedAt     = "decayed_at"
	PropLastDelta     = "last_delta"
	PropPending       = "pending_propagation"
	PropEvidenceCount = "evidence_count"
	PropConfidence    = "confidence"
	PropPeak          = "peak"
)

var ErrUnknownConcept = apperr.New(apperr.Structural, "unknown_concept", "unknown concept")

// Config holds the engine constants.
type Config struct {
	// PropagatedFraction damps every propagation hop.
	PropagatedFraction float64 `yaml:"propagated_fraction" validate:"gte=0,lte=1"`
	// MaxHops bounds the propagation walk.
	MaxHops int `yaml:"max_hops" validate:"gte=0,lte=5"`
	// HalfLife is the forgetting half-life.
	HalfLife time.Duration `yaml:"half_life" validate:"gt=0"`
	// Floor is the value mastery decays toward.
	Floor float64 `yaml:"floor" validate:"gte=0,lte=1"`
	// DecayAfter is the idle time after which a read applies decay.
	DecayAfter time.Duration `yaml:"decay_after" validate:"gte=0"`
	// Threshold is the mastered cut-off, used for state labels.
	Threshold float64 `yaml:"threshold" validate:"gt=0,lte=1"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		PropagatedFraction: 0.25,
		MaxHops:            2,
		HalfLife:           30 * 24 * time.Hour,
		Floor:              0.0,
		DecayAfter:         24 * time.Hour,
		Threshold:          0.7,
	}
}

// Update describes one change to a learner's mastery.
type Update struct {
	UserID string
	NodeID string
	Old    float64
	New    float64
	Hop    int
	Cause  string
	// Created is set when this update created the mastery link.
	Created bool
	// Ignored is set when the input was unusable and nothing was written.
	Ignored    bool
	Transition *StateTransition
}

// Delta returns New - Old.
func (u Update) Delta() float64 { return u.New - u.Old }

// Observer is notified of every committed update.
type Observer func(Update)

// Engine is safe for concurrent use. All writes for a learner serialize on
// the graph's learner lock.
type Engine struct {
	g        *graph.Graph
	cfg      Config
	logger   *zap.Logger
	observer Observer
}

// NewEngine returns an engine over g.
func NewEngine(g *graph.Graph, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{g: g, cfg: cfg, logger: logger}
}

// OnUpdate registers an observer. It must be called before the engine is
// shared.
func (e *Engine) OnUpdate(fn Observer) { e.observer = fn }

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// RecordOutcome folds an assessment outcome into the learner's mastery with
// an exponentially weighted moving average. The first outcome for a concept
// creates the mastery link with the score as its initial value. NaN scores
// and non-positive evidence weights are ignored; out-of-range values are
// clamped.
func (e *Engine) RecordOutcome(ctx context.Context, userID, nodeID string, score, evidenceWeight float64) (Update, error) {
	upd := Update{UserID: userID, NodeID: nodeID, Cause: "direct"}
	if math.IsNaN(score) || math.IsNaN(evidenceWeight) || evidenceWeight <= 0 {
		e.logger.Warn("ignoring unusable outcome",
			zap.String("user_id", userID), zap.String("node_id", nodeID),
			zap.Float64("score", score), zap.Float64("evidence_weight", evidenceWeight))
		upd.Ignored = true
		if link, ok := e.g.MasteryLink(userID, nodeID); ok {
			upd.Old, upd.New = link.Weight, link.Weight
		}
		return upd, e.checkTrackable(userID, nodeID)
	}
	score = clamp01(score)
	evidenceWeight = math.Min(evidenceWeight, 1)

	err := e.g.WithLearner(ctx, userID, func(tx *graph.LearnerTx) error {
		if err := trackable(tx, nodeID); err != nil {
			return err
		}
		now := e.g.Now()
		link, linked := tx.MasteryLink(nodeID)

		var next, delta, confidence float64
		var count float64
		if linked {
			upd.Old = e.Effective(link, now)
			next = clamp01(upd.Old*(1-evidenceWeight) + score*evidenceWeight)
			delta = next - upd.Old
			count = link.Float(PropEvidenceCount)
			confidence = link.Float(PropConfidence)
		} else {
			upd.Old, next, upd.Created = score, score, true
		}
		confidence = 1 - (1-confidence)*(1-evidenceWeight)
		upd.New = next

		props := map[string]any{
			PropEvaluatedAt:   now.Format(time.RFC3339Nano),
			PropDecayedAt:     now.Format(time.RFC3339Nano),
			PropLastDelta:     delta,
			PropPending:       delta != 0,
			PropEvidenceCount: count + 1,
			PropConfidence:    confidence,
			PropPeak:          math.Max(link.Float(PropPeak), next),
		}
		// A new link is logged as progress from no mastery.
		baseline := upd.Old
		if !linked {
			baseline = 0
		}
		if _, err := tx.SetMasteryFrom(nodeID, baseline, next, props, "direct"); err != nil {
			return err
		}
		upd.Transition = e.transition(nodeID, link, linked, next, "direct")
		return nil
	})
	if err != nil {
		return Update{}, e.mapErr(err, nodeID)
	}
	e.notify(upd)
	return upd, nil
}

type frontier struct {
	nodeID string
	delta  float64
}

// Propagate spreads the pending delta of the last direct update on nodeID
// to neighboring concepts along prerequisite edges in both directions, up
// to MaxHops away. Each hop scales the delta by PropagatedFraction and the
// edge weight. Only concepts the learner already has a mastery link for are
// nudged, each at most once per call. The pending delta is consumed, so a
// repeated call is a no-op.
func (e *Engine) Propagate(ctx context.Context, userID, nodeID string) ([]Update, error) {
	var updates []Update
	err := e.g.WithLearner(ctx, userID, func(tx *graph.LearnerTx) error {
		if err := trackable(tx, nodeID); err != nil {
			return err
		}
		origin, ok := tx.MasteryLink(nodeID)
		if !ok || origin.Properties[PropPending] != true {
			return nil
		}
		if _, err := tx.Annotate(nodeID, map[string]any{PropPending: false}); err != nil {
			return err
		}

		now := e.g.Now()
		visited := map[string]bool{nodeID: true}
		current := []frontier{{nodeID: nodeID, delta: origin.Float(PropLastDelta)}}
		for hop := 1; hop <= e.cfg.MaxHops && len(current) > 0; hop++ {
			var next []frontier
			for _, f := range current {
				out, in := tx.Neighbors(f.nodeID)
				neighbors := make([]graph.Edge, 0, len(out)+len(in))
				neighbors = append(neighbors, out...)
				neighbors = append(neighbors, in...)
				for _, edge := range neighbors {
					other := edge.TargetID
					if other == f.nodeID {
						other = edge.SourceID
					}
					if visited[other] {
						continue
					}
					visited[other] = true

					u, ok, err := e.nudge(tx, other, e.cfg.PropagatedFraction*f.delta*edge.Weight, hop, now)
					if err != nil {
						return err
					}
					if !ok {
						continue
					}
					updates = append(updates, u)
					next = append(next, frontier{nodeID: other, delta: u.Delta()})
				}
			}
			current = next
		}
		return nil
	})
	if err != nil {
		return nil, e.mapErr(err, nodeID)
	}
	for _, u := range updates {
		e.notify(u)
	}
	return updates, nil
}

func (e *Engine) nudge(tx *graph.LearnerTx, nodeID string, delta float64, hop int, now time.Time) (Update, bool, error) {
	if delta == 0 || math.IsNaN(delta) {
		return Update{}, false, nil
	}
	n, err := tx.Node(nodeID)
	if err != nil || !n.Type.Trackable() || !n.Active {
		return Update{}, false, nil
	}
	link, ok := tx.MasteryLink(nodeID)
	if !ok {
		return Update{}, false, nil
	}
	old := e.Effective(link, now)
	next := clamp01(old + delta)
	if next == old {
		return Update{}, false, nil
	}
	props := map[string]any{
		PropDecayedAt: now.Format(time.RFC3339Nano),
		PropPeak:      math.Max(link.Float(PropPeak), next),
	}
	if _, err := tx.SetMasteryFrom(nodeID, old, next, props, "propagated"); err != nil {
		return Update{}, false, err
	}
	return Update{
		UserID: tx.UserID(), NodeID: nodeID, Old: old, New: next, Hop: hop, Cause: "propagated",
		Transition: e.transition(nodeID, link, true, next, "propagated"),
	}, true, nil
}

// Decay applies elapsedDays of forgetting to the learner's mastery:
// floor + (m - floor) * 0.5^(elapsedDays / halfLifeDays).
func (e *Engine) Decay(ctx context.Context, userID, nodeID string, elapsedDays float64) (Update, error) {
	upd := Update{UserID: userID, NodeID: nodeID, Cause: "decay"}
	if math.IsNaN(elapsedDays) || elapsedDays <= 0 {
		upd.Ignored = true
		if link, ok := e.g.MasteryLink(userID, nodeID); ok {
			upd.Old, upd.New = link.Weight, link.Weight
		}
		return upd, e.checkTrackable(userID, nodeID)
	}
	err := e.g.WithLearner(ctx, userID, func(tx *graph.LearnerTx) error {
		if err := trackable(tx, nodeID); err != nil {
			return err
		}
		link, ok := tx.MasteryLink(nodeID)
		if !ok {
			upd.Ignored = true
			return nil
		}
		return e.applyDecay(tx, link, elapsedDays, e.g.Now(), &upd)
	})
	if err != nil {
		return Update{}, e.mapErr(err, nodeID)
	}
	if !upd.Ignored {
		e.notify(upd)
	}
	return upd, nil
}

func (e *Engine) applyDecay(tx *graph.LearnerTx, link graph.Edge, elapsedDays float64, now time.Time, upd *Update) error {
	upd.Old = link.Weight
	upd.New = decayed(link.Weight, e.cfg.Floor, elapsedDays, e.halfLifeDays())
	if _, err := tx.SetMastery(link.TargetID, upd.New, map[string]any{
		PropDecayedAt: now.Format(time.RFC3339Nano),
	}, "decay"); err != nil {
		return err
	}
	upd.Transition = e.transition(link.TargetID, link, true, upd.New, "decay")
	return nil
}

// Mastery returns the learner's current mastery of nodeID, applying and
// committing decay first when the link has been idle longer than
// DecayAfter. linked is false when the learner never interacted with the
// concept.
func (e *Engine) Mastery(ctx context.Context, userID, nodeID string) (score float64, linked bool, err error) {
	link, ok := e.g.MasteryLink(userID, nodeID)
	if !ok {
		return 0, false, e.checkTrackable(userID, nodeID)
	}
	now := e.g.Now()
	if !e.stale(link, now) {
		return link.Weight, true, nil
	}

	var upd Update
	err = e.g.WithLearner(ctx, userID, func(tx *graph.LearnerTx) error {
		cur, ok := tx.MasteryLink(nodeID)
		if !ok {
			return apperr.Wrap(ErrUnknownConcept, "link vanished for %q", nodeID)
		}
		if !e.stale(cur, now) {
			upd.New = cur.Weight
			upd.Ignored = true
			return nil
		}
		upd = Update{UserID: userID, NodeID: nodeID, Cause: "decay"}
		return e.applyDecay(tx, cur, elapsedDays(lastTouched(cur), now), now, &upd)
	})
	if err != nil {
		return 0, true, e.mapErr(err, nodeID)
	}
	if !upd.Ignored {
		e.notify(upd)
	}
	return upd.New, true, nil
}

// Effective returns the decayed value of link at now without writing. Links
// touched within DecayAfter are returned as stored.
func (e *Engine) Effective(link graph.Edge, now time.Time) float64 {
	if !e.stale(link, now) {
		return link.Weight
	}
	return decayed(link.Weight, e.cfg.Floor, elapsedDays(lastTouched(link), now), e.halfLifeDays())
}

// State labels the learner's effective mastery on link.
func (e *Engine) State(link graph.Edge, linked bool, now time.Time) MasteryState {
	if !linked {
		return StateNew
	}
	return StateOf(e.Effective(link, now), true, link.Float(PropPeak) >= e.cfg.Threshold, e.cfg.Threshold)
}

func (e *Engine) stale(link graph.Edge, now time.Time) bool {
	last := lastTouched(link)
	if last.IsZero() {
		return false
	}
	return now.Sub(last) > e.cfg.DecayAfter
}

func (e *Engine) halfLifeDays() float64 {
	return e.cfg.HalfLife.Hours() / 24
}

func (e *Engine) transition(nodeID string, before graph.Edge, linked bool, next float64, trigger string) *StateTransition {
	from := StateNew
	wasMastered := false
	if linked {
		wasMastered = before.Float(PropPeak) >= e.cfg.Threshold
		from = StateOf(before.Weight, true, wasMastered, e.cfg.Threshold)
	}
	to := StateOf(next, true, wasMastered || next >= e.cfg.Threshold, e.cfg.Threshold)
	if from == to {
		return nil
	}
	return &StateTransition{NodeID: nodeID, From: from, To: to, Trigger: trigger}
}

func (e *Engine) notify(u Update) {
	if e.observer != nil && !u.Ignored {
		e.observer(u)
	}
}

func (e *Engine) checkTrackable(userID, nodeID string) error {
	n, err := e.g.GetNode(nodeID)
	if err != nil || !n.Type.Trackable() || (n.OwnerUserID != "" && n.OwnerUserID != userID) {
		return apperr.Wrap(ErrUnknownConcept, "%q", nodeID)
	}
	return nil
}

func (e *Engine) mapErr(err error, nodeID string) error {
	switch {
	case errors.Is(err, graph.ErrNotFound), errors.Is(err, graph.ErrInvalidEdge):
		return apperr.WithCause(ErrUnknownConcept, err, "%q", nodeID)
	}
	return err
}

func trackable(tx *graph.LearnerTx, nodeID string) error {
	n, err := tx.Node(nodeID)
	if err != nil {
		return apperr.WithCause(ErrUnknownConcept, err, "%q", nodeID)
	}
	if !n.Type.Trackable() {
		return apperr.Wrap(ErrUnknownConcept, "%q is a %s", nodeID, n.Type)
	}
	return nil
}

func lastTouched(link graph.Edge) time.Time {
	a, b := link.Time(PropEvaluatedAt), link.Time(PropDecayedAt)
	if b.After(a) {
		return b
	}
	return a
}

func elapsedDays(since, now time.Time) float64 {
	if since.IsZero() || !now.After(since) {
		return 0
	}
	return now.Sub(since).Hours() / 24
}

func decayed(m, floor, days, halfLifeDays float64) float64 {
	if days <= 0 || halfLifeDays <= 0 {
		return clamp01(m)
	}
	return clamp01(floor + (m-floor)*math.Pow(0.5, days/halfLifeDays))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
