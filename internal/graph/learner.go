package graph

import (
	"context"
	"maps"

	"github.com/google/uuid"

	"github.com/abhisek/learngraph/internal/apperr"
)

// LearnerTx mutates one learner's subgraph while holding that learner's
// lock. It is only valid inside the WithLearner callback.
type LearnerTx struct {
	g      *Graph
	ctx    context.Context
	userID string
}

// WithLearner runs fn with the learner's lock held. Every mastery
// read-modify-write for the learner goes through here.
func (g *Graph) WithLearner(ctx context.Context, userID string, fn func(*LearnerTx) error) error {
	g.mu.RLock()
	u, ok := g.nodes[userID]
	g.mu.RUnlock()
	if !ok || u.Type != NodeUser {
		return apperr.Wrap(ErrUnknownNode, "learner %q", userID)
	}
	unlock := g.scope(userID)
	defer unlock()
	// The learner may have been deleted while we waited for the lock.
	g.mu.RLock()
	_, ok = g.nodes[userID]
	g.mu.RUnlock()
	if !ok {
		return apperr.Wrap(ErrUnknownNode, "learner %q", userID)
	}
	return fn(&LearnerTx{g: g, ctx: ctx, userID: userID})
}

// UserID returns the learner the transaction is scoped to.
func (tx *LearnerTx) UserID() string { return tx.userID }

// MasteryLink returns the learner's current link to nodeID.
func (tx *LearnerTx) MasteryLink(nodeID string) (Edge, bool) {
	return tx.g.MasteryLink(tx.userID, nodeID)
}

// Node returns a copy of any node visible to the learner.
func (tx *LearnerTx) Node(id string) (Node, error) {
	n, err := tx.g.GetNode(id)
	if err != nil {
		return Node{}, err
	}
	if n.OwnerUserID != "" && n.OwnerUserID != tx.userID {
		return Node{}, apperr.Wrap(ErrNotFound, "node %q", id)
	}
	return n, nil
}

// Neighbors returns the prerequisite edges around nodeID in both
// directions.
func (tx *LearnerTx) Neighbors(nodeID string) (out, in []Edge) {
	tx.g.mu.RLock()
	defer tx.g.mu.RUnlock()
	return copyEdges(tx.g.out[nodeID], []EdgeType{EdgePrerequisite}),
		copyEdges(tx.g.in[nodeID], []EdgeType{EdgePrerequisite})
}

// SetMastery creates or replaces the learner's mastery link to nodeID.
// props are merged into the existing link properties. The change log
// records the stored weight as the old value; the first link for a pair
// records score as its own baseline.
func (tx *LearnerTx) SetMastery(nodeID string, score float64, props map[string]any, cause string) (Edge, error) {
	return tx.setMastery(nodeID, score, props, cause, nil)
}

// SetMasteryFrom is SetMastery with the caller's view of the old value,
// such as a decayed reading of a stale link, recorded in the change log.
func (tx *LearnerTx) SetMasteryFrom(nodeID string, old, score float64, props map[string]any, cause string) (Edge, error) {
	return tx.setMastery(nodeID, score, props, cause, &old)
}

func (tx *LearnerTx) setMastery(nodeID string, score float64, props map[string]any, cause string, baseline *float64) (Edge, error) {
	g := tx.g
	now := g.now()
	score = clamp01(score)

	g.mu.Lock()
	dst, ok := g.nodes[nodeID]
	if !ok {
		g.mu.Unlock()
		return Edge{}, apperr.Wrap(ErrUnknownNode, "node %q", nodeID)
	}
	if !dst.Type.Trackable() || (dst.OwnerUserID != "" && dst.OwnerUserID != tx.userID) {
		g.mu.Unlock()
		return Edge{}, apperr.Wrap(ErrInvalidEdge, "node %q is not trackable for %q", nodeID, tx.userID)
	}

	var old float64
	key := linkKey{tx.userID, nodeID}
	link, exists := g.links[key]
	if exists {
		old = link.Weight
		updated := link.clone()
		updated.Weight = score
		if updated.Properties == nil {
			updated.Properties = make(map[string]any, len(props))
		}
		maps.Copy(updated.Properties, props)
		updated.UpdatedAt = now
		*link = *updated
	} else {
		old = score
		link = &Edge{
			ID:         uuid.NewString(),
			SourceID:   tx.userID,
			TargetID:   nodeID,
			Type:       EdgeMasteryLink,
			Weight:     score,
			Properties: maps.Clone(props),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if link.Properties == nil {
			link.Properties = make(map[string]any)
		}
		g.insertEdgeLocked(link)
	}
	if dst.OwnerUserID == tx.userID {
		mirrored := dst.clone()
		mirrored.MasteryScore = score
		mirrored.UpdatedAt = now
		g.nodes[nodeID] = mirrored
	}
	snapshot := *link.clone()
	g.mu.Unlock()

	if baseline != nil {
		old = clamp01(*baseline)
	}
	c := g.changes.append(Change{
		At: now, Kind: ChangeMasteryUpdated, UserID: tx.userID, NodeID: nodeID,
		EdgeID: snapshot.ID, Old: old, New: score, Cause: cause,
	})
	if err := g.persistEdge(tx.ctx, snapshot); err != nil {
		return snapshot, err
	}
	return snapshot, g.persistChange(tx.ctx, c)
}

// MutateOwnedNode runs MutateNode semantics for a node the learner owns
// without re-acquiring the learner lock.
func (tx *LearnerTx) MutateOwnedNode(id string, fn func(*Node) error) (Node, error) {
	owner, err := tx.g.ownerOf(id)
	if err != nil {
		return Node{}, err
	}
	if owner != tx.userID {
		return Node{}, apperr.Wrap(ErrNotFound, "node %q for learner %q", id, tx.userID)
	}
	return tx.g.mutateNodeScoped(tx.ctx, id, ChangeNodeUpdated, fn)
}

// Annotate merges props into the learner's existing mastery link without
// changing its weight. It does not produce a mastery change entry.
func (tx *LearnerTx) Annotate(nodeID string, props map[string]any) (Edge, error) {
	g := tx.g
	g.mu.Lock()
	link, ok := g.links[linkKey{tx.userID, nodeID}]
	if !ok {
		g.mu.Unlock()
		return Edge{}, apperr.Wrap(ErrNotFound, "mastery link %q -> %q", tx.userID, nodeID)
	}
	updated := link.clone()
	if updated.Properties == nil {
		updated.Properties = make(map[string]any, len(props))
	}
	maps.Copy(updated.Properties, props)
	updated.UpdatedAt = g.now()
	*link = *updated
	snapshot := *link.clone()
	g.mu.Unlock()
	return snapshot, g.persistEdge(tx.ctx, snapshot)
}
