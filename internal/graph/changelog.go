package graph

import (
	"sync"
	"time"

	"github.com/tidwall/btree"
)

// ChangeKind labels a change log entry.
type ChangeKind string

const (
	ChangeNodeAdded       ChangeKind = "node_added"
	ChangeNodeUpdated     ChangeKind = "node_updated"
	ChangeNodeDeactivated ChangeKind = "node_deactivated"
	ChangeEdgeAdded       ChangeKind = "edge_added"
	ChangeMasteryUpdated  ChangeKind = "mastery_updated"
	ChangeLearnerDeleted  ChangeKind = "learner_deleted"
)

// Change is one entry of the structural change log. For mastery updates
// Old and New hold the score before and after.
type Change struct {
	Seq    int64
	At     time.Time
	Kind   ChangeKind
	UserID string
	NodeID string
	EdgeID string
	Old    float64
	New    float64
	// Cause is "direct", "propagated" or "decay" for mastery updates.
	Cause string
}

// ChangeQuery filters Changes. Zero fields match everything.
type ChangeQuery struct {
	UserID string
	NodeID string
	Kinds  []ChangeKind
	Since  time.Time
	Until  time.Time
}

func (q ChangeQuery) match(c Change) bool {
	if q.UserID != "" && c.UserID != q.UserID {
		return false
	}
	if q.NodeID != "" && c.NodeID != q.NodeID {
		return false
	}
	if !q.Until.IsZero() && c.At.After(q.Until) {
		return false
	}
	if len(q.Kinds) == 0 {
		return true
	}
	for _, k := range q.Kinds {
		if k == c.Kind {
			return true
		}
	}
	return false
}

func changeLess(a, b Change) bool {
	if !a.At.Equal(b.At) {
		return a.At.Before(b.At)
	}
	return a.Seq < b.Seq
}

// changeLog is an append-mostly log ordered by (At, Seq).
type changeLog struct {
	mu    sync.Mutex
	seq   int64
	limit int
	tree  *btree.BTreeG[Change]
}

func newChangeLog(limit int) *changeLog {
	return &changeLog{
		limit: limit,
		tree:  btree.NewBTreeG[Change](changeLess),
	}
}

// append assigns the next sequence to c and returns the stored entry.
func (l *changeLog) append(c Change) Change {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.insertLocked(c)
}

// load appends persisted entries in the order given, renumbering them.
func (l *changeLog) load(changes []Change) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range changes {
		l.insertLocked(c)
	}
}

func (l *changeLog) insertLocked(c Change) Change {
	l.seq++
	c.Seq = l.seq
	l.tree.Set(c)
	for l.limit > 0 && l.tree.Len() > l.limit {
		l.tree.PopMin()
	}
	return c
}

func (l *changeLog) query(q ChangeQuery) []Change {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Change
	l.tree.Ascend(Change{At: q.Since}, func(c Change) bool {
		if !q.Until.IsZero() && c.At.After(q.Until) {
			return false
		}
		if q.match(c) {
			out = append(out, c)
		}
		return true
	})
	return out
}

func (l *changeLog) forgetUser(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var drop []Change
	l.tree.Scan(func(c Change) bool {
		if c.UserID == userID {
			drop = append(drop, c)
		}
		return true
	})
	for _, c := range drop {
		l.tree.Delete(c)
	}
}
