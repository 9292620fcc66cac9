package graph

import "sync"

// learnerLocks hands out one exclusive mutex per learner. Entries are never
// dropped: a goroutine may still be waiting on a deleted learner's mutex,
// and a learner re-created under the same id must share it.
type learnerLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *learnerLocks) get(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[userID] = m
	}
	return m
}

// scope serializes a mutation. Learner-owned state goes through the
// learner's lock, shared content through the content lock.
func (g *Graph) scope(ownerUserID string) func() {
	if ownerUserID == "" {
		g.contentMu.Lock()
		return g.contentMu.Unlock
	}
	m := g.learners.get(ownerUserID)
	m.Lock()
	return m.Unlock
}
