package session

// recent keeps the most recently finished sessions, evicting the oldest.
type recent struct {
	max   int
	order []string
	byID  map[string]*entry
}

func newRecent(max int) *recent {
	return &recent{max: max, byID: make(map[string]*entry)}
}

func (r *recent) add(id string, e *entry) {
	if r.max <= 0 {
		return
	}
	if _, ok := r.byID[id]; ok {
		r.byID[id] = e
		return
	}
	r.byID[id] = e
	r.order = append(r.order, id)
	for len(r.order) > r.max {
		delete(r.byID, r.order[0])
		r.order = r.order[1:]
	}
}

func (r *recent) get(id string) (*entry, bool) {
	e, ok := r.byID[id]
	return e, ok
}
