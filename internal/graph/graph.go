// Package graph is the in-memory knowledge graph: typed nodes and weighted
// edges, with identity, indexing and mutation locking.
//
// Shared content (concepts, skills, lessons, quizzes and their prerequisite
// structure) is mutated under a single content lock. Each learner's subgraph
// (their user node, owned nodes and mastery links) is mutated under that
// learner's own lock. Index maps are guarded by an RWMutex held only for the
// duration of a map read or write, so readers never wait on a mutator's
// read-modify-write or on persistence.
package graph

import (
	"cmp"
	"context"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/abhisek/learngraph/internal/apperr"
)

// Persister receives write-through copies of every committed mutation.
// Only mastery changes of the change log are persisted; LoadChanges returns
// them oldest first.
type Persister interface {
	LoadGraph(ctx context.Context) ([]Node, []Edge, error)
	SaveNode(ctx context.Context, n Node) error
	SaveEdge(ctx context.Context, e Edge) error
	SaveChange(ctx context.Context, c Change) error
	LoadChanges(ctx context.Context) ([]Change, error)
	DeleteLearner(ctx context.Context, userID string) error
}

// Option configures a Graph.
type Option func(*Graph)

// WithPersister enables write-through persistence.
func WithPersister(p Persister) Option { return func(g *Graph) { g.persister = p } }

// WithLogger sets the logger used for persistence failures.
func WithLogger(l *zap.Logger) Option { return func(g *Graph) { g.logger = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(g *Graph) { g.now = now } }

// WithChangeLogLimit caps the change log. Oldest entries are dropped first.
func WithChangeLogLimit(n int) Option { return func(g *Graph) { g.logLimit = n } }

// Graph is safe for concurrent use.
type Graph struct {
	mu        sync.RWMutex
	nodes     map[string]*Node
	edges     map[string]*Edge
	out       map[string][]*Edge
	in        map[string][]*Edge
	links     map[linkKey]*Edge
	seq       int64
	contentMu sync.Mutex
	learners  learnerLocks

	changes   *changeLog
	logLimit  int
	persister Persister
	logger    *zap.Logger
	now       func() time.Time
}

// New returns an empty graph.
func New(opts ...Option) *Graph {
	g := &Graph{
		nodes:  make(map[string]*Node),
		edges:  make(map[string]*Edge),
		out:    make(map[string][]*Edge),
		in:     make(map[string][]*Edge),
		links:  make(map[linkKey]*Edge),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	g.changes = newChangeLog(g.logLimit)
	return g
}

// Now returns the graph's clock reading.
func (g *Graph) Now() time.Time { return g.now() }

// AddNode inserts n and returns its id, generating one when n.ID is empty.
func (g *Graph) AddNode(ctx context.Context, n Node) (string, error) {
	if !n.Type.Valid() {
		return "", apperr.Wrap(ErrInvalidType, "node type %q", n.Type)
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Type == NodeUser {
		if n.OwnerUserID != "" && n.OwnerUserID != n.ID {
			return "", apperr.Wrap(ErrInvalidType, "user node %q must own itself", n.ID)
		}
		n.OwnerUserID = n.ID
	}

	unlock := g.scope(n.OwnerUserID)
	defer unlock()

	now := g.now()
	g.mu.Lock()
	if _, ok := g.nodes[n.ID]; ok {
		g.mu.Unlock()
		return "", apperr.Wrap(ErrDuplicateID, "node %q", n.ID)
	}
	if n.Type != NodeUser && n.OwnerUserID != "" {
		if owner, ok := g.nodes[n.OwnerUserID]; !ok || owner.Type != NodeUser {
			g.mu.Unlock()
			return "", apperr.Wrap(ErrUnknownNode, "owner %q of node %q", n.OwnerUserID, n.ID)
		}
	}
	g.seq++
	n.Seq = g.seq
	n.Active = true
	n.CreatedAt, n.UpdatedAt = now, now
	n.MasteryScore = normalizeScore(&n)
	stored := n.clone()
	g.nodes[n.ID] = stored
	snapshot := *stored.clone()
	g.mu.Unlock()

	g.changes.append(Change{At: now, Kind: ChangeNodeAdded, UserID: n.OwnerUserID, NodeID: n.ID})
	return n.ID, g.persistNode(ctx, snapshot)
}

// AddEdge inserts e and returns its id, generating one when e.ID is empty.
func (g *Graph) AddEdge(ctx context.Context, e Edge) (string, error) {
	if !e.Type.Valid() {
		return "", apperr.Wrap(ErrInvalidType, "edge type %q", e.Type)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	g.mu.RLock()
	src, srcOK := g.nodes[e.SourceID]
	dst, dstOK := g.nodes[e.TargetID]
	var owner string
	var err error
	if srcOK && dstOK {
		owner, err = edgeOwner(src, dst)
	}
	g.mu.RUnlock()
	if !srcOK || !dstOK {
		return "", apperr.Wrap(ErrUnknownNode, "edge %s -> %s", e.SourceID, e.TargetID)
	}
	if err != nil {
		return "", err
	}

	unlock := g.scope(owner)
	defer unlock()

	now := g.now()
	g.mu.Lock()
	if err := g.checkEdgeLocked(&e); err != nil {
		g.mu.Unlock()
		return "", err
	}
	e.CreatedAt, e.UpdatedAt = now, now
	stored := e.clone()
	g.insertEdgeLocked(stored)
	snapshot := *stored.clone()
	g.mu.Unlock()

	c := Change{At: now, Kind: ChangeEdgeAdded, UserID: owner, NodeID: e.TargetID, EdgeID: e.ID}
	if e.Type == EdgeMasteryLink {
		c.Kind, c.Old, c.New, c.Cause = ChangeMasteryUpdated, e.Weight, e.Weight, "linked"
	}
	c = g.changes.append(c)
	if err := g.persistEdge(ctx, snapshot); err != nil {
		return e.ID, err
	}
	return e.ID, g.persistChange(ctx, c)
}

// checkEdgeLocked validates e against the current indexes. g.mu must be held.
func (g *Graph) checkEdgeLocked(e *Edge) error {
	src, ok := g.nodes[e.SourceID]
	if !ok {
		return apperr.Wrap(ErrUnknownNode, "source %q", e.SourceID)
	}
	dst, ok := g.nodes[e.TargetID]
	if !ok {
		return apperr.Wrap(ErrUnknownNode, "target %q", e.TargetID)
	}
	if _, ok := g.edges[e.ID]; ok {
		return apperr.Wrap(ErrDuplicateID, "edge %q", e.ID)
	}

	switch e.Type {
	case EdgePrerequisite, EdgeSimilarity:
		if src.Type == NodeUser || dst.Type == NodeUser {
			return apperr.Wrap(ErrInvalidEdge, "%s edge cannot touch user node", e.Type)
		}
		if e.Type == EdgePrerequisite && g.reachableLocked(e.TargetID, e.SourceID) {
			return apperr.Wrap(ErrCycleDetected, "%s -> %s", e.SourceID, e.TargetID)
		}
	case EdgeMasteryLink:
		if src.Type != NodeUser || !dst.Type.Trackable() {
			return apperr.Wrap(ErrInvalidEdge, "mastery link must join a user to a concept or skill")
		}
		if _, ok := g.links[linkKey{src.ID, dst.ID}]; ok {
			return apperr.Wrap(ErrDuplicateMasteryLink, "user %q node %q", src.ID, dst.ID)
		}
		e.Weight = clamp01(e.Weight)
	case EdgeCompletion:
		if src.Type != NodeUser || (dst.Type != NodeLesson && dst.Type != NodeQuiz) {
			return apperr.Wrap(ErrInvalidEdge, "completion must join a user to a lesson or quiz")
		}
	}
	return nil
}

// reachableLocked reports whether to can be reached from from by following
// prerequisite edges forward.
func (g *Graph) reachableLocked(from, to string) bool {
	if from == to {
		return true
	}
	seen := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.out[cur] {
			if e.Type != EdgePrerequisite || seen[e.TargetID] {
				continue
			}
			if e.TargetID == to {
				return true
			}
			seen[e.TargetID] = true
			queue = append(queue, e.TargetID)
		}
	}
	return false
}

func (g *Graph) insertEdgeLocked(e *Edge) {
	g.edges[e.ID] = e
	g.out[e.SourceID] = append(g.out[e.SourceID], e)
	g.in[e.TargetID] = append(g.in[e.TargetID], e)
	if e.Type == EdgeMasteryLink {
		g.links[linkKey{e.SourceID, e.TargetID}] = e
	}
}

// GetNode returns a copy of the node.
func (g *Graph) GetNode(id string) (Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, apperr.Wrap(ErrNotFound, "node %q", id)
	}
	return *n.clone(), nil
}

// GetEdge returns a copy of the edge.
func (g *Graph) GetEdge(id string) (Edge, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.edges[id]
	if !ok {
		return Edge{}, apperr.Wrap(ErrNotFound, "edge %q", id)
	}
	return *e.clone(), nil
}

// OutgoingEdges returns edges leaving id, optionally filtered by type.
func (g *Graph) OutgoingEdges(id string, types ...EdgeType) ([]Edge, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.nodes[id]; !ok {
		return nil, apperr.Wrap(ErrNotFound, "node %q", id)
	}
	return copyEdges(g.out[id], types), nil
}

// IncomingEdges returns edges entering id, optionally filtered by type.
func (g *Graph) IncomingEdges(id string, types ...EdgeType) ([]Edge, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.nodes[id]; !ok {
		return nil, apperr.Wrap(ErrNotFound, "node %q", id)
	}
	return copyEdges(g.in[id], types), nil
}

// Nodes returns copies of every node of the given types (all when none are
// given) in creation order.
func (g *Graph) Nodes(types ...NodeType) []Node {
	g.mu.RLock()
	out := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		if len(types) == 0 || slices.Contains(types, n.Type) {
			out = append(out, *n.clone())
		}
	}
	g.mu.RUnlock()
	slices.SortFunc(out, func(a, b Node) int { return cmp.Compare(a.Seq, b.Seq) })
	return out
}

// MasteryLink returns the learner's mastery link to nodeID.
func (g *Graph) MasteryLink(userID, nodeID string) (Edge, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.links[linkKey{userID, nodeID}]
	if !ok {
		return Edge{}, false
	}
	return *e.clone(), true
}

// MutateNode applies fn to a copy of the node under the lock of the node's
// scope and commits the result. Identity fields are not mutable.
func (g *Graph) MutateNode(ctx context.Context, id string, fn func(*Node) error) error {
	owner, err := g.ownerOf(id)
	if err != nil {
		return err
	}
	unlock := g.scope(owner)
	defer unlock()
	_, err = g.mutateNodeScoped(ctx, id, ChangeNodeUpdated, fn)
	return err
}

// Deactivate hides a content node from planning. Nodes are never hard
// deleted while referenced.
func (g *Graph) Deactivate(ctx context.Context, id string) error {
	owner, err := g.ownerOf(id)
	if err != nil {
		return err
	}
	unlock := g.scope(owner)
	defer unlock()
	_, err = g.mutateNodeScoped(ctx, id, ChangeNodeDeactivated, func(n *Node) error {
		n.Active = false
		return nil
	})
	return err
}

func (g *Graph) ownerOf(id string) (string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return "", apperr.Wrap(ErrNotFound, "node %q", id)
	}
	return n.OwnerUserID, nil
}

// mutateNodeScoped runs the read-modify-write. The scope lock must be held.
func (g *Graph) mutateNodeScoped(ctx context.Context, id string, kind ChangeKind, fn func(*Node) error) (Node, error) {
	g.mu.RLock()
	cur, ok := g.nodes[id]
	var work *Node
	if ok {
		work = cur.clone()
	}
	g.mu.RUnlock()
	if !ok {
		return Node{}, apperr.Wrap(ErrNotFound, "node %q", id)
	}

	orig := *work
	if err := fn(work); err != nil {
		return Node{}, err
	}
	work.ID, work.Type, work.OwnerUserID = orig.ID, orig.Type, orig.OwnerUserID
	work.Seq, work.CreatedAt = orig.Seq, orig.CreatedAt
	work.MasteryScore = normalizeScore(work)
	work.UpdatedAt = g.now()

	g.mu.Lock()
	if _, ok := g.nodes[id]; !ok {
		g.mu.Unlock()
		return Node{}, apperr.Wrap(ErrNotFound, "node %q", id)
	}
	g.nodes[id] = work
	snapshot := *work.clone()
	g.mu.Unlock()

	g.changes.append(Change{
		At: work.UpdatedAt, Kind: kind, UserID: work.OwnerUserID, NodeID: id,
		Old: orig.MasteryScore, New: work.MasteryScore,
	})
	return snapshot, g.persistNode(ctx, snapshot)
}

// Changes returns change log entries matching q in (time, sequence) order.
func (g *Graph) Changes(q ChangeQuery) []Change {
	return g.changes.query(q)
}

// HasPrerequisiteCycle runs a full Kahn pass over prerequisite edges.
func (g *Graph) HasPrerequisiteCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	indeg := make(map[string]int, len(g.nodes))
	for _, e := range g.edges {
		if e.Type == EdgePrerequisite {
			indeg[e.TargetID]++
		}
	}
	var queue []string
	for id := range g.nodes {
		if indeg[id] == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, e := range g.out[id] {
			if e.Type != EdgePrerequisite {
				continue
			}
			indeg[e.TargetID]--
			if indeg[e.TargetID] == 0 {
				queue = append(queue, e.TargetID)
			}
		}
	}
	return visited != len(g.nodes)
}

// DeleteLearner removes the user node, every node the learner owns and
// every edge touching them. This is the only hard delete.
func (g *Graph) DeleteLearner(ctx context.Context, userID string) error {
	unlock := g.scope(userID)
	defer unlock()

	g.mu.Lock()
	u, ok := g.nodes[userID]
	if !ok || u.Type != NodeUser {
		g.mu.Unlock()
		return apperr.Wrap(ErrNotFound, "learner %q", userID)
	}
	doomed := make(map[string]bool)
	for id, n := range g.nodes {
		if n.OwnerUserID == userID {
			doomed[id] = true
		}
	}
	for id, e := range g.edges {
		if doomed[e.SourceID] || doomed[e.TargetID] {
			delete(g.edges, id)
		}
	}
	for id := range doomed {
		delete(g.nodes, id)
		delete(g.out, id)
		delete(g.in, id)
	}
	for id, list := range g.out {
		g.out[id] = slices.DeleteFunc(list, func(e *Edge) bool { return doomed[e.TargetID] })
	}
	for id, list := range g.in {
		g.in[id] = slices.DeleteFunc(list, func(e *Edge) bool { return doomed[e.SourceID] })
	}
	for k := range g.links {
		if k.userID == userID {
			delete(g.links, k)
		}
	}
	g.mu.Unlock()

	g.changes.forgetUser(userID)
	g.changes.append(Change{At: g.now(), Kind: ChangeLearnerDeleted, NodeID: userID})

	if g.persister == nil {
		return nil
	}
	if err := g.persister.DeleteLearner(ctx, userID); err != nil {
		g.logger.Error("persist learner deletion", zap.String("user_id", userID), zap.Error(err))
		return apperr.WithCause(ErrPersistence, err, "delete learner %q", userID)
	}
	return nil
}

// Load replaces the graph contents with the persisted state. It is meant to
// run once at startup before any other call.
func (g *Graph) Load(ctx context.Context) error {
	if g.persister == nil {
		return nil
	}
	nodes, edges, err := g.persister.LoadGraph(ctx)
	if err != nil {
		return apperr.WithCause(ErrPersistence, err, "load graph")
	}
	slices.SortFunc(nodes, func(a, b Node) int { return cmp.Compare(a.Seq, b.Seq) })

	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range nodes {
		n := nodes[i]
		if !n.Type.Valid() {
			return apperr.Wrap(ErrInvalidType, "stored node %q type %q", n.ID, n.Type)
		}
		g.nodes[n.ID] = n.clone()
		g.seq = max(g.seq, n.Seq)
	}
	for i := range edges {
		e := edges[i]
		if err := g.checkEdgeLocked(&e); err != nil {
			return err
		}
		g.insertEdgeLocked(e.clone())
	}

	changes, err := g.persister.LoadChanges(ctx)
	if err != nil {
		return apperr.WithCause(ErrPersistence, err, "load change log")
	}
	g.changes.load(changes)
	return nil
}

func (g *Graph) persistNode(ctx context.Context, n Node) error {
	if g.persister == nil {
		return nil
	}
	if err := g.persister.SaveNode(ctx, n); err != nil {
		g.logger.Error("persist node", zap.String("node_id", n.ID), zap.Error(err))
		return apperr.WithCause(ErrPersistence, err, "node %q", n.ID)
	}
	return nil
}

// persistChange writes mastery changes through. Structural entries are
// derivable from the stored graph and stay in memory.
func (g *Graph) persistChange(ctx context.Context, c Change) error {
	if g.persister == nil || c.Kind != ChangeMasteryUpdated {
		return nil
	}
	if err := g.persister.SaveChange(ctx, c); err != nil {
		g.logger.Error("persist mastery change",
			zap.String("user_id", c.UserID), zap.String("node_id", c.NodeID), zap.Error(err))
		return apperr.WithCause(ErrPersistence, err, "mastery change %q -> %q", c.UserID, c.NodeID)
	}
	return nil
}

func (g *Graph) persistEdge(ctx context.Context, e Edge) error {
	if g.persister == nil {
		return nil
	}
	if err := g.persister.SaveEdge(ctx, e); err != nil {
		g.logger.Error("persist edge", zap.String("edge_id", e.ID), zap.Error(err))
		return apperr.WithCause(ErrPersistence, err, "edge %q", e.ID)
	}
	return nil
}

// edgeOwner picks the lock scope of an edge. An edge may not span two
// learners.
func edgeOwner(src, dst *Node) (string, error) {
	switch {
	case src.OwnerUserID == "":
		return dst.OwnerUserID, nil
	case dst.OwnerUserID == "" || dst.OwnerUserID == src.OwnerUserID:
		return src.OwnerUserID, nil
	}
	return "", apperr.Wrap(ErrInvalidEdge, "edge %s -> %s spans two learners", src.ID, dst.ID)
}

func copyEdges(list []*Edge, types []EdgeType) []Edge {
	out := make([]Edge, 0, len(list))
	for _, e := range list {
		if len(types) == 0 || slices.Contains(types, e.Type) {
			out = append(out, *e.clone())
		}
	}
	return out
}

func normalizeScore(n *Node) float64 {
	if n.OwnerUserID == "" || !n.Type.Trackable() {
		return 0
	}
	return clamp01(n.MasteryScore)
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
