// Package session drives learning sessions through the agent pipeline. It
// is the only entry point outer layers use: StartSession, SubmitResponse,
// GetSessionStatus and Cancel.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/abhisek/learngraph/internal/apperr"
	"github.com/abhisek/learngraph/internal/graph"
	"github.com/abhisek/learngraph/internal/metrics"
	"github.com/abhisek/learngraph/internal/pipeline"
)

var (
	ErrSessionNotFound = apperr.New(apperr.State, "session_not_found", "session not found")
	ErrInvalidRequest  = apperr.New(apperr.Data, "invalid_request", "invalid session request")
	ErrSessionClosed   = pipeline.ErrSessionClosed
	ErrOutOfOrder      = pipeline.ErrOutOfOrder
)

// Config holds coordinator limits.
type Config struct {
	// IdleTimeout abandons sessions left awaiting a response this long.
	IdleTimeout time.Duration `yaml:"idle_timeout" validate:"gt=0"`
	// ArchiveSize bounds how many finished sessions stay queryable in
	// memory. Older ones are served from the Archive, if any.
	ArchiveSize int `yaml:"archive_size" validate:"gte=0"`
	// JanitorInterval is how often RunJanitor sweeps. Zero disables it.
	JanitorInterval time.Duration `yaml:"janitor_interval" validate:"gte=0"`
}

func DefaultConfig() Config {
	return Config{IdleTimeout: 30 * time.Minute, ArchiveSize: 256, JanitorInterval: time.Minute}
}

// Archive persists sessions. It is written through on every transition.
type Archive interface {
	SaveSession(ctx context.Context, s *pipeline.Session) error
	GetSession(ctx context.Context, id string) (*pipeline.Session, error)
	LatestHistory(ctx context.Context, userID string) (pipeline.History, error)
}

// Sink receives stage results synchronously, in log order.
type Sink interface {
	Publish(pipeline.StageResult)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(pipeline.StageResult)

func (f SinkFunc) Publish(r pipeline.StageResult) { f(r) }

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithArchive(a Archive) Option { return func(c *Coordinator) { c.archive = a } }
func WithSink(s Sink) Option { return func(c *Coordinator) { c.sink = s } }
func WithLogger(l *zap.Logger) Option { return func(c *Coordinator) { c.logger = l } }
func WithMetrics(m *metrics.Collector) Option { return func(c *Coordinator) { c.metrics = m } }
func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

type entry struct {
	// mu serializes every operation on the session.
	mu        sync.Mutex
	s         *pipeline.Session
	cancelled atomic.Bool
	// responded caches the result of the accepted response so a repeated
	// submission returns it instead of re-running the evaluation.
	responded *pipeline.StageResult
}

// learnerHistory is one learner's cross-session counters. mu serializes
// every read-modify-write across that learner's sessions.
type learnerHistory struct {
	mu     sync.Mutex
	loaded bool
	h      pipeline.History
}

// Coordinator owns live sessions.
type Coordinator struct {
	pipe    *pipeline.Pipeline
	graph   *graph.Graph
	cfg     Config
	archive Archive
	sink    Sink
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time

	mu      sync.Mutex
	live    map[string]*entry
	done    *recent
	history map[string]*learnerHistory
}

// NewCoordinator returns a coordinator running sessions on p. g is used to
// register learners on their first session.
func NewCoordinator(p *pipeline.Pipeline, g *graph.Graph, cfg Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		pipe:    p,
		graph:   g,
		cfg:     cfg,
		logger:  zap.NewNop(),
		now:     time.Now,
		live:    make(map[string]*entry),
		done:    newRecent(cfg.ArchiveSize),
		history: make(map[string]*learnerHistory),
	}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

var validate = validator.New()

type startRequest struct {
	UserID  string   `validate:"required,max=128"`
	GoalIDs []string `validate:"required,min=1,dive,required"`
}

// StartSession opens a session for userID and runs it up to the first
// response. A session that ends immediately (every goal mastered, or a
// failing stage) is still returned; its status says how it ended.
func (c *Coordinator) StartSession(ctx context.Context, userID string, goalIDs []string) (string, error) {
	if err := validate.Struct(startRequest{UserID: userID, GoalIDs: goalIDs}); err != nil {
		return "", apperr.WithCause(ErrInvalidRequest, err, "start session")
	}
	if err := c.ensureLearner(ctx, userID); err != nil {
		return "", err
	}

	s := c.pipe.NewSession(userID, goalIDs, c.historyFor(ctx, userID))
	e := &entry{s: s}
	e.mu.Lock()
	defer e.mu.Unlock()

	c.mu.Lock()
	c.live[s.ID] = e
	c.mu.Unlock()
	c.metrics.SessionOpened()
	c.logger.Info("session started",
		zap.String("session_id", s.ID), zap.String("user_id", userID), zap.Strings("goals", goalIDs))

	if _, err := c.pipe.Advance(ctx, s, c.hooks(e)); err != nil {
		return "", err
	}
	c.settle(ctx, e)
	return s.ID, nil
}

// SubmitResponse hands the learner's response to the pending stage and
// runs the session to completion. It returns the last stage result.
// Submitting again after the response was accepted returns the same result
// without re-applying anything.
func (c *Coordinator) SubmitResponse(ctx context.Context, sessionID string, r pipeline.Response) (*pipeline.StageResult, error) {
	e, err := c.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	c.expire(ctx, e)
	if e.responded != nil {
		res := *e.responded
		return &res, nil
	}
	if e.s.Status.Terminal() {
		return nil, apperr.Wrap(ErrSessionClosed, "session %s is %s", sessionID, e.s.Status)
	}

	results, err := c.pipe.Respond(ctx, e.s, r, c.hooks(e))
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		// Cancelled before evaluation started.
		c.settle(ctx, e)
		return nil, apperr.Wrap(ErrSessionClosed, "session %s is %s", sessionID, e.s.Status)
	}
	last := results[len(results)-1]
	e.responded = &last
	c.settle(ctx, e)

	res := last
	return &res, nil
}

// GetSessionStatus returns a snapshot of the session. Without an
// intervening transition, repeated calls return identical snapshots.
func (c *Coordinator) GetSessionStatus(ctx context.Context, sessionID string) (*pipeline.Snapshot, error) {
	e, err := c.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	c.expire(ctx, e)
	return e.s.Snapshot(), nil
}

// Cancel stops the session at the next stage boundary. A session waiting
// for a response is cancelled at once. Committed mastery updates stay.
func (c *Coordinator) Cancel(ctx context.Context, sessionID string) error {
	e, err := c.lookup(ctx, sessionID)
	if err != nil {
		return err
	}
	e.cancelled.Store(true)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s.Status.Terminal() {
		if e.s.Status == pipeline.StatusCancelled {
			return nil
		}
		return apperr.Wrap(ErrSessionClosed, "session %s is %s", sessionID, e.s.Status)
	}
	c.pipe.Close(e.s, pipeline.StatusCancelled, "cancelled")
	c.settle(ctx, e)
	return nil
}

// Sweep abandons every live session idle past the timeout and returns how
// many it closed.
func (c *Coordinator) Sweep(ctx context.Context) int {
	c.mu.Lock()
	entries := make([]*entry, 0, len(c.live))
	for _, e := range c.live {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	n := 0
	for _, e := range entries {
		e.mu.Lock()
		if c.expire(ctx, e) {
			n++
		}
		e.mu.Unlock()
	}
	return n
}

// RunJanitor sweeps every interval until ctx is done. The lazy check on
// access stays authoritative; the janitor only bounds memory.
func (c *Coordinator) RunJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := c.Sweep(ctx); n > 0 {
				c.logger.Info("abandoned idle sessions", zap.Int("count", n))
			}
		}
	}
}

// Live returns the number of sessions still in memory and not terminal.
func (c *Coordinator) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.live)
}

// expire abandons e if it has waited too long. The caller holds e.mu.
func (c *Coordinator) expire(ctx context.Context, e *entry) bool {
	s := e.s
	if s.Status.Terminal() || s.Stage != pipeline.StageAwaitingResponse {
		return false
	}
	if c.now().Sub(s.UpdatedAt) <= c.cfg.IdleTimeout {
		return false
	}
	c.pipe.Close(s, pipeline.StatusAbandoned, "idle timeout")
	c.logger.Info("session abandoned",
		zap.String("session_id", s.ID), zap.String("user_id", s.UserID),
		zap.Duration("idle", c.cfg.IdleTimeout))
	c.settle(ctx, e)
	return true
}

// settle persists e and, once it is terminal, moves it out of the live set.
// The caller holds e.mu.
func (c *Coordinator) settle(ctx context.Context, e *entry) {
	s := e.s
	if c.archive != nil {
		if err := c.archive.SaveSession(context.WithoutCancel(ctx), s); err != nil {
			c.logger.Error("archive session", zap.String("session_id", s.ID), zap.Error(err))
		}
	}
	if !s.Status.Terminal() {
		return
	}

	c.mu.Lock()
	_, wasLive := c.live[s.ID]
	delete(c.live, s.ID)
	c.done.add(s.ID, e)
	c.mu.Unlock()

	if wasLive {
		c.metrics.SessionClosed(string(s.Status))
		c.logger.Info("session closed",
			zap.String("session_id", s.ID), zap.String("status", string(s.Status)),
			zap.Int("stages", len(s.Log)))
	}
}

func (c *Coordinator) lookup(ctx context.Context, id string) (*entry, error) {
	c.mu.Lock()
	if e, ok := c.live[id]; ok {
		c.mu.Unlock()
		return e, nil
	}
	if e, ok := c.done.get(id); ok {
		c.mu.Unlock()
		return e, nil
	}
	c.mu.Unlock()

	if c.archive != nil {
		s, err := c.archive.GetSession(ctx, id)
		if err == nil {
			e := &entry{s: s}
			if s.Status.Terminal() {
				c.mu.Lock()
				c.done.add(id, e)
				c.mu.Unlock()
				return e, nil
			}
			// A persisted active session belongs to another process.
			return nil, apperr.Wrap(ErrSessionClosed, "session %s is not owned by this coordinator", id)
		}
		c.logger.Debug("archive lookup failed", zap.String("session_id", id), zap.Error(err))
	}
	return nil, apperr.Wrap(ErrSessionNotFound, "session %s", id)
}

func (c *Coordinator) historyFor(ctx context.Context, userID string) pipeline.History {
	var h pipeline.History
	c.withHistory(ctx, userID, func(cur *pipeline.History) { h = *cur })
	return h
}

// withHistory runs fn on the learner's counters under the learner's
// history lock, loading them from the archive on first use.
func (c *Coordinator) withHistory(ctx context.Context, userID string, fn func(*pipeline.History)) {
	c.mu.Lock()
	lh, ok := c.history[userID]
	if !ok {
		lh = &learnerHistory{}
		c.history[userID] = lh
	}
	c.mu.Unlock()

	lh.mu.Lock()
	defer lh.mu.Unlock()
	if !lh.loaded {
		if c.archive != nil {
			h, err := c.archive.LatestHistory(ctx, userID)
			if err != nil {
				c.logger.Warn("load session history", zap.String("user_id", userID), zap.Error(err))
			}
			lh.h = h
		}
		lh.loaded = true
	}
	fn(&lh.h)
}

func (c *Coordinator) ensureLearner(ctx context.Context, userID string) error {
	n, err := c.graph.GetNode(userID)
	if err == nil {
		if n.Type != graph.NodeUser {
			return apperr.Wrap(ErrInvalidRequest, "%q is a %s node, not a learner", userID, n.Type)
		}
		return nil
	}
	if !errors.Is(err, graph.ErrNotFound) {
		return err
	}
	_, err = c.graph.AddNode(ctx, graph.Node{ID: userID, Type: graph.NodeUser})
	if errors.Is(err, graph.ErrDuplicateID) {
		return nil
	}
	return err
}

func (c *Coordinator) hooks(e *entry) pipeline.Hooks {
	h := pipeline.Hooks{
		Cancelled: e.cancelled.Load,
		History:   c.withHistory,
	}
	if c.sink != nil {
		h.Emit = c.sink.Publish
	}
	return h
}
