package curriculum

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/abhisek/learngraph/internal/graph"
)

// Watcher reapplies a curriculum file to a graph whenever it changes on
// disk. Because Apply is additive, edits can add concepts and edges but
// never remove them from a running graph.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	path     string
	graph    *graph.Graph
	logger   *zap.Logger
	debounce time.Duration
	onApply  func(Result, error)

	// pending is the time of the latest relevant event, zero when idle.
	pending time.Time
	running bool
	closed  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	stats   WatcherStats
}

// WatcherStats counts watcher activity.
type WatcherStats struct {
	Events  int
	Reloads int
	Errors  int
	LastAt  time.Time
	LastErr string
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatchLogger sets the logger.
func WithWatchLogger(l *zap.Logger) WatcherOption { return func(w *Watcher) { w.logger = l } }

// WithDebounce sets how long the file must be quiet before reloading.
func WithDebounce(d time.Duration) WatcherOption { return func(w *Watcher) { w.debounce = d } }

// OnApply registers a callback invoked after each reload attempt.
func OnApply(fn func(Result, error)) WatcherOption { return func(w *Watcher) { w.onApply = fn } }

// NewWatcher prepares a watcher for the curriculum at path. Nothing is
// watched until Start.
func NewWatcher(path string, g *graph.Graph, opts ...WatcherOption) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fw.Close()
		return nil, err
	}
	w := &Watcher{
		watcher:  fw,
		path:     abs,
		graph:    g,
		logger:   zap.NewNop(),
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	return w, nil
}

// Start watches the file's directory, so editors that replace the file by
// rename are still seen.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("curriculum watcher stopped")
	}
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Info("watching curriculum", zap.String("path", w.path))

	go w.run(ctx)
	return nil
}

// Stop ends the watch loop and releases the fs watcher. It is safe to call
// more than once, and on a watcher that was never started.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	wasRunning := w.running
	w.running = false
	w.mu.Unlock()

	if wasRunning {
		close(w.stopCh)
		<-w.doneCh
	}
	if err := w.watcher.Close(); err != nil {
		w.logger.Warn("closing curriculum watcher", zap.Error(err))
	}
}

// Stats returns a copy of the counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := time.NewTicker(max(w.debounce/5, 10*time.Millisecond))
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("curriculum watcher error", zap.Error(err))
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-tick.C:
			w.mu.Lock()
			due := !w.pending.IsZero() && time.Since(w.pending) >= w.debounce
			if due {
				w.pending = time.Time{}
			}
			w.mu.Unlock()
			if due {
				w.Reload(ctx)
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if filepath.Clean(ev.Name) != w.path {
		return
	}
	if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
		return
	}
	w.logger.Debug("curriculum changed", zap.String("op", ev.Op.String()))
	w.mu.Lock()
	w.stats.Events++
	w.pending = time.Now()
	w.mu.Unlock()
}

// Reload loads and applies the file immediately. A file that fails to
// parse leaves the graph untouched.
func (w *Watcher) Reload(ctx context.Context) (Result, error) {
	res, err := w.reload(ctx)

	w.mu.Lock()
	w.stats.LastAt = time.Now()
	if err != nil {
		w.stats.Errors++
		w.stats.LastErr = err.Error()
	} else {
		w.stats.Reloads++
		w.stats.LastErr = ""
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Warn("curriculum reload failed", zap.String("path", w.path), zap.Error(err))
	} else {
		w.logger.Info("curriculum reloaded",
			zap.Int("nodes_added", res.NodesAdded),
			zap.Int("edges_added", res.EdgesAdded))
	}
	if w.onApply != nil {
		w.onApply(res, err)
	}
	return res, err
}

func (w *Watcher) reload(ctx context.Context) (Result, error) {
	cur, err := LoadFile(w.path)
	if err != nil {
		return Result{}, err
	}
	return Apply(ctx, w.graph, cur)
}
