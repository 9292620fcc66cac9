package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/abhisek/learngraph/internal/content"
	"github.com/abhisek/learngraph/internal/curriculum"
	"github.com/abhisek/learngraph/internal/graph"
	"github.com/abhisek/learngraph/internal/llm"
	"github.com/abhisek/learngraph/internal/mastery"
	"github.com/abhisek/learngraph/internal/metrics"
	"github.com/abhisek/learngraph/internal/pipeline"
	"github.com/abhisek/learngraph/internal/planner"
	"github.com/abhisek/learngraph/internal/progress"
	"github.com/abhisek/learngraph/internal/session"
	"github.com/abhisek/learngraph/internal/spacedrep"
	"github.com/abhisek/learngraph/internal/store"
)

// app is every dependency a command may need, built from the loaded config.
type app struct {
	store    *store.Store
	graph    *graph.Graph
	mastery  *mastery.Engine
	planner  *planner.Planner
	content  *content.Service
	progress *progress.Tracker
	pipeline *pipeline.Pipeline
	sessions *session.Coordinator
	metrics  *metrics.Collector
	watcher  *curriculum.Watcher
	reviews  *spacedrep.Scheduler
}

// openStore opens the database only, for commands that read event logs.
func openStore(cmd *cobra.Command) (*store.Store, error) {
	dbPath, err := resolveDBPath(cmd)
	if err != nil {
		return nil, fmt.Errorf("resolve database path: %w", err)
	}
	s, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	logger.Debug("opened store", zap.String("path", dbPath))
	return s, nil
}

// openApp opens the store, loads the graph and wires the engines. The
// configured curriculum, if any, is applied after loading. extra options
// are passed to the session coordinator.
func openApp(cmd *cobra.Command, extra ...session.Option) (*app, error) {
	ctx := cmd.Context()
	st, err := openStore(cmd)
	if err != nil {
		return nil, err
	}
	a := &app{store: st, metrics: metrics.NewCollector("learngraph")}

	a.graph = graph.New(graph.WithPersister(st.GraphRepo()), graph.WithLogger(logger))
	if err := a.graph.Load(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("load graph: %w", err)
	}
	if p := cfg.Curriculum.Path; p != "" {
		if err := applyCurriculum(ctx, a.graph, p); err != nil {
			st.Close()
			return nil, err
		}
		if cfg.Curriculum.Watch {
			w, err := curriculum.NewWatcher(p, a.graph, curriculum.WithWatchLogger(logger))
			if err != nil {
				st.Close()
				return nil, err
			}
			if err := w.Start(ctx); err != nil {
				w.Stop()
				st.Close()
				return nil, err
			}
			a.watcher = w
		}
	}

	a.mastery = mastery.NewEngine(a.graph, cfg.Mastery, logger)
	a.reviews = spacedrep.NewScheduler(a.graph, cfg.Mastery.Threshold, logger)
	scheduleReview := a.reviews.Observer(ctx)
	a.mastery.OnUpdate(func(u mastery.Update) {
		a.metrics.MasteryUpdated(u.Cause)
		scheduleReview(u)
	})
	a.planner = planner.New(a.graph, a.mastery, cfg.Planner)
	a.progress = progress.NewTracker(a.graph, a.mastery, cfg.Progress)

	gen, err := newGenerator(ctx, st)
	if err != nil {
		a.Close()
		return nil, err
	}
	cache := content.TieredCache{Fast: content.NewMemoryCache(), Durable: st.PayloadRepo()}
	a.content = content.NewService(gen, cache, cfg.Content, logger, a.metrics)

	a.pipeline = pipeline.New(pipeline.Env{
		Graph:    a.graph,
		Mastery:  a.mastery,
		Planner:  a.planner,
		Content:  a.content,
		Progress: a.progress,
		Ledger:   st.EventRepo(),
		Config:   cfg.Pipeline,
		Logger:   logger,
	}, a.metrics)
	opts := append([]session.Option{
		session.WithArchive(st.SessionRepo()),
		session.WithLogger(logger),
		session.WithMetrics(a.metrics),
	}, extra...)
	a.sessions = session.NewCoordinator(a.pipeline, a.graph, cfg.Session, opts...)
	return a, nil
}

// newGenerator picks the LLM generator when a provider is configured and
// the authored-material generator otherwise.
func newGenerator(ctx context.Context, st *store.Store) (content.Generator, error) {
	provider, err := llm.NewProvider(ctx, cfg.LLM, st.EventRepo(), logger)
	if err != nil {
		return nil, fmt.Errorf("LLM provider: %w", err)
	}
	if provider == nil {
		logger.Info("no LLM provider configured, serving authored content only")
		return content.NewStaticGenerator(), nil
	}
	logger.Info("using LLM provider", zap.String("provider", cfg.LLM.Provider), zap.String("model", provider.ModelID()))
	return content.NewLLMGenerator(provider, cfg.Content.LLM), nil
}

func applyCurriculum(ctx context.Context, g *graph.Graph, path string) error {
	cur, err := curriculum.LoadFile(path)
	if err != nil {
		return err
	}
	res, err := curriculum.Apply(ctx, g, cur)
	if err != nil {
		return fmt.Errorf("apply curriculum %s: %w", path, err)
	}
	logger.Debug("applied curriculum",
		zap.String("path", path),
		zap.Int("nodes_added", res.NodesAdded),
		zap.Int("edges_added", res.EdgesAdded),
		zap.Int("nodes_skipped", res.NodesSkipped))
	return nil
}

func (a *app) Close() {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if err := a.store.Close(); err != nil {
		logger.Warn("closing store", zap.Error(err))
	}
}

// requireUser reads the --user flag shared by learner commands.
func requireUser(cmd *cobra.Command) (string, error) {
	u, _ := cmd.Flags().GetString("user")
	if u == "" {
		return "", fmt.Errorf("--user is required")
	}
	return u, nil
}
