package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/abhisek/learngraph/internal/config"
	"github.com/abhisek/learngraph/internal/store"
)

var (
	cfg     *config.Config
	logger  = zap.NewNop()
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "learngraph",
	Short: "Adaptive tutor over a knowledge graph",
	Long: `learngraph tracks per-learner mastery on a graph of concepts and their
prerequisites, plans what to study next, and runs lesson and quiz sessions
through a fixed pipeline of stages.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return err
		}
		logger, err = buildLogger(cfg.Log)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "Path to SQLite database file (overrides LEARNGRAPH_DB env var)")
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file (overrides LEARNGRAPH_CONFIG env var)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(recommendCmd)
	rootCmd.AddCommand(studyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(trendCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(llmCmd)
	rootCmd.AddCommand(versionCmd)
}

// buildLogger writes to stderr so command output stays clean on stdout.
func buildLogger(lc config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if lc.Format == "console" {
		zc.Encoding = "console"
		zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	level, err := zapcore.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// resolveDBPath returns the database path using --db flag (highest priority),
// then the configured path (file or LEARNGRAPH_DB), then the default XDG path.
func resolveDBPath(cmd *cobra.Command) (string, error) {
	if p, _ := cmd.Flags().GetString("db"); p != "" {
		return p, store.EnsureDir(p)
	}
	if cfg != nil && cfg.Store.Path != "" {
		return cfg.Store.Path, store.EnsureDir(cfg.Store.Path)
	}
	return store.DefaultDBPath()
}
