// Package config loads learngraph settings. Sources, lowest priority
// first: defaults in code, an optional YAML file, LEARNGRAPH_* environment
// variables. The result is checked with validator struct tags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/abhisek/learngraph/internal/content"
	"github.com/abhisek/learngraph/internal/llm"
	"github.com/abhisek/learngraph/internal/mastery"
	"github.com/abhisek/learngraph/internal/pipeline"
	"github.com/abhisek/learngraph/internal/planner"
	"github.com/abhisek/learngraph/internal/progress"
	"github.com/abhisek/learngraph/internal/session"
)

// EnvConfigPath names the config file when --config is not given.
const EnvConfigPath = llm.EnvPrefix + "CONFIG"

type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Log        LogConfig        `yaml:"log"`
	Curriculum CurriculumConfig `yaml:"curriculum"`
	Mastery    mastery.Config   `yaml:"mastery"`
	Planner    planner.Config   `yaml:"planner"`
	Progress   progress.Config  `yaml:"progress"`
	Pipeline   pipeline.Config  `yaml:"pipeline"`
	Session    session.Config   `yaml:"session"`
	Content    content.Config   `yaml:"content"`
	LLM        llm.Config       `yaml:"llm"`

	// Source is the file the config was read from, if any.
	Source string `yaml:"-"`
}

type StoreConfig struct {
	// Path is the SQLite file. Empty resolves to store.DefaultDBPath.
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

type CurriculumConfig struct {
	// Path is a curriculum YAML file applied at startup.
	Path string `yaml:"path"`
	// Watch reloads the curriculum when the file changes.
	Watch bool `yaml:"watch"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log:      LogConfig{Level: "info", Format: "console"},
		Mastery:  mastery.DefaultConfig(),
		Planner:  planner.DefaultConfig(),
		Progress: progress.DefaultConfig(),
		Pipeline: pipeline.DefaultConfig(),
		Session:  session.DefaultConfig(),
		Content:  content.DefaultConfig(),
		LLM:      llm.DefaultConfig(),
	}
}

// Load builds the configuration. An empty path falls back to
// LEARNGRAPH_CONFIG; with neither set only defaults and the environment
// apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
		cfg.Source = path
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays LEARNGRAPH_* variables. LLM settings follow the llm
// package's own variables.
func (c *Config) applyEnv() error {
	str := func(name string, dst *string) {
		if v := os.Getenv(llm.EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	str("DB", &c.Store.Path)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("CURRICULUM", &c.Curriculum.Path)

	if v := os.Getenv(llm.EnvPrefix + "MASTERY_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sMASTERY_THRESHOLD: %w", llm.EnvPrefix, err)
		}
		c.Mastery.Threshold = f
		c.Planner.Threshold = f
	}
	if v := os.Getenv(llm.EnvPrefix + "SESSION_IDLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sSESSION_IDLE_TIMEOUT: %w", llm.EnvPrefix, err)
		}
		c.Session.IdleTimeout = d
	}
	if v := os.Getenv(llm.EnvPrefix + "CONTENT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sCONTENT_TIMEOUT: %w", llm.EnvPrefix, err)
		}
		c.Content.Timeout = d
	}

	c.LLM.ApplyEnv()
	return nil
}

var validate = validator.New()

// Validate checks struct tags and cross-section constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Mastery.Threshold != c.Planner.Threshold {
		return fmt.Errorf("invalid config: mastery.threshold (%v) and planner.threshold (%v) differ",
			c.Mastery.Threshold, c.Planner.Threshold)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
