package llm

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment variable read by ConfigFromEnv.
const EnvPrefix = "LEARNGRAPH_"

// Config selects and configures a provider. Provider "static" disables
// LLM generation. An empty Provider is resolved by ApplyEnv.
type Config struct {
	Provider   string         `yaml:"provider" validate:"omitempty,oneof=anthropic openai gemini openrouter mock static"`
	Anthropic  ProviderConfig `yaml:"anthropic"`
	OpenAI     ProviderConfig `yaml:"openai"`
	Gemini     ProviderConfig `yaml:"gemini"`
	OpenRouter ProviderConfig `yaml:"openrouter"`
	Retry      RetryConfig    `yaml:"retry"`
	Timeout    time.Duration  `yaml:"timeout" validate:"gte=0"`
}

// ProviderConfig holds credentials and the model for one provider.
type ProviderConfig struct {
	APIKey string `yaml:"-"`
	Model  string `yaml:"model"`
	// BaseURL overrides the endpoint of OpenAI-compatible providers.
	BaseURL string `yaml:"base_url,omitempty"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" validate:"gte=1,lte=10"`
	InitialWait time.Duration `yaml:"initial_wait"`
	MaxWait     time.Duration `yaml:"max_wait"`
	Multiplier  float64       `yaml:"multiplier" validate:"gte=1"`
}

// DefaultConfig leaves the provider to be discovered from the environment.
func DefaultConfig() Config {
	return Config{
		Anthropic:  ProviderConfig{Model: "claude-haiku"},
		OpenAI:     ProviderConfig{Model: "gpt-4o-mini"},
		Gemini:     ProviderConfig{Model: "gemini-flash"},
		OpenRouter: ProviderConfig{Model: "google/gemini-2.0-flash-exp", BaseURL: defaultOpenRouterBaseURL},
		Retry: RetryConfig{
			MaxAttempts: 3,
			InitialWait: time.Second,
			MaxWait:     10 * time.Second,
			Multiplier:  2,
		},
		Timeout: 30 * time.Second,
	}
}

// ApplyEnv overlays LEARNGRAPH_* variables onto c. When no provider is
// named it picks the first provider with a key, checking Gemini, OpenAI,
// Anthropic and OpenRouter in that order and also reading the vendors'
// own variables. With no key anywhere the provider is "static".
func (c *Config) ApplyEnv() {
	set := func(dst *string, name string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	set(&c.Provider, "LLM_PROVIDER")
	for name, pc := range c.providers() {
		set(&pc.APIKey, name+"_API_KEY")
		set(&pc.Model, name+"_MODEL")
		set(&pc.BaseURL, name+"_BASE_URL")
	}

	if c.Provider != "" {
		return
	}
	for _, d := range []struct {
		provider, env string
		pc            *ProviderConfig
	}{
		{"gemini", "GEMINI_API_KEY", &c.Gemini},
		{"openai", "OPENAI_API_KEY", &c.OpenAI},
		{"anthropic", "ANTHROPIC_API_KEY", &c.Anthropic},
		{"openrouter", "OPENROUTER_API_KEY", &c.OpenRouter},
	} {
		if d.pc.APIKey != "" {
			c.Provider = d.provider
			return
		}
		if k := os.Getenv(d.env); k != "" {
			c.Provider, d.pc.APIKey = d.provider, k
			return
		}
	}
	c.Provider = "static"
}

// ConfigFromEnv returns DefaultConfig with the environment applied.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.ApplyEnv()
	return cfg
}

func (c *Config) providers() map[string]*ProviderConfig {
	return map[string]*ProviderConfig{
		"ANTHROPIC":  &c.Anthropic,
		"OPENAI":     &c.OpenAI,
		"GEMINI":     &c.Gemini,
		"OPENROUTER": &c.OpenRouter,
	}
}

// Validate checks that the selected provider has an API key.
func (c Config) Validate() error {
	var pc ProviderConfig
	switch c.Provider {
	case "anthropic":
		pc = c.Anthropic
	case "openai":
		pc = c.OpenAI
	case "gemini":
		pc = c.Gemini
	case "openrouter":
		pc = c.OpenRouter
	case "", "mock", "static":
		return nil
	default:
		return fmt.Errorf("unknown LLM provider %q", c.Provider)
	}
	if pc.APIKey == "" {
		return fmt.Errorf("%s%s_API_KEY is required for the %s provider", EnvPrefix, strings.ToUpper(c.Provider), c.Provider)
	}
	return nil
}
