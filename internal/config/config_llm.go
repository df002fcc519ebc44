package config

import "time"

// LLMConfig configures the language model the Planner/Executor/Replanner
// (spec §4.7) calls to produce and revise plans.
type LLMConfig struct {
	// Provider selects the backend: "anthropic", "openai", or "ollama".
	Provider string `yaml:"provider"`

	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`

	// Timeout bounds a single planning/replanning call.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries bounds provider-call retries on transient failure, separate
	// from the Tool Runtime's own invocation retry budget.
	MaxRetries int `yaml:"max_retries"`

	// FallbackChain lists additional provider IDs to try, in order, if the
	// primary provider's call fails after MaxRetries. Each entry must also
	// appear as a key in Providers.
	FallbackChain []string                     `yaml:"fallback_chain"`
	Providers     map[string]LLMProviderConfig `yaml:"providers"`
}

// LLMProviderConfig is a fallback provider's connection settings.
type LLMProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}
