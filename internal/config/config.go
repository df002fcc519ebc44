// Package config loads and validates moonbotd's configuration: the Transport's
// socket and rate limit, the Tool Runtime's concurrency and retry budget, the
// Approval Manager's policy, session storage, auth token hashes, and the
// Planner's LLM provider.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config is moonbotd's top-level configuration.
type Config struct {
	Version int `yaml:"version"`

	Server        ServerConfig        `yaml:"server"`
	Gateway       GatewayConfig       `yaml:"gateway"`
	Auth          AuthConfig          `yaml:"auth"`
	Session       SessionConfig       `yaml:"session"`
	Tools         ToolsConfig         `yaml:"tools"`
	LLM           LLMConfig           `yaml:"llm"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// Load reads, expands, decodes, defaults and validates a YAML (or plain JSON)
// config file (loader.go resolves $include directives before this runs).
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	applyServerDefaults(&cfg.Server)
	applyGatewayDefaults(&cfg.Gateway)
	applyAuthDefaults(&cfg.Auth)
	applySessionDefaults(&cfg.Session)
	applyToolsDefaults(&cfg.Tools)
	applyLLMDefaults(&cfg.LLM)
	applyLoggingDefaults(&cfg.Logging)
	applyObservabilityDefaults(&cfg.Observability)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = "."
	}
	if cfg.MetricsHost == "" {
		cfg.MetricsHost = "127.0.0.1"
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
}

func applyGatewayDefaults(cfg *GatewayConfig) {
	if cfg.SocketPath == "" && cfg.Host == "" {
		home, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(home) == "" {
			home = "."
		}
		cfg.SocketPath = filepath.Join(home, ".moonbot", "gateway.sock")
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.MaxFrameBytes == 0 {
		cfg.MaxFrameBytes = 1 << 20 // 1MiB
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 20
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 40
	}
}

func applyAuthDefaults(cfg *AuthConfig) {
	if cfg.Pairing.CodeTTL == 0 {
		cfg.Pairing.CodeTTL = 10 * time.Minute
	}
	if cfg.Pairing.ReplayWindow == 0 {
		cfg.Pairing.ReplayWindow = 24 * time.Hour
	}
	if cfg.Pairing.StorePath == "" {
		cfg.Pairing.StorePath = defaultStateFile("pairing-codes.json")
	}
}

func applySessionDefaults(cfg *SessionConfig) {
	if cfg.Directory == "" {
		cfg.Directory = defaultStateFile("sessions")
	}
	if cfg.WriteLockTTL == 0 {
		cfg.WriteLockTTL = 30 * time.Second
	}
	if cfg.ExpiryCheckInterval == 0 {
		cfg.ExpiryCheckInterval = 5 * time.Minute
	}
}

func applyToolsDefaults(cfg *ToolsConfig) {
	if cfg.Runtime.MaxConcurrent == 0 {
		cfg.Runtime.MaxConcurrent = 4
	}
	if cfg.Runtime.DefaultTimeout == 0 {
		cfg.Runtime.DefaultTimeout = 30 * time.Second
	}
	if cfg.Runtime.MaxAttempts == 0 {
		cfg.Runtime.MaxAttempts = 3
	}
	if cfg.Runtime.RetryBackoff == 0 {
		cfg.Runtime.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.Runtime.InvocationTTL == 0 {
		cfg.Runtime.InvocationTTL = 1 * time.Hour
	}
	if cfg.Runtime.CleanupInterval == 0 {
		cfg.Runtime.CleanupInterval = 5 * time.Minute
	}

	if cfg.Approval.DefaultDecision == "" {
		cfg.Approval.DefaultDecision = "ask"
	}
	if cfg.Approval.RequestTTL == 0 {
		cfg.Approval.RequestTTL = 10 * time.Minute
	}
	if cfg.Approval.PolicyFile == "" {
		cfg.Approval.PolicyFile = defaultStateFile("policy.yaml")
	}
	if cfg.Approval.StorePath == "" {
		cfg.Approval.StorePath = defaultStateFile("pending-approvals.json")
	}
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.Provider == "" {
		cfg.Provider = "anthropic"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func applyObservabilityDefaults(cfg *ObservabilityConfig) {
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "moonbotd"
	}
}

func defaultStateFile(name string) string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		home = "."
	}
	return filepath.Join(home, ".moonbot", name)
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if value := strings.TrimSpace(os.Getenv("MOONBOT_SOCKET_PATH")); value != "" {
		cfg.Gateway.SocketPath = value
	}
	if value := strings.TrimSpace(os.Getenv("MOONBOT_HOST")); value != "" {
		cfg.Gateway.Host = value
	}
	if value := strings.TrimSpace(os.Getenv("MOONBOT_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Gateway.Port = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("MOONBOT_METRICS_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.MetricsPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("MOONBOT_WORKSPACE_ROOT")); value != "" {
		cfg.Server.WorkspaceRoot = value
	}
	if value := strings.TrimSpace(os.Getenv("MOONBOT_MAX_CONCURRENT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Tools.Runtime.MaxConcurrent = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); value != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = value
	}
	if value := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); value != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = value
	}
}

// ConfigValidationError collects every validation issue found, so a user sees
// all of them at once instead of fixing one at a time.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	var issues []string

	if cfg.Gateway.SocketPath == "" && cfg.Gateway.Host == "" {
		issues = append(issues, "gateway: either socket_path or host must be set")
	}
	if cfg.Gateway.Port < 0 {
		issues = append(issues, "gateway.port must not be negative")
	}

	if cfg.Tools.Runtime.MaxConcurrent <= 0 {
		issues = append(issues, "tools.runtime.max_concurrent must be positive")
	}
	if cfg.Tools.Runtime.MaxAttempts <= 0 {
		issues = append(issues, "tools.runtime.max_attempts must be positive")
	}

	switch cfg.Tools.Approval.DefaultDecision {
	case "allow", "deny", "ask":
	default:
		issues = append(issues, fmt.Sprintf("tools.approval.default_decision %q is invalid (want allow, deny, or ask)", cfg.Tools.Approval.DefaultDecision))
	}

	if len(cfg.Auth.TokenHashes) == 0 && !cfg.Auth.AllowLegacyTokens {
		issues = append(issues, "auth: no token_hashes configured and allow_legacy_tokens is false — no client could authenticate")
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}
