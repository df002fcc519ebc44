package config

import "time"

// ToolsConfig configures the Tool Runtime (spec §4.5) and the Approval
// Manager's policy (spec §4.4).
type ToolsConfig struct {
	Runtime  RuntimeConfig  `yaml:"runtime"`
	Approval ApprovalConfig `yaml:"approval"`
}

// RuntimeConfig controls invocation concurrency, timeouts and retries.
type RuntimeConfig struct {
	// MaxConcurrent bounds simultaneously RUNNING invocations (spec §5);
	// invocations AWAITING_APPROVAL do not count against this limit.
	MaxConcurrent int `yaml:"max_concurrent"`

	// DefaultTimeout applies to a tool invocation when the descriptor does
	// not specify its own.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// MaxAttempts is defaulted and validated but not read by the runtime or
	// the Replanner; the Replanner's per-step retry limit is its own
	// ReplannerConfig.MaxRetriesPerStep.
	MaxAttempts int `yaml:"max_attempts"`

	// RetryBackoff is defaulted but not read by any component.
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// InvocationTTL bounds how long a terminal invocation record is kept
	// in memory before the periodic sweep prunes it.
	InvocationTTL time.Duration `yaml:"invocation_ttl"`

	// CleanupInterval is how often the TTL sweep runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// ApprovalConfig controls the Approval Manager's policy (spec §4.4) and the
// Approval Flow's request lifecycle (spec §4.6).
type ApprovalConfig struct {
	// Enabled gates the approval flow entirely; when false, tools that
	// require approval run immediately without being queued for approval.
	Enabled bool `yaml:"enabled"`

	// PolicyFile is the path to the approval policy document (allowlist,
	// denylist, workspace confinement) loaded by the Approval Manager.
	PolicyFile string `yaml:"policy_file"`

	// Allowlist entries are listed in the Planner's system prompt as actions
	// requiring approval. Denylist is not read by any component; neither
	// list is matched against tool ids at invocation time.
	Allowlist []string `yaml:"allowlist"`
	Denylist  []string `yaml:"denylist"`

	// DefaultDecision must be "allow", "deny", or "ask"; it is validated but
	// not read by any component.
	DefaultDecision string `yaml:"default_decision"`

	// RequestTTL is how long a pending approval request remains valid
	// before the Approval Flow marks it expired (spec §4.6).
	RequestTTL time.Duration `yaml:"request_ttl"`

	// StorePath is where pending/resolved approval requests are persisted
	// (spec §6: pending-approvals.json / exec-approvals.json).
	StorePath string `yaml:"store_path"`
}
