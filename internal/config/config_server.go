package config

// ServerConfig controls process-level concerns outside the JSON-RPC
// transport itself: the workspace root tools are confined to, and the
// diagnostic HTTP surface for metrics.
type ServerConfig struct {
	// WorkspaceRoot is the directory tool execution is confined to (spec
	// §4.4's cwd-confinement policy). Tool invocations resolving a path
	// outside this root are denied.
	WorkspaceRoot string `yaml:"workspace_root"`

	// MetricsHost/MetricsPort expose the /metrics endpoint for
	// internal/observability.
	MetricsHost string `yaml:"metrics_host"`
	MetricsPort int    `yaml:"metrics_port"`
}
