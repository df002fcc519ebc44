package config

import "time"

// SessionConfig configures the Session Store (spec §3/§4.8): the append-only
// per-channel-session message log and its write serialization.
type SessionConfig struct {
	// Directory is where session logs are persisted.
	Directory string `yaml:"directory"`

	// MaxMessages, WriteLockTTL, ExpiryCheckInterval and IdleExpiry are
	// parsed (WriteLockTTL and ExpiryCheckInterval also get defaults) but no
	// session store reads them: MaxMessages does not bound any message log
	// (MemoryStore's in-memory trim uses its own fixed limit), write locks do
	// not expire, and idle sessions are not evicted.
	MaxMessages int `yaml:"max_messages"`

	WriteLockTTL time.Duration `yaml:"write_lock_ttl"`

	ExpiryCheckInterval time.Duration `yaml:"expiry_check_interval"`

	IdleExpiry time.Duration `yaml:"idle_expiry"`

	// Backend selects the Session Store implementation: "jsonl" (default)
	// for the append-only-file reference implementation, or "sql" for the
	// queryable internal/sqlstore backend addressed by DSN.
	Backend string `yaml:"backend"`

	// DSN addresses the sqlstore backend when Backend is "sql", e.g.
	// "sqlite:///var/lib/moonbot/sessions.db" or "postgres://...".
	DSN string `yaml:"dsn"`
}
