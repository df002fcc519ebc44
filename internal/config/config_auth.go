package config

import "time"

// AuthConfig configures the Auth & Pairing component (spec §4.10). Tokens are
// never stored in plaintext: TokenHashes holds the hex-encoded SHA-256 digest
// of each accepted token, and the gateway hashes an incoming token before
// comparing.
type AuthConfig struct {
	// TokenHashes is the set of accepted hex-encoded SHA-256 token digests.
	TokenHashes []string `yaml:"token_hashes"`

	// AllowLegacyTokens accepts a token matched via constant-time plaintext
	// comparison against LegacyTokens, for deployments migrating onto hashed
	// tokens. Defaults to false.
	AllowLegacyTokens bool     `yaml:"allow_legacy_tokens"`
	LegacyTokens      []string `yaml:"legacy_tokens"`

	Pairing PairingConfig `yaml:"pairing"`
}

// PairingConfig configures pairing-code issuance and replay protection.
type PairingConfig struct {
	// CodeTTL is how long an issued pairing code remains redeemable. Default: 10m.
	CodeTTL time.Duration `yaml:"code_ttl"`

	// ReplayWindow bounds how long a redeemed code is remembered to reject
	// reuse. Default: 24h, per spec §4.10.
	ReplayWindow time.Duration `yaml:"replay_window"`

	// StorePath is where redeemed/pending pairing codes are persisted.
	StorePath string `yaml:"store_path"`
}
