// Package auth validates the bearer tokens presented on the connect
// handshake (spec §4.1/§4.10) and mediates the pairing-code approval flow
// used to onboard a new surface user.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
)

var (
	ErrAuthDisabled = errors.New("auth disabled")
	ErrInvalidToken = errors.New("invalid token")
)

// Config configures token validation.
type Config struct {
	// TokenHashes are lowercase hex SHA-256 digests (64 chars) of accepted
	// bearer tokens.
	TokenHashes []string
	// LegacyTokens are plaintext secrets accepted only when
	// AllowLegacyTokens is set (spec §3: "Plaintext legacy tokens are only
	// accepted when an explicit opt-in flag is set").
	LegacyTokens      []string
	AllowLegacyTokens bool
}

// Service validates bearer tokens against a static, hashed allowlist.
type Service struct {
	mu          sync.RWMutex
	hashes      map[string]struct{}
	legacy      map[string]struct{}
	allowLegacy bool
}

// NewService constructs a token validator from static configuration.
func NewService(cfg Config) *Service {
	service := &Service{
		hashes:      make(map[string]struct{}, len(cfg.TokenHashes)),
		legacy:      make(map[string]struct{}, len(cfg.LegacyTokens)),
		allowLegacy: cfg.AllowLegacyTokens,
	}
	for _, h := range cfg.TokenHashes {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		service.hashes[h] = struct{}{}
	}
	if cfg.AllowLegacyTokens {
		for _, t := range cfg.LegacyTokens {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			service.legacy[t] = struct{}{}
		}
	}
	return service
}

// Enabled reports whether any token is configured; with none configured the
// transport should fail closed rather than accept every connection.
func (s *Service) Enabled() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.hashes) > 0 || len(s.legacy) > 0
}

// HashToken returns the lowercase hex SHA-256 digest of token, the form
// stored in configuration (spec §3).
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ValidateToken reports whether token is an accepted bearer token. The
// configured digest is compared in constant time against the candidate's
// hash; every entry is checked (no early return) so that timing does not
// reveal which, if any, entry matched (spec §4.10: "Comparison MUST be
// constant-time").
func (s *Service) ValidateToken(token string) error {
	if s == nil {
		return ErrAuthDisabled
	}
	s.mu.RLock()
	hashes := s.hashes
	legacy := s.legacy
	allowLegacy := s.allowLegacy
	s.mu.RUnlock()

	if len(hashes) == 0 && len(legacy) == 0 {
		return ErrAuthDisabled
	}

	candidate := []byte(HashToken(token))
	matched := 0
	for stored := range hashes {
		matched |= subtle.ConstantTimeCompare(candidate, []byte(stored))
	}

	if allowLegacy {
		raw := []byte(token)
		for stored := range legacy {
			matched |= subtle.ConstantTimeCompare(raw, []byte(stored))
		}
	}

	if matched == 0 {
		return ErrInvalidToken
	}
	return nil
}
