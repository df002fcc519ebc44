package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/moonbotd/moonbotd/pkg/moonmodels"
)

var (
	ErrPairingCodeNotFound = errors.New("pairing code not found")
	ErrPairingCodeExpired  = errors.New("pairing code expired")
	ErrPairingCodeUsed     = errors.New("pairing code already used")
)

const usedEntryTTL = 24 * time.Hour

// Pairing issues and resolves one-shot pairing codes (spec §3/§4.10). A
// code lives in pending until Approve consumes it exactly once; consumed
// codes move to a used-set (code -> consumed-at) so a replay of the same
// code is rejected even after the pending entry is gone.
type Pairing struct {
	mu      sync.Mutex
	pending map[string]*moonmodels.PairingCode
	used    map[string]time.Time

	// path, when set, persists every mutation to a JSON file so a
	// `pair approve` invocation from a separate CLI process shares state
	// with the running daemon's Pairing instance (spec §4.10 codes must
	// survive being generated by the daemon and approved by an operator in
	// a different process).
	path string
}

// NewPairing returns an empty, in-memory-only Pairing manager.
func NewPairing() *Pairing {
	return &Pairing{
		pending: make(map[string]*moonmodels.PairingCode),
		used:    make(map[string]time.Time),
	}
}

// pairingDocument is the on-disk shape written by NewPairingWithStore.
type pairingDocument struct {
	Version int                                 `json:"version"`
	Pending map[string]*moonmodels.PairingCode `json:"pending"`
	Used    map[string]time.Time                `json:"used"`
}

// NewPairingWithStore returns a Pairing manager backed by path: state is
// loaded from the file if it exists, and every successful mutation is
// persisted back to it atomically (same write-to-temp-then-rename pattern
// as internal/approvalflow.Store).
func NewPairingWithStore(path string) (*Pairing, error) {
	p := &Pairing{
		pending: make(map[string]*moonmodels.PairingCode),
		used:    make(map[string]time.Time),
		path:    path,
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, err
	}
	var doc pairingDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Pending != nil {
		p.pending = doc.Pending
	}
	if doc.Used != nil {
		p.used = doc.Used
	}
	return p, nil
}

// save persists the current state if this Pairing is disk-backed. Caller
// must hold p.mu.
func (p *Pairing) save() error {
	if p.path == "" {
		return nil
	}
	doc := pairingDocument{Version: 1, Pending: p.pending, Used: p.used}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return err
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, p.path)
}

// GeneratePairingCode mints a base64url 8-character code for userID, valid
// until ttl elapses (spec §4.10: "generatePairingCode(userId, ttl)").
func (p *Pairing) GeneratePairingCode(userID string, ttl time.Duration) (*moonmodels.PairingCode, error) {
	code, err := generatePairingCode()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	entry := &moonmodels.PairingCode{
		Code:      code,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	p.mu.Lock()
	p.pending[code] = entry
	err = p.save()
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	cp := *entry
	return &cp, nil
}

// Approve marks code approved iff it is known, unexpired, and not already
// used. On success the code moves into the used-set so a replay is
// rejected even though the pending entry is gone (spec §4.10/§8 invariant
// 5: a pairing code that has been approved once never succeeds again
// within the 24-hour used-window).
func (p *Pairing) Approve(code string) (*moonmodels.PairingCode, error) {
	code = normalizeCode(code)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, used := p.used[code]; used {
		return nil, ErrPairingCodeUsed
	}

	entry, ok := p.pending[code]
	if !ok {
		return nil, ErrPairingCodeNotFound
	}
	if time.Now().After(entry.ExpiresAt) {
		delete(p.pending, code)
		return nil, ErrPairingCodeExpired
	}

	entry.Approved = true
	delete(p.pending, code)
	p.used[code] = time.Now()
	if err := p.save(); err != nil {
		return nil, err
	}

	cp := *entry
	return &cp, nil
}

// Cleanup removes expired pending codes and used-entries older than the
// 24-hour replay window, returning the counts removed.
func (p *Pairing) Cleanup() (expiredPending int, agedOutUsed int) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	for code, entry := range p.pending {
		if now.After(entry.ExpiresAt) {
			delete(p.pending, code)
			expiredPending++
		}
	}
	for code, approvedAt := range p.used {
		if now.Sub(approvedAt) > usedEntryTTL {
			delete(p.used, code)
			agedOutUsed++
		}
	}
	if expiredPending > 0 || agedOutUsed > 0 {
		_ = p.save()
	}
	return expiredPending, agedOutUsed
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func generatePairingCode() (string, error) {
	// 6 random bytes base64url-encode to 8 characters with no padding.
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return strings.ToUpper(base64.RawURLEncoding.EncodeToString(buf)), nil
}
