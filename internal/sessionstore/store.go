// Package sessionstore implements the Session Store (spec §3/§6): the
// append-only per-session message log, lazily created on first message for
// a channel-session key and mutated only by the task currently owning it.
package sessionstore

import (
	"context"
	"errors"

	"github.com/moonbotd/moonbotd/pkg/moonmodels"
)

// ErrSessionNotFound is returned by MemoryStore's Append/History for an
// unknown session id; Get reports an unknown id as found == false instead.
var ErrSessionNotFound = errors.New("session not found")

// Store is the Session Store contract. The core only ever references a
// session by id; the external persistence format named in spec §1/§6 is
// satisfied by a concrete Store implementation such as JSONLStore.
type Store interface {
	// GetOrCreate returns the existing session for key, creating one owned
	// by agentID/userID if none exists yet (spec §3: "Created lazily on
	// first message for a channel-session key").
	GetOrCreate(ctx context.Context, key, agentID, userID string) (*moonmodels.Session, error)
	// Get returns the session with the given id.
	Get(ctx context.Context, id string) (*moonmodels.Session, bool, error)
	// Append adds msg to the end of the session's message log.
	Append(ctx context.Context, sessionID string, msg moonmodels.SessionMessage) error
	// History returns up to limit of the most recent messages, oldest
	// first. limit <= 0 returns the full history.
	History(ctx context.Context, sessionID string, limit int) ([]moonmodels.SessionMessage, error)
}
