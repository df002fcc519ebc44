package sessionstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moonbotd/moonbotd/pkg/moonmodels"
)

// maxMessagesPerSession bounds in-memory growth; JSONLStore's on-disk log
// is unaffected, Append only trims the in-memory copy History reads from.
const maxMessagesPerSession = 1000

// MemoryStore is a Store implementation kept entirely in memory: useful on
// its own for tests and local runs, and embedded by JSONLStore for the
// GetOrCreate/key-lookup bookkeeping that sits above the on-disk log.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*moonmodels.Session
	byKey    map[string]string
	messages map[string][]moonmodels.SessionMessage
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*moonmodels.Session),
		byKey:    make(map[string]string),
		messages: make(map[string][]moonmodels.SessionMessage),
	}
}

func (m *MemoryStore) GetOrCreate(ctx context.Context, key, agentID, userID string) (*moonmodels.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byKey[key]; ok {
		if session, ok := m.sessions[id]; ok {
			return cloneSession(session), nil
		}
	}

	now := time.Now()
	session := &moonmodels.Session{
		ID:                uuid.NewString(),
		ChannelSessionKey: key,
		AgentID:           agentID,
		UserID:            userID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	m.sessions[session.ID] = session
	m.byKey[key] = session.ID
	return cloneSession(session), nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*moonmodels.Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, false, nil
	}
	return cloneSession(session), true, nil
}

func (m *MemoryStore) Append(ctx context.Context, sessionID string, msg moonmodels.SessionMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	session.UpdatedAt = msg.Timestamp

	log := append(m.messages[sessionID], msg)
	if len(log) > maxMessagesPerSession {
		log = log[len(log)-maxMessagesPerSession:]
	}
	m.messages[sessionID] = log
	return nil
}

func (m *MemoryStore) History(ctx context.Context, sessionID string, limit int) ([]moonmodels.SessionMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return nil, ErrSessionNotFound
	}

	messages := m.messages[sessionID]
	start := 0
	if limit > 0 && len(messages) > limit {
		start = len(messages) - limit
	}
	out := make([]moonmodels.SessionMessage, len(messages)-start)
	copy(out, messages[start:])
	return out, nil
}

func cloneSession(session *moonmodels.Session) *moonmodels.Session {
	if session == nil {
		return nil
	}
	clone := *session
	return &clone
}
