package sessionstore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/moonbotd/moonbotd/pkg/moonmodels"
)

// JSONLStore is the reference implementation of the external session-log
// format spec §1/§6 leaves to the core's environment: one append-only
// JSONL file per session under dir, one JSON-encoded SessionMessage per
// line. Session metadata (key/agent/user lookup) stays in an embedded
// MemoryStore, since only the message log itself needs to survive a
// restart for human review — in-flight task/session bookkeeping is
// explicitly allowed to be lost on crash (spec §1 Non-goals).
type JSONLStore struct {
	*MemoryStore
	dir string

	filesMu sync.Mutex
	files   map[string]*sync.Mutex // sessionID -> per-file write lock
}

// NewJSONLStore returns a JSONLStore writing under dir (created lazily).
func NewJSONLStore(dir string) *JSONLStore {
	return &JSONLStore{
		MemoryStore: NewMemoryStore(),
		dir:         dir,
		files:       make(map[string]*sync.Mutex),
	}
}

func (s *JSONLStore) lockFor(sessionID string) *sync.Mutex {
	s.filesMu.Lock()
	defer s.filesMu.Unlock()
	lock, ok := s.files[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.files[sessionID] = lock
	}
	return lock
}

func (s *JSONLStore) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".jsonl")
}

// Append writes msg to both the in-memory index (for History) and the
// session's on-disk JSONL file.
func (s *JSONLStore) Append(ctx context.Context, sessionID string, msg moonmodels.SessionMessage) error {
	if err := s.MemoryStore.Append(ctx, sessionID, msg); err != nil {
		return err
	}

	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode session message: %w", err)
	}
	line = append(line, '\n')

	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create session log dir: %w", err)
	}
	f, err := os.OpenFile(s.path(sessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("write session log: %w", err)
	}
	return nil
}

// LoadFromDisk replays sessionID's JSONL file back into the in-memory
// index, for a session whose metadata is known (via GetOrCreate) but whose
// message log needs to be rehydrated from a prior process run.
func (s *JSONLStore) LoadFromDisk(sessionID string) (int, error) {
	f, err := os.Open(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	ctx := context.Background()
	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var msg moonmodels.SessionMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			return n, fmt.Errorf("decode session message: %w", err)
		}
		if err := s.MemoryStore.Append(ctx, sessionID, msg); err != nil {
			return n, err
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("read session log: %w", err)
	}
	return n, nil
}
