package sessionstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/moonbotd/moonbotd/pkg/moonmodels"
)

func TestJSONLStorePersistsMessagesToDisk(t *testing.T) {
	dir := t.TempDir()
	store := NewJSONLStore(dir)
	ctx := context.Background()

	session, err := store.GetOrCreate(ctx, "key", "agent-1", "user-1")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if err := store.Append(ctx, session.ID, moonmodels.SessionMessage{Type: moonmodels.MessageUser, Content: "hi"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, session.ID+".jsonl"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected the JSONL file to contain the appended message")
	}
}

func TestJSONLStoreLoadFromDiskRehydratesHistory(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store := NewJSONLStore(dir)
	session, err := store.GetOrCreate(ctx, "key", "agent-1", "user-1")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	for _, content := range []string{"a", "b"} {
		if err := store.Append(ctx, session.ID, moonmodels.SessionMessage{Type: moonmodels.MessageUser, Content: content}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	// Simulate a restart: a fresh in-memory index that still knows the
	// session's id (as it would after reloading session metadata from
	// wherever it's kept), with its message log empty until replayed.
	store.sessions = map[string]*moonmodels.Session{
		session.ID: {ID: session.ID, ChannelSessionKey: "key", AgentID: "agent-1", UserID: "user-1", CreatedAt: time.Now(), UpdatedAt: time.Now()},
	}
	store.byKey = map[string]string{"key": session.ID}
	store.messages = map[string][]moonmodels.SessionMessage{}

	n, err := store.LoadFromDisk(session.ID)
	if err != nil {
		t.Fatalf("LoadFromDisk() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("n = %d, want 2", n)
	}

	history, err := store.History(ctx, session.ID, 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 || history[0].Content != "a" || history[1].Content != "b" {
		t.Fatalf("unexpected history after replay: %+v", history)
	}
}

func TestJSONLStoreLoadFromDiskMissingFileIsNoop(t *testing.T) {
	dir := t.TempDir()
	store := NewJSONLStore(dir)
	ctx := context.Background()

	session, err := store.GetOrCreate(ctx, "key", "agent-1", "user-1")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	n, err := store.LoadFromDisk(session.ID)
	if err != nil {
		t.Fatalf("LoadFromDisk() error = %v", err)
	}
	if n != 0 {
		t.Fatalf("n = %d, want 0", n)
	}
}
