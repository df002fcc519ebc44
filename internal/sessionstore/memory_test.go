package sessionstore

import (
	"context"
	"testing"

	"github.com/moonbotd/moonbotd/pkg/moonmodels"
)

func TestMemoryStoreGetOrCreateReusesKey(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.GetOrCreate(ctx, "telegram:room-1:user-1", "agent-1", "user-1")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	second, err := store.GetOrCreate(ctx, "telegram:room-1:user-1", "agent-1", "user-1")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same session id, got %q and %q", first.ID, second.ID)
	}
}

func TestMemoryStoreAppendAndHistory(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	session, err := store.GetOrCreate(ctx, "telegram:room-1:user-1", "agent-1", "user-1")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	for _, msg := range []moonmodels.SessionMessage{
		{Type: moonmodels.MessageUser, Content: "hi"},
		{Type: moonmodels.MessageAssistant, Content: "hello"},
	} {
		if err := store.Append(ctx, session.ID, msg); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	history, err := store.History(ctx, session.ID, 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[0].Content != "hi" || history[1].Content != "hello" {
		t.Fatalf("unexpected message order: %+v", history)
	}
}

func TestMemoryStoreHistoryRespectsLimit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	session, err := store.GetOrCreate(ctx, "key", "agent-1", "user-1")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := store.Append(ctx, session.ID, moonmodels.SessionMessage{Type: moonmodels.MessageUser, Content: "m"}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	history, err := store.History(ctx, session.ID, 2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
}

func TestMemoryStoreAppendUnknownSessionFails(t *testing.T) {
	store := NewMemoryStore()
	err := store.Append(context.Background(), "does-not-exist", moonmodels.SessionMessage{Content: "x"})
	if err != ErrSessionNotFound {
		t.Fatalf("Append() error = %v, want ErrSessionNotFound", err)
	}
}
