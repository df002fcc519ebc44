package registry

import (
	"testing"

	"github.com/moonbotd/moonbotd/pkg/moonmodels"
)

func TestRegisterGetUnregister(t *testing.T) {
	r := New()
	d := moonmodels.ToolDescriptor{ID: "fs.read", Description: "Read a file"}
	r.Register(d)

	got, ok := r.Get("fs.read")
	if !ok || got.ID != "fs.read" {
		t.Fatalf("Get() = %+v, %v", got, ok)
	}
	if !r.Has("fs.read") {
		t.Fatal("expected Has() to report true")
	}

	r.Unregister("fs.read")
	if r.Has("fs.read") {
		t.Fatal("expected tool to be gone after Unregister")
	}
}

func TestRegisterOverwrites(t *testing.T) {
	r := New()
	r.Register(moonmodels.ToolDescriptor{ID: "fs.read", Description: "v1"})
	r.Register(moonmodels.ToolDescriptor{ID: "fs.read", Description: "v2"})

	got, _ := r.Get("fs.read")
	if got.Description != "v2" {
		t.Errorf("Description = %q, want v2", got.Description)
	}
}

func TestListIsSortedByID(t *testing.T) {
	r := New()
	r.Register(moonmodels.ToolDescriptor{ID: "z.tool"})
	r.Register(moonmodels.ToolDescriptor{ID: "a.tool"})
	r.Register(moonmodels.ToolDescriptor{ID: "m.tool"})

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("len(List()) = %d, want 3", len(list))
	}
	if list[0].ID != "a.tool" || list[1].ID != "m.tool" || list[2].ID != "z.tool" {
		t.Fatalf("List() not sorted: %+v", list)
	}
}

func TestGetMissingReturnsFalse(t *testing.T) {
	r := New()
	if _, ok := r.Get("missing"); ok {
		t.Fatal("expected ok=false for missing tool")
	}
}
