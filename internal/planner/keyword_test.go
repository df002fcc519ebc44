package planner

import (
	"encoding/json"
	"testing"
)

func TestKeywordFallback(t *testing.T) {
	tests := []struct {
		name    string
		message string
		toolID  string
	}{
		{"read", "read notes.txt", "fs.read"},
		{"run", "run ls -la", "system.run"},
		{"execute", "execute go build ./...", "system.run"},
		{"search", "search for idiomatic go errors", "websearch"},
		{"fetch", "fetch https://example.com/data", "webfetch"},
		{"no match", "how's it going?", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			plan := keywordFallback(tc.message)
			if len(plan.Steps) != 1 {
				t.Fatalf("expected 1 step, got %d", len(plan.Steps))
			}
			if plan.Steps[0].ToolID != tc.toolID {
				t.Errorf("toolID = %q, want %q", plan.Steps[0].ToolID, tc.toolID)
			}
		})
	}
}

func TestKeywordFallbackRunBuildsArgv(t *testing.T) {
	plan := keywordFallback("run go test ./...")
	var input struct {
		Argv []string `json:"argv"`
	}
	if err := json.Unmarshal(plan.Steps[0].Input, &input); err != nil {
		t.Fatalf("unmarshal input: %v", err)
	}
	want := []string{"go", "test", "./..."}
	if len(input.Argv) != len(want) {
		t.Fatalf("argv = %v, want %v", input.Argv, want)
	}
	for i := range want {
		if input.Argv[i] != want[i] {
			t.Errorf("argv[%d] = %q, want %q", i, input.Argv[i], want[i])
		}
	}
}

func TestKeywordFallbackNoMatchHasNoToolID(t *testing.T) {
	plan := keywordFallback("hello there")
	if plan.Steps[0].ToolID != "" {
		t.Errorf("expected tool-less step, got toolID %q", plan.Steps[0].ToolID)
	}
}
