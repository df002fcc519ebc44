package planner

import (
	"context"
	"strings"
	"testing"

	"github.com/moonbotd/moonbotd/pkg/moonmodels"
)

type fakeProvider struct {
	response string
	err      error
	lastSystem  string
	lastMessage string
}

func (p *fakeProvider) Complete(_ context.Context, system, userMessage string) (string, error) {
	p.lastSystem = system
	p.lastMessage = userMessage
	return p.response, p.err
}

func (p *fakeProvider) Name() string { return "fake" }

func testTools() []moonmodels.ToolDescriptor {
	return []moonmodels.ToolDescriptor{
		{ID: "fs.read", Description: "reads a file", InputSchema: rawSchema(`"path":{"type":"string"}`)},
	}
}

func TestPlannerPlanUsesProviderJSON(t *testing.T) {
	provider := &fakeProvider{response: `{"steps":[{"id":"s1","description":"read it","toolId":"fs.read","input":{"path":"a.txt"}}]}`}
	p := New(Config{Identity: "moonbotd"}, provider)

	plan, err := p.Plan(context.Background(), "read a.txt please", testTools(), "")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].ToolID != "fs.read" {
		t.Fatalf("unexpected plan: %+v", plan)
	}
	if !strings.Contains(provider.lastSystem, "fs.read") {
		t.Error("expected system prompt to mention the registered tool")
	}
}

func TestPlannerPlanFallsBackOnProviderError(t *testing.T) {
	provider := &fakeProvider{err: context.DeadlineExceeded}
	p := New(Config{}, provider)

	plan, err := p.Plan(context.Background(), "read a.txt", testTools(), "")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].ToolID != "fs.read" {
		t.Fatalf("expected keyword fallback plan, got %+v", plan)
	}
}

func TestPlannerPlanFallsBackOnUnparseableResponse(t *testing.T) {
	provider := &fakeProvider{response: "I'm not sure what to do here."}
	p := New(Config{}, provider)

	plan, err := p.Plan(context.Background(), "search for go idioms", testTools(), "")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].ToolID != "websearch" {
		t.Fatalf("expected keyword fallback plan, got %+v", plan)
	}
}

func TestPlannerPlanWithNilProviderUsesKeywordFallback(t *testing.T) {
	p := New(Config{}, nil)
	plan, err := p.Plan(context.Background(), "fetch https://example.com", testTools(), "")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].ToolID != "webfetch" {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestPlannerNormalizeAssignsIDsAndResolvesAliases(t *testing.T) {
	plan := &moonmodels.Plan{Steps: []moonmodels.PlanStep{
		{ToolID: "filesystem.write"},
		{ID: "kept", ToolID: "fs.read"},
	}}
	normalize(plan)
	if plan.Steps[0].ID == "" {
		t.Error("expected a generated step id")
	}
	if plan.Steps[0].ToolID != "fs.write" {
		t.Errorf("toolID = %q, want fs.write", plan.Steps[0].ToolID)
	}
	if plan.Steps[1].ID != "kept" {
		t.Errorf("expected existing id to be preserved, got %q", plan.Steps[1].ID)
	}
}

func TestBuildSystemPromptIncludesSafetyRules(t *testing.T) {
	p := New(Config{
		ForbiddenActions: []string{"delete the workspace"},
		ApprovalActions:  []string{"run shell commands"},
	}, nil)
	prompt := p.buildSystemPrompt(testTools(), "the user is debugging a crash")
	for _, want := range []string{"delete the workspace", "run shell commands", "the user is debugging a crash", "## Response format"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
