// Package planner implements the Planner (spec §4.7): given a user message
// and the registered tool catalog, it produces a Plan either by calling an
// LLM Provider with a structured system prompt, or — when no provider is
// configured, or the provider's response cannot be parsed — by falling back
// to a deterministic keyword-based plan.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/moonbotd/moonbotd/internal/schema"
	"github.com/moonbotd/moonbotd/pkg/moonmodels"
)

// Config tunes prompt construction.
type Config struct {
	// Identity names the agent in the system prompt ("You are <Identity>...").
	Identity string
	// WorkspaceDescription is embedded verbatim in the system prompt's
	// workspace section.
	WorkspaceDescription string
	// ForbiddenActions and ApprovalActions populate the safety-rules section.
	ForbiddenActions []string
	ApprovalActions  []string
}

// Planner is the spec §4.7 Planner.
type Planner struct {
	cfg      Config
	provider Provider // nil means "no provider available" — always use the keyword fallback
}

// New constructs a Planner. provider may be nil.
func New(cfg Config, provider Provider) *Planner {
	return &Planner{cfg: cfg, provider: provider}
}

// Plan produces an ordered Plan for message against the given tool catalog
// and user context. It never returns an error from the provider path alone:
// a provider failure or an unparseable response falls through to the
// deterministic keyword plan (spec §4.7: "A deterministic keyword-based
// fallback plan MUST be produced if no provider is available").
func (p *Planner) Plan(ctx context.Context, message string, tools []moonmodels.ToolDescriptor, userContext string) (*moonmodels.Plan, error) {
	if p.provider != nil {
		system := p.buildSystemPrompt(tools, userContext)
		raw, err := p.provider.Complete(ctx, system, message)
		if err == nil {
			if plan, perr := parseResponse(raw); perr == nil && len(plan.Steps) > 0 {
				normalize(plan)
				return plan, nil
			}
		}
	}
	return keywordFallback(message), nil
}

// buildSystemPrompt assembles the structured prompt section: identity, tool
// catalog, safety rules, workspace description, user context, and the
// strict JSON response schema the model is asked to return (spec §4.7).
func (p *Planner) buildSystemPrompt(tools []moonmodels.ToolDescriptor, userContext string) string {
	var b strings.Builder

	identity := p.cfg.Identity
	if identity == "" {
		identity = "a local-first AI agent gateway"
	}
	fmt.Fprintf(&b, "You are %s. Given the user's message, produce a plan: an ordered\n", identity)
	b.WriteString("sequence of steps, each optionally invoking one registered tool.\n\n")

	b.WriteString("## Available tools\n\n")
	descs := make([]schema.ToolDescription, 0, len(tools))
	for _, t := range tools {
		descs = append(descs, schema.ToolDescription{ID: t.ID, Description: t.Description, InputSchema: t.InputSchema})
	}
	b.WriteString(schema.RenderForLLM(descs))

	b.WriteString("## Safety rules\n\n")
	if len(p.cfg.ForbiddenActions) > 0 {
		b.WriteString("Forbidden actions (never plan these):\n")
		for _, a := range p.cfg.ForbiddenActions {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}
	if len(p.cfg.ApprovalActions) > 0 {
		b.WriteString("Actions requiring human approval (plan them, but expect suspension):\n")
		for _, a := range p.cfg.ApprovalActions {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}
	b.WriteString("\n")

	if p.cfg.WorkspaceDescription != "" {
		fmt.Fprintf(&b, "## Workspace\n\n%s\n\n", p.cfg.WorkspaceDescription)
	}
	if userContext != "" {
		fmt.Fprintf(&b, "## User context\n\n%s\n\n", userContext)
	}

	b.WriteString("## Response format\n\n")
	b.WriteString("Respond with ONLY a JSON object matching this schema, no prose:\n\n")
	b.WriteString(`{"steps":[{"id":"string","description":"string","toolId":"string (optional)","input":{},"dependsOn":["string"]}]}`)
	b.WriteString("\n\nIf a fenced JSON block isn't possible, fall back to lines of the form\n")
	b.WriteString(`>>toolId key=value key2="quoted value" key3=[1,2] key4=true` + "\n")
	b.WriteString("one per step, in execution order.\n")

	return b.String()
}

// normalize resolves tool-alias ids to their canonical registry id and
// assigns a step id to any step the provider left blank.
func normalize(plan *moonmodels.Plan) {
	for i := range plan.Steps {
		if plan.Steps[i].ID == "" {
			plan.Steps[i].ID = uuid.NewString()
		}
		if plan.Steps[i].ToolID != "" {
			plan.Steps[i].ToolID = NormalizeToolID(plan.Steps[i].ToolID)
		}
	}
}

// responseDocument is the strict JSON shape the system prompt asks the
// model for.
type responseDocument struct {
	Steps []struct {
		ID          string          `json:"id"`
		Description string          `json:"description"`
		ToolID      string          `json:"toolId"`
		Input       json.RawMessage `json:"input"`
		DependsOn   []string        `json:"dependsOn"`
	} `json:"steps"`
}
