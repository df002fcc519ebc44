package planner

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/moonbotd/moonbotd/pkg/moonmodels"
)

// keywordRule matches a user message against a trigger phrase and builds the
// single-step plan to run when it fires. Rules are checked in order; the
// first match wins.
type keywordRule struct {
	trigger *regexp.Regexp
	toolID  string
	build   func(message string, m []string) json.RawMessage
}

var keywordRules = []keywordRule{
	{
		trigger: regexp.MustCompile(`(?i)^\s*read\s+(\S+)`),
		toolID:  "fs.read",
		build: func(_ string, m []string) json.RawMessage {
			input, _ := json.Marshal(map[string]any{"path": m[1]})
			return input
		},
	},
	{
		trigger: regexp.MustCompile(`(?i)^\s*(?:run|exec(?:ute)?)\s+(.+)$`),
		toolID:  "system.run",
		build: func(_ string, m []string) json.RawMessage {
			argv := strings.Fields(m[1])
			input, _ := json.Marshal(map[string]any{"argv": argv})
			return input
		},
	},
	{
		trigger: regexp.MustCompile(`(?i)^\s*search\s+(?:for\s+)?(.+)$`),
		toolID:  "websearch",
		build: func(_ string, m []string) json.RawMessage {
			input, _ := json.Marshal(map[string]any{"query": m[1]})
			return input
		},
	},
	{
		trigger: regexp.MustCompile(`(?i)^\s*(?:fetch|get)\s+(https?://\S+)`),
		toolID:  "webfetch",
		build: func(_ string, m []string) json.RawMessage {
			input, _ := json.Marshal(map[string]any{"url": m[1]})
			return input
		},
	},
}

// keywordFallback produces a deterministic plan without any LLM call, the
// last-resort path spec §4.7 requires when no provider is available or the
// provider's response couldn't be parsed. It never fails: a message that
// matches no rule produces a tool-less "acknowledge" step, so the Executor
// always has something to run through.
func keywordFallback(message string) *moonmodels.Plan {
	trimmed := strings.TrimSpace(message)
	for _, rule := range keywordRules {
		if m := rule.trigger.FindStringSubmatch(trimmed); m != nil {
			return &moonmodels.Plan{Steps: []moonmodels.PlanStep{{
				ID:          "step-1",
				Description: "keyword match: " + rule.toolID,
				ToolID:      NormalizeToolID(rule.toolID),
				Input:       rule.build(trimmed, m),
			}}}
		}
	}
	return &moonmodels.Plan{Steps: []moonmodels.PlanStep{{
		ID:          "step-1",
		Description: "no tool matched; respond directly",
	}}}
}
