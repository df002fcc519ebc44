package planner

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/moonbotd/moonbotd/pkg/moonmodels"
)

// jsonBlockPattern extracts a fenced ```json ... ``` block, if present,
// since providers often wrap their JSON response in Markdown even when
// explicitly asked not to.
var jsonBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// parseResponse parses a provider's raw completion into a Plan, preferring
// a JSON object and falling back to the ">>toolId k=v" markup (spec §4.7).
func parseResponse(raw string) (*moonmodels.Plan, error) {
	raw = strings.TrimSpace(raw)

	candidate := raw
	if m := jsonBlockPattern.FindStringSubmatch(raw); m != nil {
		candidate = m[1]
	} else if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			candidate = raw[start : end+1]
		}
	}

	var doc responseDocument
	if err := json.Unmarshal([]byte(candidate), &doc); err == nil && len(doc.Steps) > 0 {
		plan := &moonmodels.Plan{Steps: make([]moonmodels.PlanStep, 0, len(doc.Steps))}
		for _, s := range doc.Steps {
			plan.Steps = append(plan.Steps, moonmodels.PlanStep{
				ID:          s.ID,
				Description: s.Description,
				ToolID:      s.ToolID,
				Input:       s.Input,
				DependsOn:   s.DependsOn,
			})
		}
		return plan, nil
	}

	return parseMarkup(raw)
}

// markupLinePattern matches one ">>toolId k=v k2=\"...\"" line.
var markupLinePattern = regexp.MustCompile(`^>>\s*(\S+)\s*(.*)$`)

// parseMarkup parses the fallback markup format: lines prefixed ">>toolId"
// followed by space-separated key=value pairs, with numeric/boolean/quoted/
// array/object coercion on each value (spec §4.7).
func parseMarkup(raw string) (*moonmodels.Plan, error) {
	plan := &moonmodels.Plan{}
	stepIdx := 0
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := markupLinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		toolID := m[1]
		fields := parseMarkupFields(m[2])
		input, _ := json.Marshal(fields)
		stepIdx++
		plan.Steps = append(plan.Steps, moonmodels.PlanStep{
			ID:          markupStepID(stepIdx),
			Description: "run " + toolID,
			ToolID:      toolID,
			Input:       input,
		})
	}
	if len(plan.Steps) == 0 {
		return nil, errNoSteps
	}
	return plan, nil
}

func markupStepID(i int) string {
	return "step-" + strconv.Itoa(i)
}

// parseMarkupFields tokenizes "k=v k2=\"...\" k3=[1,2] k4=true" into a
// map, coercing each value to bool, float64, a JSON array/object, or string
// in that preference order.
func parseMarkupFields(s string) map[string]any {
	out := make(map[string]any)
	tokens := tokenizeMarkup(s)
	for _, tok := range tokens {
		eq := strings.Index(tok, "=")
		if eq < 0 {
			continue
		}
		key := tok[:eq]
		val := tok[eq+1:]
		out[key] = coerceMarkupValue(val)
	}
	return out
}

// tokenizeMarkup splits on whitespace, but keeps quoted strings and bracketed
// arrays/objects intact even if they contain spaces.
func tokenizeMarkup(s string) []string {
	var tokens []string
	var cur strings.Builder
	depth := 0
	inQuotes := false
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case inQuotes:
			cur.WriteRune(r)
		case r == '[' || r == '{':
			depth++
			cur.WriteRune(r)
		case r == ']' || r == '}':
			depth--
			cur.WriteRune(r)
		case r == ' ' && depth == 0:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

func coerceMarkupValue(v string) any {
	if v == "true" {
		return true
	}
	if v == "false" {
		return false
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return n
	}
	if strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) && len(v) >= 2 {
		return strings.Trim(v, `"`)
	}
	if (strings.HasPrefix(v, "[") && strings.HasSuffix(v, "]")) ||
		(strings.HasPrefix(v, "{") && strings.HasSuffix(v, "}")) {
		var parsed any
		if err := json.Unmarshal([]byte(v), &parsed); err == nil {
			return parsed
		}
	}
	return v
}

type parseError string

func (e parseError) Error() string { return string(e) }

const errNoSteps = parseError("no steps parsed from response")
