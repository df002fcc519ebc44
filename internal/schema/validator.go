// Package schema implements the Schema Validator (spec §4.3): validating a
// tool invocation's input against that tool's declared JSON Schema, and
// rendering tool descriptors into the structured prompt section the Planner
// shows an LLM.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Result is the outcome of validating one input value.
type Result struct {
	OK     bool
	Errors []FieldError
}

// FieldError names one validation failure by its path into the input value.
type FieldError struct {
	Path    []string `json:"path"`
	Message string   `json:"message"`
}

// Validator compiles and caches tool input schemas, keyed by tool id, so a
// hot invocation path re-validates against an already-compiled schema.
type Validator struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// New returns an empty Validator.
func New() *Validator {
	return &Validator{schemas: make(map[string]*jsonschema.Schema)}
}

// Compile parses and caches toolID's schema document. Called once at tool
// registration time (spec §4.2); returns an error if the document itself is
// not a valid JSON Schema.
func (v *Validator) Compile(toolID string, schemaDoc json.RawMessage) error {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7

	if err := compiler.AddResource(toolID, strings.NewReader(string(schemaDoc))); err != nil {
		return fmt.Errorf("schema for tool %q: %w", toolID, err)
	}
	compiled, err := compiler.Compile(toolID)
	if err != nil {
		return fmt.Errorf("schema for tool %q: %w", toolID, err)
	}

	v.mu.Lock()
	v.schemas[toolID] = compiled
	v.mu.Unlock()
	return nil
}

// Remove drops toolID's compiled schema, e.g. on tool unregistration.
func (v *Validator) Remove(toolID string) {
	v.mu.Lock()
	delete(v.schemas, toolID)
	v.mu.Unlock()
}

// Validate checks input against toolID's compiled schema (spec §4.5 step 3).
// A toolID with no compiled schema validates anything — tools may declare no
// input constraints.
func (v *Validator) Validate(toolID string, input any) Result {
	v.mu.RLock()
	compiled, ok := v.schemas[toolID]
	v.mu.RUnlock()
	if !ok {
		return Result{OK: true}
	}

	if err := compiled.Validate(input); err != nil {
		return Result{OK: false, Errors: flattenValidationError(err)}
	}
	return Result{OK: true}
}

func flattenValidationError(err error) []FieldError {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []FieldError{{Message: err.Error()}}
	}

	var out []FieldError
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, FieldError{
				Path:    splitPointer(e.InstanceLocation),
				Message: e.Message,
			})
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)
	return out
}

func splitPointer(pointer string) []string {
	pointer = strings.TrimPrefix(pointer, "#")
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return nil
	}
	parts := strings.Split(pointer, "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		parts[i] = strings.ReplaceAll(p, "~0", "~")
	}
	return parts
}

// ToolDescription is the minimal shape the renderer needs; kept decoupled
// from pkg/moonmodels.ToolDescriptor so this package has no import-cycle risk.
type ToolDescription struct {
	ID          string
	Description string
	InputSchema json.RawMessage
}

// RenderForLLM converts a set of tool descriptors into the Markdown-ish
// prompt section the Planner embeds in its system prompt: one entry per tool
// naming its id, description, and a flattened parameter list derived from the
// schema's top-level "properties"/"required".
func RenderForLLM(tools []ToolDescription) string {
	sorted := make([]ToolDescription, len(tools))
	copy(sorted, tools)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var b strings.Builder
	for _, t := range sorted {
		fmt.Fprintf(&b, "### %s\n%s\n", t.ID, t.Description)
		params, required := describeProperties(t.InputSchema)
		if len(params) == 0 {
			b.WriteString("No parameters.\n\n")
			continue
		}
		for _, p := range params {
			mark := ""
			if required[p.name] {
				mark = " (required)"
			}
			fmt.Fprintf(&b, "- `%s` (%s)%s: %s\n", p.name, p.typ, mark, p.description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

type renderedProperty struct {
	name        string
	typ         string
	description string
}

func describeProperties(schemaDoc json.RawMessage) ([]renderedProperty, map[string]bool) {
	if len(schemaDoc) == 0 {
		return nil, nil
	}
	var parsed struct {
		Properties map[string]struct {
			Type        any    `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schemaDoc, &parsed); err != nil {
		return nil, nil
	}

	required := make(map[string]bool, len(parsed.Required))
	for _, r := range parsed.Required {
		required[r] = true
	}

	names := make([]string, 0, len(parsed.Properties))
	for name := range parsed.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]renderedProperty, 0, len(names))
	for _, name := range names {
		prop := parsed.Properties[name]
		out = append(out, renderedProperty{
			name:        name,
			typ:         typeString(prop.Type),
			description: prop.Description,
		})
	}
	return out, required
}

func typeString(t any) string {
	switch v := t.(type) {
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, p := range v {
			if s, ok := p.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "|")
	default:
		return "any"
	}
}
