package planner

import "context"

// Provider is the language-model backend the Planner calls for its primary
// planning path (spec §4.7). Distinct from internal/agent's LLMProvider: the
// Planner only ever needs the complete response text to parse a plan out
// of, not a token-by-token stream, so Complete returns the aggregated text
// rather than a channel of chunks.
type Provider interface {
	// Complete sends the system prompt and the user's message and returns
	// the model's full response text.
	Complete(ctx context.Context, system, userMessage string) (string, error)

	// Name identifies the provider for logging.
	Name() string
}
