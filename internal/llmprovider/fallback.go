package llmprovider

import (
	"context"
	"errors"
	"time"

	"github.com/moonbotd/moonbotd/internal/backoff"
	"github.com/moonbotd/moonbotd/internal/planner"
	"github.com/moonbotd/moonbotd/internal/retry"
)

// FallbackProvider wraps a primary planner.Provider and a fallback chain:
// each provider is tried up to maxRetries times in total (the first call
// included) with an exponential backoff between attempts before the next
// provider in the chain is tried (LLMConfig's
// Provider/FallbackChain/MaxRetries, per SPEC_FULL's domain-stack table).
type FallbackProvider struct {
	providers   []planner.Provider
	maxRetries  int
	backoffPlan backoff.BackoffPolicy
}

// NewFallbackProvider returns a FallbackProvider trying primary first, then
// each of fallbacks in order. maxRetries <= 0 means a single attempt per
// provider.
func NewFallbackProvider(primary planner.Provider, fallbacks []planner.Provider, maxRetries int) *FallbackProvider {
	providers := make([]planner.Provider, 0, 1+len(fallbacks))
	if primary != nil {
		providers = append(providers, primary)
	}
	providers = append(providers, fallbacks...)
	return &FallbackProvider{
		providers:   providers,
		maxRetries:  maxRetries,
		backoffPlan: backoff.DefaultPolicy(),
	}
}

func (f *FallbackProvider) Name() string {
	if len(f.providers) == 0 {
		return "none"
	}
	return f.providers[0].Name()
}

// Complete tries each configured provider in order, making up to maxRetries
// attempts on each with exponential backoff, and returns the first success.
func (f *FallbackProvider) Complete(ctx context.Context, system, userMessage string) (string, error) {
	if len(f.providers) == 0 {
		return "", errors.New("llmprovider: no provider configured")
	}

	var lastErr error
	for _, p := range f.providers {
		var response string
		result := retry.Do(ctx, retry.Config{
			MaxAttempts:  f.maxRetries,
			InitialDelay: time.Duration(f.backoffPlan.InitialMs) * time.Millisecond,
			MaxDelay:     time.Duration(f.backoffPlan.MaxMs) * time.Millisecond,
			Factor:       f.backoffPlan.Factor,
			Jitter:       f.backoffPlan.Jitter > 0,
		}, func() error {
			out, err := p.Complete(ctx, system, userMessage)
			if err != nil {
				return err
			}
			response = out
			return nil
		})
		if result.Err == nil {
			return response, nil
		}
		lastErr = result.Err
	}
	return "", lastErr
}
