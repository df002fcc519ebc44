package planner

import (
	"github.com/moonbotd/moonbotd/internal/rpcerr"
	"github.com/moonbotd/moonbotd/pkg/moonmodels"
)

// substitutions maps a tool id to its list of alternates; Decide picks the
// first entry for ALTERNATIVE recovery and never moves on to later ones (spec
// §4.7: "Alternative selection consults a static tool-substitution table").
var substitutions = map[string][]string{
	"websearch":  {"webfetch"},
	"fs.write":   {"fs.edit"},
	"system.run": {}, // the privileged tool has no safe substitute
}

// ReplannerConfig bounds the Replanner's recovery behavior.
type ReplannerConfig struct {
	// MaxRetriesPerStep caps RETRY recoveries for one logical step (spec
	// §4.7's "bounded retry limit (default 3 per logical step)").
	MaxRetriesPerStep int
}

func (c ReplannerConfig) withDefaults() ReplannerConfig {
	if c.MaxRetriesPerStep <= 0 {
		c.MaxRetriesPerStep = 3
	}
	return c
}

// Replanner classifies a failed step's error and selects a recovery action
// (spec §4.7).
type Replanner struct {
	cfg ReplannerConfig
}

// NewReplanner constructs a Replanner.
func NewReplanner(cfg ReplannerConfig) *Replanner {
	return &Replanner{cfg: cfg.withDefaults()}
}

// Decision is the Replanner's verdict for one failed step.
type Decision struct {
	Category    rpcerr.FailureCategory
	Action      moonmodels.RecoveryAction
	AlternativeToolID string // populated iff Action == RecoveryAlternative
}

// Decide classifies err and picks a recovery action for step, given how many
// times this logical step has already been retried.
func (r *Replanner) Decide(step moonmodels.PlanStep, err error, retryCount int) Decision {
	category := rpcerr.Classify(err)

	if category.Retryable() && retryCount < r.cfg.MaxRetriesPerStep {
		return Decision{Category: category, Action: moonmodels.RecoveryRetry}
	}

	if category == rpcerr.CategoryPermission {
		if e, ok := rpcerr.As(err); ok && e.Code == rpcerr.ApprovalDenied {
			return Decision{Category: category, Action: moonmodels.RecoveryAbort}
		}
		return Decision{Category: category, Action: moonmodels.RecoveryApproval}
	}

	if alts, ok := substitutions[step.ToolID]; ok {
		for _, alt := range alts {
			return Decision{Category: category, Action: moonmodels.RecoveryAlternative, AlternativeToolID: alt}
		}
	}

	return Decision{Category: category, Action: moonmodels.RecoveryAbort}
}
