package moonmodels

import "encoding/json"

// PlanStep is one step of a Plan produced by the Planner (spec §3/§4.7).
type PlanStep struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	ToolID      string          `json:"toolId,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
	DependsOn   []string        `json:"dependsOn,omitempty"`
}

// Plan is an ordered list of steps produced per user request and consumed
// exactly once by the Executor.
type Plan struct {
	Steps []PlanStep `json:"steps"`
}

// RecoveryAction is the Replanner's decision after classifying a step failure.
type RecoveryAction string

const (
	RecoveryRetry       RecoveryAction = "RETRY"
	RecoveryAlternative RecoveryAction = "ALTERNATIVE"
	RecoveryApproval    RecoveryAction = "APPROVAL"
	RecoveryAbort       RecoveryAction = "ABORT"
)

// FailureCategory classifies why a step failed, driving the Replanner's choice
// of RecoveryAction (spec §4.7).
type FailureCategory string

const (
	FailureNetwork    FailureCategory = "network"
	FailurePermission FailureCategory = "permission"
	FailureValidation FailureCategory = "validation"
	FailureTimeout    FailureCategory = "timeout"
	FailureNotFound   FailureCategory = "not_found"
	FailureUnknown    FailureCategory = "unknown"
)
