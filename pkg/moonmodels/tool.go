package moonmodels

import (
	"context"
	"encoding/json"
	"time"
)

// ToolHandler is the contract the core consumes from an individual tool
// implementation (spec §6: "Tool-handler contract the core consumes").
// Tool implementations themselves (file I/O, HTTP, process, browser, ...) are
// external collaborators; only this seam lives in the core.
type ToolHandler func(ctx context.Context, input json.RawMessage, tc ToolContext) (ToolResultEnvelope, error)

// ToolContext carries everything a handler needs besides its validated input.
type ToolContext struct {
	SessionID     string
	AgentID       string
	UserID        string
	WorkspaceRoot string
	Policy        PolicySnapshot
}

// PolicySnapshot is the read-only policy view a handler receives; it never sees
// the live, mutable Approval Manager.
type PolicySnapshot struct {
	Allowlist []string
	Denylist  []string
	MaxBytes  int64
	TimeoutMs int64
}

// ToolDescriptor is registered once at startup and looked up by id (spec §4.2).
type ToolDescriptor struct {
	ID             string          `json:"id"`
	Description    string          `json:"description"`
	InputSchema    json.RawMessage `json:"inputSchema"`
	RequireApproval bool           `json:"requireApproval"`
	Handler        ToolHandler     `json:"-"`
}

// InvocationStatus is the lifecycle state of a ToolInvocation (spec §3).
type InvocationStatus string

const (
	InvocationPending           InvocationStatus = "pending"
	InvocationRunning           InvocationStatus = "running"
	InvocationAwaitingApproval  InvocationStatus = "awaiting_approval"
	InvocationCompleted         InvocationStatus = "completed"
	InvocationFailed            InvocationStatus = "failed"
)

// ToolInvocation is one runtime call of a tool, created by Runtime.Invoke and
// retained in memory for a bounded TTL then swept (spec §3/§4.5).
type ToolInvocation struct {
	ID                 string           `json:"id"`
	ToolID             string           `json:"toolId"`
	SessionID          string           `json:"sessionId"`
	AgentID            string           `json:"agentId"`
	UserID             string           `json:"userId"`
	Input              json.RawMessage  `json:"input"`
	Status             InvocationStatus `json:"status"`
	StartTime          time.Time        `json:"startTime"`
	EndTime            time.Time        `json:"endTime,omitempty"`
	RetryCount         int              `json:"retryCount"`
	ParentInvocationID string           `json:"parentInvocationId,omitempty"`
	Result             *ToolResultEnvelope `json:"result,omitempty"`
}

// Clone returns a deep-enough copy safe to hand outside the runtime's lock.
func (inv *ToolInvocation) Clone() *ToolInvocation {
	if inv == nil {
		return nil
	}
	cp := *inv
	if inv.Result != nil {
		r := *inv.Result
		cp.Result = &r
	}
	return &cp
}

// RuntimeStats is returned by Runtime.Stats() and surfaced through the `status`
// RPC method (spec §4.5, §4.9).
type RuntimeStats struct {
	Total           int                        `json:"total"`
	Running         int                        `json:"running"`
	ByStatus        map[InvocationStatus]int   `json:"byStatus"`
	AverageRetries  float64                    `json:"averageRetries"`
	ToolWallTimeMs  int64                      `json:"toolWallTimeMs"`
}
