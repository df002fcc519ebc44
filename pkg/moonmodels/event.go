package moonmodels

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of event on the runtime/approval-flow broker
// described as a design note in spec §9: "a small broker object with typed
// subscribe(topic)->channel and publish(topic, payload)".
type EventType string

const (
	EventToolStarted       EventType = "tool.started"
	EventToolFinished      EventType = "tool.finished"
	EventToolTimedOut      EventType = "tool.timed_out"
	EventApprovalRequested EventType = "approval.requested"
	EventApprovalResolved  EventType = "approval.resolved"
)

// Event is the single envelope carried on the broker. Exactly one payload
// field is populated for a given Type; Sequence is monotonic per process so
// subscribers can detect gaps from a lossy channel.
type Event struct {
	Type     EventType `json:"type"`
	Sequence uint64    `json:"seq"`
	Time     time.Time `json:"time"`

	Tool     *ToolEventPayload     `json:"tool,omitempty"`
	Approval *ApprovalEventPayload `json:"approval,omitempty"`
}

// ToolEventPayload describes a tool invocation lifecycle transition.
type ToolEventPayload struct {
	InvocationID string          `json:"invocationId"`
	ToolID       string          `json:"toolId"`
	SessionID    string          `json:"sessionId"`
	Input        json.RawMessage `json:"input,omitempty"`
	Success      bool            `json:"success,omitempty"`
	Elapsed      time.Duration   `json:"elapsed,omitempty"`
}

// ApprovalEventPayload carries the fields needed to route an approval.requested
// or approval.resolved event to the Gateway Facade (spec §4.5/§4.6).
type ApprovalEventPayload struct {
	RequestID    string          `json:"requestId"`
	InvocationID string          `json:"invocationId"`
	ToolID       string          `json:"toolId"`
	SessionID    string          `json:"sessionId"`
	UserID       string          `json:"userId"`
	Input        json.RawMessage `json:"input,omitempty"`
	Status       ApprovalStatus  `json:"status,omitempty"`
}
