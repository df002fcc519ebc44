// Package moonmodels holds the wire and domain types shared across the gateway's
// components: tasks, sessions, tool descriptors/invocations, plans, approvals and
// pairing codes. Types here are plain data — ownership and mutation rules live with
// the components named in DESIGN.md, not in these structs.
package moonmodels

import "time"

// TaskState is the lifecycle state of a Task.
type TaskState string

const (
	TaskPending TaskState = "PENDING"
	TaskRunning TaskState = "RUNNING"
	TaskPaused  TaskState = "PAUSED"
	TaskDone    TaskState = "DONE"
	TaskFailed  TaskState = "FAILED"
	TaskAborted TaskState = "ABORTED"
)

// Terminal reports whether the state is one a Task never leaves.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskDone, TaskFailed, TaskAborted:
		return true
	default:
		return false
	}
}

// TaskError describes why a task ended in FAILED or ABORTED.
type TaskError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Task is one unit of orchestrated work: a user message, planned and executed
// through the Tool Runtime, that belongs to exactly one channel-session key at a
// time per §3/§4.8 of the specification.
type Task struct {
	ID               string     `json:"id"`
	ChannelSessionKey string    `json:"channel_session_key"`
	SessionID        string     `json:"session_id"`
	UserID           string     `json:"user_id"`
	Message          string     `json:"message"`
	State            TaskState  `json:"state"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	Error            *TaskError `json:"error,omitempty"`
	Result           string     `json:"result,omitempty"`

	// Observers are surface names notified with chat.response on terminal transition.
	Observers []string `json:"observers,omitempty"`
}

// Snapshot returns a shallow copy safe to hand to a caller outside the orchestrator's
// lock — the orchestrator is the sole mutator of the original.
func (t *Task) Snapshot() Task {
	cp := *t
	if t.Error != nil {
		errCopy := *t.Error
		cp.Error = &errCopy
	}
	if t.Observers != nil {
		cp.Observers = append([]string(nil), t.Observers...)
	}
	return cp
}
