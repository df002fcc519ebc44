package moonmodels

import (
	"encoding/json"
	"time"
)

// MessageType discriminates the append-only session log entries named in spec §3/§6.
type MessageType string

const (
	MessageUser      MessageType = "user"
	MessageAssistant MessageType = "assistant"
	MessageThought   MessageType = "thought"
	MessageToolCall  MessageType = "tool_call"
	MessageResult    MessageType = "result"
	MessageError     MessageType = "error"
)

// SessionMessage is one line of a session's JSONL log.
type SessionMessage struct {
	Type      MessageType    `json:"type"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Session is identified by a unique ID, owned by one agent and one user, and holds
// an ordered sequence of messages. Created lazily on first message for a
// channel-session key; mutated only by the task currently owning it.
type Session struct {
	ID                string    `json:"id"`
	ChannelSessionKey string    `json:"channel_session_key"`
	AgentID           string    `json:"agent_id"`
	UserID            string    `json:"user_id"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ToolCall represents a planner- or caller-requested tool invocation.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResultEnvelope is the shape returned through tools.invoke and internally
// between components, per spec §6.
type ToolResultEnvelope struct {
	OK    bool              `json:"ok"`
	Data  any               `json:"data,omitempty"`
	Error *ToolResultError  `json:"error,omitempty"`
	Meta  ToolResultMeta    `json:"meta"`
}

// ToolResultError is the error branch of ToolResultEnvelope, present iff !OK.
type ToolResultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ToolResultMeta carries execution diagnostics attached to every tool result.
type ToolResultMeta struct {
	DurationMs int64    `json:"durationMs"`
	Artifacts  []string `json:"artifacts,omitempty"`
	Truncated  bool     `json:"truncated,omitempty"`
}
