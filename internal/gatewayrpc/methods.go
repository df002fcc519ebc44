package gatewayrpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/moonbotd/moonbotd/internal/auth"
	"github.com/moonbotd/moonbotd/internal/rpcerr"
	"github.com/moonbotd/moonbotd/internal/runtime"
	"github.com/moonbotd/moonbotd/pkg/moonmodels"
)

// chatSendParams is chat.send's params per spec §4.9.
type chatSendParams struct {
	ChannelSessionKey string   `json:"channelSessionKey"`
	SessionID         string   `json:"sessionId"`
	Message           string   `json:"message"`
	Observers         []string `json:"observers"`
}

type chatSendResult struct {
	TaskID string             `json:"taskId"`
	State  moonmodels.TaskState `json:"state"`
}

// chatSend creates a task and hands it to the Orchestrator's per-session
// queue. It returns as soon as the task is enqueued — the eventual answer
// arrives asynchronously as a chat.response push (see NotifyChatResponse),
// not as this call's result.
func (f *Facade) chatSend(ctx context.Context, raw json.RawMessage, cc CallContext) (any, error) {
	var params chatSendParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, rpcerr.New(rpcerr.InvalidInput, "chat.send: "+err.Error())
	}
	if params.Message == "" {
		return nil, rpcerr.New(rpcerr.InvalidInput, "chat.send: message is required")
	}
	userID, _ := auth.UserIDFromContext(ctx)

	observers := params.Observers
	if len(observers) == 0 && cc.Surface != "" {
		observers = []string{cc.Surface}
	}

	task := f.deps.Orchestrator.CreateTask(params.Message, params.ChannelSessionKey, params.SessionID, userID, observers)
	return chatSendResult{TaskID: task.ID, State: task.State}, nil
}

// toolsListResult mirrors the subset of a tool descriptor that's safe to
// hand to a peer — never the handler closure itself.
type toolsListResult struct {
	ID              string          `json:"id"`
	Description     string          `json:"description"`
	InputSchema     json.RawMessage `json:"inputSchema"`
	RequireApproval bool            `json:"requireApproval"`
}

func (f *Facade) toolsList(ctx context.Context) (any, error) {
	descriptors := f.deps.Registry.List()
	out := make([]toolsListResult, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, toolsListResult{
			ID:              d.ID,
			Description:     d.Description,
			InputSchema:     d.InputSchema,
			RequireApproval: d.RequireApproval,
		})
	}
	return out, nil
}

// toolsInvokeParams is tools.invoke's params: a direct tool call that
// bypasses the planner entirely (spec §4.9: "direct, bypasses planner").
type toolsInvokeParams struct {
	ToolID    string          `json:"toolId"`
	SessionID string          `json:"sessionId"`
	Input     json.RawMessage `json:"input"`
}

type toolsInvokeResult struct {
	InvocationID     string                       `json:"invocationId"`
	AwaitingApproval bool                         `json:"awaitingApproval"`
	Status           moonmodels.InvocationStatus  `json:"status,omitempty"`
	Result           *moonmodels.ToolResultEnvelope `json:"result,omitempty"`
}

func (f *Facade) toolsInvoke(ctx context.Context, raw json.RawMessage) (any, error) {
	var params toolsInvokeParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, rpcerr.New(rpcerr.InvalidInput, "tools.invoke: "+err.Error())
	}
	if params.ToolID == "" {
		return nil, rpcerr.New(rpcerr.InvalidInput, "tools.invoke: toolId is required")
	}
	userID, _ := auth.UserIDFromContext(ctx)

	outcome, err := f.deps.Runtime.Invoke(ctx, runtime.InvokeParams{
		ToolID:    params.ToolID,
		SessionID: params.SessionID,
		UserID:    userID,
		Input:     params.Input,
	})
	if err != nil {
		return nil, err
	}
	res := toolsInvokeResult{
		InvocationID:     outcome.Invocation.ID,
		AwaitingApproval: outcome.AwaitingApproval,
		Status:           outcome.Invocation.Status,
		Result:           outcome.Invocation.Result,
	}
	return res, nil
}

// approvalRespondParams is approval.respond's params (spec §4.9:
// "ApprovalFlow.handleResponse; on approve also calls
// Runtime.approveRequest" — Flow.Resolve already drives that call
// internally, so this handler is a thin pass-through).
type approvalRespondParams struct {
	RequestID string `json:"requestId"`
	Approved  bool   `json:"approved"`
	Reason    string `json:"reason"`
}

func (f *Facade) approvalRespond(ctx context.Context, raw json.RawMessage) (any, error) {
	var params approvalRespondParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, rpcerr.New(rpcerr.InvalidInput, "approval.respond: "+err.Error())
	}
	if params.RequestID == "" {
		return nil, rpcerr.New(rpcerr.InvalidInput, "approval.respond: requestId is required")
	}
	responderID, _ := auth.UserIDFromContext(ctx)

	if err := f.deps.Approvals.Resolve(params.RequestID, params.Approved, responderID, params.Reason); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

// sessionsSendParams appends a message to an existing session's log without
// going through the planner/orchestrator — used by surfaces that maintain
// their own conversational turn (e.g. replaying a user edit).
type sessionsSendParams struct {
	SessionID string                 `json:"sessionId"`
	Type      moonmodels.MessageType `json:"type"`
	Content   string                 `json:"content"`
}

func (f *Facade) sessionsSend(ctx context.Context, raw json.RawMessage) (any, error) {
	var params sessionsSendParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, rpcerr.New(rpcerr.InvalidInput, "sessions.send: "+err.Error())
	}
	if params.SessionID == "" {
		return nil, rpcerr.New(rpcerr.InvalidInput, "sessions.send: sessionId is required")
	}
	msgType := params.Type
	if msgType == "" {
		msgType = moonmodels.MessageUser
	}

	if _, ok, err := f.deps.Sessions.Get(ctx, params.SessionID); err != nil {
		return nil, err
	} else if !ok {
		return nil, rpcerr.New(rpcerr.TaskNotFound, fmt.Sprintf("session %q not found", params.SessionID))
	}

	msg := moonmodels.SessionMessage{Type: msgType, Content: params.Content}
	if err := f.deps.Sessions.Append(ctx, params.SessionID, msg); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

// statusResult carries the Tool Runtime's invocation stats. status does not
// fill QueueDepth, so the response never includes orchestrator queue depths.
type statusResult struct {
	Runtime    moonmodels.RuntimeStats `json:"runtime"`
	QueueDepth int                     `json:"queueDepth,omitempty"`
}

func (f *Facade) status(ctx context.Context) (any, error) {
	result := statusResult{Runtime: f.deps.Runtime.Stats()}
	return result, nil
}
