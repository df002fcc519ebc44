// Package gatewayrpc implements the Gateway Facade (spec §4.9): the method
// table mapping JSON-RPC method names onto the execution core's components,
// and the notification push path the core uses to reach connected surfaces.
// It is transport-agnostic — internal/transport decodes/encodes JSON-RPC
// envelopes and calls Facade.Handle; a future in-process caller (tests, a
// CLI) can call Facade.Handle directly without a socket in between.
package gatewayrpc

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/moonbotd/moonbotd/internal/approvalflow"
	"github.com/moonbotd/moonbotd/internal/auth"
	"github.com/moonbotd/moonbotd/internal/orchestrator"
	"github.com/moonbotd/moonbotd/internal/registry"
	"github.com/moonbotd/moonbotd/internal/rpcerr"
	"github.com/moonbotd/moonbotd/internal/runtime"
	"github.com/moonbotd/moonbotd/internal/sessionstore"
	"github.com/moonbotd/moonbotd/pkg/moonmodels"
)

// Pusher delivers a server-initiated notification to one connected peer —
// internal/transport's per-connection session implements this to write a
// no-id JSON-RPC envelope back onto the wire. Facade never imports
// internal/transport; it only calls back through this narrow seam, the same
// one-directional shape internal/orchestrator.Notifier and
// internal/approvalflow.Handler already use.
type Pusher interface {
	Push(ctx context.Context, surface, method string, params any) error
}

// Deps bundles the execution-core components the Facade routes to.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Runtime      *runtime.Runtime
	Registry     *registry.Registry
	Approvals    *approvalflow.Flow
	Auth         *auth.Service
	Sessions     sessionstore.Store
}

// Facade is the Gateway Facade: Deps plus the logger used for method-call
// diagnostics and the Pusher wired in after construction (see SetPusher).
type Facade struct {
	deps   Deps
	logger *slog.Logger
	pusher Pusher
}

// New constructs a Facade. Call SetPusher once the transport listener that
// will own outbound pushes exists, and RegisterHandler the result against
// deps.Approvals so approval.request/approval.update notifications reach
// connected peers (the same post-construction wiring step
// internal/planner.Executor.SetPauser uses for the Executor/Orchestrator
// pair, needed here because the transport listener in turn needs a
// constructed Facade to route inbound calls to).
func New(deps Deps, logger *slog.Logger) *Facade {
	if logger == nil {
		logger = slog.Default().With("component", "gatewayrpc")
	}
	return &Facade{deps: deps, logger: logger}
}

// SetPusher wires the transport's broadcast callback into the Facade.
func (f *Facade) SetPusher(p Pusher) {
	f.pusher = p
}

// NotifyChatResponse satisfies orchestrator.Notifier: it's called once a
// task reaches a terminal state with at least one observer surface.
func (f *Facade) NotifyChatResponse(ctx context.Context, surface string, resp orchestrator.ChatResponse) {
	if f.pusher == nil {
		return
	}
	if err := f.pusher.Push(ctx, surface, "chat.response", resp); err != nil {
		f.logger.Warn("chat.response push failed", "surface", surface, "task_id", resp.TaskID, "error", err)
	}
}

// SendRequest satisfies approvalflow.Handler: forwards a freshly created
// approval request to every connected peer via the broadcast surface
// (spec §4.9: "approval.request forwarded from handler fan-out").
func (f *Facade) SendRequest(ctx context.Context, req *moonmodels.ApprovalRequest) error {
	return f.push(ctx, "approval.request", req)
}

// SendUpdate satisfies approvalflow.Handler.
func (f *Facade) SendUpdate(ctx context.Context, req *moonmodels.ApprovalRequest) error {
	return f.push(ctx, "approval.update", req)
}

func (f *Facade) push(ctx context.Context, method string, payload any) error {
	if f.pusher == nil {
		return nil
	}
	return f.pusher.Push(ctx, broadcastSurface, method, payload)
}

// broadcastSurface is the pseudo-surface name internal/transport treats as
// "every currently connected peer" — approval.request/approval.update have
// no single owning surface the way chat.response does (any connected
// operator console might need to act on them).
const broadcastSurface = "*"

// Method is one JSON-RPC method name the Facade knows how to handle.
type Method string

const (
	MethodConnect         Method = "connect"
	MethodChatSend        Method = "chat.send"
	MethodToolsList       Method = "tools.list"
	MethodToolsInvoke     Method = "tools.invoke"
	MethodApprovalRespond Method = "approval.respond"
	MethodSessionsSend    Method = "sessions.send"
	MethodStatus          Method = "status"
)

// CallContext carries the per-request identity internal/transport attaches
// after a successful connect handshake (spec §4.1: "records the client
// type"). Handlers read UserID/ClientType off ctx via auth.UserIDFromContext
// / auth.ClientTypeFromContext rather than a parameter, the same pattern
// internal/auth.context.go already establishes.
type CallContext struct {
	Surface string // the connection's registered surface name, for Push routing
}

// Handle dispatches one JSON-RPC method call by name and returns its result
// (to be marshaled into the envelope's `result` field) or an error (mapped
// to `error`). method == "connect" is handled by internal/transport directly
// before Handle is ever called — a connection isn't registered with a
// surface name until the handshake succeeds — so Handle never sees it.
func (f *Facade) Handle(ctx context.Context, method Method, params json.RawMessage, cc CallContext) (any, error) {
	switch method {
	case MethodChatSend:
		return f.chatSend(ctx, params, cc)
	case MethodToolsList:
		return f.toolsList(ctx)
	case MethodToolsInvoke:
		return f.toolsInvoke(ctx, params)
	case MethodApprovalRespond:
		return f.approvalRespond(ctx, params)
	case MethodSessionsSend:
		return f.sessionsSend(ctx, params)
	case MethodStatus:
		return f.status(ctx)
	default:
		return nil, rpcerr.New(rpcerr.MethodNotFound, "unknown method: "+string(method))
	}
}
