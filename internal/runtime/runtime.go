// Package runtime implements the Tool Runtime (spec §4.5): the invoke
// algorithm that looks up a tool, validates input, enforces global
// concurrency and the Approval Manager's command policy, races a handler
// against a per-call timeout, and retains invocation records for a bounded
// TTL.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moonbotd/moonbotd/internal/approvalpolicy"
	"github.com/moonbotd/moonbotd/internal/eventbus"
	"github.com/moonbotd/moonbotd/internal/observability"
	"github.com/moonbotd/moonbotd/internal/registry"
	"github.com/moonbotd/moonbotd/internal/rpcerr"
	"github.com/moonbotd/moonbotd/internal/schema"
	"github.com/moonbotd/moonbotd/pkg/moonmodels"
)

// Config tunes the runtime (spec §6's configuration surface).
type Config struct {
	MaxConcurrent    int
	DefaultTimeout   time.Duration
	InvocationTTL    time.Duration
	CleanupInterval  time.Duration
	ApprovalsEnabled bool
	// SystemExecToolID names the single privileged tool the Approval
	// Manager's command/CWD policy applies to (spec §4.4).
	SystemExecToolID string
	WorkspaceRoot     string
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.InvocationTTL <= 0 {
		c.InvocationTTL = time.Hour
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 5 * time.Minute
	}
	return c
}

// InvokeParams is everything Invoke needs to create and run one invocation.
type InvokeParams struct {
	ToolID              string
	SessionID           string
	AgentID             string
	UserID              string
	Input               json.RawMessage
	ParentInvocationID  string
	RetryCount          int
	// Command and CWD are populated by callers invoking the system-execution
	// tool; they are what the Approval Manager's policy evaluates (spec §4.4).
	Command string
	CWD     string
}

// InvokeOutcome is Invoke's return value: either a completed/failed
// invocation, or one parked awaiting approval.
type InvokeOutcome struct {
	Invocation       *moonmodels.ToolInvocation
	AwaitingApproval bool
}

// pendingApproval is the suspended continuation of an invocation waiting on
// ApproveRequest, holding what's needed to actually run the handler once a
// decision arrives.
type pendingApproval struct {
	invocation *moonmodels.ToolInvocation
	descriptor moonmodels.ToolDescriptor
	ctx        context.Context
	resolved   chan approvalDecision
}

type approvalDecision struct {
	approved bool
	reason   string
}

// Runtime is the Tool Runtime (spec §4.5).
type Runtime struct {
	cfg       Config
	registry  *registry.Registry
	validator *schema.Validator
	bus       *eventbus.Bus

	policyMu sync.RWMutex
	policy   *approvalpolicy.Policy

	sem chan struct{}

	mu          sync.RWMutex
	invocations map[string]*moonmodels.ToolInvocation
	pending     map[string]*pendingApproval

	stopSweep chan struct{}
	sweepOnce sync.Once

	metrics *observability.Metrics
}

// SetMetrics wires a Metrics collector in after construction; nil (the
// zero value) disables recording, so callers that don't need metrics can
// skip this entirely.
func (r *Runtime) SetMetrics(m *observability.Metrics) {
	r.metrics = m
}

// SetPolicy swaps the Approval Manager's command policy for one freshly
// rebuilt from disk (config hot-reload): in-flight invocations keep using
// whatever policy they already read, new ones see the new policy as soon
// as this returns.
func (r *Runtime) SetPolicy(policy *approvalpolicy.Policy) {
	r.policyMu.Lock()
	r.policy = policy
	r.policyMu.Unlock()
}

func (r *Runtime) currentPolicy() *approvalpolicy.Policy {
	r.policyMu.RLock()
	defer r.policyMu.RUnlock()
	return r.policy
}

// New constructs a Runtime. policy may be nil if approvals are disabled.
func New(cfg Config, reg *registry.Registry, validator *schema.Validator, policy *approvalpolicy.Policy, bus *eventbus.Bus) *Runtime {
	cfg = cfg.withDefaults()
	return &Runtime{
		cfg:         cfg,
		registry:    reg,
		validator:   validator,
		policy:      policy,
		bus:         bus,
		sem:         make(chan struct{}, cfg.MaxConcurrent),
		invocations: make(map[string]*moonmodels.ToolInvocation),
		pending:     make(map[string]*pendingApproval),
		stopSweep:   make(chan struct{}),
	}
}

// Invoke runs spec §4.5's seven-step algorithm.
func (r *Runtime) Invoke(ctx context.Context, params InvokeParams) (*InvokeOutcome, error) {
	// Step 1: lookup tool.
	descriptor, ok := r.registry.Get(params.ToolID)
	if !ok {
		return nil, rpcerr.New(rpcerr.ToolNotFound, fmt.Sprintf("tool %q is not registered", params.ToolID))
	}

	// Step 2: global concurrency check. A non-blocking acquire: if the
	// semaphore is full, the call fails fast rather than queueing.
	select {
	case r.sem <- struct{}{}:
	default:
		return nil, rpcerr.New(rpcerr.ConcurrencyLimit, "maximum concurrent tool invocations reached")
	}
	var releaseOnce sync.Once
	release := func() { releaseOnce.Do(func() { <-r.sem }) }
	defer release()

	// Step 3: validate input. The compiled schemas (santhosh-tekuri/jsonschema/v5)
	// validate a decoded Go value, not raw JSON bytes, so params.Input is
	// unmarshaled first — matching how the gateway validates inbound WS frames.
	var decodedInput any
	if len(params.Input) == 0 {
		decodedInput = map[string]any{}
	} else if err := json.Unmarshal(params.Input, &decodedInput); err != nil {
		return nil, rpcerr.New(rpcerr.InvalidInput, fmt.Sprintf("input is not valid JSON: %v", err))
	}
	validation := r.validator.Validate(params.ToolID, decodedInput)
	if !validation.OK {
		fields := make([]rpcerr.FieldError, 0, len(validation.Errors))
		for _, fe := range validation.Errors {
			fields = append(fields, rpcerr.FieldError{Path: fe.Path, Message: fe.Message})
		}
		return nil, &rpcerr.Error{Code: rpcerr.InvalidInput, Message: "input failed schema validation", Fields: fields}
	}

	// Step 4: create the invocation record.
	invocation := &moonmodels.ToolInvocation{
		ID:                  uuid.NewString(),
		ToolID:              params.ToolID,
		SessionID:           params.SessionID,
		AgentID:             params.AgentID,
		UserID:              params.UserID,
		Input:               params.Input,
		Status:              moonmodels.InvocationRunning,
		StartTime:           time.Now(),
		RetryCount:          params.RetryCount,
		ParentInvocationID:  params.ParentInvocationID,
	}
	r.store(invocation)

	// Step 5: approval gate for any descriptor with RequireApproval set
	// (spec §4.4/§9's documented SHOULD); the command policy can auto-approve
	// only the system-execution tool, every other gated tool is suspended.
	if descriptor.RequireApproval && r.cfg.ApprovalsEnabled {
		if policy := r.currentPolicy(); descriptor.ID == r.cfg.SystemExecToolID && policy != nil {
			decision := policy.Evaluate(params.Command, params.CWD, r.cfg.WorkspaceRoot)
			if decision.Approved {
				return r.execute(ctx, descriptor, invocation, release)
			}
		}
		return r.suspendForApproval(ctx, descriptor, invocation, release)
	}

	// No approval required: execute immediately.
	return r.execute(ctx, descriptor, invocation, release)
}

// suspendForApproval parks invocation awaiting a human decision, releasing
// its concurrency slot and spawning the resumption goroutine (spec §4.5:
// "decrement runningCount — the suspended invocation holds no concurrency
// slot"). release is Invoke's own slot-release closure; calling it here (and
// not again later) is what makes the slot available to other callers while
// this invocation waits.
func (r *Runtime) suspendForApproval(ctx context.Context, descriptor moonmodels.ToolDescriptor, invocation *moonmodels.ToolInvocation, release func()) (*InvokeOutcome, error) {
	invocation.Status = moonmodels.InvocationAwaitingApproval
	r.store(invocation)
	release()

	pending := &pendingApproval{
		invocation: invocation,
		descriptor: descriptor,
		ctx:        ctx,
		resolved:   make(chan approvalDecision, 1),
	}
	r.mu.Lock()
	r.pending[invocation.ID] = pending
	r.mu.Unlock()

	r.bus.Publish(moonmodels.Event{
		Type: moonmodels.EventApprovalRequested,
		Tool: &moonmodels.ToolEventPayload{
			InvocationID: invocation.ID,
			ToolID:       descriptor.ID,
			SessionID:    invocation.SessionID,
			Input:        invocation.Input,
		},
	})

	go r.awaitApprovalThenExecute(pending)

	return &InvokeOutcome{Invocation: invocation.Clone(), AwaitingApproval: true}, nil
}

func (r *Runtime) awaitApprovalThenExecute(pending *pendingApproval) {
	decision := <-pending.resolved

	r.mu.Lock()
	delete(r.pending, pending.invocation.ID)
	r.mu.Unlock()

	r.bus.Publish(moonmodels.Event{
		Type: moonmodels.EventApprovalResolved,
		Approval: &moonmodels.ApprovalEventPayload{
			InvocationID: pending.invocation.ID,
			ToolID:       pending.descriptor.ID,
			SessionID:    pending.invocation.SessionID,
		},
	})

	if !decision.approved {
		pending.invocation.Status = moonmodels.InvocationFailed
		pending.invocation.EndTime = time.Now()
		pending.invocation.Result = &moonmodels.ToolResultEnvelope{
			OK: false,
			Error: &moonmodels.ToolResultError{
				Code:    string(rpcerr.ApprovalDenied),
				Message: decision.reason,
			},
			Meta: moonmodels.ToolResultMeta{DurationMs: pending.invocation.EndTime.Sub(pending.invocation.StartTime).Milliseconds()},
		}
		r.store(pending.invocation)
		return
	}

	// Resuming after approval re-acquires a concurrency slot, this time
	// blocking until one is free rather than failing fast.
	r.sem <- struct{}{}
	var releaseOnce sync.Once
	release := func() { releaseOnce.Do(func() { <-r.sem }) }

	pending.invocation.Status = moonmodels.InvocationRunning
	r.store(pending.invocation)
	_, _ = r.execute(pending.ctx, pending.descriptor, pending.invocation, release)
}

// ApproveRequest resumes a suspended invocation with the human's decision
// (spec §4.5). It returns INVOCATION_NOT_FOUND if invocationID is not
// currently awaiting approval.
func (r *Runtime) ApproveRequest(invocationID string, approved bool, reason string) error {
	r.mu.Lock()
	pending, ok := r.pending[invocationID]
	r.mu.Unlock()
	if !ok {
		return rpcerr.New(rpcerr.InvocationNotFound, fmt.Sprintf("invocation %q is not awaiting approval", invocationID))
	}
	select {
	case pending.resolved <- approvalDecision{approved: approved, reason: reason}:
	default:
		return rpcerr.New(rpcerr.InvalidState, fmt.Sprintf("invocation %q has already been resolved", invocationID))
	}
	return nil
}

// execute races descriptor.Handler against the per-invocation timeout
// (spec §4.5 step 6), records the outcome (step 7), and releases the
// concurrency slot the caller is holding.
func (r *Runtime) execute(ctx context.Context, descriptor moonmodels.ToolDescriptor, invocation *moonmodels.ToolInvocation, release func()) (*InvokeOutcome, error) {
	defer release()

	timeout := r.cfg.DefaultTimeout
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type handlerOutcome struct {
		result moonmodels.ToolResultEnvelope
		err    error
	}
	resultCh := make(chan handlerOutcome, 1)

	go func() {
		toolCtx := moonmodels.ToolContext{
			SessionID:     invocation.SessionID,
			AgentID:       invocation.AgentID,
			UserID:        invocation.UserID,
			WorkspaceRoot: r.cfg.WorkspaceRoot,
		}
		result, err := descriptor.Handler(execCtx, invocation.Input, toolCtx)
		select {
		case resultCh <- handlerOutcome{result: result, err: err}:
		default:
		}
	}()

	start := time.Now()
	var envelope moonmodels.ToolResultEnvelope
	select {
	case <-execCtx.Done():
		envelope = moonmodels.ToolResultEnvelope{
			OK: false,
			Error: &moonmodels.ToolResultError{
				Code:    string(rpcerr.ExecutionError),
				Message: fmt.Sprintf("tool execution timed out after %s", timeout),
			},
		}
		invocation.Status = moonmodels.InvocationFailed
	case outcome := <-resultCh:
		if outcome.err != nil {
			envelope = moonmodels.ToolResultEnvelope{
				OK: false,
				Error: &moonmodels.ToolResultError{
					Code:    string(rpcerr.CodeOf(outcome.err)),
					Message: outcome.err.Error(),
				},
			}
			invocation.Status = moonmodels.InvocationFailed
		} else {
			envelope = outcome.result
			invocation.Status = moonmodels.InvocationCompleted
		}
	}

	invocation.EndTime = time.Now()
	envelope.Meta.DurationMs = invocation.EndTime.Sub(start).Milliseconds()
	invocation.Result = &envelope
	r.store(invocation)

	if r.metrics != nil {
		status := "ok"
		if !envelope.OK {
			status = "error"
		}
		r.metrics.RecordToolExecution(descriptor.ID, status, invocation.EndTime.Sub(start).Seconds())
	}

	r.bus.Publish(moonmodels.Event{
		Type: moonmodels.EventToolFinished,
		Tool: &moonmodels.ToolEventPayload{
			InvocationID: invocation.ID,
			ToolID:       descriptor.ID,
			SessionID:    invocation.SessionID,
			Success:      envelope.OK,
			Elapsed:      invocation.EndTime.Sub(invocation.StartTime),
		},
	})

	return &InvokeOutcome{Invocation: invocation.Clone()}, nil
}

func (r *Runtime) store(inv *moonmodels.ToolInvocation) {
	r.mu.Lock()
	r.invocations[inv.ID] = inv.Clone()
	r.mu.Unlock()
}

// Get returns a copy of the invocation record with the given id.
func (r *Runtime) Get(id string) (*moonmodels.ToolInvocation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inv, ok := r.invocations[id]
	if !ok {
		return nil, false
	}
	return inv.Clone(), true
}

// Stats summarizes current invocation state for the `status` RPC method
// (spec §4.5, §4.9).
func (r *Runtime) Stats() moonmodels.RuntimeStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := moonmodels.RuntimeStats{
		ByStatus: make(map[moonmodels.InvocationStatus]int),
	}
	var retrySum int
	for _, inv := range r.invocations {
		stats.Total++
		stats.ByStatus[inv.Status]++
		retrySum += inv.RetryCount
		if inv.Status == moonmodels.InvocationRunning {
			stats.Running++
		}
		if !inv.EndTime.IsZero() {
			stats.ToolWallTimeMs += inv.EndTime.Sub(inv.StartTime).Milliseconds()
		}
	}
	if stats.Total > 0 {
		stats.AverageRetries = float64(retrySum) / float64(stats.Total)
	}
	return stats
}
