package planner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/moonbotd/moonbotd/internal/registry"
	"github.com/moonbotd/moonbotd/internal/rpcerr"
	"github.com/moonbotd/moonbotd/internal/runtime"
	"github.com/moonbotd/moonbotd/internal/sessionstore"
	"github.com/moonbotd/moonbotd/pkg/moonmodels"
)

// Pauser is the narrow slice of *orchestrator.Orchestrator the Executor
// needs while an invocation is suspended awaiting approval. Taking the
// interface (rather than importing internal/orchestrator's concrete type)
// mirrors the ApproveRequester pattern internal/approvalflow uses to keep
// the dependency one-directional: orchestrator depends on this package only
// through its own Pipeline interface, never the reverse.
type Pauser interface {
	Pause(taskID string) error
	Resume(taskID string) error
}

// approvalPollInterval bounds how often Run polls the runtime for an
// awaiting_approval invocation's resolution while a task is paused.
const approvalPollInterval = 100 * time.Millisecond

// ExecutorConfig tunes the Executor.
type ExecutorConfig struct {
	AgentID   string
	Replanner ReplannerConfig
	Logger    *slog.Logger
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	if c.Logger == nil {
		c.Logger = slog.Default().With("component", "executor")
	}
	return c
}

// Executor is the spec §4.7 Executor. It satisfies internal/orchestrator's
// Pipeline interface (Run(ctx, *moonmodels.Task) (string, error)) without
// importing that package, the same one-directional-dependency shape used
// throughout this repo.
type Executor struct {
	cfg       ExecutorConfig
	planner   *Planner
	replanner *Replanner
	registry  *registry.Registry
	runtime   *runtime.Runtime
	sessions  sessionstore.Store
	pauser    Pauser
}

// NewExecutor constructs an Executor. Call SetPauser once the Orchestrator
// that will drive this Executor exists — the Orchestrator is itself
// constructed with this Executor as its Pipeline, so the two can't be wired
// in a single constructor call without a cycle.
func NewExecutor(cfg ExecutorConfig, p *Planner, reg *registry.Registry, rt *runtime.Runtime, sessions sessionstore.Store) *Executor {
	cfg = cfg.withDefaults()
	return &Executor{
		cfg:       cfg,
		planner:   p,
		replanner: NewReplanner(cfg.Replanner),
		registry:  reg,
		runtime:   rt,
		sessions:  sessions,
	}
}

// SetPauser wires the Orchestrator back into the Executor after both have
// been constructed.
func (e *Executor) SetPauser(p Pauser) {
	e.pauser = p
}

// Run drives task's plan to completion.
func (e *Executor) Run(ctx context.Context, task *moonmodels.Task) (string, error) {
	if err := e.sessions.Append(ctx, task.SessionID, moonmodels.SessionMessage{
		Type: moonmodels.MessageUser, Content: task.Message, Timestamp: time.Now(),
	}); err != nil {
		return "", err
	}

	plan, err := e.planner.Plan(ctx, task.Message, e.registry.List(), "")
	if err != nil {
		return "", err
	}

	completed := make(map[string]bool, len(plan.Steps))
	retryCounts := make(map[string]int)
	var lastOutput string

	for i := 0; i < len(plan.Steps); i++ {
		step := plan.Steps[i]

		if !dependenciesSatisfied(step, completed) {
			continue
		}

		if err := ctx.Err(); err != nil {
			return "", err
		}

		_ = e.sessions.Append(ctx, task.SessionID, moonmodels.SessionMessage{
			Type: moonmodels.MessageThought, Content: step.Description, Timestamp: time.Now(),
		})

		if step.ToolID == "" {
			completed[step.ID] = true
			continue
		}

		output, err := e.runStep(ctx, task, step)
		if err == nil {
			completed[step.ID] = true
			lastOutput = output
			continue
		}

		decision := e.replanner.Decide(step, err, retryCounts[step.ID])
		switch decision.Action {
		case moonmodels.RecoveryRetry:
			retryCounts[step.ID]++
			i-- // re-run the same step
			continue
		case moonmodels.RecoveryAlternative:
			plan.Steps[i].ToolID = decision.AlternativeToolID
			i--
			continue
		case moonmodels.RecoveryApproval:
			// The runtime already routes RequireApproval-gated tools through
			// the Approval Flow inside runStep; reaching here means the
			// failure happened for some other permission reason. Treat it
			// like ABORT rather than loop forever with nothing left to try.
			fallthrough
		default:
			_ = e.sessions.Append(ctx, task.SessionID, moonmodels.SessionMessage{
				Type: moonmodels.MessageError, Content: err.Error(), Timestamp: time.Now(),
			})
			return "", err
		}
	}

	if lastOutput == "" {
		lastOutput = "Task completed with no further output."
	}
	_ = e.sessions.Append(ctx, task.SessionID, moonmodels.SessionMessage{
		Type: moonmodels.MessageAssistant, Content: lastOutput, Timestamp: time.Now(),
	})
	return lastOutput, nil
}

// runStep invokes step's tool and, if the runtime suspends it for approval,
// pauses the task and blocks until the invocation resolves one way or the
// other before returning.
func (e *Executor) runStep(ctx context.Context, task *moonmodels.Task, step moonmodels.PlanStep) (string, error) {
	params := runtime.InvokeParams{
		ToolID:    step.ToolID,
		SessionID: task.SessionID,
		AgentID:   e.cfg.AgentID,
		UserID:    task.UserID,
		Input:     step.Input,
	}
	outcome, err := e.runtime.Invoke(ctx, params)
	if err != nil {
		return "", err
	}

	if outcome.AwaitingApproval {
		if e.pauser != nil {
			_ = e.pauser.Pause(task.ID)
		}
		inv, err := e.awaitResolution(ctx, outcome.Invocation.ID)
		if e.pauser != nil {
			_ = e.pauser.Resume(task.ID)
		}
		if err != nil {
			return "", err
		}
		outcome.Invocation = inv
	}

	return e.recordResult(ctx, task, step, outcome.Invocation)
}

// awaitResolution polls the runtime for invocationID until it leaves
// awaiting_approval, honoring ctx cancellation (spec §5: "all suspending
// operations MUST honor a context/cancellation token").
func (e *Executor) awaitResolution(ctx context.Context, invocationID string) (*moonmodels.ToolInvocation, error) {
	ticker := time.NewTicker(approvalPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			inv, ok := e.runtime.Get(invocationID)
			if ok && inv.Status != moonmodels.InvocationAwaitingApproval {
				return inv, nil
			}
		}
	}
}

func (e *Executor) recordResult(ctx context.Context, task *moonmodels.Task, step moonmodels.PlanStep, inv *moonmodels.ToolInvocation) (string, error) {
	if inv == nil || inv.Result == nil {
		err := rpcerr.New(rpcerr.ExecutionError, "tool produced no result")
		_ = e.sessions.Append(ctx, task.SessionID, moonmodels.SessionMessage{Type: moonmodels.MessageError, Content: err.Error(), Timestamp: time.Now()})
		return "", err
	}

	if !inv.Result.OK {
		msg := "tool execution failed"
		code := rpcerr.ExecutionError
		if inv.Result.Error != nil {
			msg = inv.Result.Error.Message
			code = rpcerr.Code(inv.Result.Error.Code)
		}
		if code == rpcerr.ApprovalDenied {
			msg = "Tool execution was denied: " + msg
		}
		err := &rpcerr.Error{Code: code, Message: msg}
		_ = e.sessions.Append(ctx, task.SessionID, moonmodels.SessionMessage{Type: moonmodels.MessageError, Content: msg, Timestamp: time.Now()})
		return "", err
	}

	text := fmt.Sprintf("%v", inv.Result.Data)
	_ = e.sessions.Append(ctx, task.SessionID, moonmodels.SessionMessage{
		Type: moonmodels.MessageToolCall, Content: step.ToolID, Timestamp: time.Now(),
	})
	_ = e.sessions.Append(ctx, task.SessionID, moonmodels.SessionMessage{
		Type: moonmodels.MessageResult, Content: text, Timestamp: time.Now(),
	})
	return text, nil
}

// dependenciesSatisfied reports whether every id in step.DependsOn is
// already in completed (spec §4.7: "steps with dependsOn MUST run after
// their prerequisites").
func dependenciesSatisfied(step moonmodels.PlanStep, completed map[string]bool) bool {
	for _, dep := range step.DependsOn {
		if !completed[dep] {
			return false
		}
	}
	return true
}
