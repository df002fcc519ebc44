package runtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/moonbotd/moonbotd/internal/approvalpolicy"
	"github.com/moonbotd/moonbotd/internal/eventbus"
	"github.com/moonbotd/moonbotd/internal/registry"
	"github.com/moonbotd/moonbotd/internal/rpcerr"
	"github.com/moonbotd/moonbotd/internal/schema"
	"github.com/moonbotd/moonbotd/pkg/moonmodels"
)

const echoSchema = `{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`

func newTestRuntime(t *testing.T, cfg Config, handler moonmodels.ToolHandler) (*Runtime, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	val := schema.New()
	if err := val.Compile("echo", json.RawMessage(echoSchema)); err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	reg.Register(moonmodels.ToolDescriptor{ID: "echo", InputSchema: json.RawMessage(echoSchema), Handler: handler})
	bus := eventbus.New()
	return New(cfg, reg, val, approvalpolicy.DefaultPolicy(), bus), reg
}

func TestInvokeSucceeds(t *testing.T) {
	rt, _ := newTestRuntime(t, Config{DefaultTimeout: time.Second}, func(ctx context.Context, input json.RawMessage, tc moonmodels.ToolContext) (moonmodels.ToolResultEnvelope, error) {
		return moonmodels.ToolResultEnvelope{OK: true, Data: "pong"}, nil
	})

	outcome, err := rt.Invoke(context.Background(), InvokeParams{ToolID: "echo", Input: json.RawMessage(`{"text":"ping"}`)})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if outcome.AwaitingApproval {
		t.Fatal("did not expect awaiting approval")
	}
	if outcome.Invocation.Status != moonmodels.InvocationCompleted {
		t.Errorf("status = %v, want completed", outcome.Invocation.Status)
	}
	if !outcome.Invocation.Result.OK {
		t.Errorf("expected a successful result")
	}
}

func TestInvokeUnknownToolFails(t *testing.T) {
	rt, _ := newTestRuntime(t, Config{}, nil)
	_, err := rt.Invoke(context.Background(), InvokeParams{ToolID: "missing", Input: json.RawMessage(`{}`)})
	if rpcerr.CodeOf(err) != rpcerr.ToolNotFound {
		t.Fatalf("CodeOf(err) = %v, want TOOL_NOT_FOUND", rpcerr.CodeOf(err))
	}
}

func TestInvokeInvalidInputFails(t *testing.T) {
	rt, _ := newTestRuntime(t, Config{}, func(ctx context.Context, input json.RawMessage, tc moonmodels.ToolContext) (moonmodels.ToolResultEnvelope, error) {
		return moonmodels.ToolResultEnvelope{OK: true}, nil
	})
	_, err := rt.Invoke(context.Background(), InvokeParams{ToolID: "echo", Input: json.RawMessage(`{}`)})
	if rpcerr.CodeOf(err) != rpcerr.InvalidInput {
		t.Fatalf("CodeOf(err) = %v, want INVALID_INPUT", rpcerr.CodeOf(err))
	}
}

func TestInvokeConcurrencyLimitRejectsWithoutCreatingInvocation(t *testing.T) {
	release := make(chan struct{})
	rt, _ := newTestRuntime(t, Config{MaxConcurrent: 1, DefaultTimeout: time.Second}, func(ctx context.Context, input json.RawMessage, tc moonmodels.ToolContext) (moonmodels.ToolResultEnvelope, error) {
		<-release
		return moonmodels.ToolResultEnvelope{OK: true}, nil
	})

	done := make(chan struct{})
	go func() {
		_, _ = rt.Invoke(context.Background(), InvokeParams{ToolID: "echo", Input: json.RawMessage(`{"text":"a"}`)})
		close(done)
	}()
	time.Sleep(50 * time.Millisecond) // let the first invocation acquire the slot

	_, err := rt.Invoke(context.Background(), InvokeParams{ToolID: "echo", Input: json.RawMessage(`{"text":"b"}`)})
	if rpcerr.CodeOf(err) != rpcerr.ConcurrencyLimit {
		t.Fatalf("CodeOf(err) = %v, want CONCURRENCY_LIMIT", rpcerr.CodeOf(err))
	}

	close(release)
	<-done
}

func TestInvokeTimesOut(t *testing.T) {
	rt, _ := newTestRuntime(t, Config{DefaultTimeout: 20 * time.Millisecond}, func(ctx context.Context, input json.RawMessage, tc moonmodels.ToolContext) (moonmodels.ToolResultEnvelope, error) {
		<-ctx.Done()
		return moonmodels.ToolResultEnvelope{}, ctx.Err()
	})

	outcome, err := rt.Invoke(context.Background(), InvokeParams{ToolID: "echo", Input: json.RawMessage(`{"text":"slow"}`)})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if outcome.Invocation.Status != moonmodels.InvocationFailed {
		t.Errorf("status = %v, want failed", outcome.Invocation.Status)
	}
	if outcome.Invocation.Result.OK {
		t.Error("expected a failed result")
	}
}

func TestInvokeRequiresApprovalThenResumesOnApprove(t *testing.T) {
	reg := registry.New()
	val := schema.New()
	if err := val.Compile("exec", json.RawMessage(`{"type":"object","properties":{},"required":[]}`)); err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	reg.Register(moonmodels.ToolDescriptor{
		ID:              "exec",
		RequireApproval: true,
		Handler: func(ctx context.Context, input json.RawMessage, tc moonmodels.ToolContext) (moonmodels.ToolResultEnvelope, error) {
			return moonmodels.ToolResultEnvelope{OK: true, Data: "ran"}, nil
		},
	})
	bus := eventbus.New()
	rt := New(Config{ApprovalsEnabled: true, SystemExecToolID: "other-tool", DefaultTimeout: time.Second}, reg, val, approvalpolicy.DefaultPolicy(), bus)

	outcome, err := rt.Invoke(context.Background(), InvokeParams{ToolID: "exec", Input: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if !outcome.AwaitingApproval {
		t.Fatal("expected the invocation to await approval")
	}
	if outcome.Invocation.Status != moonmodels.InvocationAwaitingApproval {
		t.Errorf("status = %v, want awaiting_approval", outcome.Invocation.Status)
	}

	if err := rt.ApproveRequest(outcome.Invocation.ID, true, ""); err != nil {
		t.Fatalf("ApproveRequest() error = %v", err)
	}

	deadline := time.After(time.Second)
	for {
		inv, ok := rt.Get(outcome.Invocation.ID)
		if ok && inv.Status == moonmodels.InvocationCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for resumed invocation to complete")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestApproveRequestUnknownInvocationFails(t *testing.T) {
	rt, _ := newTestRuntime(t, Config{}, nil)
	err := rt.ApproveRequest("does-not-exist", true, "")
	if rpcerr.CodeOf(err) != rpcerr.InvocationNotFound {
		t.Fatalf("CodeOf(err) = %v, want INVOCATION_NOT_FOUND", rpcerr.CodeOf(err))
	}
}

func TestStatsCountsByStatus(t *testing.T) {
	rt, _ := newTestRuntime(t, Config{DefaultTimeout: time.Second}, func(ctx context.Context, input json.RawMessage, tc moonmodels.ToolContext) (moonmodels.ToolResultEnvelope, error) {
		return moonmodels.ToolResultEnvelope{OK: true}, nil
	})

	if _, err := rt.Invoke(context.Background(), InvokeParams{ToolID: "echo", Input: json.RawMessage(`{"text":"a"}`)}); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	stats := rt.Stats()
	if stats.Total != 1 {
		t.Errorf("Total = %d, want 1", stats.Total)
	}
	if stats.ByStatus[moonmodels.InvocationCompleted] != 1 {
		t.Errorf("ByStatus[completed] = %d, want 1", stats.ByStatus[moonmodels.InvocationCompleted])
	}
}

func TestSweepRemovesExpiredCompletedInvocations(t *testing.T) {
	rt, _ := newTestRuntime(t, Config{DefaultTimeout: time.Second, InvocationTTL: time.Millisecond}, func(ctx context.Context, input json.RawMessage, tc moonmodels.ToolContext) (moonmodels.ToolResultEnvelope, error) {
		return moonmodels.ToolResultEnvelope{OK: true}, nil
	})

	outcome, err := rt.Invoke(context.Background(), InvokeParams{ToolID: "echo", Input: json.RawMessage(`{"text":"a"}`)})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	removed := rt.sweep()
	if removed != 1 {
		t.Fatalf("sweep() removed %d, want 1", removed)
	}
	if _, ok := rt.Get(outcome.Invocation.ID); ok {
		t.Error("expected the invocation to have been swept")
	}
}

func TestSweepKeepsAwaitingApproval(t *testing.T) {
	reg := registry.New()
	val := schema.New()
	reg.Register(moonmodels.ToolDescriptor{
		ID:              "exec",
		RequireApproval: true,
		Handler: func(ctx context.Context, input json.RawMessage, tc moonmodels.ToolContext) (moonmodels.ToolResultEnvelope, error) {
			return moonmodels.ToolResultEnvelope{OK: true}, nil
		},
	})
	bus := eventbus.New()
	rt := New(Config{ApprovalsEnabled: true, SystemExecToolID: "other-tool", InvocationTTL: time.Millisecond}, reg, val, approvalpolicy.DefaultPolicy(), bus)

	outcome, err := rt.Invoke(context.Background(), InvokeParams{ToolID: "exec", Input: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	rt.sweep()
	if _, ok := rt.Get(outcome.Invocation.ID); !ok {
		t.Error("expected the awaiting-approval invocation to survive the sweep")
	}
}
