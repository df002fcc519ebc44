package approvalflow

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/moonbotd/moonbotd/internal/eventbus"
	"github.com/moonbotd/moonbotd/internal/rpcerr"
	"github.com/moonbotd/moonbotd/pkg/moonmodels"
)

type fakeRuntime struct {
	mu       sync.Mutex
	calls    []fakeApproveCall
	approved bool
	reason   string
}

type fakeApproveCall struct {
	invocationID string
	approved     bool
	reason       string
}

func (f *fakeRuntime) ApproveRequest(invocationID string, approved bool, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeApproveCall{invocationID, approved, reason})
	return nil
}

func newTestFlow(t *testing.T) (*Flow, *eventbus.Bus, *fakeRuntime) {
	t.Helper()
	store := NewStore(filepath.Join(t.TempDir(), "approvals.json"))
	bus := eventbus.New()
	rt := &fakeRuntime{}
	flow := NewFlow(Config{RequestTTL: time.Minute, SweepInterval: time.Hour}, store, bus, rt)
	flow.Start()
	t.Cleanup(flow.Stop)
	return flow, bus, rt
}

func waitForPending(t *testing.T, flow *Flow, invocationID string) string {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		if id, ok := flow.RequestIDForInvocation(invocationID); ok {
			return id
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for a pending request for invocation %q", invocationID)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestFlowPersistsRequestOnApprovalRequested(t *testing.T) {
	flow, bus, _ := newTestFlow(t)

	bus.Publish(moonmodels.Event{
		Type: moonmodels.EventApprovalRequested,
		Tool: &moonmodels.ToolEventPayload{InvocationID: "inv-1", ToolID: "system.exec", SessionID: "sess-1"},
	})

	reqID := waitForPending(t, flow, "inv-1")

	pending, err := flow.ListPending()
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(pending) != 1 || pending[0].ID != reqID {
		t.Fatalf("ListPending() = %v, want [%s]", pending, reqID)
	}
}

func TestFlowResolveApprovedCallsRuntime(t *testing.T) {
	flow, bus, rt := newTestFlow(t)

	bus.Publish(moonmodels.Event{
		Type: moonmodels.EventApprovalRequested,
		Tool: &moonmodels.ToolEventPayload{InvocationID: "inv-1", ToolID: "system.exec", SessionID: "sess-1"},
	})
	reqID := waitForPending(t, flow, "inv-1")

	if err := flow.Resolve(reqID, true, "operator-1", "looks fine"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if len(rt.calls) != 1 {
		t.Fatalf("expected exactly one ApproveRequest call, got %d", len(rt.calls))
	}
	if call := rt.calls[0]; call.invocationID != "inv-1" || !call.approved || call.reason != "looks fine" {
		t.Errorf("unexpected call: %+v", call)
	}

	if _, ok := flow.RequestIDForInvocation("inv-1"); ok {
		t.Error("expected the resolved request to no longer be tracked as pending")
	}
}

func TestFlowResolveUnknownRequestFails(t *testing.T) {
	flow, _, _ := newTestFlow(t)
	err := flow.Resolve("does-not-exist", true, "operator-1", "")
	if rpcerr.CodeOf(err) != rpcerr.ApprovalNotFound {
		t.Fatalf("CodeOf(err) = %v, want APPROVAL_NOT_FOUND", rpcerr.CodeOf(err))
	}
}

func TestFlowResolveTwiceFailsSecondTime(t *testing.T) {
	flow, bus, _ := newTestFlow(t)

	bus.Publish(moonmodels.Event{
		Type: moonmodels.EventApprovalRequested,
		Tool: &moonmodels.ToolEventPayload{InvocationID: "inv-1", ToolID: "system.exec", SessionID: "sess-1"},
	})
	reqID := waitForPending(t, flow, "inv-1")

	if err := flow.Resolve(reqID, false, "operator-1", "denied"); err != nil {
		t.Fatalf("first Resolve() error = %v", err)
	}
	err := flow.Resolve(reqID, true, "operator-1", "")
	if rpcerr.CodeOf(err) != rpcerr.ApprovalAlreadyResolved {
		t.Fatalf("CodeOf(err) = %v, want APPROVAL_ALREADY_RESOLVED", rpcerr.CodeOf(err))
	}
}

func TestFlowResolveExpiredRequestFails(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "approvals.json"))
	bus := eventbus.New()
	rt := &fakeRuntime{}
	flow := NewFlow(Config{RequestTTL: time.Millisecond, SweepInterval: time.Hour}, store, bus, rt)
	flow.Start()
	t.Cleanup(flow.Stop)

	bus.Publish(moonmodels.Event{
		Type: moonmodels.EventApprovalRequested,
		Tool: &moonmodels.ToolEventPayload{InvocationID: "inv-1", ToolID: "system.exec", SessionID: "sess-1"},
	})
	reqID := waitForPending(t, flow, "inv-1")

	time.Sleep(5 * time.Millisecond)

	err := flow.Resolve(reqID, true, "operator-1", "")
	if rpcerr.CodeOf(err) != rpcerr.ApprovalExpired {
		t.Fatalf("CodeOf(err) = %v, want APPROVAL_EXPIRED", rpcerr.CodeOf(err))
	}
}
