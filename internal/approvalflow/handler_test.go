package approvalflow

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/moonbotd/moonbotd/internal/eventbus"
	"github.com/moonbotd/moonbotd/pkg/moonmodels"
)

type recordingHandler struct {
	mu       sync.Mutex
	requests []string
	updates  []string
	failSend bool
}

func (h *recordingHandler) SendRequest(_ context.Context, req *moonmodels.ApprovalRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requests = append(h.requests, req.ID)
	if h.failSend {
		return errors.New("surface unreachable")
	}
	return nil
}

func (h *recordingHandler) SendUpdate(_ context.Context, req *moonmodels.ApprovalRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updates = append(h.updates, req.ID)
	return nil
}

func (h *recordingHandler) snapshot() ([]string, []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.requests...), append([]string(nil), h.updates...)
}

func TestFlowFansOutSendRequestToAllHandlers(t *testing.T) {
	flow, bus, _ := newTestFlow(t)
	a, b := &recordingHandler{}, &recordingHandler{}
	flow.RegisterHandler("surface-a", a)
	flow.RegisterHandler("surface-b", b)

	bus.Publish(moonmodels.Event{
		Type: moonmodels.EventApprovalRequested,
		Tool: &moonmodels.ToolEventPayload{InvocationID: "inv-1", ToolID: "system.exec", SessionID: "sess-1"},
	})
	reqID := waitForPending(t, flow, "inv-1")

	deadline := time.After(time.Second)
	for {
		reqsA, _ := a.snapshot()
		reqsB, _ := b.snapshot()
		if len(reqsA) == 1 && len(reqsB) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for both handlers to receive the request")
		case <-time.After(5 * time.Millisecond):
		}
	}

	reqsA, _ := a.snapshot()
	if reqsA[0] != reqID {
		t.Errorf("surface-a got request %q, want %q", reqsA[0], reqID)
	}
}

func TestFlowFansOutSendUpdateOnResolve(t *testing.T) {
	flow, bus, _ := newTestFlow(t)
	failing := &recordingHandler{failSend: true}
	ok := &recordingHandler{}
	flow.RegisterHandler("failing-surface", failing)
	flow.RegisterHandler("ok-surface", ok)

	bus.Publish(moonmodels.Event{
		Type: moonmodels.EventApprovalRequested,
		Tool: &moonmodels.ToolEventPayload{InvocationID: "inv-1", ToolID: "system.exec", SessionID: "sess-1"},
	})
	reqID := waitForPending(t, flow, "inv-1")

	if err := flow.Resolve(reqID, true, "operator-1", "approved"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	deadline := time.After(time.Second)
	for {
		_, updatesOK := ok.snapshot()
		if len(updatesOK) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for ok-surface's SendUpdate")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// The failing surface's SendRequest error must not have blocked or
	// failed Resolve, nor prevented the other surface's update from firing.
	_, updatesOK := ok.snapshot()
	if updatesOK[0] != reqID {
		t.Errorf("ok-surface update = %q, want %q", updatesOK[0], reqID)
	}
}

func TestRegisterHandlerOverwritesSameSurface(t *testing.T) {
	flow, bus, _ := newTestFlow(t)
	first := &recordingHandler{}
	second := &recordingHandler{}
	flow.RegisterHandler("surface-a", first)
	flow.RegisterHandler("surface-a", second)

	bus.Publish(moonmodels.Event{
		Type: moonmodels.EventApprovalRequested,
		Tool: &moonmodels.ToolEventPayload{InvocationID: "inv-2", ToolID: "system.exec", SessionID: "sess-2"},
	})
	waitForPending(t, flow, "inv-2")

	deadline := time.After(time.Second)
	for {
		reqsSecond, _ := second.snapshot()
		if len(reqsSecond) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for the second handler to receive the request")
		case <-time.After(5 * time.Millisecond):
		}
	}

	reqsFirst, _ := first.snapshot()
	if len(reqsFirst) != 0 {
		t.Errorf("expected the overwritten handler to receive nothing, got %v", reqsFirst)
	}
}
