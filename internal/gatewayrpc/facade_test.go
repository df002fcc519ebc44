package gatewayrpc

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/moonbotd/moonbotd/internal/approvalflow"
	"github.com/moonbotd/moonbotd/internal/approvalpolicy"
	"github.com/moonbotd/moonbotd/internal/auth"
	"github.com/moonbotd/moonbotd/internal/eventbus"
	"github.com/moonbotd/moonbotd/internal/orchestrator"
	"github.com/moonbotd/moonbotd/internal/registry"
	"github.com/moonbotd/moonbotd/internal/runtime"
	"github.com/moonbotd/moonbotd/internal/schema"
	"github.com/moonbotd/moonbotd/pkg/moonmodels"
)

// memSessionStore is a tiny in-memory sessionstore.Store double, local to
// this package's tests (the equivalent fake in internal/planner is
// unexported to that package).
type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*moonmodels.Session
	messages map[string][]moonmodels.SessionMessage
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{
		sessions: make(map[string]*moonmodels.Session),
		messages: make(map[string][]moonmodels.SessionMessage),
	}
}

func (s *memSessionStore) GetOrCreate(_ context.Context, key, agentID, userID string) (*moonmodels.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[key]; ok {
		return sess, nil
	}
	sess := &moonmodels.Session{ID: key, AgentID: agentID, UserID: userID}
	s.sessions[key] = sess
	return sess, nil
}

func (s *memSessionStore) Get(_ context.Context, id string) (*moonmodels.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok, nil
}

func (s *memSessionStore) Append(_ context.Context, sessionID string, msg moonmodels.SessionMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[sessionID] = append(s.messages[sessionID], msg)
	return nil
}

func (s *memSessionStore) History(_ context.Context, sessionID string, limit int) ([]moonmodels.SessionMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// fakePipeline is an orchestrator.Pipeline double that echoes the task's
// message back as the result, so chatSend tests don't need a planner.
type fakePipeline struct {
	result string
	err    error
}

func (p *fakePipeline) Run(_ context.Context, task *moonmodels.Task) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	if p.result != "" {
		return p.result, nil
	}
	return "echo: " + task.Message, nil
}

// recordingPusher collects every push the Facade delivers, including the
// chat.response pushes Facade.NotifyChatResponse makes for the orchestrator.
type recordingPusher struct {
	mu    sync.Mutex
	calls []struct {
		surface string
		method  string
		params  any
	}
}

func (p *recordingPusher) Push(_ context.Context, surface, method string, params any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, struct {
		surface string
		method  string
		params  any
	}{surface, method, params})
	return nil
}

func (p *recordingPusher) snapshotMethods() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	for i, c := range p.calls {
		out[i] = c.method
	}
	return out
}

type testFacade struct {
	facade *Facade
	reg    *registry.Registry
	rt     *runtime.Runtime
	orch   *orchestrator.Orchestrator
	flow   *approvalflow.Flow
	pusher *recordingPusher
	sess   *memSessionStore
}

func newTestFacade(t *testing.T, pipeline orchestrator.Pipeline, tools []moonmodels.ToolDescriptor) *testFacade {
	t.Helper()
	reg := registry.New()
	validator := schema.New()
	for _, tool := range tools {
		reg.Register(tool)
		if len(tool.InputSchema) > 0 {
			if err := validator.Compile(tool.ID, tool.InputSchema); err != nil {
				t.Fatalf("compile schema for %s: %v", tool.ID, err)
			}
		}
	}

	bus := eventbus.New()
	rt := runtime.New(runtime.Config{
		MaxConcurrent:    4,
		DefaultTimeout:   time.Second,
		ApprovalsEnabled: true,
	}, reg, validator, approvalpolicy.DefaultPolicy(), bus)

	orch := orchestrator.New(pipeline, nil, orchestrator.Config{})

	flowStore := approvalflow.NewStore(filepath.Join(t.TempDir(), "approvals.json"))
	flow := approvalflow.NewFlow(approvalflow.Config{RequestTTL: time.Minute, SweepInterval: time.Hour}, flowStore, bus, rt)
	flow.Start()
	t.Cleanup(flow.Stop)

	sess := newMemSessionStore()

	f := New(Deps{
		Orchestrator: orch,
		Runtime:      rt,
		Registry:     reg,
		Approvals:    flow,
		Sessions:     sess,
	}, nil)

	pusher := &recordingPusher{}
	f.SetPusher(pusher)
	orch.SetNotifier(f)
	flow.RegisterHandler("gateway", f)

	return &testFacade{facade: f, reg: reg, rt: rt, orch: orch, flow: flow, pusher: pusher, sess: sess}
}

func TestChatSendCreatesTaskAndPushesChatResponse(t *testing.T) {
	tf := newTestFacade(t, &fakePipeline{result: "hi there"}, nil)

	params, _ := json.Marshal(chatSendParams{ChannelSessionKey: "chan-1", SessionID: "sess-1", Message: "hello"})
	res, err := tf.facade.Handle(context.Background(), MethodChatSend, params, CallContext{Surface: "cli"})
	if err != nil {
		t.Fatalf("Handle(chat.send): %v", err)
	}
	result, ok := res.(chatSendResult)
	if !ok || result.TaskID == "" {
		t.Fatalf("unexpected chat.send result: %#v", res)
	}

	deadline := time.After(time.Second)
	for {
		if task, ok := tf.orch.Get(result.TaskID); ok && task.State.Terminal() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for task to finish")
		case <-time.After(5 * time.Millisecond):
		}
	}

	deadline = time.After(time.Second)
	for {
		found := false
		for _, m := range tf.pusher.snapshotMethods() {
			if m == "chat.response" {
				found = true
			}
		}
		if found {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for chat.response push")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestToolsListReturnsRegisteredDescriptors(t *testing.T) {
	tools := []moonmodels.ToolDescriptor{
		{ID: "fs.read", Description: "reads a file", InputSchema: json.RawMessage(`{"type":"object"}`)},
	}
	tf := newTestFacade(t, &fakePipeline{}, tools)

	res, err := tf.facade.Handle(context.Background(), MethodToolsList, nil, CallContext{})
	if err != nil {
		t.Fatalf("Handle(tools.list): %v", err)
	}
	list, ok := res.([]toolsListResult)
	if !ok || len(list) != 1 || list[0].ID != "fs.read" {
		t.Fatalf("unexpected tools.list result: %#v", res)
	}
}

func TestToolsInvokeRunsHandlerDirectly(t *testing.T) {
	tool := moonmodels.ToolDescriptor{
		ID:          "fs.read",
		Description: "reads a file",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}}}`),
		Handler: func(_ context.Context, _ json.RawMessage, _ moonmodels.ToolContext) (moonmodels.ToolResultEnvelope, error) {
			return moonmodels.ToolResultEnvelope{OK: true, Data: "contents"}, nil
		},
	}
	tf := newTestFacade(t, &fakePipeline{}, []moonmodels.ToolDescriptor{tool})

	params, _ := json.Marshal(toolsInvokeParams{ToolID: "fs.read", SessionID: "sess-1", Input: json.RawMessage(`{"path":"a.txt"}`)})
	res, err := tf.facade.Handle(context.Background(), MethodToolsInvoke, params, CallContext{})
	if err != nil {
		t.Fatalf("Handle(tools.invoke): %v", err)
	}
	result, ok := res.(toolsInvokeResult)
	if !ok || result.AwaitingApproval {
		t.Fatalf("unexpected tools.invoke result: %#v", res)
	}
	if result.Result == nil || result.Result.Data != "contents" {
		t.Fatalf("unexpected invocation result: %#v", result.Result)
	}
}

func TestApprovalRespondResolvesAndPushesUpdate(t *testing.T) {
	tool := moonmodels.ToolDescriptor{
		ID:              "system.run",
		Description:     "runs a command",
		RequireApproval: true,
		InputSchema:     json.RawMessage(`{"type":"object"}`),
		Handler: func(_ context.Context, _ json.RawMessage, _ moonmodels.ToolContext) (moonmodels.ToolResultEnvelope, error) {
			return moonmodels.ToolResultEnvelope{OK: true, Data: "ran"}, nil
		},
	}
	tf := newTestFacade(t, &fakePipeline{}, []moonmodels.ToolDescriptor{tool})

	invokeDone := make(chan struct{})
	var invocationID string
	go func() {
		params, _ := json.Marshal(toolsInvokeParams{ToolID: "system.run", SessionID: "sess-1"})
		res, err := tf.facade.Handle(context.Background(), MethodToolsInvoke, params, CallContext{})
		if err == nil {
			if r, ok := res.(toolsInvokeResult); ok {
				invocationID = r.InvocationID
			}
		}
		close(invokeDone)
	}()
	<-invokeDone
	if invocationID == "" {
		t.Fatal("expected an invocation id even when suspended for approval")
	}

	requestID, ok := tf.flow.RequestIDForInvocation(invocationID)
	deadline := time.After(time.Second)
	for !ok {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for an approval request to be persisted")
		case <-time.After(5 * time.Millisecond):
		}
		requestID, ok = tf.flow.RequestIDForInvocation(invocationID)
	}

	params, _ := json.Marshal(approvalRespondParams{RequestID: requestID, Approved: true, Reason: "looks fine"})
	if _, err := tf.facade.Handle(auth.WithUserID(context.Background(), "operator-1"), MethodApprovalRespond, params, CallContext{}); err != nil {
		t.Fatalf("Handle(approval.respond): %v", err)
	}

	deadline = time.After(time.Second)
	for {
		methods := tf.pusher.snapshotMethods()
		found := false
		for _, m := range methods {
			if m == "approval.update" {
				found = true
			}
		}
		if found {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for approval.update push")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSessionsSendAppendsMessage(t *testing.T) {
	tf := newTestFacade(t, &fakePipeline{}, nil)
	if _, err := tf.sess.GetOrCreate(context.Background(), "sess-1", "agent-1", "user-1"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	params, _ := json.Marshal(sessionsSendParams{SessionID: "sess-1", Type: moonmodels.MessageAssistant, Content: "noted"})
	if _, err := tf.facade.Handle(context.Background(), MethodSessionsSend, params, CallContext{}); err != nil {
		t.Fatalf("Handle(sessions.send): %v", err)
	}

	history, err := tf.sess.History(context.Background(), "sess-1", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].Content != "noted" {
		t.Fatalf("unexpected history: %#v", history)
	}
}

func TestSessionsSendUnknownSessionFails(t *testing.T) {
	tf := newTestFacade(t, &fakePipeline{}, nil)
	params, _ := json.Marshal(sessionsSendParams{SessionID: "missing", Content: "x"})
	if _, err := tf.facade.Handle(context.Background(), MethodSessionsSend, params, CallContext{}); err == nil {
		t.Fatal("expected an error for an unknown session")
	}
}

func TestStatusReturnsRuntimeStats(t *testing.T) {
	tf := newTestFacade(t, &fakePipeline{}, nil)
	res, err := tf.facade.Handle(context.Background(), MethodStatus, nil, CallContext{})
	if err != nil {
		t.Fatalf("Handle(status): %v", err)
	}
	if _, ok := res.(statusResult); !ok {
		t.Fatalf("unexpected status result type: %#v", res)
	}
}

func TestHandleUnknownMethodReturnsMethodNotFound(t *testing.T) {
	tf := newTestFacade(t, &fakePipeline{}, nil)
	if _, err := tf.facade.Handle(context.Background(), Method("bogus"), nil, CallContext{}); err == nil {
		t.Fatal("expected an error for an unknown method")
	}
}
