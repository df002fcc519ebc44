package approvalflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moonbotd/moonbotd/internal/eventbus"
	"github.com/moonbotd/moonbotd/internal/rpcerr"
	"github.com/moonbotd/moonbotd/pkg/moonmodels"
)

// Handler is the surface-handler contract the core exposes (spec §6):
// sendRequest delivers a freshly created ApprovalRequest, sendUpdate
// delivers a status transition on one already sent. Registration is by
// surface name and idempotent — registering the same name twice overwrites
// the prior handler (spec §6).
type Handler interface {
	SendRequest(ctx context.Context, req *moonmodels.ApprovalRequest) error
	SendUpdate(ctx context.Context, req *moonmodels.ApprovalRequest) error
}

// ApproveRequester is the subset of *runtime.Runtime the Flow needs to
// resume a suspended invocation once a human has decided. Taking the
// narrow interface (rather than importing internal/runtime directly) keeps
// the approval-flow/runtime dependency one-directional.
type ApproveRequester interface {
	ApproveRequest(invocationID string, approved bool, reason string) error
}

// Config controls how long a freshly created ApprovalRequest stays pending
// before ExpirePending marks it expired (spec §4.6, ApprovalConfig.RequestTTL).
type Config struct {
	RequestTTL    time.Duration
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.RequestTTL <= 0 {
		c.RequestTTL = 10 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	return c
}

// Flow is the Approval Flow: it listens for approval.requested events from
// the Tool Runtime, persists a durable ApprovalRequest for each one, and
// exposes Resolve so an operator-facing surface (CLI, web console, pairing
// session) can turn a human decision back into a Runtime.ApproveRequest
// call (spec §4.6).
type Flow struct {
	cfg     Config
	store   *Store
	bus     *eventbus.Bus
	runtime ApproveRequester
	logger  *slog.Logger

	mu              sync.Mutex
	invocationToReq map[string]string // invocationID -> requestID, for in-flight requests only
	handlers        map[string]Handler
	stop            chan struct{}
	stopOnce        sync.Once
}

// NewFlow constructs a Flow. Call Start to begin subscribing to bus.
func NewFlow(cfg Config, store *Store, bus *eventbus.Bus, runtime ApproveRequester) *Flow {
	return &Flow{
		cfg:             cfg.withDefaults(),
		store:           store,
		bus:             bus,
		runtime:         runtime,
		logger:          slog.Default().With("component", "approval-flow"),
		invocationToReq: make(map[string]string),
		handlers:        make(map[string]Handler),
		stop:            make(chan struct{}),
	}
}

// RegisterHandler registers surface's Handler, overwriting any prior one
// registered under the same name (spec §6: "registration is idempotent and
// overwrites").
func (f *Flow) RegisterHandler(surface string, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[surface] = h
}

// fanOut calls fn against every registered handler concurrently, waiting
// for all to finish. One handler's error is logged and does not affect the
// others — the "send-and-forget with aggregated errors" join spec §9
// describes, a Promise.allSettled equivalent.
func (f *Flow) fanOut(ctx context.Context, verb string, req *moonmodels.ApprovalRequest, fn func(Handler) func(context.Context, *moonmodels.ApprovalRequest) error) {
	f.mu.Lock()
	handlers := make(map[string]Handler, len(f.handlers))
	for k, v := range f.handlers {
		handlers[k] = v
	}
	f.mu.Unlock()

	var wg sync.WaitGroup
	for surface, h := range handlers {
		wg.Add(1)
		go func(surface string, h Handler) {
			defer wg.Done()
			if err := fn(h)(ctx, req); err != nil {
				f.logger.Error("surface handler dispatch failed",
					"surface", surface, "verb", verb, "request_id", req.ID, "error", err)
			}
		}(surface, h)
	}
	wg.Wait()
}

// Start subscribes to the bus's approval.requested topic and begins the
// periodic expiry sweep. Both run in background goroutines until Stop.
func (f *Flow) Start() {
	requested := f.bus.Subscribe(moonmodels.EventApprovalRequested)
	go f.consume(requested)
	go f.sweepLoop()
}

// Stop ends the Flow's background goroutines. Safe to call more than once.
func (f *Flow) Stop() {
	f.stopOnce.Do(func() { close(f.stop) })
}

func (f *Flow) consume(events <-chan moonmodels.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			f.onApprovalRequested(ev)
		case <-f.stop:
			return
		}
	}
}

func (f *Flow) onApprovalRequested(ev moonmodels.Event) {
	if ev.Tool == nil {
		return
	}
	req := &moonmodels.ApprovalRequest{
		ID:           uuid.NewString(),
		InvocationID: ev.Tool.InvocationID,
		ToolID:       ev.Tool.ToolID,
		SessionID:    ev.Tool.SessionID,
		Input:        ev.Tool.Input,
		Status:       moonmodels.ApprovalPending,
		CreatedAt:    ev.Time,
		ExpiresAt:    ev.Time.Add(f.cfg.RequestTTL),
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
		req.ExpiresAt = req.CreatedAt.Add(f.cfg.RequestTTL)
	}
	if err := f.store.Put(req); err != nil {
		return
	}

	f.mu.Lock()
	f.invocationToReq[req.InvocationID] = req.ID
	f.mu.Unlock()

	f.fanOut(context.Background(), "sendRequest", req, func(h Handler) func(context.Context, *moonmodels.ApprovalRequest) error {
		return h.SendRequest
	})
}

// Resolve records a human decision against requestID and, if the request is
// still pending, resumes the corresponding invocation via the runtime.
func (f *Flow) Resolve(requestID string, approved bool, responderID, reason string) error {
	req, ok, err := f.store.Get(requestID)
	if err != nil {
		return err
	}
	if !ok {
		return rpcerr.New(rpcerr.ApprovalNotFound, fmt.Sprintf("approval request %q not found", requestID))
	}
	if req.Status.Terminal() {
		return rpcerr.New(rpcerr.ApprovalAlreadyResolved, fmt.Sprintf("approval request %q already %s", requestID, req.Status))
	}
	if !req.ExpiresAt.After(time.Now()) {
		req.Status = moonmodels.ApprovalExpired
		_ = f.store.Put(req)
		return rpcerr.New(rpcerr.ApprovalExpired, fmt.Sprintf("approval request %q expired", requestID))
	}

	if err := f.runtime.ApproveRequest(req.InvocationID, approved, reason); err != nil {
		return err
	}

	if approved {
		req.Status = moonmodels.ApprovalApproved
	} else {
		req.Status = moonmodels.ApprovalRejected
	}
	req.ResponderID = responderID
	req.RespondedAt = time.Now()
	if err := f.store.Put(req); err != nil {
		return err
	}

	f.mu.Lock()
	delete(f.invocationToReq, req.InvocationID)
	f.mu.Unlock()

	f.fanOut(context.Background(), "sendUpdate", req, func(h Handler) func(context.Context, *moonmodels.ApprovalRequest) error {
		return h.SendUpdate
	})
	f.bus.Publish(moonmodels.Event{
		Type: moonmodels.EventApprovalResolved,
		Approval: &moonmodels.ApprovalEventPayload{
			RequestID:    req.ID,
			InvocationID: req.InvocationID,
			ToolID:       req.ToolID,
			SessionID:    req.SessionID,
			UserID:       responderID,
			Status:       req.Status,
		},
	})
	return nil
}

// RequestIDForInvocation looks up the pending request tracking invocationID,
// for surfaces (e.g. pairing CLI) that only know the invocation.
func (f *Flow) RequestIDForInvocation(invocationID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.invocationToReq[invocationID]
	return id, ok
}

// ListPending returns every ApprovalRequest currently awaiting a decision.
func (f *Flow) ListPending() ([]*moonmodels.ApprovalRequest, error) {
	return f.store.ListPending()
}

// ExpirePending scans the store for pending requests past their ExpiresAt,
// marks them expired, and fans out a sendUpdate to every handler for each
// one (spec §4.6's periodic expirePending()).
func (f *Flow) ExpirePending() {
	expired, err := f.store.ExpirePending()
	if err != nil || len(expired) == 0 {
		return
	}
	for _, id := range expired {
		req, ok, err := f.store.Get(id)
		if err != nil || !ok {
			continue
		}
		f.mu.Lock()
		delete(f.invocationToReq, req.InvocationID)
		f.mu.Unlock()
		f.fanOut(context.Background(), "sendUpdate", req, func(h Handler) func(context.Context, *moonmodels.ApprovalRequest) error {
			return h.SendUpdate
		})
	}
}

func (f *Flow) sweepLoop() {
	ticker := time.NewTicker(f.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			f.ExpirePending()
		case <-f.stop:
			return
		}
	}
}
