// Package orchestrator implements the Task Orchestrator (spec §4.8): the
// Task Registry, the Session↔Task map, and one FIFO queue per
// channel-session key, drained with the guarantee that at most one task is
// RUNNING or PAUSED for a given key at a time.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moonbotd/moonbotd/internal/rpcerr"
	"github.com/moonbotd/moonbotd/pkg/moonmodels"
)

// Pipeline drives one task to completion: the Planner/Executor/Replanner
// chain of spec §4.7. Run blocks until the task's plan has finished, or ctx
// is cancelled by Abort, and returns the text to deliver as chat.response.
type Pipeline interface {
	Run(ctx context.Context, task *moonmodels.Task) (result string, err error)
}

// ChatResponse is the payload of the chat.response notification (spec §4.9).
type ChatResponse struct {
	TaskID    string `json:"taskId"`
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
	Text      string `json:"text"`
}

// Notifier delivers a chat.response notification to one registered surface.
type Notifier interface {
	NotifyChatResponse(ctx context.Context, surface string, resp ChatResponse)
}

// Config tunes the orchestrator.
type Config struct {
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default().With("component", "orchestrator")
	}
	return c
}

// Orchestrator is the Task Orchestrator (spec §4.8).
type Orchestrator struct {
	cfg      Config
	pipeline Pipeline
	notifier Notifier

	mu         sync.Mutex
	tasks      map[string]*moonmodels.Task
	queues     map[string][]*moonmodels.Task
	processing map[string]bool
	active     map[string]string // sessionID -> id of its current non-terminal task
	cancels    map[string]context.CancelFunc
}

// New constructs an Orchestrator. notifier may be nil if no surface needs
// chat.response fan-out (e.g. in tests driving createTask/processQueue
// directly) or isn't constructed yet — see SetNotifier.
func New(pipeline Pipeline, notifier Notifier, cfg Config) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg.withDefaults(),
		pipeline:   pipeline,
		notifier:   notifier,
		tasks:      make(map[string]*moonmodels.Task),
		queues:     make(map[string][]*moonmodels.Task),
		processing: make(map[string]bool),
		active:     make(map[string]string),
		cancels:    make(map[string]context.CancelFunc),
	}
}

// SetNotifier wires the notifier in after construction — needed because
// internal/gatewayrpc.Facade's Deps embeds *Orchestrator, so the
// Orchestrator must exist before the Facade does, and the Facade is
// itself the Notifier most callers wire in. The same post-construction
// pattern as internal/planner.Executor.SetPauser and
// internal/gatewayrpc.Facade.SetPusher.
func (o *Orchestrator) SetNotifier(notifier Notifier) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notifier = notifier
}

// CreateTask creates a PENDING task, appends it to channelSessionKey's
// queue, and kicks off queue processing for that key if it isn't already
// running (spec §4.8's createTask).
func (o *Orchestrator) CreateTask(message, channelSessionKey, sessionID, userID string, observers []string) moonmodels.Task {
	now := time.Now()
	task := &moonmodels.Task{
		ID:                uuid.NewString(),
		ChannelSessionKey: channelSessionKey,
		SessionID:         sessionID,
		UserID:            userID,
		Message:           message,
		State:             moonmodels.TaskPending,
		CreatedAt:         now,
		UpdatedAt:         now,
		Observers:         observers,
	}

	o.mu.Lock()
	o.tasks[task.ID] = task
	o.queues[channelSessionKey] = append(o.queues[channelSessionKey], task)
	o.mu.Unlock()

	go o.processQueue(channelSessionKey)

	return task.Snapshot()
}

// Get returns a snapshot of taskID, or false if the registry doesn't know it.
func (o *Orchestrator) Get(taskID string) (moonmodels.Task, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	task, ok := o.tasks[taskID]
	if !ok {
		return moonmodels.Task{}, false
	}
	return task.Snapshot(), true
}

// ActiveTaskForSession returns the task currently RUNNING or PAUSED for
// sessionID, if any — the Session↔Task map spec §4.8 names.
func (o *Orchestrator) ActiveTaskForSession(sessionID string) (moonmodels.Task, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id, ok := o.active[sessionID]
	if !ok {
		return moonmodels.Task{}, false
	}
	task, ok := o.tasks[id]
	if !ok {
		return moonmodels.Task{}, false
	}
	return task.Snapshot(), true
}

// QueueDepth returns how many tasks are still queued (not yet popped) for
// key.
func (o *Orchestrator) QueueDepth(key string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queues[key])
}

// processQueue drains key's queue one task at a time: pop, run to a
// terminal state, notify, repeat until empty, then clear the processing
// flag. Spec §4.8 describes this recursing on each item; a loop gives the
// same one-task-in-flight guarantee without growing the stack.
func (o *Orchestrator) processQueue(key string) {
	o.mu.Lock()
	if o.processing[key] {
		o.mu.Unlock()
		return
	}
	o.processing[key] = true
	o.mu.Unlock()

	for {
		o.mu.Lock()
		queue := o.queues[key]
		if len(queue) == 0 {
			o.processing[key] = false
			o.mu.Unlock()
			return
		}
		task := queue[0]
		o.queues[key] = queue[1:]
		o.mu.Unlock()

		if task.State.Terminal() {
			// Aborted while still queued (Abort already notified); skip.
			continue
		}

		o.runTask(task)
	}
}

func (o *Orchestrator) runTask(task *moonmodels.Task) {
	ctx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	task.State = moonmodels.TaskRunning
	task.UpdatedAt = time.Now()
	o.cancels[task.ID] = cancel
	o.active[task.SessionID] = task.ID
	o.mu.Unlock()

	result, err := o.pipeline.Run(ctx, task)
	cancel()

	o.mu.Lock()
	delete(o.cancels, task.ID)
	alreadyAborted := task.State == moonmodels.TaskAborted
	if !alreadyAborted {
		if err != nil {
			task.State = moonmodels.TaskFailed
			task.Error = &moonmodels.TaskError{Code: string(rpcerr.CodeOf(err)), Message: err.Error()}
		} else {
			task.State = moonmodels.TaskDone
			task.Result = result
		}
		task.UpdatedAt = time.Now()
		delete(o.active, task.SessionID)
	}
	snapshot := task.Snapshot()
	observers := append([]string(nil), task.Observers...)
	o.mu.Unlock()

	if !alreadyAborted {
		o.notify(snapshot, observers)
	}
}

// Pause transitions taskID from RUNNING to PAUSED. The Executor calls this
// while one of the task's invocations is awaiting_approval, so the task is
// not considered complete and its key's processing flag stays held (spec
// §4.8).
func (o *Orchestrator) Pause(taskID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	task, ok := o.tasks[taskID]
	if !ok {
		return rpcerr.New(rpcerr.TaskNotFound, fmt.Sprintf("task %q not found", taskID))
	}
	if task.State != moonmodels.TaskRunning {
		return rpcerr.New(rpcerr.InvalidState, fmt.Sprintf("task %q is %s, not running", taskID, task.State))
	}
	task.State = moonmodels.TaskPaused
	task.UpdatedAt = time.Now()
	return nil
}

// Resume transitions taskID from PAUSED back to RUNNING once the approval
// it was waiting on has resolved.
func (o *Orchestrator) Resume(taskID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	task, ok := o.tasks[taskID]
	if !ok {
		return rpcerr.New(rpcerr.TaskNotFound, fmt.Sprintf("task %q not found", taskID))
	}
	if task.State != moonmodels.TaskPaused {
		return rpcerr.New(rpcerr.InvalidState, fmt.Sprintf("task %q is %s, not paused", taskID, task.State))
	}
	task.State = moonmodels.TaskRunning
	task.UpdatedAt = time.Now()
	return nil
}

// Abort sets taskID terminally ABORTED and best-effort cancels any
// invocation it owns by cancelling the context its pipeline run was given.
// Aborting an already-terminal task is a no-op.
func (o *Orchestrator) Abort(taskID string) error {
	o.mu.Lock()
	task, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()
		return rpcerr.New(rpcerr.TaskNotFound, fmt.Sprintf("task %q not found", taskID))
	}
	if task.State.Terminal() {
		o.mu.Unlock()
		return nil
	}
	task.State = moonmodels.TaskAborted
	task.UpdatedAt = time.Now()
	cancel, running := o.cancels[taskID]
	delete(o.active, task.SessionID)
	snapshot := task.Snapshot()
	observers := append([]string(nil), task.Observers...)
	o.mu.Unlock()

	if running {
		cancel()
	}
	o.notify(snapshot, observers)
	return nil
}

func (o *Orchestrator) notify(task moonmodels.Task, observers []string) {
	if o.notifier == nil || len(observers) == 0 {
		return
	}
	resp := ChatResponse{
		TaskID:    task.ID,
		ChannelID: channelIDFromKey(task.ChannelSessionKey),
		UserID:    task.UserID,
		Text:      responseText(task),
	}
	ctx := context.Background()
	for _, surface := range observers {
		o.notifier.NotifyChatResponse(ctx, surface, resp)
	}
}

func responseText(task moonmodels.Task) string {
	if task.Error != nil {
		return task.Error.Message
	}
	return task.Result
}

// channelIDFromKey extracts the channel segment from a "surface:channel:user"
// channel-session key (spec §4.8); it falls back to the full key if the key
// doesn't have exactly three segments.
func channelIDFromKey(key string) string {
	parts := strings.Split(key, ":")
	if len(parts) == 3 {
		return parts[1]
	}
	return key
}
